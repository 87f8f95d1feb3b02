// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/peerdrop/peerdrop/account"
	"github.com/peerdrop/peerdrop/edge"
	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/config"
	"github.com/peerdrop/peerdrop/lib/logging"
	"github.com/peerdrop/peerdrop/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerdrop-edge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("peerdrop-edge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $PEERDROP_CONFIG)")
	flagSet.StringVar(&listen, "listen", "", "address to serve devices on (overrides edge.listen)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("peerdrop-edge %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(configPath)
	}
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Edge.Listen = listen
	}
	if err := cfg.ValidateEdge(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	if err := os.MkdirAll(filepath.Dir(cfg.Edge.Database), 0o700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	accounts, err := account.OpenSQLite(cfg.Edge.Database, cfg.Edge.AllowRegistration, logger)
	if err != nil {
		return err
	}
	defer accounts.Close()

	gateway, err := edge.New(edge.Config{
		ID:               cfg.Edge.ID,
		RelayURL:         cfg.Edge.RelayURL,
		RelaySecret:      cfg.Edge.RelaySecret,
		Accounts:         accounts,
		AuthTimeout:      cfg.Edge.AuthTimeout,
		PingInterval:     cfg.Edge.PingInterval,
		PongTimeout:      cfg.Edge.PongTimeout,
		RelayAuthTimeout: cfg.Edge.RelayAuthTimeout,
		RetryDelay:       cfg.Edge.RetryDelay,
		LinkPollInterval: cfg.Edge.LinkPollInterval,
		Backoff: backoff.Linear{
			Base:   cfg.Edge.ReconnectBase,
			Growth: cfg.Edge.ReconnectGrowth,
			Max:    cfg.Edge.MaxBackoff,
		},
		ShareJoinBurst:    cfg.Edge.ShareJoinBurst,
		ShareJoinInterval: cfg.Edge.ShareJoinInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	server := &http.Server{
		Addr:              cfg.Edge.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := gateway.Run(ctx); err != nil {
			return fmt.Errorf("relay link: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("edge listening", "address", cfg.Edge.Listen, "relay", cfg.Edge.RelayURL, "version", version.Short())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		gateway.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
