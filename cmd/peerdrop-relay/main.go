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
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/peerdrop/peerdrop/lib/config"
	"github.com/peerdrop/peerdrop/lib/logging"
	"github.com/peerdrop/peerdrop/lib/version"
	"github.com/peerdrop/peerdrop/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerdrop-relay: %v\n", err)
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
	flagSet := pflag.NewFlagSet("peerdrop-relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $PEERDROP_CONFIG)")
	flagSet.StringVar(&listen, "listen", "", "address to serve edges on (overrides relay.listen)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("peerdrop-relay %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Relay.Listen = listen
	}
	if err := cfg.ValidateRelay(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	central, err := relay.New(relay.Config{
		Secret:      cfg.Relay.Secret,
		AuthTimeout: cfg.Relay.AuthTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/edge", central)
	server := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return central.Run(ctx) })
	group.Go(func() error {
		logger.Info("relay listening", "address", cfg.Relay.Listen, "version", version.Short())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
