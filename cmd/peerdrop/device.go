// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/peerdrop/peerdrop/client"
	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/chunkstore"
	"github.com/peerdrop/peerdrop/lib/config"
	"github.com/peerdrop/peerdrop/lib/logging"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/peer"
	"github.com/peerdrop/peerdrop/transfer"
	"github.com/peerdrop/peerdrop/transport"
)

var errNotLoggedIn = errors.New("not logged in; run 'peerdrop login' first")

const (
	deviceIDFile = "device-id"
	tokenFile    = "session-token"
	chunkFile    = "chunks.db"
)

// load reads and validates the client configuration and builds the
// logger.
func (a *app) load() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if a.configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(a.configPath)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(level), nil
}

// stateDir holds what a device keeps between runs.
type stateDir struct {
	path string
}

func openStateDir(path string) (*stateDir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &stateDir{path: path}, nil
}

// deviceID returns configured when set, otherwise the saved device
// ID, generating and saving one on first use.
func (s *stateDir) deviceID(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	saved, err := s.read(deviceIDFile)
	if err != nil {
		return "", err
	}
	if saved != "" {
		return saved, nil
	}
	id := uuid.NewString()
	if err := s.write(deviceIDFile, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *stateDir) token() (string, error) { return s.read(tokenFile) }

func (s *stateDir) saveToken(token string) error { return s.write(tokenFile, token) }

func (s *stateDir) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.path, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *stateDir) write(name, value string) error {
	return os.WriteFile(filepath.Join(s.path, name), []byte(value+"\n"), 0o600)
}

// deviceSession is a running node plus what it was built from.
type deviceSession struct {
	node     *client.Node
	deviceID string
	logger   *slog.Logger

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	closer func()
}

type sessionOptions struct {
	// anonymous skips authentication, for share sessions.
	anonymous bool

	// downloadDir overrides client.download_dir.
	downloadDir string
}

// startSession builds a node, runs it, and waits until it is
// connected to the edge.
func (a *app) startSession(options sessionOptions, events client.NodeEvents) (*deviceSession, error) {
	cfg, logger, err := a.load()
	if err != nil {
		return nil, err
	}
	state, err := openStateDir(cfg.Client.StateDir)
	if err != nil {
		return nil, err
	}

	clientConfig := client.Config{
		URL:        cfg.Client.EdgeURL,
		DeviceName: cfg.Client.DeviceName,
		Backoff:    backoff.Linear{Base: cfg.Client.ReconnectBase, Growth: cfg.Client.ReconnectGrowth},
		Logger:     logger,
	}
	var deviceID string
	if !options.anonymous {
		if deviceID, err = state.deviceID(cfg.Client.DeviceID); err != nil {
			return nil, err
		}
		token, err := state.token()
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, errNotLoggedIn
		}
		clientConfig.DeviceID = deviceID
		clientConfig.Token = token
	}

	dir := options.downloadDir
	if dir == "" {
		dir = cfg.Client.DownloadDir
	}
	sink, err := transfer.NewDirSink(dir)
	if err != nil {
		return nil, err
	}
	store, err := chunkstore.OpenSQLite(filepath.Join(state.path, chunkFile), logger)
	if err != nil {
		return nil, err
	}

	saveToken := events.Authenticated
	events.Authenticated = func(result signal.AuthResult) {
		if result.Token != "" {
			if err := state.saveToken(result.Token); err != nil {
				logger.Warn("saving session token failed", "error", err)
			}
		}
		if saveToken != nil {
			saveToken(result)
		}
	}

	node, err := client.NewNode(client.NodeConfig{
		Client: clientConfig,
		Peers: peer.Config{
			LocalID:       deviceID,
			PoolSize:      cfg.Client.Channels,
			HighWaterMark: uint64(cfg.Client.HighWaterMark),
			Logger:        logger,
		},
		Transfer: transfer.Config{Store: store, Sink: sink, Logger: logger},
		Factory:  transport.NewWebRTC(cfg.Client.ICEServers, logger),
	}, events)
	if err != nil {
		store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(a.ctx)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return node.Run(groupCtx) })
	session := &deviceSession{
		node:     node,
		deviceID: deviceID,
		logger:   logger,
		group:    group,
		ctx:      groupCtx,
		cancel:   cancel,
		closer:   func() { store.Close() },
	}
	if err := node.Client.Ready(groupCtx); err != nil {
		if runErr := session.close(); runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return session, nil
}

// close stops the node. It returns the node's error if it stopped on
// its own, such as a refused session token.
func (s *deviceSession) close() error {
	s.cancel()
	err := s.group.Wait()
	s.closer()
	return err
}

// prompt reads a secret from the terminal without echo, or a line
// from stdin when it is not a terminal.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.stderr, label)
	if file, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		secret, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
