// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/peerdrop/peerdrop/client"
	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

func (a *app) loginCommand() *command {
	var (
		username string
		register bool
	)
	return &command{
		name:    "login",
		summary: "Sign this device in and save its session token",
		flags: func() *pflag.FlagSet {
			flagSet := a.commonFlags("login")
			flagSet.StringVarP(&username, "username", "u", "", "account user name (required)")
			flagSet.BoolVar(&register, "register", false, "create the account if the edge allows it")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if username == "" {
				return errors.New("--username is required")
			}
			return a.login(username, register)
		},
	}
}

func (a *app) login(username string, register bool) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	state, err := openStateDir(cfg.Client.StateDir)
	if err != nil {
		return err
	}
	deviceID, err := state.deviceID(cfg.Client.DeviceID)
	if err != nil {
		return err
	}
	password, err := a.prompt("Password: ")
	if err != nil {
		return err
	}

	results := make(chan signal.AuthResult, 1)
	c, err := client.New(client.Config{
		URL:        cfg.Client.EdgeURL,
		DeviceID:   deviceID,
		DeviceName: cfg.Client.DeviceName,
		Username:   username,
		Password:   password,
		Register:   register,
		Backoff:    backoff.Linear{Base: cfg.Client.ReconnectBase, Growth: cfg.Client.ReconnectGrowth},
		Logger:     logger,
	}, client.Events{
		Authenticated: func(result signal.AuthResult) {
			select {
			case results <- result:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	select {
	case result := <-results:
		cancel()
		<-runErr
		if err := state.saveToken(result.Token); err != nil {
			return fmt.Errorf("saving session token: %w", err)
		}
		fmt.Fprintf(a.stdout, "Logged in as %s (account %s, device %s)\n", username, result.AccountID, deviceID)
		return nil
	case err := <-runErr:
		if err == nil {
			err = a.ctx.Err()
		}
		return err
	}
}

func (a *app) devicesCommand() *command {
	return &command{
		name:    "devices",
		summary: "List the account's connected devices",
		flags:   func() *pflag.FlagSet { return a.commonFlags("devices") },
		run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			session, err := a.startSession(sessionOptions{}, client.NodeEvents{})
			if err != nil {
				return err
			}
			devices, err := session.node.Client.Devices(session.ctx)
			closeErr := session.close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}

			tw := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tNAME\t")
			for _, device := range devices {
				marker := ""
				if device.DeviceID == session.deviceID {
					marker = "(this device)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", device.DeviceID, device.DeviceName, marker)
			}
			return tw.Flush()
		},
	}
}
