// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/peerdrop/peerdrop/lib/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("peerdrop %s\n", version.Info())
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := &app{ctx: ctx, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	err := a.root().execute(os.Args[1:], os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerdrop: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
}

// commonFlags adds the flags every device command accepts.
func (a *app) commonFlags(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&a.configPath, "config", "", "configuration file (default: $PEERDROP_CONFIG)")
	flagSet.StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn or error")
	return flagSet
}

func (a *app) root() *command {
	return &command{
		name:    "peerdrop",
		summary: "Send files directly between your devices, or to anyone with a share passcode.",
		subcommands: []*command{
			a.loginCommand(),
			a.devicesCommand(),
			a.sendCommand(),
			a.receiveCommand(),
			a.shareCommand(),
			a.versionCommand(),
		},
	}
}

func (a *app) versionCommand() *command {
	return &command{
		name:    "version",
		summary: "Print version information",
		run: func([]string) error {
			fmt.Fprintln(a.stdout, version.Full())
			return nil
		},
	}
}
