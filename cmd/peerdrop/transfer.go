// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/peerdrop/peerdrop/client"
	"github.com/peerdrop/peerdrop/transfer"
)

func (a *app) sendCommand() *command {
	return &command{
		name:    "send",
		summary: "Send files to one of the account's devices",
		usage:   "<device> <file>...",
		flags:   func() *pflag.FlagSet { return a.commonFlags("send") },
		run: func(args []string) error {
			if len(args) < 2 {
				return errors.New("usage: peerdrop send <device> <file>...")
			}
			return a.send(args[0], args[1:])
		},
	}
}

func (a *app) send(deviceID string, paths []string) error {
	session, err := a.startSession(sessionOptions{}, client.NodeEvents{
		Progress: a.printProgress,
	})
	if err != nil {
		return err
	}
	sendErr := a.sendFiles(session, deviceID, paths)
	if err := session.close(); err != nil && sendErr == nil {
		sendErr = err
	}
	return sendErr
}

// sendFiles connects to remoteID and sends paths one after another.
func (a *app) sendFiles(session *deviceSession, remoteID string, paths []string) error {
	peers := session.node.Peers
	if err := peers.Connect(session.ctx, remoteID); err != nil {
		return fmt.Errorf("connecting to %s: %w", remoteID, err)
	}
	if err := peers.WaitReady(session.ctx, remoteID); err != nil {
		return fmt.Errorf("connecting to %s: %w", remoteID, err)
	}
	for _, path := range paths {
		fileID, err := session.node.Transfers.SendFile(session.ctx, remoteID, path)
		if err != nil {
			return fmt.Errorf("sending %s: %w", path, err)
		}
		session.logger.Info("file sent", "path", path, "file_id", fileID, "remote_id", remoteID)
		fmt.Fprintf(a.stdout, "sent %s\n", path)
	}
	return nil
}

func (a *app) printProgress(progress transfer.Progress) {
	fmt.Fprintf(a.stderr, "\r%s %s %3.0f%%", progress.Direction, shortID(progress.FileID), progress.Fraction*100)
	if progress.Fraction >= 1 {
		fmt.Fprintln(a.stderr)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *app) receiveCommand() *command {
	var (
		dir    string
		accept bool
	)
	return &command{
		name:    "receive",
		summary: "Wait for files from the account's other devices",
		flags: func() *pflag.FlagSet {
			flagSet := a.commonFlags("receive")
			flagSet.StringVar(&dir, "dir", "", "directory for received files (default: client.download_dir)")
			flagSet.BoolVarP(&accept, "yes", "y", false, "accept every offer without asking")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return a.receive(dir, accept)
		},
	}
}

func (a *app) receive(dir string, acceptAll bool) error {
	offers := make(chan transfer.Offer, 16)
	session, err := a.startSession(sessionOptions{downloadDir: dir}, client.NodeEvents{
		Offer:    func(offer transfer.Offer) { offers <- offer },
		Progress: a.printProgress,
		Received: a.printReceived,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "Waiting for files as %s. Press Ctrl-C to stop.\n", session.deviceID)

	answers := bufio.NewReader(a.stdin)
	for {
		select {
		case offer := <-offers:
			decide(session, offer, acceptAll || a.confirm(answers, offer))
		case <-session.ctx.Done():
			return session.close()
		}
	}
}

func (a *app) confirm(answers *bufio.Reader, offer transfer.Offer) bool {
	fmt.Fprintf(a.stderr, "Accept %s (%d bytes) from %s? [y/N] ", offer.Name, offer.Size, offer.PeerID)
	line, _ := answers.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func decide(session *deviceSession, offer transfer.Offer, accept bool) {
	var err error
	if accept {
		err = session.node.Transfers.Accept(offer.FileID)
	} else {
		err = session.node.Transfers.Reject(offer.FileID, "declined")
	}
	if err != nil {
		session.logger.Warn("answering offer failed", "file_id", offer.FileID, "error", err)
	}
}

func (a *app) printReceived(result transfer.Result) {
	if result.Err != nil {
		fmt.Fprintf(a.stderr, "receiving %s failed: %v\n", result.Transfer.Name, result.Err)
		return
	}
	fmt.Fprintf(a.stdout, "received %s\n", result.Path)
}
