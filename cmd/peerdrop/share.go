// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/pflag"

	"github.com/peerdrop/peerdrop/client"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/transfer"
)

func (a *app) shareCommand() *command {
	return &command{
		name:    "share",
		summary: "Share files with anyone who has the token and passcode",
		subcommands: []*command{
			a.shareCreateCommand(),
			a.shareJoinCommand(),
		},
	}
}

func (a *app) shareCreateCommand() *command {
	var passcode string
	return &command{
		name:    "create",
		summary: "Offer files and wait for a guest",
		usage:   "<file>...",
		flags: func() *pflag.FlagSet {
			flagSet := a.commonFlags("create")
			flagSet.StringVar(&passcode, "passcode", "", "passcode the guest must present (prompted when empty)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("usage: peerdrop share create <file>...")
			}
			return a.shareCreate(args, passcode)
		},
	}
}

func describeFiles(paths []string) ([]signal.FileMeta, error) {
	files := make([]signal.FileMeta, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s is not a regular file", path)
		}
		files = append(files, signal.FileMeta{
			Name: filepath.Base(path),
			Mime: mime.TypeByExtension(filepath.Ext(path)),
			Size: info.Size(),
		})
	}
	return files, nil
}

func (a *app) shareCreate(paths []string, passcode string) error {
	files, err := describeFiles(paths)
	if err != nil {
		return err
	}
	if passcode == "" {
		if passcode, err = a.prompt("Passcode for the guest: "); err != nil {
			return err
		}
	}
	if passcode == "" {
		return errors.New("a passcode is required")
	}

	shareEvents := make(chan signal.Message, 4)
	ready := make(chan string, 4)
	session, err := a.startSession(sessionOptions{anonymous: true}, client.NodeEvents{
		Share:     func(message signal.Message) { shareEvents <- message },
		PeerReady: func(remoteID string) { ready <- remoteID },
		Progress:  a.printProgress,
	})
	if err != nil {
		return err
	}
	shareErr := a.runShare(session, files, paths, passcode, shareEvents, ready)
	if err := session.close(); err != nil && shareErr == nil {
		shareErr = err
	}
	return shareErr
}

func (a *app) runShare(session *deviceSession, files []signal.FileMeta, paths []string, passcode string, shareEvents <-chan signal.Message, ready <-chan string) error {
	c := session.node.Client
	token, err := c.ShareCreate(session.ctx, passcode, files)
	if err != nil {
		return err
	}
	guestClosed := false
	defer func() {
		if !guestClosed {
			c.ShareClose(session.ctx, token)
		}
	}()
	fmt.Fprintf(a.stdout, "Share token: %s\n", token)
	fmt.Fprintf(a.stderr, "Waiting for the guest to join...\n")

	// The guest closes the share once everything has arrived.
	remoteID := client.SharePrefix + token
	sent := false
	for {
		select {
		case message := <-shareEvents:
			switch message.(type) {
			case *signal.ShareGuestConnected:
				fmt.Fprintf(a.stderr, "Guest joined, connecting...\n")
			case *signal.ShareClose:
				guestClosed = true
				if !sent {
					return errors.New("the guest closed the share")
				}
				return nil
			}
		case id := <-ready:
			if id != remoteID || sent {
				continue
			}
			for _, path := range paths {
				if _, err := session.node.Transfers.SendFile(session.ctx, remoteID, path); err != nil {
					return fmt.Errorf("sending %s: %w", path, err)
				}
				fmt.Fprintf(a.stdout, "sent %s\n", path)
			}
			sent = true
		case <-session.ctx.Done():
			return nil
		}
	}
}

func (a *app) shareJoinCommand() *command {
	var (
		dir      string
		passcode string
	)
	return &command{
		name:    "join",
		summary: "Join a share and receive its files",
		usage:   "<token>",
		flags: func() *pflag.FlagSet {
			flagSet := a.commonFlags("join")
			flagSet.StringVar(&dir, "dir", "", "directory for received files (default: client.download_dir)")
			flagSet.StringVar(&passcode, "passcode", "", "the sharer's passcode (prompted when empty)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: peerdrop share join <token>")
			}
			return a.shareJoin(args[0], passcode, dir)
		},
	}
}

func (a *app) shareJoin(token, passcode, dir string) error {
	var err error
	if passcode == "" {
		if passcode, err = a.prompt("Passcode: "); err != nil {
			return err
		}
	}

	offers := make(chan transfer.Offer, 16)
	results := make(chan transfer.Result, 16)
	shareEvents := make(chan signal.Message, 4)
	session, err := a.startSession(sessionOptions{anonymous: true, downloadDir: dir}, client.NodeEvents{
		Share:    func(message signal.Message) { shareEvents <- message },
		Offer:    func(offer transfer.Offer) { offers <- offer },
		Progress: a.printProgress,
		Received: func(result transfer.Result) { results <- result },
	})
	if err != nil {
		return err
	}
	joinErr := a.runJoin(session, token, passcode, offers, results, shareEvents)
	if err := session.close(); err != nil && joinErr == nil {
		joinErr = err
	}
	return joinErr
}

func (a *app) runJoin(session *deviceSession, token, passcode string, offers <-chan transfer.Offer, results <-chan transfer.Result, shareEvents <-chan signal.Message) error {
	c := session.node.Client
	files, err := c.ShareJoin(session.ctx, token, passcode)
	if err != nil {
		return err
	}
	defer c.ShareClose(session.ctx, token)
	for _, file := range files {
		fmt.Fprintf(a.stderr, "offered: %s (%d bytes)\n", file.Name, file.Size)
	}

	remoteID := client.SharePrefix + token
	if err := session.node.Peers.Connect(session.ctx, remoteID); err != nil {
		return fmt.Errorf("connecting to the sharer: %w", err)
	}

	pending := len(files)
	for pending > 0 {
		select {
		case offer := <-offers:
			expected := offer.PeerID == remoteID && slices.ContainsFunc(files, func(file signal.FileMeta) bool {
				return file.Name == offer.Name && file.Size == offer.Size
			})
			decide(session, offer, expected)
		case result := <-results:
			a.printReceived(result)
			if result.Err != nil {
				return result.Err
			}
			pending--
		case message := <-shareEvents:
			if _, closed := message.(*signal.ShareClose); closed {
				return errors.New("the sharer closed the share")
			}
		case <-session.ctx.Done():
			return nil
		}
	}
	return nil
}
