// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peerdrop/peerdrop/client"
)

func TestDeviceIDIsGeneratedOnce(t *testing.T) {
	state, err := openStateDir(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("openStateDir: %v", err)
	}
	first, err := state.deviceID("")
	if err != nil || first == "" {
		t.Fatalf("deviceID = %q, %v", first, err)
	}
	second, err := state.deviceID("")
	if err != nil || second != first {
		t.Fatalf("second deviceID = %q, %v; want %q", second, err, first)
	}
	if configured, _ := state.deviceID("laptop"); configured != "laptop" {
		t.Fatalf("configured device ID ignored: %q", configured)
	}
}

func TestTokenRoundTripsWithPrivateMode(t *testing.T) {
	state, err := openStateDir(t.TempDir())
	if err != nil {
		t.Fatalf("openStateDir: %v", err)
	}
	if token, err := state.token(); err != nil || token != "" {
		t.Fatalf("token before login = %q, %v", token, err)
	}
	if err := state.saveToken("secret-token"); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	if token, _ := state.token(); token != "secret-token" {
		t.Fatalf("token = %q", token)
	}
	info, err := os.Stat(filepath.Join(state.path, tokenFile))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode = %v", info.Mode().Perm())
	}
}

func TestPromptReadsLineWithoutTerminal(t *testing.T) {
	var stderr bytes.Buffer
	a := &app{stdin: strings.NewReader("2468\r\nrest\n"), stderr: &stderr}
	passcode, err := a.prompt("Passcode: ")
	if err != nil || passcode != "2468" {
		t.Fatalf("prompt = %q, %v", passcode, err)
	}
	if stderr.String() != "Passcode: " {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestStartSessionRequiresLogin(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	config := "client:\n  state_dir: " + filepath.Join(dir, "state") + "\n  download_dir: " + filepath.Join(dir, "downloads") + "\n"
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a := &app{ctx: t.Context(), configPath: configPath, logLevel: "error"}
	if _, err := a.startSession(sessionOptions{}, client.NodeEvents{}); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("startSession = %v, want errNotLoggedIn", err)
	}
}
