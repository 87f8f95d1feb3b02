// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":         "report.pdf",
		"../../etc/passwd":   "passwd",
		`..\windows\win.ini`: "win.ini",
		".bashrc":            "bashrc",
		"":                   "file",
		"/":                  "file",
		"tab\there":          "tabhere",
	}
	for input, want := range cases {
		if got := sanitizeName(input); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDirSinkCommitsUniqueNames(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}

	var paths []string
	for _, content := range []string{"first", "second"} {
		file, err := sink.Create("notes.txt", int64(len(content)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		file.Write([]byte(content))
		path, err := file.Commit()
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		paths = append(paths, path)
	}

	if paths[0] != filepath.Join(dir, "notes.txt") || paths[1] != filepath.Join(dir, "notes (1).txt") {
		t.Fatalf("paths = %v", paths)
	}
	if data, _ := os.ReadFile(paths[1]); string(data) != "second" {
		t.Fatalf("second file holds %q", data)
	}
}

func TestDirSinkAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}
	file, err := sink.Create("partial.bin", 10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	file.Write([]byte("half"))
	if err := file.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("directory holds %d entries after Abort", len(entries))
	}
}

func TestCanMove(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateHandshaking, StateAccepted, true},
		{StateHandshaking, StateTransferring, false},
		{StateAccepted, StateTransferring, true},
		{StateTransferring, StatePaused, true},
		{StatePaused, StateTransferring, true},
		{StateTransferring, StateAccepted, false},
		{StateCompleted, StateCancelled, false},
		{StateCancelled, StateTransferring, false},
		{StateRejected, StateAccepted, false},
	}
	for _, tc := range cases {
		if got := canMove(tc.from, tc.to); got != tc.want {
			t.Errorf("canMove(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
