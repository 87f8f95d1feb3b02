// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel accepted an unknown level")
	}
}

func TestNewWriterJSON(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewWriter(&buffer, slog.LevelInfo, false)
	logger.Debug("dropped")
	logger.Info("device connected", "device_id", "d-1")

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug must be filtered): %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["device_id"] != "d-1" {
		t.Fatalf("device_id = %v", record["device_id"])
	}
}

func TestNewWriterText(t *testing.T) {
	var buffer bytes.Buffer
	NewWriter(&buffer, slog.LevelInfo, true).Info("edge started", "listen", ":8080")
	if !strings.Contains(buffer.String(), "listen=:8080") {
		t.Fatalf("text output = %q", buffer.String())
	}
}
