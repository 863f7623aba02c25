// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WriterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Writer: &buf, Service: "test"})
	defer logger.Close()

	logger.Info("hidden")
	logger.Warn("shown", "patch", "a")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info logged at Warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "patch=a") {
		t.Errorf("missing warn record: %s", out)
	}
	if !strings.Contains(out, "service=test") {
		t.Errorf("missing service attribute: %s", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Writer: &buf})
	defer logger.Close()

	logger.Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output, got %s", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Service: "test", Quiet: true})

	logger.Info("to file", "path", "manifest.xml")
	path := logger.LogFile()
	if path == "" {
		t.Fatal("LogFile() empty when LogDir specified")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	blocker := t.TempDir() + "/file"
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	logger := New(Config{LogDir: blocker + "/sub", Quiet: true})
	defer logger.Close()

	if logger.LogFile() != "" {
		t.Error("expected file logging to be skipped")
	}
	logger.Info("still works")
}

func TestLogger_ExportThroughSlog(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Quiet: true, Service: "svc", Exporter: exp})
	defer logger.Close()

	s := logger.Slog().With(slog.String("run_id", "r1"))
	s.Debug("filtered")
	s.WithGroup("doc").Warn("changed", slog.String("path", "a.xml"))

	entries := exp.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "changed" || e.Level != LevelWarn || e.Service != "svc" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Attrs["run_id"] != "r1" {
		t.Errorf("run_id attr = %v", e.Attrs["run_id"])
	}
	if e.Attrs["doc.path"] != "a.xml" {
		t.Errorf("grouped attr = %v, attrs = %v", e.Attrs["doc.path"], e.Attrs)
	}
	if _, ok := e.Attrs["service"]; ok {
		t.Error("service should not be duplicated into attrs")
	}
}

func TestNew_ZeroLevelIncludesDebug(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Slog().Debug("kept")
	if got := exp.Messages(LevelDebug); len(got) != 1 || got[0] != "kept" {
		t.Errorf("Messages(Debug) = %v, want [kept]", got)
	}
}

func TestLogger_With(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	defer logger.Close()

	child := logger.With("patch", "p1")
	child.Error("boom")

	got := exp.Messages(LevelError)
	if len(got) != 1 || got[0] != "boom" {
		t.Errorf("Messages(Error) = %v", got)
	}
	if exp.Entries()[0].Attrs["patch"] != "p1" {
		t.Errorf("child attrs missing")
	}
}

type failingExporter struct {
	NopExporter
}

func (*failingExporter) Flush(context.Context) error { return errors.New("flush failed") }

func TestLogger_Close_ExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	if err := logger.Close(); err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Errorf("Close() error = %v, want flush failure", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				logger.Info("msg", "g", i, "n", j)
			}
		}()
	}
	wg.Wait()

	if n := len(exp.Entries()); n != 100 {
		t.Errorf("entries = %d, want 100", n)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != home+"/logs" {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
