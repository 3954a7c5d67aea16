package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Errorf("expected error for invalid level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Errorf("expected error for invalid format")
	}
}

// TestLogger_ContextFields tests that run, phase and item ids are attached from the context.
func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := WithItemID(WithPhase(WithRunID(context.Background(), "run-1"), "screening"), "doc-7")
	logger.InfoContext(ctx, "item decided", "decision", "include")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]string{
		"run_id":   "run-1",
		"phase":    "screening",
		"item_id":  "doc-7",
		"decision": "include",
		"msg":      "item decided",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "gate", "completeness")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "gate=completeness") {
		t.Errorf("warn record missing: %s", out)
	}
}

// TestLogger_FileFanout tests that records reach both the writer and the log file.
func TestLogger_FileFanout(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "saturn.log")

	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf, File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.With("component", "test").Info("run started", "run_id", "run-9")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !strings.Contains(buf.String(), "run started") {
		t.Errorf("primary writer missed the record: %s", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log file is not JSON: %v (%s)", err, data)
	}
	if entry["component"] != "test" || entry["run_id"] != "run-9" {
		t.Errorf("unexpected file entry: %v", entry)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if GetRunID(ctx) != "" || GetPhase(ctx) != "" || GetItemID(ctx) != "" {
		t.Errorf("empty context should yield empty fields")
	}
	if len(extractContextFields(ctx)) != 0 {
		t.Errorf("empty context should yield no attrs")
	}

	ctx = WithPhase(ctx, "dedup")
	if GetPhase(ctx) != "dedup" {
		t.Errorf("GetPhase = %q", GetPhase(ctx))
	}
	if n := len(extractContextFields(ctx)); n != 1 {
		t.Errorf("expected 1 attr, got %d", n)
	}
}
