package dblog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withWorkingDir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(orig)
	})
}

func TestOpen_CreatesLogDirectoryAndFile(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	h, err := Open("orders", slog.LevelInfo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(filepath.Join("log", "orders.log")); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}

func TestHandle_WritesFormattedLine(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	h, err := Open("orders", slog.LevelInfo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var console bytes.Buffer
	h.console = &console

	logger := slog.New(h)
	logger.Info("checkpoint completed", "database", "orders", "tsSeconds", 1700000000)

	out := console.String()
	if !strings.Contains(out, "checkpoint completed") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "database=orders") {
		t.Errorf("expected attribute in output, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected trailing newline, got %q", out)
	}
}

func TestEnabled_RespectsMinimumLevel(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	h, err := Open("orders", slog.LevelWarn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be disabled when minimum is warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error level to be enabled when minimum is warn")
	}
}

func TestWithAttrs_CarriesForward(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	h, err := Open("orders", slog.LevelInfo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var console bytes.Buffer
	h.console = &console

	withRunID := h.WithAttrs([]slog.Attr{slog.String("runId", "abc-123")})
	logger := slog.New(withRunID)
	logger.Info("starting replication")

	if !strings.Contains(console.String(), "runId=abc-123") {
		t.Errorf("expected carried attribute in output, got %q", console.String())
	}
}

func TestWithGroup_NamespacesAttributes(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	h, err := Open("orders", slog.LevelInfo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var console bytes.Buffer
	h.console = &console

	grouped := h.WithGroup("applier")
	logger := slog.New(grouped)
	logger.Info("applied event", "operationType", "insert")

	if !strings.Contains(console.String(), "applier.operationType=insert") {
		t.Errorf("expected namespaced attribute, got %q", console.String())
	}
}
