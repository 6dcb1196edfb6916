package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestOutput_File tests that component loggers write prefixed lines to the file
func TestOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "remit.log")

	out, err := New(Options{File: path, MaxSizeMB: 1, Quiet: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	out.Logger("tracker").Printf("Tracking %s", "/mirror")
	out.Logger("rclone").Println("copy done")
	if err := out.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "[tracker] ") || !strings.Contains(content, "Tracking /mirror") {
		t.Errorf("log file missing tracker line: %q", content)
	}
	if !strings.Contains(content, "[rclone] ") {
		t.Errorf("log file missing rclone line: %q", content)
	}
}

// TestOutput_QuietWithoutFile tests that a fully silenced output discards
func TestOutput_QuietWithoutFile(t *testing.T) {
	out, err := New(Options{Quiet: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	out.Logger("x").Println("dropped")
	if err := out.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
