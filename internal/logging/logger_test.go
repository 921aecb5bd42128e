package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_WritesJSONWithAttribution(t *testing.T) {
	dir := t.TempDir()

	log, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	log.WithSession("gs-a").WithStage("score").Info("stage completed", "seq", 3)
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("log file empty")
	}

	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["session_id"] != "gs-a" || entry["stage"] != "score" {
		t.Errorf("attribution missing: %v", entry)
	}
	if entry["msg"] != "stage completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	log, err := NewLogger(dir, LevelError)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	log.Debug("hidden")
	log.Info("hidden")
	log.Error("visible")
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q", data)
	}
	if entry["msg"] != "visible" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNopLogger_SafeEverywhere(t *testing.T) {
	log := NopLogger()
	log.WithSession("gs-a").WithStage("detect").Debug("nothing")
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
