package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultThresholds(t *testing.T) {
	cfg := Default()

	if cfg.Monitor.PollMs != 1500 {
		t.Errorf("poll_ms = %d, want 1500", cfg.Monitor.PollMs)
	}
	if cfg.Monitor.AutoStopAfterMs != 300000 {
		t.Errorf("auto_stop_after_ms = %d, want 300000", cfg.Monitor.AutoStopAfterMs)
	}
	if cfg.Detector.LargePasteWords != 50 {
		t.Errorf("large_paste_words = %d, want 50", cfg.Detector.LargePasteWords)
	}
	if cfg.Detector.SpeedSpikeWords != 20 {
		t.Errorf("speed_spike_words = %d, want 20", cfg.Detector.SpeedSpikeWords)
	}
	if cfg.Detector.SustainedWPM != 120 {
		t.Errorf("sustained_wpm = %v, want 120", cfg.Detector.SustainedWPM)
	}
	if cfg.Scoring.LargePasteMax != 50 || cfg.Scoring.SpeedSpikeMax != 30 || cfg.Scoring.SustainedSpeed != 20 {
		t.Error("penalty maxima do not match defaults")
	}
	if cfg.Scoring.LogRepeats {
		t.Error("log_repeats should default to first-occurrence-only")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[monitor]
poll_ms = 500

[detector]
speed_spike_words = 35

[storage]
type = "file"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Monitor.PollMs != 500 {
		t.Errorf("poll_ms = %d, want 500", cfg.Monitor.PollMs)
	}
	if cfg.Detector.SpeedSpikeWords != 35 {
		t.Errorf("speed_spike_words = %d, want 35", cfg.Detector.SpeedSpikeWords)
	}
	// Untouched sections keep defaults.
	if cfg.Detector.LargePasteWords != 50 {
		t.Errorf("large_paste_words = %d, want default 50", cfg.Detector.LargePasteWords)
	}
	if cfg.Storage.Type != "file" {
		t.Errorf("storage type = %q, want file", cfg.Storage.Type)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
monitor:
  auto_start_jump_words: 80
scoring:
  log_repeats: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.AutoStartJumpWords != 80 {
		t.Errorf("auto_start_jump_words = %d, want 80", cfg.Monitor.AutoStartJumpWords)
	}
	if !cfg.Scoring.LogRepeats {
		t.Error("log_repeats should be true")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[monitor]
poll_ms = -5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for negative poll_ms")
	}
	if !strings.Contains(err.Error(), "poll_ms") {
		t.Errorf("error should mention poll_ms: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROOFWRITE_POLL_MS", "250")
	t.Setenv("PROOFWRITE_SERVER_ADDR", "127.0.0.1:9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.PollMs != 250 {
		t.Errorf("poll_ms = %d, want 250", cfg.Monitor.PollMs)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("server addr = %q, want override", cfg.Server.Addr)
	}
}
