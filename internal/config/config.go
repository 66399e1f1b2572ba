// Package config handles configuration loading and validation for the
// ProofWrite monitor and verification service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete configuration.
type Config struct {
	// Monitor configuration for the session state machine.
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`

	// Detector configuration for anomaly thresholds.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Scoring configuration for penalty formulas.
	Scoring ScoringConfig `toml:"scoring" json:"scoring" yaml:"scoring"`

	// Storage configuration for session archive persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Server configuration for the verification HTTP service.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// MonitorConfig holds session state machine and monitor loop configuration.
type MonitorConfig struct {
	// PollMs is the sampling and monitor loop interval in milliseconds.
	PollMs int `toml:"poll_ms" json:"poll_ms" yaml:"poll_ms"`

	// AutoStartJumpWords starts a session when the word count jumps by
	// at least this many words between monitor ticks, even if the
	// finer-grained positive-delta signal was missed.
	AutoStartJumpWords int `toml:"auto_start_jump_words" json:"auto_start_jump_words" yaml:"auto_start_jump_words"`

	// AutoStopAfterMs ends a session after this much time without a
	// content change.
	AutoStopAfterMs int `toml:"auto_stop_after_ms" json:"auto_stop_after_ms" yaml:"auto_stop_after_ms"`

	// WatchDocument enables an fsnotify watcher on the document file so
	// external writes invalidate a standing verification token between polls.
	WatchDocument bool `toml:"watch_document" json:"watch_document" yaml:"watch_document"`
}

// DetectorConfig holds anomaly detection thresholds.
type DetectorConfig struct {
	// LargePasteWords is the total added-words threshold for the
	// large-paste flag.
	LargePasteWords int `toml:"large_paste_words" json:"large_paste_words" yaml:"large_paste_words"`

	// SpeedSpikeWords is the words-per-tick threshold for the
	// speed-spike flag.
	SpeedSpikeWords int `toml:"speed_spike_words" json:"speed_spike_words" yaml:"speed_spike_words"`

	// SustainedWPM is the words-per-minute threshold for the
	// sustained-speed flag.
	SustainedWPM float64 `toml:"sustained_wpm" json:"sustained_wpm" yaml:"sustained_wpm"`

	// SustainedWindowMs is the sliding window span used for the
	// sustained-speed rate.
	SustainedWindowMs int `toml:"sustained_window_ms" json:"sustained_window_ms" yaml:"sustained_window_ms"`

	// SustainedMinSpanMs is the minimum window span before a sustained
	// rate is considered meaningful.
	SustainedMinSpanMs int `toml:"sustained_min_span_ms" json:"sustained_min_span_ms" yaml:"sustained_min_span_ms"`

	// MagnitudeCap bounds recorded anomaly magnitudes against
	// pathological inputs.
	MagnitudeCap int `toml:"magnitude_cap" json:"magnitude_cap" yaml:"magnitude_cap"`
}

// ScoringConfig holds penalty configuration.
type ScoringConfig struct {
	// LargePasteMax is the maximum large-paste penalty.
	LargePasteMax int `toml:"large_paste_max" json:"large_paste_max" yaml:"large_paste_max"`

	// SpeedSpikeMax is the maximum speed-spike penalty.
	SpeedSpikeMax int `toml:"speed_spike_max" json:"speed_spike_max" yaml:"speed_spike_max"`

	// SustainedSpeed is the flat sustained-speed penalty.
	SustainedSpeed int `toml:"sustained_speed" json:"sustained_speed" yaml:"sustained_speed"`

	// LogRepeats appends edit-log entries for repeat occurrences of an
	// already-latched anomaly without re-penalizing.
	LogRepeats bool `toml:"log_repeats" json:"log_repeats" yaml:"log_repeats"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the primary storage backend: "sqlite" or "file".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// FallbackPath is the JSON archive written when the primary
	// backend fails.
	FallbackPath string `toml:"fallback_path" json:"fallback_path" yaml:"fallback_path"`

	// TokenPath is the path of the HMAC-protected token record.
	TokenPath string `toml:"token_path" json:"token_path" yaml:"token_path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// ServerConfig holds the verification service configuration.
type ServerConfig struct {
	// Addr is the listen address for the verification endpoint.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// ReadTimeoutSec bounds request reading.
	ReadTimeoutSec int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`

	// WriteTimeoutSec bounds response writing.
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs are written: stdout, stderr, file.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Monitor: MonitorConfig{
			PollMs:             1500,
			AutoStartJumpWords: 50,
			AutoStopAfterMs:    300000, // 5 minutes
			WatchDocument:      true,
		},
		Detector: DetectorConfig{
			LargePasteWords:    50,
			SpeedSpikeWords:    20,
			SustainedWPM:       120,
			SustainedWindowMs:  60000,
			SustainedMinSpanMs: 10000,
			MagnitudeCap:       10000,
		},
		Scoring: ScoringConfig{
			LargePasteMax:  50,
			SpeedSpikeMax:  30,
			SustainedSpeed: 20,
			LogRepeats:     false,
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			Path:          filepath.Join(dataDir, "sessions.db"),
			FallbackPath:  filepath.Join(dataDir, "sessions.json"),
			TokenPath:     filepath.Join(dataDir, "token.json"),
			BusyTimeoutMs: 5000,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8741",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// defaultDataDir returns the per-user data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proofwrite"
	}
	return filepath.Join(home, ".proofwrite")
}

// PollInterval returns the monitor poll interval as a duration.
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// AutoStopAfter returns the inactivity threshold as a duration.
func (c *MonitorConfig) AutoStopAfter() time.Duration {
	return time.Duration(c.AutoStopAfterMs) * time.Millisecond
}

// SustainedWindow returns the sliding window span as a duration.
func (c *DetectorConfig) SustainedWindow() time.Duration {
	return time.Duration(c.SustainedWindowMs) * time.Millisecond
}

// BusyTimeout returns the SQLite busy timeout as a duration.
func (c *StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitor.PollMs <= 0 {
		errs = append(errs, fmt.Errorf("monitor.poll_ms must be positive, got %d", c.Monitor.PollMs))
	}
	if c.Monitor.AutoStartJumpWords <= 0 {
		errs = append(errs, fmt.Errorf("monitor.auto_start_jump_words must be positive, got %d", c.Monitor.AutoStartJumpWords))
	}
	if c.Monitor.AutoStopAfterMs <= 0 {
		errs = append(errs, fmt.Errorf("monitor.auto_stop_after_ms must be positive, got %d", c.Monitor.AutoStopAfterMs))
	}

	if c.Detector.LargePasteWords <= 0 {
		errs = append(errs, fmt.Errorf("detector.large_paste_words must be positive, got %d", c.Detector.LargePasteWords))
	}
	if c.Detector.SpeedSpikeWords <= 0 {
		errs = append(errs, fmt.Errorf("detector.speed_spike_words must be positive, got %d", c.Detector.SpeedSpikeWords))
	}
	if c.Detector.SustainedWPM <= 0 {
		errs = append(errs, fmt.Errorf("detector.sustained_wpm must be positive, got %v", c.Detector.SustainedWPM))
	}
	if c.Detector.SustainedMinSpanMs >= c.Detector.SustainedWindowMs {
		errs = append(errs, fmt.Errorf("detector.sustained_min_span_ms (%d) must be smaller than sustained_window_ms (%d)",
			c.Detector.SustainedMinSpanMs, c.Detector.SustainedWindowMs))
	}
	if c.Detector.MagnitudeCap <= 0 {
		errs = append(errs, fmt.Errorf("detector.magnitude_cap must be positive, got %d", c.Detector.MagnitudeCap))
	}

	if c.Scoring.LargePasteMax < 0 || c.Scoring.LargePasteMax > 100 {
		errs = append(errs, fmt.Errorf("scoring.large_paste_max must be in [0,100], got %d", c.Scoring.LargePasteMax))
	}
	if c.Scoring.SpeedSpikeMax < 0 || c.Scoring.SpeedSpikeMax > 100 {
		errs = append(errs, fmt.Errorf("scoring.speed_spike_max must be in [0,100], got %d", c.Scoring.SpeedSpikeMax))
	}
	if c.Scoring.SustainedSpeed < 0 || c.Scoring.SustainedSpeed > 100 {
		errs = append(errs, fmt.Errorf("scoring.sustained_speed must be in [0,100], got %d", c.Scoring.SustainedSpeed))
	}

	switch c.Storage.Type {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be sqlite or file, got %q", c.Storage.Type))
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
