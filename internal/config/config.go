// Package config holds hlsmerge settings loaded from an optional YAML file
// and overridden by command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of one merge run.
type Config struct {
	// FFmpegPath is the ffmpeg binary to run.
	FFmpegPath string `yaml:"ffmpeg"`
	// EngineLogLevel is ffmpeg's -loglevel. It must be info or more verbose
	// for segment-open lines to appear.
	EngineLogLevel string `yaml:"engine_log_level"`
	// EngineLog, if set, receives ffmpeg's stderr instead of os.Stderr.
	EngineLog string `yaml:"engine_log"`
	// WorkDir holds working playlists and chunks. Empty means the source
	// playlist's directory.
	WorkDir string `yaml:"work_dir"`
	// RevalidatePrefix re-checks every prefix produced by a split.
	RevalidatePrefix bool `yaml:"revalidate_prefix"`
	// Cleanup removes working files after a successful merge.
	Cleanup bool `yaml:"cleanup"`
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
	// Progress shows a progress bar of committed segments.
	Progress bool `yaml:"progress"`
}

// engineLogLevels are ffmpeg levels that still print "Opening ..." lines.
var engineLogLevels = map[string]bool{
	"info":    true,
	"verbose": true,
	"debug":   true,
	"trace":   true,
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		FFmpegPath:     "ffmpeg",
		EngineLogLevel: "info",
	}
}

// Load reads a YAML config file on top of Defaults. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration and fills defaults for empty fields.
func (c *Config) Validate() error {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.EngineLogLevel == "" {
		c.EngineLogLevel = "info"
	}

	level := strings.ToLower(c.EngineLogLevel)
	if !engineLogLevels[level] {
		return fmt.Errorf("engine log level %q hides segment-open diagnostics, use one of info, verbose, debug, trace", c.EngineLogLevel)
	}
	c.EngineLogLevel = level

	return nil
}
