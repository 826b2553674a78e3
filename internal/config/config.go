// Package config loads synclone settings from an optional YAML file and
// SYNCLONE_ environment variables. Command-line flags are applied on top by
// the cli package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/task"
)

// EnvPrefix prefixes every environment variable, e.g. SYNCLONE_ORIGIN.
const EnvPrefix = "SYNCLONE"

// PolicyPrompt asks the user about every conflict.
const PolicyPrompt = "prompt"

// Config holds all settings.
type Config struct {
	// Origin is the URI of the central store.
	Origin string `yaml:"origin" envconfig:"ORIGIN"`
	// Schema is a CUE schema file. Empty uses the built-in schema.
	Schema              string `yaml:"schema" envconfig:"SCHEMA"`
	CloneBatchSize      int    `yaml:"clone_batch_size" envconfig:"CLONE_BATCH_SIZE"`
	ProgressStepPercent int    `yaml:"progress_step_percent" envconfig:"PROGRESS_STEP_PERCENT"`
	LogLevel            string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat           string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	// Listen is the address of the HTTP server.
	Listen string `yaml:"listen" envconfig:"LISTEN"`
	// OnConflict is prompt, skip, skip_related or quit.
	OnConflict string `yaml:"on_conflict" envconfig:"ON_CONFLICT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		CloneBatchSize:      clone.DefaultBatchSize,
		ProgressStepPercent: task.DefaultStepPercent,
		LogLevel:            "info",
		LogFormat:           "text",
		Listen:              "127.0.0.1:8080",
		OnConflict:          PolicyPrompt,
	}
}

// Load returns Default overridden by the YAML file at path, if any, then
// by the environment. A missing file is an error only when path was given
// explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			slog.Debug("config loaded", "path", path)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.CloneBatchSize < 1 {
		return fmt.Errorf("clone_batch_size must be at least 1, got %d", c.CloneBatchSize)
	}
	if c.ProgressStepPercent <= 0 || c.ProgressStepPercent > 100 {
		return fmt.Errorf("progress_step_percent must be in (0, 100], got %d", c.ProgressStepPercent)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.OnConflict != PolicyPrompt {
		if _, err := c.Policy(); err != nil {
			return err
		}
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Interactive reports whether conflicts are prompted for.
func (c Config) Interactive() bool { return c.OnConflict == PolicyPrompt }

// Policy returns the non-interactive resolver for OnConflict.
func (c Config) Policy() (replay.PolicyResolver, error) {
	d, err := replay.ParseDecision(c.OnConflict)
	if err != nil {
		return replay.PolicyResolver{}, fmt.Errorf("on_conflict: %w", err)
	}
	switch d {
	case replay.Skip, replay.SkipRelated, replay.Quit:
		return replay.PolicyResolver{Decision: d}, nil
	}
	return replay.PolicyResolver{}, fmt.Errorf("on_conflict must be prompt, skip, skip_related or quit, got %q", c.OnConflict)
}
