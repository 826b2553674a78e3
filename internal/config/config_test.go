package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/synclone/internal/replay"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synclone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Interactive())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, "origin: sqlite://origin.db\nclone_batch_size: 50\non_conflict: skip\n")
	t.Setenv("SYNCLONE_CLONE_BATCH_SIZE", "64")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://origin.db", cfg.Origin)
	assert.Equal(t, 64, cfg.CloneBatchSize)
	assert.Equal(t, "text", cfg.LogFormat, "defaults survive")

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, replay.Skip, p.Decision)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeFile(t, "orign: x\n")
	_, err := Load(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orign")
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := Load(missing, false)
	assert.NoError(t, err)
	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size", func(c *Config) { c.CloneBatchSize = 0 }},
		{"step", func(c *Config) { c.ProgressStepPercent = 101 }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
		{"format", func(c *Config) { c.LogFormat = "xml" }},
		{"policy", func(c *Config) { c.OnConflict = "resolve" }},
		{"unknown policy", func(c *Config) { c.OnConflict = "ignore" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}
