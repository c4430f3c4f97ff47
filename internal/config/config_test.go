package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "stratline", cfg.Service.Name)
	require.Equal(t, AuthStrict, cfg.Auth.Mode)
	require.True(t, cfg.KnownCategory("seo"))
	require.False(t, cfg.KnownCategory("gardening"))
}

func TestEmptyCatalogAcceptsAnything(t *testing.T) {
	cfg := Default()
	cfg.Categories.Catalog = nil
	require.True(t, cfg.KnownCategory("anything-goes"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Service.Name = "" }},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every day at noon" }},
		{"no schedule", func(c *Config) { c.Schedule.Cron = ""; c.Schedule.IntervalHours = 0 }},
		{"zero default limit", func(c *Config) { c.Execution.DefaultLimit = 0 }},
		{"max below default", func(c *Config) { c.Execution.MaxLimit = c.Execution.DefaultLimit - 1 }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "maybe" }},
		{"rate limit zero window", func(c *Config) { c.RateLimit.WindowMinutes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOptional(t *testing.T) {
	workspace := t.TempDir()

	cfg, err := LoadOptional(workspace)
	require.NoError(t, err)
	require.Nil(t, cfg)

	require.NoError(t, WriteDefault(filepath.Join(workspace, "stratline.yml")))
	cfg, err = LoadOptional(workspace)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, 5, cfg.Execution.DefaultLimit)
	require.Equal(t, 25, cfg.Execution.MaxLimit)
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	_, err := FromYAML([]byte("service: ["))
	require.Error(t, err)

	_, err = FromYAML([]byte("service:\n  name: x\nschedule:\n  cron: nope\n"))
	require.Error(t, err)
}

func TestLoadMissingFileMentionsPath(t *testing.T) {
	workspace := t.TempDir()
	_, err := Load(workspace)
	require.Error(t, err)
	require.Contains(t, err.Error(), Path(workspace))
	require.NoError(t, os.WriteFile(Path(workspace), []byte(defaultTemplate), 0o644))
	cfg, err := Load(workspace)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
