package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EngineLog, cfg.Storage.Engine)
	assert.Equal(t, 1, cfg.Indexer.Tokenizer.MinLength)
	assert.InDelta(t, 1.2, cfg.Indexer.Ranking.K1, 1e-9)
	assert.InDelta(t, 0.75, cfg.Indexer.Ranking.B, 1e-9)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, 20, cfg.Search.LatestLimit)
	assert.Equal(t, 3, cfg.Search.LatestMonths)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
storage:
  dataDir: /var/lib/wikindex
  engine: sqlite
indexer:
  tokenizer:
    minLength: 2
    stem: true
search:
  defaultLimit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))
	t.Setenv("WIKINDEX_LOGGING_LEVEL", "debug")
	t.Setenv("WIKINDEX_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/wikindex", cfg.Storage.DataDir)
	assert.Equal(t, EngineSQLite, cfg.Storage.Engine)
	assert.Equal(t, 2, cfg.Indexer.Tokenizer.MinLength)
	assert.True(t, cfg.Indexer.Tokenizer.Stem)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 500, cfg.Search.MaxResults, "unset keys keep their defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "btree" }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"zero min length", func(c *Config) { c.Indexer.Tokenizer.MinLength = 0 }},
		{"b above one", func(c *Config) { c.Indexer.Ranking.B = 1.5 }},
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"zero latest months", func(c *Config) { c.Search.LatestMonths = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
