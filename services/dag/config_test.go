// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, IndexLevel, cfg.Index.Kind)
	assert.Equal(t, 64, cfg.Index.LevelFactor)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.True(t, cfg.Store.SyncWrites)
	assert.Equal(t, 4096, cfg.Store.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Store.GCInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "causallog.yaml", `
index:
  kind: topo
store:
  kind: badger
  path: /var/lib/causallog
  cache_size: 128
  gc_interval: 5m
log:
  level: debug
  json: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, IndexTopo, cfg.Index.Kind)
	assert.Equal(t, 64, cfg.Index.LevelFactor, "unset fields keep defaults")
	assert.Equal(t, StoreBadger, cfg.Store.Kind)
	assert.Equal(t, "/var/lib/causallog", cfg.Store.Path)
	assert.Equal(t, 128, cfg.Store.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Store.GCInterval)
	assert.True(t, cfg.Store.SyncWrites)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "causallog.json", `{
	"index": {"kind": "flat"},
	"store": {"kind": "badger", "in_memory": true, "cache_size": 0}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, IndexFlat, cfg.Index.Kind)
	assert.Equal(t, StoreBadger, cfg.Store.Kind)
	assert.True(t, cfg.Store.InMemory)
	assert.Zero(t, cfg.Store.CacheSize)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "broken.yaml", "index: [unclosed")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "causallog.yaml", `
index:
  kind: topo
log:
  level: debug
`)

	t.Setenv("CAUSALLOG_INDEX_KIND", "level")
	t.Setenv("CAUSALLOG_INDEX_LEVEL_FACTOR", "16")
	t.Setenv("CAUSALLOG_STORE_KIND", "badger")
	t.Setenv("CAUSALLOG_STORE_IN_MEMORY", "1")
	t.Setenv("CAUSALLOG_STORE_SYNC_WRITES", "false")
	t.Setenv("CAUSALLOG_STORE_CACHE_SIZE", "32")
	t.Setenv("CAUSALLOG_STORE_GC_INTERVAL", "30s")
	t.Setenv("CAUSALLOG_LOG_LEVEL", "warn")
	t.Setenv("CAUSALLOG_LOG_JSON", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, IndexLevel, cfg.Index.Kind)
	assert.Equal(t, 16, cfg.Index.LevelFactor)
	assert.Equal(t, StoreBadger, cfg.Store.Kind)
	assert.True(t, cfg.Store.InMemory)
	assert.False(t, cfg.Store.SyncWrites)
	assert.Equal(t, 32, cfg.Store.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Store.GCInterval)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadConfig_BadEnvNumbersAreIgnored(t *testing.T) {
	t.Setenv("CAUSALLOG_INDEX_LEVEL_FACTOR", "lots")
	t.Setenv("CAUSALLOG_STORE_GC_INTERVAL", "soon")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Index.LevelFactor)
	assert.Equal(t, 10*time.Minute, cfg.Store.GCInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown index", func(c *Config) { c.Index.Kind = "btree" }, "index.kind"},
		{"level factor too small", func(c *Config) { c.Index.LevelFactor = 1 }, "index.level_factor"},
		{"unknown store", func(c *Config) { c.Store.Kind = "s3" }, "store.kind"},
		{"badger without path", func(c *Config) { c.Store.Kind = StoreBadger }, "store.path"},
		{"negative cache", func(c *Config) { c.Store.CacheSize = -1 }, "store.cache_size"},
		{"negative gc interval", func(c *Config) { c.Store.GCInterval = -time.Second }, "store.gc_interval"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("level factor ignored for flat", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Index.Kind = IndexFlat
		cfg.Index.LevelFactor = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Kind = StoreBadger
		cfg.Store.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}
