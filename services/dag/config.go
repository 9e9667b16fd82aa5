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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/causallog/pkg/logging"
	"github.com/AleutianAI/causallog/services/dag/index/level"
	"github.com/AleutianAI/causallog/services/dag/store"
)

// Index kinds.
const (
	IndexFlat  = "flat"
	IndexTopo  = "topo"
	IndexLevel = "level"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Config selects and tunes the store and index behind a Dag.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	Index IndexConfig `json:"index" yaml:"index"`
	Store StoreConfig `json:"store" yaml:"store"`
	Log   LogConfig   `json:"log" yaml:"log"`
}

// IndexConfig selects the index implementation.
type IndexConfig struct {
	Kind        string `json:"kind" yaml:"kind"`
	LevelFactor int    `json:"level_factor" yaml:"level_factor"`
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Kind       string        `json:"kind" yaml:"kind"`
	Path       string        `json:"path" yaml:"path"`
	InMemory   bool          `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
	CacheSize  int           `json:"cache_size" yaml:"cache_size"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
}

// LogConfig configures the logger built by Open.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`

	// Dir enables an additional JSON log file per day.
	Dir string `json:"dir" yaml:"dir"`
}

// DefaultConfig returns an in-memory level index over an in-memory store.
func DefaultConfig() Config {
	return Config{
		Index: IndexConfig{
			Kind:        IndexLevel,
			LevelFactor: level.DefaultLevelFactor,
		},
		Store: StoreConfig{
			Kind:       StoreMemory,
			SyncWrites: true,
			CacheSize:  store.DefaultCacheSize,
			GCInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	configPath - Path to a YAML or JSON file. Optional; a missing file
//	  leaves the defaults in place.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file cannot be parsed or validation fails
//	  (ErrInvalidConfig).
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("CAUSALLOG_INDEX_KIND"); v != "" {
		cfg.Index.Kind = v
	}
	if v := os.Getenv("CAUSALLOG_INDEX_LEVEL_FACTOR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Index.LevelFactor = i
		}
	}

	if v := os.Getenv("CAUSALLOG_STORE_KIND"); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv("CAUSALLOG_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CAUSALLOG_STORE_IN_MEMORY"); v != "" {
		cfg.Store.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("CAUSALLOG_STORE_SYNC_WRITES"); v != "" {
		cfg.Store.SyncWrites = v == "true" || v == "1"
	}
	if v := os.Getenv("CAUSALLOG_STORE_CACHE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Store.CacheSize = i
		}
	}
	if v := os.Getenv("CAUSALLOG_STORE_GC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.GCInterval = d
		}
	}

	if v := os.Getenv("CAUSALLOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CAUSALLOG_LOG_JSON"); v != "" {
		cfg.Log.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("CAUSALLOG_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
}

// Validate checks that the configuration is usable.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig, naming the first offending field.
func (c Config) Validate() error {
	switch c.Index.Kind {
	case IndexFlat, IndexTopo, IndexLevel:
	default:
		return fmt.Errorf("%w: index.kind must be one of flat, topo, level; got %q", ErrInvalidConfig, c.Index.Kind)
	}
	if c.Index.Kind == IndexLevel && c.Index.LevelFactor < 2 {
		return fmt.Errorf("%w: index.level_factor must be >= 2, got %d", ErrInvalidConfig, c.Index.LevelFactor)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreBadger:
		if !c.Store.InMemory && c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for a persistent badger store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: store.kind must be memory or badger, got %q", ErrInvalidConfig, c.Store.Kind)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("%w: store.cache_size must be >= 0", ErrInvalidConfig)
	}
	if c.Store.GCInterval < 0 {
		return fmt.Errorf("%w: store.gc_interval must be >= 0", ErrInvalidConfig)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}
