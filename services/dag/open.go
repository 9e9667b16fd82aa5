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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/causallog/pkg/logging"
	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/index/flat"
	"github.com/AleutianAI/causallog/services/dag/index/level"
	"github.com/AleutianAI/causallog/services/dag/index/topo"
	"github.com/AleutianAI/causallog/services/dag/store"
	badgerstore "github.com/AleutianAI/causallog/services/dag/storage/badger"
)

// Open builds a Dag from cfg.
//
// Description:
//
//	Creates the logger, the store and the index cfg describes. Indices are
//	always in memory, so a Dag over a badger store is rebuilt from the
//	stored entries before it is returned. opts are applied after the
//	logger built from cfg.Log, so WithLogger overrides it.
//
// Outputs:
//
//	*Dag - The ready Dag.
//	io.Closer - Releases the store and the log file. Always non-nil on
//	  success.
//	error - ErrInvalidConfig, or an error opening or rebuilding the store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Dag, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logLevel, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.New(logging.Config{
		Level:   logLevel,
		Service: "causallog",
		JSON:    cfg.Log.JSON,
		LogDir:  cfg.Log.Dir,
	})

	closers := closerChain{logger}

	st, err := openStore(cfg.Store, logger.Slog())
	if err != nil {
		_ = closers.Close()
		return nil, nil, err
	}
	if c, ok := st.(io.Closer); ok {
		closers = append(closerChain{c}, closers...)
	}

	ix := newIndex(cfg.Index, st)

	d := New(st, ix, append([]Option{WithLogger(logger.Slog())}, opts...)...)

	if cfg.Store.Kind == StoreBadger {
		if err := d.Rebuild(ctx); err != nil {
			_ = closers.Close()
			return nil, nil, err
		}
	}

	d.logger.Info("dag opened",
		slog.String("index", cfg.Index.Kind),
		slog.String("store", cfg.Store.Kind),
	)
	return d, closers, nil
}

func openStore(cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Kind {
	case StoreBadger:
		dbCfg := badgerstore.Config{
			Path:           cfg.Path,
			InMemory:       cfg.InMemory,
			SyncWrites:     cfg.SyncWrites,
			Logger:         logger,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: badgerstore.DefaultConfig().GCDiscardRatio,
		}
		db, err := badgerstore.OpenDB(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st, err := store.NewBadgerStore(db,
			store.WithCacheSize(cfg.CacheSize),
			store.WithStoreLogger(logger),
		)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemStore(), nil
	}
}

func newIndex(cfg IndexConfig, loader index.EntryLoader) index.Index {
	switch cfg.Kind {
	case IndexFlat:
		return flat.New(flat.NewMemStore(), loader)
	case IndexTopo:
		return topo.New(topo.NewMemStore(), loader)
	default:
		return level.New(level.NewMemStore(cfg.LevelFactor), loader)
	}
}

// closerChain closes each element in order and joins the errors.
type closerChain []io.Closer

func (c closerChain) Close() error {
	var errs []error
	for _, closer := range c {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
