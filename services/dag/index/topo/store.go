// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topo

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Store persists topological numbers and the predecessor relation.
type Store interface {
	// AssignNextTopoIndex gives node the next number in insertion order,
	// unless it already has one, and returns the node's number.
	AssignNextTopoIndex(ctx context.Context, node model.Hash) (uint64, error)

	// GetTopoIndex returns node's number, or index.ErrNotIndexed.
	GetTopoIndex(ctx context.Context, node model.Hash) (uint64, error)

	AddPred(ctx context.Context, node, pred model.Hash) error

	// GetPreds returns node's predecessors (empty for roots and unknown
	// nodes). The returned set must not be modified.
	GetPreds(ctx context.Context, node model.Hash) (model.Position, error)
}

// MemStore is an in-memory Store. Each MemStore owns its counter.
//
// Thread Safety: Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	nextTopo uint64
	topo     map[model.Hash]uint64
	preds    index.MultiMap
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		topo:  make(map[model.Hash]uint64),
		preds: make(index.MultiMap),
	}
}

// AssignNextTopoIndex implements Store.
func (s *MemStore) AssignNextTopoIndex(_ context.Context, node model.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.topo[node]; ok {
		return t, nil
	}
	t := s.nextTopo
	s.nextTopo++
	s.topo[node] = t
	return t, nil
}

// GetTopoIndex implements Store.
func (s *MemStore) GetTopoIndex(_ context.Context, node model.Hash) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topo[node]
	if !ok {
		return 0, fmt.Errorf("%w: %s", index.ErrNotIndexed, node)
	}
	return t, nil
}

// AddPred implements Store.
func (s *MemStore) AddPred(_ context.Context, node, pred model.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.preds.Add(node, pred)
	return nil
}

// GetPreds implements Store.
func (s *MemStore) GetPreds(_ context.Context, node model.Hash) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.preds.Get(node), nil
}
