// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flat

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Store persists the predecessor relation of a flat index.
type Store interface {
	// AddNode records node with its predecessors. Adding a known node again
	// is a no-op.
	AddNode(ctx context.Context, node model.Hash, preds model.Position) error

	// GetPreds returns the predecessors of node, or index.ErrNotIndexed.
	// The returned set must not be modified.
	GetPreds(ctx context.Context, node model.Hash) (model.Position, error)
}

// MemStore is an in-memory Store.
//
// Thread Safety: Safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	preds map[model.Hash]model.Position
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{preds: make(map[model.Hash]model.Position)}
}

// AddNode implements Store.
func (s *MemStore) AddNode(_ context.Context, node model.Hash, preds model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.preds[node]; ok {
		return nil
	}
	s.preds[node] = preds.Clone()
	return nil
}

// GetPreds implements Store.
func (s *MemStore) GetPreds(_ context.Context, node model.Hash) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	preds, ok := s.preds[node]
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrNotIndexed, node)
	}
	return preds, nil
}

// Len returns the number of indexed nodes.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.preds)
}
