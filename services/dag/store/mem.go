// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// MemStore keeps entries in memory.
type MemStore struct {
	mu       sync.RWMutex
	entries  map[model.Hash]model.Entry
	frontier model.Position
	order    []model.Hash
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		entries:  make(map[model.Hash]model.Entry),
		frontier: model.Position{},
	}
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, entry model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.Hash]; ok {
		return nil
	}

	s.entries[entry.Hash] = entry
	s.order = append(s.order, entry.Hash)

	for prev := range entry.Header.PrevEntryHashes {
		s.frontier.Remove(prev)
	}
	s.frontier.Add(entry.Hash)
	return nil
}

// LoadEntry implements Store.
func (s *MemStore) LoadEntry(_ context.Context, hash model.Hash) (model.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[hash]
	return e, ok, nil
}

// LoadHeader implements Store.
func (s *MemStore) LoadHeader(_ context.Context, hash model.Hash) (model.Header, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[hash]
	return e.Header, ok, nil
}

// Frontier implements Store.
func (s *MemStore) Frontier(context.Context) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.frontier.Clone(), nil
}

// LoadAllEntries implements Store.
func (s *MemStore) LoadAllEntries(context.Context) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Entry, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.entries[h])
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
