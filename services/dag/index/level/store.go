// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package level

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

const (
	// RootLevel is the level of entries without predecessors. It is above
	// every real level so roots are never walked past during projection.
	RootLevel = math.MaxInt

	// DefaultLevelFactor is used when no level factor is configured.
	DefaultLevelFactor = 64
)

// EntryInfo is what the level index knows about a node.
type EntryInfo struct {
	// TopoIndex is the node's position in insertion order.
	TopoIndex uint64

	// Level is RootLevel for roots, otherwise the number of times
	// DistanceToARoot divides evenly by the level factor.
	Level int

	// DistanceToARoot is 0 for roots, otherwise 1 + the minimum distance of
	// the predecessors.
	DistanceToARoot int
}

// LevelFor returns the level of a node at the given distance from its
// nearest root.
func LevelFor(distance, factor int) int {
	if distance == 0 {
		return RootLevel
	}
	level := 0
	for distance > 1 && distance%factor == 0 {
		level++
		distance /= factor
	}
	return level
}

// Store persists entry info and the per-level predecessor relations.
type Store interface {
	// AssignEntryInfo computes and records node's info from its
	// predecessors, or returns the recorded info if node is known. It
	// fails with index.ErrNotIndexed if a predecessor is unknown.
	AssignEntryInfo(ctx context.Context, node model.Hash, after model.Position) (EntryInfo, error)

	// GetEntryInfo returns node's info, or index.ErrNotIndexed.
	GetEntryInfo(ctx context.Context, node model.Hash) (EntryInfo, error)

	AddPred(ctx context.Context, level int, node, pred model.Hash) error

	// GetPreds returns node's predecessors in the level graph (empty when
	// none are recorded). The returned set must not be modified.
	GetPreds(ctx context.Context, level int, node model.Hash) (model.Position, error)
}

// MemStore is an in-memory Store.
//
// Thread Safety: Safe for concurrent use.
type MemStore struct {
	mu          sync.RWMutex
	levelFactor int
	nextTopo    uint64
	info        map[model.Hash]EntryInfo
	preds       map[int]index.MultiMap
}

// NewMemStore returns an empty MemStore. A levelFactor below 2 selects
// DefaultLevelFactor.
func NewMemStore(levelFactor int) *MemStore {
	if levelFactor < 2 {
		levelFactor = DefaultLevelFactor
	}
	return &MemStore{
		levelFactor: levelFactor,
		info:        make(map[model.Hash]EntryInfo),
		preds:       make(map[int]index.MultiMap),
	}
}

// LevelFactor returns the configured level factor.
func (s *MemStore) LevelFactor() int {
	return s.levelFactor
}

// AssignEntryInfo implements Store.
func (s *MemStore) AssignEntryInfo(_ context.Context, node model.Hash, after model.Position) (EntryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.info[node]; ok {
		return info, nil
	}

	distance := 0
	for pred := range after {
		predInfo, ok := s.info[pred]
		if !ok {
			return EntryInfo{}, fmt.Errorf("%w: predecessor %s of %s", index.ErrNotIndexed, pred, node)
		}
		if d := predInfo.DistanceToARoot + 1; distance == 0 || d < distance {
			distance = d
		}
	}

	info := EntryInfo{
		TopoIndex:       s.nextTopo,
		Level:           LevelFor(distance, s.levelFactor),
		DistanceToARoot: distance,
	}
	s.nextTopo++
	s.info[node] = info
	return info, nil
}

// GetEntryInfo implements Store.
func (s *MemStore) GetEntryInfo(_ context.Context, node model.Hash) (EntryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.info[node]
	if !ok {
		return EntryInfo{}, fmt.Errorf("%w: %s", index.ErrNotIndexed, node)
	}
	return info, nil
}

// AddPred implements Store.
func (s *MemStore) AddPred(_ context.Context, level int, node, pred model.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	preds, ok := s.preds[level]
	if !ok {
		preds = make(index.MultiMap)
		s.preds[level] = preds
	}
	preds.Add(node, pred)
	return nil
}

// GetPreds implements Store.
func (s *MemStore) GetPreds(_ context.Context, level int, node model.Hash) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.preds[level].Get(node), nil
}
