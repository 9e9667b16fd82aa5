// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package level implements a multi-level DAG index for large histories.
//
// # Levels
//
// Every entry gets a level from its distance to the nearest root: the
// number of times that distance divides evenly by the level factor. Roots
// sit at RootLevel. Higher levels are exponentially sparser.
//
// Level 0 is the DAG itself. At level i+1 there is an edge n -> m when m
// has level > i and a level-i path leads from n to m through entries of
// level <= i only. These skip-predecessor edges are built when an entry is
// indexed, by projecting its level-i predecessors into level i+1.
//
// A level-k path exists between two entries of level >= k whenever any
// path exists, so walks can follow the coarsest edges that still land on
// every node they are looking for.
//
// # Queries
//
// Minimal cover walks backwards along the coarsest usable edges. Fork
// position and the filter queries walk level 0: a fork point can sit on
// any level, so coarse edges would skip the nodes that decide it.
//
// # Thread Safety
//
// Queries are safe for concurrent use when the Store is. Index calls must
// be serialized by the caller.
package level

import (
	"context"
	"fmt"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Index is the level index.
type Index struct {
	store  Store
	loader index.EntryLoader
}

var _ index.Index = (*Index)(nil)

// New creates a level index over store. loader is used by the filter
// queries to read entry metadata.
func New(store Store, loader index.EntryLoader) *Index {
	return &Index{store: store, loader: loader}
}

// Index implements index.Index.
//
// Description:
//
//	Assigns the node's EntryInfo, records its level-0 predecessors, then
//	for every level i below the node's own level records the projection
//	of its level-i predecessors as its level-(i+1) predecessors. The
//	projection keeps every first hit (non-minimal) so that no
//	predecessor is lost when fork queries come back down from a coarser
//	level.
func (ix *Index) Index(ctx context.Context, hash model.Hash, after model.Position) error {
	if _, err := ix.store.GetEntryInfo(ctx, hash); err == nil {
		return nil
	}
	for pred := range after {
		if _, err := ix.store.GetEntryInfo(ctx, pred); err != nil {
			return fmt.Errorf("index %s: predecessor %s: %w", hash, pred, err)
		}
	}

	info, err := ix.store.AssignEntryInfo(ctx, hash, after)
	if err != nil {
		return fmt.Errorf("index %s: %w", hash, err)
	}
	if after.Len() == 0 {
		return nil
	}

	for _, pred := range after.Sorted() {
		if err := ix.store.AddPred(ctx, 0, hash, pred); err != nil {
			return fmt.Errorf("index %s: %w", hash, err)
		}
	}

	for i := 0; i < info.Level; i++ {
		preds, err := ix.store.GetPreds(ctx, i, hash)
		if err != nil {
			return fmt.Errorf("index %s: level %d: %w", hash, i, err)
		}
		projection, err := ix.project(ctx, preds, i)
		if err != nil {
			return fmt.Errorf("index %s: project level %d: %w", hash, i, err)
		}
		for pred := range projection {
			if err := ix.store.AddPred(ctx, i+1, hash, pred); err != nil {
				return fmt.Errorf("index %s: %w", hash, err)
			}
		}
	}

	return nil
}

// project walks back from nodes along level-`level` edges and returns the
// first nodes of a higher level found on each path.
//
// Description:
//
//	Nodes are popped in reverse topological order. A node is "covered"
//	when it lies behind an already projected node, and has an "uncovered
//	path" when some path from the start nodes reaches it without passing a
//	projected node. A popped node of level > `level` is projected when it
//	is not covered or has an uncovered path. Projecting A (level 0) into
//	level 1 over
//
//	  A0 --> B1 --> C0 --> D1
//	   \                  /
//	    \-- E0 --> D0 ---/
//
//	yields {B1, D1}: D1 is behind B1 but also reachable through E0.
func (ix *Index) project(ctx context.Context, nodes model.Position, level int) (model.Position, error) {
	projection := model.Position{}

	queue := index.NewTopoQueue()
	enqueued := model.Position{}
	covered := model.Position{}
	uncovered := model.Position{}

	for n := range nodes {
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}
		queue.Push(n, info.TopoIndex)
		enqueued.Add(n)
		uncovered.Add(n)
	}

	for queue.Len() > 0 && (covered.Len() < queue.Len() || uncovered.Len() > 0) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := queue.Pop()
		enqueued.Remove(n)

		isCovered := covered.Has(n)
		hasUncoveredPath := uncovered.Has(n)

		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}

		emit := info.Level > level
		if emit && (!isCovered || hasUncoveredPath) {
			projection.Add(n)
			isCovered = true
		}

		preds, err := ix.store.GetPreds(ctx, level, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			if !enqueued.Has(pred) {
				predInfo, err := ix.store.GetEntryInfo(ctx, pred)
				if err != nil {
					return nil, err
				}
				queue.Push(pred, predInfo.TopoIndex)
				enqueued.Add(pred)
			}
			if isCovered && !nodes.Has(pred) {
				covered.Add(pred)
			}
			if !emit && hasUncoveredPath {
				uncovered.Add(pred)
			}
		}

		covered.Remove(n)
		uncovered.Remove(n)
	}

	return projection, nil
}
