// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topo implements a DAG index that numbers entries in insertion
// order.
//
// Insertion order is a topological order, so popping a max-priority queue
// keyed by that number visits every successor before its predecessors.
// Queries walk backwards this way and stop as soon as nothing at or above
// the lowest number of interest remains.
package topo

import (
	"context"
	"fmt"
	"math"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Index is the topological index.
//
// Thread Safety: Queries are safe for concurrent use when the Store is.
// Index calls must be serialized by the caller.
type Index struct {
	store  Store
	loader index.EntryLoader
}

var _ index.Index = (*Index)(nil)

// New creates a topological index over store. loader is used by the
// filter query to read entry metadata.
func New(store Store, loader index.EntryLoader) *Index {
	return &Index{store: store, loader: loader}
}

// Index implements index.Index.
func (ix *Index) Index(ctx context.Context, hash model.Hash, after model.Position) error {
	for pred := range after {
		if _, err := ix.store.GetTopoIndex(ctx, pred); err != nil {
			return fmt.Errorf("index %s: predecessor %s: %w", hash, pred, err)
		}
	}

	if _, err := ix.store.AssignNextTopoIndex(ctx, hash); err != nil {
		return fmt.Errorf("index %s: %w", hash, err)
	}
	for _, pred := range after.Sorted() {
		if err := ix.store.AddPred(ctx, hash, pred); err != nil {
			return fmt.Errorf("index %s: %w", hash, err)
		}
	}
	return nil
}

// walker bundles the queue bookkeeping shared by the traversals.
type walker struct {
	store    Store
	queue    *index.TopoQueue
	enqueued model.Position
}

func newWalker(store Store) *walker {
	return &walker{store: store, queue: index.NewTopoQueue(), enqueued: model.Position{}}
}

// push enqueues n unless it was enqueued before, returning its number.
func (w *walker) push(ctx context.Context, n model.Hash) (uint64, error) {
	t, err := w.store.GetTopoIndex(ctx, n)
	if err != nil {
		return 0, err
	}
	if !w.enqueued.Has(n) {
		w.queue.Push(n, t)
		w.enqueued.Add(n)
	}
	return t, nil
}

// FindMinimalCover implements index.Index.
func (ix *Index) FindMinimalCover(ctx context.Context, p model.Position) (model.Position, error) {
	w := newWalker(ix.store)
	minTopo := uint64(math.MaxUint64)

	for n := range p {
		t, err := w.push(ctx, n)
		if err != nil {
			return nil, err
		}
		minTopo = min(minTopo, t)
	}

	cover := p.Clone()

	for w.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := w.queue.Pop()

		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			cover.Remove(pred)

			t, err := ix.store.GetTopoIndex(ctx, pred)
			if err != nil {
				return nil, err
			}
			if t >= minTopo && !w.enqueued.Has(pred) {
				w.queue.Push(pred, t)
				w.enqueued.Add(pred)
			}
		}
	}

	return cover, nil
}

// graph exposes the store to the shared fork sweep.
type graph struct{ store Store }

func (g graph) TopoIndex(ctx context.Context, n model.Hash) (uint64, error) {
	return g.store.GetTopoIndex(ctx, n)
}

func (g graph) Preds(ctx context.Context, n model.Hash) (model.Position, error) {
	return g.store.GetPreds(ctx, n)
}

// FindForkPosition implements index.Index with a single
// reverse-topological sweep, see index.SweepForkPosition.
func (ix *Index) FindForkPosition(ctx context.Context, a, b model.Position) (model.ForkPosition, error) {
	return index.SweepForkPosition(ctx, graph{store: ix.store}, a, b)
}

// FindCoverWithFilter implements index.Index.
func (ix *Index) FindCoverWithFilter(ctx context.Context, from model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	w := newWalker(ix.store)
	for n := range from {
		if _, err := w.push(ctx, n); err != nil {
			return nil, err
		}
	}

	kept := model.Position{}

	for w.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := w.queue.Pop()

		ok, err := index.MatchEntry(ctx, ix.loader, n, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			kept.Add(n)
			continue
		}

		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			if _, err := w.push(ctx, pred); err != nil {
				return nil, err
			}
		}
	}

	return ix.FindMinimalCover(ctx, kept)
}

// FindConcurrentCoverWithFilter is not supported by the topological index;
// use the flat or level index.
func (ix *Index) FindConcurrentCoverWithFilter(context.Context, model.Position, model.Position, model.EntryMetaFilter) (model.Position, error) {
	return nil, fmt.Errorf("topo: concurrent cover with filter: %w", index.ErrUnsupported)
}
