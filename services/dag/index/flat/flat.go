// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flat is the reference DAG index.
//
// Every query walks raw predecessor links and materializes whole
// reachability sets, so cost grows with the reachable history. The other
// indexes are tested against this one.
package flat

import (
	"context"
	"fmt"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Index is the flat index.
//
// Thread Safety: Queries are safe for concurrent use when the Store is.
// Index calls must be serialized by the caller.
type Index struct {
	store  Store
	loader index.EntryLoader
}

var _ index.Index = (*Index)(nil)

// New creates a flat index over store. loader is used by the filter
// queries to read entry metadata.
func New(store Store, loader index.EntryLoader) *Index {
	return &Index{store: store, loader: loader}
}

// Index implements index.Index.
func (ix *Index) Index(ctx context.Context, hash model.Hash, after model.Position) error {
	for pred := range after {
		if _, err := ix.store.GetPreds(ctx, pred); err != nil {
			return fmt.Errorf("index %s: predecessor %s: %w", hash, pred, err)
		}
	}
	return ix.store.AddNode(ctx, hash, after)
}

// FindMinimalCover implements index.Index.
func (ix *Index) FindMinimalCover(ctx context.Context, p model.Position) (model.Position, error) {
	cover := p.Clone()

	pending := p.Sorted()
	visited := p.Clone()

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := pending[0]
		pending = pending[1:]

		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			cover.Remove(pred)
			if !visited.Has(pred) {
				visited.Add(pred)
				pending = append(pending, pred)
			}
		}
	}

	return cover, nil
}

// history returns p together with all of its transitive predecessors.
func (ix *Index) history(ctx context.Context, p model.Position) (model.Position, error) {
	visited := p.Clone()
	pending := p.Sorted()

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			if !visited.Has(pred) {
				visited.Add(pred)
				pending = append(pending, pred)
			}
		}
	}

	return visited, nil
}

// FindForkPosition implements index.Index.
func (ix *Index) FindForkPosition(ctx context.Context, a, b model.Position) (model.ForkPosition, error) {
	histA, err := ix.history(ctx, a)
	if err != nil {
		return model.ForkPosition{}, err
	}
	histB, err := ix.history(ctx, b)
	if err != nil {
		return model.ForkPosition{}, err
	}

	shared := model.Position{}
	for n := range histA {
		if histB.Has(n) {
			shared.Add(n)
		}
	}

	fp := model.NewForkPosition()

	if err := ix.collectForks(ctx, histA, histB, shared, fp.ForkA, fp.Common); err != nil {
		return model.ForkPosition{}, err
	}
	if err := ix.collectForks(ctx, histB, histA, shared, fp.ForkB, fp.Common); err != nil {
		return model.ForkPosition{}, err
	}

	fp.CommonFrontier, err = ix.FindMinimalCover(ctx, shared)
	if err != nil {
		return model.ForkPosition{}, err
	}

	return fp, nil
}

// collectForks classifies the nodes only in own: a node is a fork point if
// it is a root or has a predecessor in shared, and those predecessors are
// common.
func (ix *Index) collectForks(ctx context.Context, own, other, shared, forks, common model.Position) error {
	for n := range own {
		if other.Has(n) {
			continue
		}
		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return err
		}
		if preds.Len() == 0 {
			forks.Add(n)
		}
		for pred := range preds {
			if shared.Has(pred) {
				forks.Add(n)
				common.Add(pred)
			}
		}
	}
	return nil
}

// FindCoverWithFilter implements index.Index.
func (ix *Index) FindCoverWithFilter(ctx context.Context, from model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	kept := model.Position{}
	visited := from.Clone()
	pending := from.Sorted()

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := pending[0]
		pending = pending[1:]

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
			if !visited.Has(pred) {
				visited.Add(pred)
				pending = append(pending, pred)
			}
		}
	}

	return ix.FindMinimalCover(ctx, kept)
}

// FindConcurrentCoverWithFilter implements index.Index.
//
// Ancestors of concurrentTo (including its elements) are neither kept nor
// walked past. Descendants are walked past but never kept.
func (ix *Index) FindConcurrentCoverWithFilter(ctx context.Context, from, concurrentTo model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	ancestors, err := ix.history(ctx, concurrentTo)
	if err != nil {
		return nil, err
	}

	descends := make(map[model.Hash]bool)
	kept := model.Position{}
	visited := from.Clone()
	pending := from.Sorted()

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := pending[0]
		pending = pending[1:]

		if ancestors.Has(n) {
			continue
		}

		isDesc, err := ix.reaches(ctx, n, concurrentTo, descends)
		if err != nil {
			return nil, err
		}
		if !isDesc {
			ok, err := index.MatchEntry(ctx, ix.loader, n, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				kept.Add(n)
				continue
			}
		}

		preds, err := ix.store.GetPreds(ctx, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			if !visited.Has(pred) {
				visited.Add(pred)
				pending = append(pending, pred)
			}
		}
	}

	return ix.FindMinimalCover(ctx, kept)
}

// reaches reports whether n is in targets or has one of them in its
// history. Results for every node explored are stored in memo.
func (ix *Index) reaches(ctx context.Context, n model.Hash, targets model.Position, memo map[model.Hash]bool) (bool, error) {
	if v, ok := memo[n]; ok {
		return v, nil
	}
	if targets.Has(n) {
		memo[n] = true
		return true, nil
	}

	type frame struct {
		node  model.Hash
		preds []model.Hash
		next  int
		found bool
	}

	push := func(stack []frame, node model.Hash) ([]frame, error) {
		preds, err := ix.store.GetPreds(ctx, node)
		if err != nil {
			return nil, err
		}
		return append(stack, frame{node: node, preds: preds.Sorted()}), nil
	}

	stack, err := push(nil, n)
	if err != nil {
		return false, err
	}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.found || top.next == len(top.preds) {
			done := *top
			memo[done.node] = done.found
			stack = stack[:len(stack)-1]
			if done.found && len(stack) > 0 {
				stack[len(stack)-1].found = true
			}
			continue
		}

		p := top.preds[top.next]
		top.next++

		if v, ok := memo[p]; ok {
			top.found = top.found || v
			continue
		}
		if targets.Has(p) {
			memo[p] = true
			top.found = true
			continue
		}

		if stack, err = push(stack, p); err != nil {
			return false, err
		}
	}

	return memo[n], nil
}
