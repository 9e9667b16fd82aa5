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
	"math"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// FindMinimalCover implements index.Index.
//
// Description:
//
//	Walks back from p in reverse topological order, never below the
//	lowest topological index in p. At node n the walk follows level-k
//	edges, where k is the smaller of n's own level and the lowest level
//	among the members of p not popped yet. Those members all have level
//	>= k, so every one of them that n reaches is still reached along
//	level-k edges. Any member of p reached this way is dropped. The walk
//	ends once every member of p has been popped.
func (ix *Index) FindMinimalCover(ctx context.Context, p model.Position) (model.Position, error) {
	queue := index.NewTopoQueue()
	enqueued := model.Position{}
	minTopo := uint64(math.MaxUint64)

	// pendingLevels counts, per level, members of p not yet popped.
	pendingLevels := make(map[int]int)

	for n := range p {
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}
		queue.Push(n, info.TopoIndex)
		enqueued.Add(n)
		minTopo = min(minTopo, info.TopoIndex)
		pendingLevels[info.Level]++
	}

	cover := p.Clone()
	remaining := p.Len()

	for queue.Len() > 0 && remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := queue.Pop()

		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}

		if p.Has(n) {
			pendingLevels[info.Level]--
			if pendingLevels[info.Level] == 0 {
				delete(pendingLevels, info.Level)
			}
			remaining--
			if remaining == 0 {
				break
			}
		}

		k := info.Level
		for l := range pendingLevels {
			k = min(k, l)
		}

		preds, err := ix.store.GetPreds(ctx, k, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			cover.Remove(pred)

			if enqueued.Has(pred) {
				continue
			}
			predInfo, err := ix.store.GetEntryInfo(ctx, pred)
			if err != nil {
				return nil, err
			}
			if predInfo.TopoIndex >= minTopo {
				queue.Push(pred, predInfo.TopoIndex)
				enqueued.Add(pred)
			}
		}
	}

	return cover, nil
}

// FindCoverWithFilter implements index.Index.
func (ix *Index) FindCoverWithFilter(ctx context.Context, from model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	queue := index.NewTopoQueue()
	enqueued := model.Position{}

	push := func(n model.Hash) error {
		if enqueued.Has(n) {
			return nil
		}
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return err
		}
		queue.Push(n, info.TopoIndex)
		enqueued.Add(n)
		return nil
	}

	for n := range from {
		if err := push(n); err != nil {
			return nil, err
		}
	}

	kept := model.Position{}

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := queue.Pop()

		ok, err := index.MatchEntry(ctx, ix.loader, n, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			kept.Add(n)
			continue
		}

		preds, err := ix.store.GetPreds(ctx, 0, n)
		if err != nil {
			return nil, err
		}
		for pred := range preds {
			if err := push(pred); err != nil {
				return nil, err
			}
		}
	}

	return ix.FindMinimalCover(ctx, kept)
}

// FindConcurrentCoverWithFilter implements index.Index.
//
// Description:
//
//	Ancestors of concurrentTo (including its elements) are neither kept
//	nor walked past; descendants are walked past but never kept; any other
//	node is kept when it matches the filter and walked past otherwise.
//
//	Descendants all have a topological index at or above the lowest one in
//	concurrentTo, so they are found by a first pass over that window of
//	from's history. The second pass pops walk nodes and ancestors from one
//	queue: an ancestor is always popped after all of its successors, so
//	its flag is final before any walk node reaching it is examined.
func (ix *Index) FindConcurrentCoverWithFilter(ctx context.Context, from, concurrentTo model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	if concurrentTo.Len() == 0 {
		return ix.FindCoverWithFilter(ctx, from, filter)
	}

	descendants, err := ix.descendantsInWindow(ctx, from, concurrentTo)
	if err != nil {
		return nil, err
	}

	queue := index.NewTopoQueue()
	enqueued := model.Position{}
	walk := model.Position{}
	ancestors := model.Position{}

	push := func(n model.Hash) error {
		if enqueued.Has(n) {
			return nil
		}
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return err
		}
		queue.Push(n, info.TopoIndex)
		enqueued.Add(n)
		return nil
	}

	for n := range from {
		walk.Add(n)
		if err := push(n); err != nil {
			return nil, err
		}
	}
	for n := range concurrentTo {
		ancestors.Add(n)
		if err := push(n); err != nil {
			return nil, err
		}
	}

	pending := walk.Len()
	kept := model.Position{}

	for queue.Len() > 0 && pending > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := queue.Pop()
		if walk.Has(n) {
			pending--
		}

		preds, err := ix.store.GetPreds(ctx, 0, n)
		if err != nil {
			return nil, err
		}

		if ancestors.Has(n) {
			for pred := range preds {
				ancestors.Add(pred)
				if err := push(pred); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !descendants.Has(n) {
			ok, err := index.MatchEntry(ctx, ix.loader, n, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				kept.Add(n)
				continue
			}
		}

		for pred := range preds {
			if !walk.Has(pred) {
				walk.Add(pred)
				pending++
			}
			if err := push(pred); err != nil {
				return nil, err
			}
		}
	}

	return ix.FindMinimalCover(ctx, kept)
}

// descendantsInWindow returns the nodes of history(from) that are in
// concurrentTo or have an element of it in their history.
func (ix *Index) descendantsInWindow(ctx context.Context, from, concurrentTo model.Position) (model.Position, error) {
	minTopo := uint64(math.MaxUint64)
	for n := range concurrentTo {
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}
		minTopo = min(minTopo, info.TopoIndex)
	}

	queue := index.NewTopoQueue()
	enqueued := model.Position{}

	for n := range from {
		info, err := ix.store.GetEntryInfo(ctx, n)
		if err != nil {
			return nil, err
		}
		if info.TopoIndex >= minTopo {
			queue.Push(n, info.TopoIndex)
			enqueued.Add(n)
		}
	}

	// Nodes in pop order (descending topological index) with their preds.
	type visit struct {
		node  model.Hash
		preds model.Position
	}
	var region []visit

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, _ := queue.Pop()
		preds, err := ix.store.GetPreds(ctx, 0, n)
		if err != nil {
			return nil, err
		}
		region = append(region, visit{node: n, preds: preds})

		for pred := range preds {
			if enqueued.Has(pred) {
				continue
			}
			info, err := ix.store.GetEntryInfo(ctx, pred)
			if err != nil {
				return nil, err
			}
			if info.TopoIndex >= minTopo {
				queue.Push(pred, info.TopoIndex)
				enqueued.Add(pred)
			}
		}
	}

	descendants := model.Position{}
	for i := len(region) - 1; i >= 0; i-- {
		v := region[i]
		if concurrentTo.Has(v.node) {
			descendants.Add(v.node)
			continue
		}
		for pred := range v.preds {
			if descendants.Has(pred) {
				descendants.Add(v.node)
				break
			}
		}
	}

	return descendants, nil
}
