// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// Graph is a DAG with a topological numbering: every node's number is
// greater than the numbers of its predecessors.
type Graph interface {
	TopoIndex(ctx context.Context, n model.Hash) (uint64, error)
	Preds(ctx context.Context, n model.Hash) (model.Position, error)
}

// SweepForkPosition computes the fork position of a and b over g.
//
// Description:
//
//	A single reverse-topological sweep over the joint history of a and b.
//	Each queued node carries flags telling whether it was reached through
//	nodes only in history(a), only in history(b), or through a node known
//	to be in both. Because successors are always popped first, the flags
//	are final when a node is popped:
//
//	  - a node in both histories goes to common if some successor is on a
//	    single side, and to commonFrontier unless a shared successor reached
//	    it; its single-sided successors become forkA/forkB
//	  - a single-sided node without predecessors is itself a fork point
//
//	Successor bookkeeping is dropped as soon as a node is popped, and the
//	sweep stops once every start node is popped and no single-sided path
//	is pending.
//
// Outputs:
//
//	model.ForkPosition - Exact for any a and b, minimal or not.
//	error - Non-nil if g fails or ctx is done.
func SweepForkPosition(ctx context.Context, g Graph, a, b model.Position) (model.ForkPosition, error) {
	queue := NewTopoQueue()
	enqueued := model.Position{}

	push := func(n model.Hash) error {
		if enqueued.Has(n) {
			return nil
		}
		t, err := g.TopoIndex(ctx, n)
		if err != nil {
			return err
		}
		queue.Push(n, t)
		enqueued.Add(n)
		return nil
	}

	reachFromA := model.Position{}
	reachFromB := model.Position{}
	reachFromAB := model.Position{}

	succsInA := MultiMap{}
	succsInB := MultiMap{}

	fp := model.NewForkPosition()

	toCover := model.Position{}
	for _, start := range []model.Position{a, b} {
		for n := range start {
			toCover.Add(n)
			if err := push(n); err != nil {
				return model.ForkPosition{}, err
			}
		}
	}

	for queue.Len() > 0 && toCover.Len()+reachFromA.Len()+reachFromB.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return model.ForkPosition{}, err
		}

		n, _ := queue.Pop()
		toCover.Remove(n)

		nReachFromA := reachFromA.Has(n)
		nReachFromB := reachFromB.Has(n)
		inA := a.Has(n) || nReachFromA
		inB := b.Has(n) || nReachFromB
		nReachFromAB := reachFromAB.Has(n)

		shared := (inA && inB) || nReachFromAB
		onlyA := inA && !inB && !nReachFromAB
		onlyB := inB && !inA && !nReachFromAB

		preds, err := g.Preds(ctx, n)
		if err != nil {
			return model.ForkPosition{}, err
		}

		if shared {
			if nReachFromA || nReachFromB {
				fp.Common.Add(n)
			}
			if !nReachFromAB {
				fp.CommonFrontier.Add(n)
			}
			fp.ForkA.Union(succsInA.Get(n))
			fp.ForkB.Union(succsInB.Get(n))
		}

		if preds.Len() == 0 {
			if onlyA {
				fp.ForkA.Add(n)
			}
			if onlyB {
				fp.ForkB.Add(n)
			}
		}

		for pred := range preds {
			if onlyA {
				succsInA.Add(pred, n)
				reachFromA.Add(pred)
			}
			if onlyB {
				succsInB.Add(pred, n)
				reachFromB.Add(pred)
			}
			if shared {
				reachFromAB.Add(pred)
			}
			if err := push(pred); err != nil {
				return model.ForkPosition{}, err
			}
		}

		reachFromA.Remove(n)
		reachFromB.Remove(n)
		reachFromAB.Remove(n)
		succsInA.DeleteKey(n)
		succsInB.DeleteKey(n)
	}

	return fp, nil
}
