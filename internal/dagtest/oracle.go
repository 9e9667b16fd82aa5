// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dagtest

import (
	"context"
	"fmt"

	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// Oracle answers DAG queries by brute force over the stored headers,
// straight from the set definitions and without any index.
type Oracle struct {
	preds map[model.Hash]model.Position
	nodes []model.Hash
}

// NewOracle snapshots the predecessor links of every entry in d.
func NewOracle(ctx context.Context, d *dag.Dag) (*Oracle, error) {
	entries, err := d.LoadAllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	o := &Oracle{preds: make(map[model.Hash]model.Position, len(entries))}
	all := model.Position{}
	for _, e := range entries {
		o.preds[e.Hash] = e.Header.PrevEntryHashes.Clone()
		all.Add(e.Hash)
	}
	o.nodes = all.Sorted()
	return o, nil
}

// Nodes returns every entry hash, sorted.
func (o *Oracle) Nodes() []model.Hash {
	return o.nodes
}

// History returns p and everything reachable from it.
func (o *Oracle) History(p model.Position) model.Position {
	hist := model.Position{}
	pending := p.Sorted()
	for len(pending) > 0 {
		n := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if hist.Has(n) {
			continue
		}
		hist.Add(n)
		for pred := range o.preds[n] {
			if !hist.Has(pred) {
				pending = append(pending, pred)
			}
		}
	}
	return hist
}

// MinimalCover returns the nodes of p that are not in the history of
// another node of p.
func (o *Oracle) MinimalCover(p model.Position) model.Position {
	return minimalCover(p, o.preds)
}

// ForkPosition computes the fork position of a and b:
//
//   - commonFrontier: the maximal nodes of history(a) ∩ history(b)
//   - forkA: nodes only in history(a) that are roots or have a
//     predecessor in both histories (forkB likewise)
//   - common: nodes in both histories that precede a fork node
func (o *Oracle) ForkPosition(a, b model.Position) model.ForkPosition {
	histA := o.History(a)
	histB := o.History(b)

	both := model.Position{}
	for n := range histA {
		if histB.Has(n) {
			both.Add(n)
		}
	}

	fp := model.NewForkPosition()

	below := model.Position{}
	for n := range both {
		below.Union(o.preds[n])
	}
	below = o.History(below)
	for n := range both {
		if !below.Has(n) {
			fp.CommonFrontier.Add(n)
		}
	}

	forks := func(hist, other, into model.Position) {
		for n := range hist {
			if other.Has(n) {
				continue
			}
			preds := o.preds[n]
			isFork := preds.Len() == 0
			for pred := range preds {
				if both.Has(pred) {
					isFork = true
					fp.Common.Add(pred)
				}
			}
			if isFork {
				into.Add(n)
			}
		}
	}
	forks(histA, histB, fp.ForkA)
	forks(histB, histA, fp.ForkB)

	return fp
}
