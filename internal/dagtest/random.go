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
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// DeterministicMeta returns the metadata random DAG nodes carry: bucket
// and parity derived from the node index, tier and tag drawn from prng.
func DeterministicMeta(nodeIndex int, prng *PRNG) model.MetaProps {
	parity := "odd"
	if nodeIndex%2 == 0 {
		parity = "even"
	}
	return model.MetaProps{
		"bucket": Set(strconv.FormatBool(nodeIndex%4 != 0)),
		"parity": Set(parity),
		"tier":   Set(strconv.Itoa(prng.NextInt(0, 3))),
		"tag":    Set("tag-" + strconv.Itoa(prng.NextInt(0, 1_000_000))),
	}
}

// orderedSet is a hash set that iterates in insertion order, so that the
// PRNG is consumed the same way on every run.
type orderedSet struct {
	items []model.Hash
}

func (s *orderedSet) add(h model.Hash) {
	for _, x := range s.items {
		if x == h {
			return
		}
	}
	s.items = append(s.items, h)
}

func (s *orderedSet) position() model.Position {
	return model.NewPosition(s.items...)
}

// AppendNodes appends size nodes on top of start, in runs of one to seven
// nodes that share a predecessor set taken from the current frontier.
// It returns the frontier of the appended nodes.
func AppendNodes(ctx context.Context, d *dag.Dag, seed uint32, size int, start model.Position) (model.Position, error) {
	prng := NewPRNG(seed)

	frontier := &orderedSet{}
	for _, h := range start.Sorted() {
		frontier.add(h)
	}

	i := 0
	for i < size {
		after := &orderedSet{}

		if prng.Next() < 0.5 {
			after, frontier = frontier, &orderedSet{}
		} else {
			kept := &orderedSet{}
			for _, f := range frontier.items {
				if prng.Next() < 0.7 {
					after.add(f)
				} else {
					kept.add(f)
				}
			}
			frontier = kept

			if len(after.items) == 0 {
				after, frontier = frontier, &orderedSet{}
			}
		}

		limit := prng.NextInt(i+1, i+7)
		if limit > size {
			limit = size
		}

		preds := after.position()
		for ; i < limit; i++ {
			id := strconv.Itoa(i) + ":" + strconv.Itoa(prng.NextInt(0, 2_000_000_000))
			meta := DeterministicMeta(i, prng)
			h, err := d.Append(ctx, map[string]any{"id": id}, meta, preds)
			if err != nil {
				return nil, fmt.Errorf("append node %d: %w", i, err)
			}
			frontier.add(h)
		}
	}

	return frontier.position(), nil
}

// CreateBranchingDag appends a trunk of size/5 nodes, then two independent
// branches of 2*size/5 nodes each on top of it, and returns the frontiers
// of the two branches.
func CreateBranchingDag(ctx context.Context, d *dag.Dag, seed uint32, size int) (model.Position, model.Position, error) {
	prng := NewPRNG(seed)

	start, err := d.Frontier(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := AppendNodes(ctx, d, uint32(prng.NextInt(0, 2_000_000)), size/5, start); err != nil {
		return nil, nil, err
	}

	trunk, err := d.Frontier(ctx)
	if err != nil {
		return nil, nil, err
	}

	seedA := uint32(prng.NextInt(0, 2_000_000))
	seedB := uint32(prng.NextInt(0, 2_000_000))

	a, err := AppendNodes(ctx, d, seedA, 2*size/5, trunk.Clone())
	if err != nil {
		return nil, nil, err
	}
	b, err := AppendNodes(ctx, d, seedB, 2*size/5, trunk.Clone())
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// CreateRandomDag appends size nodes, each on the minimal cover of one to
// five randomly chosen earlier nodes, and returns two random positions of
// one to seven nodes each. The positions are not necessarily minimal.
func CreateRandomDag(ctx context.Context, d *dag.Dag, seed uint32, size int) (model.Position, model.Position, error) {
	prng := NewPRNG(seed)

	preds := map[model.Hash]model.Position{}
	nodes := make([]model.Hash, 0, size)

	for i := 0; i < size; i++ {
		after := model.Position{}
		if len(nodes) > 0 {
			fanout := prng.NextInt(1, 5)
			for j := 0; j < fanout; j++ {
				after.Add(nodes[prng.NextInt(0, len(nodes)-1)])
			}
		}
		after = minimalCover(after, preds)

		id := strconv.Itoa(i) + ":" + strconv.Itoa(prng.NextInt(0, 2_000_000_000))
		meta := DeterministicMeta(i, prng)
		h, err := d.Append(ctx, map[string]any{"id": id}, meta, after)
		if err != nil {
			return nil, nil, fmt.Errorf("append node %d: %w", i, err)
		}

		nodes = append(nodes, h)
		preds[h] = after
	}

	fanoutA := prng.NextInt(1, 7)
	fanoutB := prng.NextInt(1, 7)

	a := model.Position{}
	for i := 0; i < fanoutA; i++ {
		a.Add(nodes[prng.NextInt(0, len(nodes)-1)])
	}
	b := model.Position{}
	for i := 0; i < fanoutB; i++ {
		b.Add(nodes[prng.NextInt(0, len(nodes)-1)])
	}
	return a, b, nil
}

// minimalCover is an index-free minimal cover used while generating, so
// that the generator does not depend on the code under test.
func minimalCover(nodes model.Position, preds map[model.Hash]model.Position) model.Position {
	cover := nodes.Clone()
	pending := nodes.Sorted()
	visited := model.Position{}

	for len(pending) > 0 {
		n := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited.Has(n) {
			continue
		}
		visited.Add(n)

		for pred := range preds[n] {
			cover.Remove(pred)
			if !visited.Has(pred) {
				pending = append(pending, pred)
			}
		}
	}
	return cover
}

// Scenario is one random DAG replicated into a Dag per index kind,
// together with two query positions.
type Scenario struct {
	Seed      uint32
	Instances []Instance
	A, B      model.Position
}

// Generator fills d and returns two positions.
type Generator func(ctx context.Context, d *dag.Dag, seed uint32, size int) (model.Position, model.Position, error)

// BuildScenarios generates count DAGs of the given size from seed and
// copies each into one Dag per index kind. Scenarios are built
// concurrently.
func BuildScenarios(ctx context.Context, gen Generator, seed uint32, count, size, levelFactor int) ([]Scenario, error) {
	seeds := NewPRNG(seed)
	out := make([]Scenario, count)
	for i := range out {
		out[i].Seed = uint32(seeds.NextInt(0, 2_000_000_000))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range out {
		sc := &out[i]
		g.Go(func() error {
			insts := Instances(levelFactor)
			src := insts[0].Dag

			a, b, err := gen(ctx, src, sc.Seed, size)
			if err != nil {
				return fmt.Errorf("scenario seed %d: %w", sc.Seed, err)
			}
			for _, inst := range insts[1:] {
				if err := dag.Copy(ctx, src, inst.Dag); err != nil {
					return fmt.Errorf("scenario seed %d: copy to %s: %w", sc.Seed, inst.Kind, err)
				}
			}

			sc.Instances = insts
			sc.A, sc.B = a, b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
