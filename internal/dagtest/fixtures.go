// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dagtest builds DAGs for tests: small hand-drawn fixtures, seeded
// random DAGs, and sets of identical DAGs backed by every index kind.
package dagtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/index/flat"
	"github.com/AleutianAI/causallog/services/dag/index/level"
	"github.com/AleutianAI/causallog/services/dag/index/topo"
	"github.com/AleutianAI/causallog/services/dag/model"
	"github.com/AleutianAI/causallog/services/dag/store"
)

// Index kinds, in the order Instances returns them.
var Kinds = []string{dag.IndexFlat, dag.IndexTopo, dag.IndexLevel}

// NewDag returns an empty in-memory Dag backed by the given index kind.
// levelFactor only applies to the level index.
func NewDag(kind string, levelFactor int) *dag.Dag {
	st := store.NewMemStore()
	switch kind {
	case dag.IndexFlat:
		return dag.New(st, flat.New(flat.NewMemStore(), st))
	case dag.IndexTopo:
		return dag.New(st, topo.New(topo.NewMemStore(), st))
	default:
		return dag.New(st, level.New(level.NewMemStore(levelFactor), st))
	}
}

// Instance is a Dag labelled with its index kind.
type Instance struct {
	Kind string
	Dag  *dag.Dag
}

// Instances returns one empty Dag per index kind.
func Instances(levelFactor int) []Instance {
	out := make([]Instance, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, Instance{Kind: k, Dag: NewDag(k, levelFactor)})
	}
	return out
}

// Set builds a metadata value set.
func Set(values ...string) model.ValueSet {
	return model.NewValueSet(values...)
}

// Pos builds a position.
func Pos(hashes ...model.Hash) model.Position {
	return model.NewPosition(hashes...)
}

func mustAppend(t testing.TB, d *dag.Dag, payload any, meta model.MetaProps, after ...model.Hash) model.Hash {
	t.Helper()
	h, err := d.Append(context.Background(), payload, meta, model.NewPosition(after...))
	require.NoError(t, err)
	return h
}

// CreateD1 builds
//
//	c1
//	|
//	b1  b2
//	 \ /
//	  a
//
// with metadata on b1, b2 and c1, and returns ({b2}, {c1}).
func CreateD1(t testing.TB, d *dag.Dag) (model.Position, model.Position) {
	t.Helper()

	a := mustAppend(t, d, map[string]any{"a": 1}, model.MetaProps{})
	b1 := mustAppend(t, d, map[string]any{"b1": 1}, model.MetaProps{"p1": Set("1")}, a)
	b2 := mustAppend(t, d, map[string]any{"b2": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("2")}, a)
	c1 := mustAppend(t, d, map[string]any{"c1": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("3")}, b1)

	return Pos(b2), Pos(c1)
}

// CreateD2 builds two chains of length two over a shared root and returns
// ({b2}, {c1, c2}).
func CreateD2(t testing.TB, d *dag.Dag) (model.Position, model.Position) {
	t.Helper()

	n := CreateD4(t, d)
	return Pos(n["b2"]), Pos(n["c1"], n["c2"])
}

// CreateD3 builds
//
//	d1  d2
//	  \ /
//	  c1
//	  |
//	  b1  b2
//	   \ /
//	    a
//
// where every node but a has p1={1} and a distinct p2 value. It returns
// the hashes by name.
func CreateD3(t testing.TB, d *dag.Dag) map[string]model.Hash {
	t.Helper()

	a := mustAppend(t, d, map[string]any{"a": 1}, model.MetaProps{})
	b1 := mustAppend(t, d, map[string]any{"b1": 1}, model.MetaProps{"p1": Set("1")}, a)
	b2 := mustAppend(t, d, map[string]any{"b2": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("2")}, a)
	c1 := mustAppend(t, d, map[string]any{"c1": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("3")}, b1)
	d1 := mustAppend(t, d, map[string]any{"d1": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("4")}, c1)
	d2 := mustAppend(t, d, map[string]any{"d2": 1}, model.MetaProps{"p1": Set("1"), "p2": Set("5")}, c1)

	return map[string]model.Hash{"a": a, "b1": b1, "b2": b2, "c1": c1, "d1": d1, "d2": d2}
}

// CreateD4 builds
//
//	c1  c2
//	|   |
//	b1  b2
//	 \ /
//	  a
//
// without metadata and returns the hashes by name.
func CreateD4(t testing.TB, d *dag.Dag) map[string]model.Hash {
	t.Helper()

	a := mustAppend(t, d, map[string]any{"a": 1}, model.MetaProps{})
	b1 := mustAppend(t, d, map[string]any{"b1": 1}, model.MetaProps{}, a)
	b2 := mustAppend(t, d, map[string]any{"b2": 1}, model.MetaProps{}, a)
	c1 := mustAppend(t, d, map[string]any{"c1": 1}, model.MetaProps{}, b1)
	c2 := mustAppend(t, d, map[string]any{"c2": 1}, model.MetaProps{}, b2)

	return map[string]model.Hash{"a": a, "b1": b1, "b2": b2, "c1": c1, "c2": c2}
}
