// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

type metaLoader map[model.Hash]model.MetaProps

func (m metaLoader) LoadEntry(_ context.Context, h model.Hash) (model.Entry, bool, error) {
	meta, ok := m[h]
	return model.Entry{Hash: h, Meta: meta}, ok, nil
}

// build indexes nodes given as (node, preds...) in order.
func build(t *testing.T, ix *Index, edges [][]model.Hash) {
	t.Helper()
	for _, e := range edges {
		require.NoError(t, ix.Index(context.Background(), e[0], model.NewPosition(e[1:]...)))
	}
}

// diamond:
//
//	  d
//	 / \
//	b   c   e
//	 \ /   /
//	  a ---
func diamond(t *testing.T, loader index.EntryLoader) (*Index, *MemStore) {
	ms := NewMemStore()
	ix := New(ms, loader)
	build(t, ix, [][]model.Hash{
		{"a"},
		{"b", "a"},
		{"c", "a"},
		{"d", "b", "c"},
		{"e", "a"},
	})
	return ix, ms
}

func TestIndex_UnknownPredecessorMutatesNothing(t *testing.T) {
	ctx := context.Background()
	ix, ms := diamond(t, nil)

	err := ix.Index(ctx, "x", model.NewPosition("a", "ghost"))
	assert.ErrorIs(t, err, index.ErrNotIndexed)
	assert.Equal(t, 5, ms.Len())

	_, err = ms.GetPreds(ctx, "x")
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}

func TestIndex_ReindexIsNoop(t *testing.T) {
	ctx := context.Background()
	ix, ms := diamond(t, nil)

	require.NoError(t, ix.Index(ctx, "d", model.NewPosition("a")))
	preds, err := ms.GetPreds(ctx, "d")
	require.NoError(t, err)
	assert.True(t, preds.Equal(model.NewPosition("b", "c")))
}

func TestFindMinimalCover(t *testing.T) {
	ctx := context.Background()
	ix, _ := diamond(t, nil)

	tests := []struct {
		name string
		in   model.Position
		want model.Position
	}{
		{"empty", model.NewPosition(), model.NewPosition()},
		{"single", model.NewPosition("a"), model.NewPosition("a")},
		{"chain", model.NewPosition("a", "b", "d"), model.NewPosition("d")},
		{"concurrent", model.NewPosition("b", "c"), model.NewPosition("b", "c")},
		{"everything", model.NewPosition("a", "b", "c", "d", "e"), model.NewPosition("d", "e")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ix.FindMinimalCover(ctx, tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}

	_, err := ix.FindMinimalCover(ctx, model.NewPosition("ghost"))
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}

func TestFindForkPosition_Diamond(t *testing.T) {
	ctx := context.Background()
	ix, _ := diamond(t, nil)

	fp, err := ix.FindForkPosition(ctx, model.NewPosition("d"), model.NewPosition("e"))
	require.NoError(t, err)

	assert.True(t, fp.CommonFrontier.Equal(model.NewPosition("a")))
	assert.True(t, fp.Common.Equal(model.NewPosition("a")))
	assert.True(t, fp.ForkA.Equal(model.NewPosition("b", "c")))
	assert.True(t, fp.ForkB.Equal(model.NewPosition("e")))
}

func TestFindForkPosition_DisjointRoots(t *testing.T) {
	ctx := context.Background()
	ix := New(NewMemStore(), nil)
	build(t, ix, [][]model.Hash{{"r1"}, {"r2"}, {"x", "r1"}})

	fp, err := ix.FindForkPosition(ctx, model.NewPosition("x"), model.NewPosition("r2"))
	require.NoError(t, err)

	assert.Zero(t, fp.Common.Len())
	assert.Zero(t, fp.CommonFrontier.Len())
	assert.True(t, fp.ForkA.Equal(model.NewPosition("r1")))
	assert.True(t, fp.ForkB.Equal(model.NewPosition("r2")))
}

func TestFindCoverWithFilter(t *testing.T) {
	ctx := context.Background()
	loader := metaLoader{
		"a": {"k": model.NewValueSet("root")},
		"b": {},
		"c": {"k": model.NewValueSet("c")},
		"d": {},
		"e": {},
	}
	ix, _ := diamond(t, loader)

	got, err := ix.FindCoverWithFilter(ctx, model.NewPosition("d", "e"),
		model.EntryMetaFilter{ContainsKeys: []string{"k"}})
	require.NoError(t, err)
	assert.True(t, got.Equal(model.NewPosition("c")), "a is behind c, got %s", got)

	got, err = ix.FindCoverWithFilter(ctx, model.NewPosition("e"),
		model.EntryMetaFilter{ContainsKeys: []string{"k"}})
	require.NoError(t, err)
	assert.True(t, got.Equal(model.NewPosition("a")))

	_, err = ix.FindCoverWithFilter(ctx, model.NewPosition("d"),
		model.EntryMetaFilter{ContainsKeys: []string{"missing"}})
	require.NoError(t, err)
}

func TestFindCoverWithFilter_MissingEntry(t *testing.T) {
	ix, _ := diamond(t, metaLoader{})

	_, err := ix.FindCoverWithFilter(context.Background(), model.NewPosition("d"), model.EntryMetaFilter{})
	assert.ErrorIs(t, err, index.ErrEntryNotFound)
}

func TestFindConcurrentCoverWithFilter(t *testing.T) {
	ctx := context.Background()
	loader := metaLoader{"a": {}, "b": {}, "c": {}, "d": {}, "e": {}}
	ix, _ := diamond(t, loader)

	// d descends from b, so it is walked past; c is kept; a is behind b.
	got, err := ix.FindConcurrentCoverWithFilter(ctx, model.NewPosition("d", "e"), model.NewPosition("b"), model.EntryMetaFilter{})
	require.NoError(t, err)
	assert.True(t, got.Equal(model.NewPosition("c", "e")), "got %s", got)

	got, err = ix.FindConcurrentCoverWithFilter(ctx, model.NewPosition("d"), model.NewPosition("d"), model.EntryMetaFilter{})
	require.NoError(t, err)
	assert.Zero(t, got.Len())
}

func TestFindMinimalCover_CancelledContext(t *testing.T) {
	ix, _ := diamond(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.FindMinimalCover(ctx, model.NewPosition("d"))
	assert.ErrorIs(t, err, context.Canceled)
}
