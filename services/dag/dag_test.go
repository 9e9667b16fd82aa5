// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/causallog/internal/dagtest"
	"github.com/AleutianAI/causallog/pkg/canonical"
	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/index/flat"
	"github.com/AleutianAI/causallog/services/dag/model"
	"github.com/AleutianAI/causallog/services/dag/store"
)

var pos = dagtest.Pos

// =============================================================================
// Hand-drawn DAGs
// =============================================================================

func TestFindForkPosition_TwoChains(t *testing.T) {
	ctx := context.Background()

	for _, inst := range dagtest.Instances(4) {
		t.Run(inst.Kind, func(t *testing.T) {
			n := dagtest.CreateD4(t, inst.Dag)

			fp, err := inst.Dag.FindForkPosition(ctx, pos(n["c1"]), pos(n["c2"]))
			require.NoError(t, err)

			want := model.ForkPosition{
				CommonFrontier: pos(n["a"]),
				Common:         pos(n["a"]),
				ForkA:          pos(n["b1"]),
				ForkB:          pos(n["b2"]),
			}
			assert.True(t, want.Equal(fp), "got %s", fp)
		})
	}
}

func TestFindForkPosition_D2(t *testing.T) {
	ctx := context.Background()

	for _, inst := range dagtest.Instances(4) {
		t.Run(inst.Kind, func(t *testing.T) {
			a, b := dagtest.CreateD2(t, inst.Dag)

			fp, err := inst.Dag.FindForkPosition(ctx, a, b)
			require.NoError(t, err)

			// a = {b2} is inside b's history. b leaves it through b1 (off
			// the root) and c2 (off b2).
			assert.True(t, fp.CommonFrontier.Equal(a), "%s", fp)
			assert.Equal(t, 2, fp.Common.Len(), "%s", fp)
			assert.True(t, fp.Common.Has(a.Sorted()[0]), "%s", fp)
			assert.Zero(t, fp.ForkA.Len(), "%s", fp)
			assert.Equal(t, 2, fp.ForkB.Len(), "%s", fp)

			c2 := 0
			for h := range fp.ForkB {
				if b.Has(h) {
					c2++
				}
			}
			assert.Equal(t, 1, c2, "%s", fp)
		})
	}
}

func TestFindCoverWithFilter_Fixtures(t *testing.T) {
	ctx := context.Background()

	for _, inst := range dagtest.Instances(4) {
		t.Run(inst.Kind, func(t *testing.T) {
			n := dagtest.CreateD3(t, inst.Dag)

			tests := []struct {
				name   string
				from   model.Position
				filter model.EntryMetaFilter
				want   model.Position
			}{
				{
					"both branches carry p1",
					pos(n["b1"], n["b2"]),
					model.EntryMetaFilter{ContainsKeys: []string{"p1"}},
					pos(n["b1"], n["b2"]),
				},
				{
					"only b2 has p2=2",
					pos(n["b1"], n["b2"]),
					model.EntryMetaFilter{ContainsValues: map[string][]string{"p2": {"2"}}},
					pos(n["b2"]),
				},
				{
					"p2=3 is not in the history",
					pos(n["b1"], n["b2"]),
					model.EntryMetaFilter{ContainsValues: map[string][]string{"p2": {"3"}}},
					pos(),
				},
				{
					"both keys",
					pos(n["c1"], n["b2"]),
					model.EntryMetaFilter{ContainsKeys: []string{"p1", "p2"}},
					pos(n["c1"], n["b2"]),
				},
				{
					"value and key",
					pos(n["c1"], n["b2"]),
					model.EntryMetaFilter{
						ContainsKeys:   []string{"p2"},
						ContainsValues: map[string][]string{"p1": {"1"}},
					},
					pos(n["c1"], n["b2"]),
				},
				{
					"walks past non-matching successors",
					pos(n["d1"], n["d2"]),
					model.EntryMetaFilter{ContainsValues: map[string][]string{"p2": {"3"}}},
					pos(n["c1"]),
				},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := inst.Dag.FindCoverWithFilter(ctx, tt.from, tt.filter)
					require.NoError(t, err)
					assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
				})
			}
		})
	}
}

func TestFindConcurrentCoverWithFilter_Fixtures(t *testing.T) {
	ctx := context.Background()

	for _, inst := range dagtest.Instances(4) {
		t.Run(inst.Kind, func(t *testing.T) {
			n := dagtest.CreateD3(t, inst.Dag)

			tests := []struct {
				name         string
				from, concTo model.Position
				filter       model.EntryMetaFilter
				want         model.Position
			}{
				{
					"descendant of b1 is skipped",
					pos(n["c1"], n["b2"]), pos(n["b1"]),
					model.EntryMetaFilter{ContainsKeys: []string{"p1"}},
					pos(n["b2"]),
				},
				{
					"matching descendant is not kept",
					pos(n["c1"]), pos(n["b1"]),
					model.EntryMetaFilter{ContainsValues: map[string][]string{"p2": {"4"}}},
					pos(),
				},
				{
					"sibling is concurrent",
					pos(n["d1"], n["d2"]), pos(n["d1"]),
					model.EntryMetaFilter{ContainsKeys: []string{"p1"}},
					pos(n["d2"]),
				},
				{
					"sibling and other branch",
					pos(n["d1"], n["d2"], n["b2"]), pos(n["d1"]),
					model.EntryMetaFilter{ContainsKeys: []string{"p1"}},
					pos(n["d2"], n["b2"]),
				},
				{
					"empty filter",
					pos(n["d1"], n["d2"], n["b2"]), pos(n["c1"]),
					model.EntryMetaFilter{},
					pos(n["b2"]),
				},
				{
					"nothing is concurrent to itself",
					pos(n["b1"], n["b2"]), pos(n["b1"], n["b2"]),
					model.EntryMetaFilter{},
					pos(),
				},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := inst.Dag.FindConcurrentCoverWithFilter(ctx, tt.from, tt.concTo, tt.filter)
					if inst.Kind == dag.IndexTopo {
						assert.ErrorIs(t, err, index.ErrUnsupported)
						return
					}
					require.NoError(t, err)
					assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
				})
			}
		})
	}
}

func TestFindMinimalCover_D1(t *testing.T) {
	ctx := context.Background()

	for _, inst := range dagtest.Instances(4) {
		t.Run(inst.Kind, func(t *testing.T) {
			b2, c1 := dagtest.CreateD1(t, inst.Dag)

			frontier, err := inst.Dag.Frontier(ctx)
			require.NoError(t, err)
			assert.True(t, frontier.Equal(pos(b2.Sorted()[0], c1.Sorted()[0])))

			all, err := inst.Dag.LoadAllEntries(ctx)
			require.NoError(t, err)
			everything := model.Position{}
			for _, e := range all {
				everything.Add(e.Hash)
			}

			got, err := inst.Dag.FindMinimalCover(ctx, everything)
			require.NoError(t, err)
			assert.True(t, got.Equal(frontier), "got %s", got)
		})
	}
}

// =============================================================================
// Append
// =============================================================================

func TestAppend_MissingPredecessor(t *testing.T) {
	ctx := context.Background()

	for _, kind := range dagtest.Kinds {
		t.Run(kind, func(t *testing.T) {
			d := dagtest.NewDag(kind, 4)
			a, err := d.Append(ctx, map[string]any{"a": 1}, nil, pos())
			require.NoError(t, err)

			ghost := model.Hash("ghost")
			h, err := d.Append(ctx, map[string]any{"x": 1}, nil, pos(a, ghost))
			require.Error(t, err)
			assert.Empty(t, h)
			assert.ErrorIs(t, err, dag.ErrMissingPredecessor)

			var mpe *dag.MissingPredecessorError
			require.True(t, errors.As(err, &mpe))
			assert.Equal(t, ghost, mpe.Predecessor)
			assert.Contains(t, err.Error(), "cannot add ")
			assert.Contains(t, err.Error(), " before ghost")

			frontier, err := d.Frontier(ctx)
			require.NoError(t, err)
			assert.True(t, frontier.Equal(pos(a)))

			_, ok, err := d.LoadEntry(ctx, mpe.Hash)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestAppend_Duplicate(t *testing.T) {
	ctx := context.Background()

	for _, kind := range dagtest.Kinds {
		t.Run(kind, func(t *testing.T) {
			d := dagtest.NewDag(kind, 4)
			a, err := d.Append(ctx, map[string]any{"a": 1}, nil, pos())
			require.NoError(t, err)
			b, err := d.Append(ctx, map[string]any{"b": 1}, nil, pos(a))
			require.NoError(t, err)

			again, err := d.Append(ctx, map[string]any{"a": 1}, model.MetaProps{"k": dagtest.Set("v")}, pos())
			require.NoError(t, err)
			assert.Equal(t, a, again)

			frontier, err := d.Frontier(ctx)
			require.NoError(t, err)
			assert.True(t, frontier.Equal(pos(b)))

			all, err := d.LoadAllEntries(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			// The first append's metadata is kept.
			e, ok, err := d.LoadEntry(ctx, a)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Empty(t, e.Meta)
		})
	}
}

func TestAppend_HashDependsOnPredecessors(t *testing.T) {
	ctx := context.Background()
	d := dagtest.NewDag(dag.IndexLevel, 4)

	a, err := d.Append(ctx, map[string]any{"a": 1}, nil, pos())
	require.NoError(t, err)
	b, err := d.Append(ctx, map[string]any{"b": 1}, nil, pos())
	require.NoError(t, err)

	x1, err := d.Append(ctx, map[string]any{"x": 1}, nil, pos(a))
	require.NoError(t, err)
	x2, err := d.Append(ctx, map[string]any{"x": 1}, nil, pos(b))
	require.NoError(t, err)
	assert.NotEqual(t, x1, x2)

	e1, _, err := d.LoadEntry(ctx, x1)
	require.NoError(t, err)
	e2, _, err := d.LoadEntry(ctx, x2)
	require.NoError(t, err)
	assert.Equal(t, e1.Header.PayloadHash, e2.Header.PayloadHash)
}

func TestAppend_InvalidPayload(t *testing.T) {
	d := dagtest.NewDag(dag.IndexFlat, 0)

	_, err := d.Append(context.Background(), map[string]any{"ch": make(chan int)}, nil, pos())
	assert.ErrorIs(t, err, canonical.ErrUnsupportedValue)

	frontier, err := d.Frontier(context.Background())
	require.NoError(t, err)
	assert.Zero(t, frontier.Len())
}

func TestAppend_MetaIsCopied(t *testing.T) {
	ctx := context.Background()
	d := dagtest.NewDag(dag.IndexFlat, 0)

	meta := model.MetaProps{"k": dagtest.Set("v")}
	h, err := d.Append(ctx, map[string]any{"a": 1}, meta, pos())
	require.NoError(t, err)

	meta["k"]["w"] = struct{}{}
	meta["j"] = dagtest.Set("x")

	e, ok, err := d.LoadEntry(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"v"}, e.Meta["k"].Sorted())
	assert.NotContains(t, e.Meta, "j")
}

func TestComputeEntryHash_MatchesAppend(t *testing.T) {
	ctx := context.Background()
	d := dagtest.NewDag(dag.IndexTopo, 0)

	a, err := d.Append(ctx, map[string]any{"a": 1}, nil, pos())
	require.NoError(t, err)

	payload := map[string]any{"list": []any{"x", 2, true}, "n": 1.5}
	want, err := dag.ComputeEntryHash(payload, pos(a))
	require.NoError(t, err)

	// Computing the hash has no side effects.
	_, ok, err := d.LoadHeader(ctx, want)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.Append(ctx, payload, nil, pos(a))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	viaMethod, err := d.ComputeEntryHash(payload, pos(a))
	require.NoError(t, err)
	assert.Equal(t, want, viaMethod)
}

// =============================================================================
// Maintenance
// =============================================================================

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src := dagtest.NewDag(dag.IndexFlat, 0)
	n := dagtest.CreateD3(t, src)

	for _, kind := range dagtest.Kinds {
		t.Run(kind, func(t *testing.T) {
			dst := dagtest.NewDag(kind, 4)
			require.NoError(t, dag.Copy(ctx, src, dst))

			srcAll, err := src.LoadAllEntries(ctx)
			require.NoError(t, err)
			dstAll, err := dst.LoadAllEntries(ctx)
			require.NoError(t, err)
			require.Len(t, dstAll, len(srcAll))
			for i := range srcAll {
				assert.Equal(t, srcAll[i].Hash, dstAll[i].Hash)
				assert.Equal(t, srcAll[i].Meta, dstAll[i].Meta)
			}

			srcFrontier, err := src.Frontier(ctx)
			require.NoError(t, err)
			dstFrontier, err := dst.Frontier(ctx)
			require.NoError(t, err)
			assert.True(t, srcFrontier.Equal(dstFrontier))
			assert.True(t, dstFrontier.Equal(pos(n["d1"], n["d2"], n["b2"])))

			// Copying again changes nothing.
			require.NoError(t, dag.Copy(ctx, src, dst))
			again, err := dst.LoadAllEntries(ctx)
			require.NoError(t, err)
			assert.Len(t, again, len(srcAll))
		})
	}
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemStore()
	first := dag.New(st, flat.New(flat.NewMemStore(), st))
	n := dagtest.CreateD4(t, first)

	// A fresh index over the same store knows nothing until rebuilt.
	second := dag.New(st, flat.New(flat.NewMemStore(), st))
	_, err := second.FindMinimalCover(ctx, pos(n["c1"]))
	assert.ErrorIs(t, err, index.ErrNotIndexed)

	require.NoError(t, second.Rebuild(ctx))
	require.NoError(t, second.Rebuild(ctx))

	want, err := first.FindForkPosition(ctx, pos(n["c1"]), pos(n["c2"]))
	require.NoError(t, err)
	got, err := second.FindForkPosition(ctx, pos(n["c1"]), pos(n["c2"]))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

// =============================================================================
// Metrics
// =============================================================================

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	st := store.NewMemStore()
	d := dag.New(st, flat.New(flat.NewMemStore(), st), dag.WithMeterProvider(mp))

	a, err := d.Append(ctx, map[string]any{"a": 1}, nil, pos())
	require.NoError(t, err)
	_, err = d.Append(ctx, map[string]any{"b": 1}, nil, pos(a))
	require.NoError(t, err)
	_, err = d.Append(ctx, map[string]any{"c": 1}, nil, pos("ghost"))
	require.Error(t, err)

	_, err = d.FindMinimalCover(ctx, pos(a))
	require.NoError(t, err)

	metrics := collect(t, reader)

	appended, ok := metrics["dag_append_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, appended.DataPoints, 1)
	assert.Equal(t, int64(2), appended.DataPoints[0].Value)

	rejected, ok := metrics["dag_append_rejected_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rejected.DataPoints, 1)
	assert.Equal(t, int64(1), rejected.DataPoints[0].Value)
	reason, ok := rejected.DataPoints[0].Attributes.Value(attribute.Key("reason"))
	require.True(t, ok)
	assert.Equal(t, "missing_predecessor", reason.AsString())

	sizes, ok := metrics["dag_query_result_size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, sizes.DataPoints, 1)
	assert.Equal(t, uint64(1), sizes.DataPoints[0].Count)
	query, ok := sizes.DataPoints[0].Attributes.Value(attribute.Key("query"))
	require.True(t, ok)
	assert.Equal(t, "minimal_cover", query.AsString())

	_, ok = metrics["dag_query_duration_seconds"]
	assert.True(t, ok)
}
