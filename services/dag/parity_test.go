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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/causallog/internal/dagtest"
	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/model"
)

const (
	scenarioCount = 20
	scenarioSize  = 300
)

var generators = map[string]dagtest.Generator{
	"random":    dagtest.CreateRandomDag,
	"branching": dagtest.CreateBranchingDag,
}

func buildScenarios(t *testing.T, gen dagtest.Generator, seed uint32, levelFactor int) []dagtest.Scenario {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping randomized parity in short mode")
	}
	scenarios, err := dagtest.BuildScenarios(context.Background(), gen, seed, scenarioCount, scenarioSize, levelFactor)
	require.NoError(t, err)
	return scenarios
}

// queryPositions returns the positions every query is checked against.
func queryPositions(t *testing.T, sc dagtest.Scenario) map[string]model.Position {
	t.Helper()

	frontier, err := sc.Instances[0].Dag.Frontier(context.Background())
	require.NoError(t, err)

	union := sc.A.Clone()
	union.Union(sc.B)

	return map[string]model.Position{
		"a":        sc.A,
		"b":        sc.B,
		"union":    union,
		"frontier": frontier,
	}
}

// sampleFilters derives filters from the metadata of the first and last
// entries, so that some entries match and most do not.
func sampleFilters(t *testing.T, d *dag.Dag) map[string]model.EntryMetaFilter {
	t.Helper()

	entries, err := d.LoadAllEntries(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	first := entries[0].Meta
	last := entries[len(entries)-1].Meta

	return map[string]model.EntryMetaFilter{
		"bucket": {
			ContainsValues: map[string][]string{"bucket": first["bucket"].Sorted()},
		},
		"bucket+parity": {
			ContainsValues: map[string][]string{
				"bucket": first["bucket"].Sorted(),
				"parity": first["parity"].Sorted(),
			},
		},
		"keys": {
			ContainsKeys: []string{"bucket", "tag"},
		},
		"tag": {
			ContainsValues: map[string][]string{"tag": last["tag"].Sorted()},
		},
		"tier+key": {
			ContainsKeys:   []string{"bucket"},
			ContainsValues: map[string][]string{"tier": last["tier"].Sorted()},
		},
	}
}

func TestParity_FindMinimalCover(t *testing.T) {
	ctx := context.Background()

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			for _, sc := range buildScenarios(t, gen, 1, 8) {
				for pname, p := range queryPositions(t, sc) {
					want, err := sc.Instances[0].Dag.FindMinimalCover(ctx, p)
					require.NoError(t, err)

					for _, inst := range sc.Instances[1:] {
						got, err := inst.Dag.FindMinimalCover(ctx, p)
						require.NoError(t, err)
						assert.True(t, want.Equal(got),
							"seed %d, %s, %s: flat %s, got %s", sc.Seed, pname, inst.Kind, want, got)
					}
				}
			}
		})
	}
}

func TestParity_FindForkPosition(t *testing.T) {
	ctx := context.Background()

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			for _, sc := range buildScenarios(t, gen, 2, 4) {
				positions := queryPositions(t, sc)
				pairs := [][2]string{{"a", "b"}, {"b", "a"}, {"a", "frontier"}, {"union", "b"}}

				for _, pair := range pairs {
					a, b := positions[pair[0]], positions[pair[1]]

					want, err := sc.Instances[0].Dag.FindForkPosition(ctx, a, b)
					require.NoError(t, err)

					for _, inst := range sc.Instances[1:] {
						got, err := inst.Dag.FindForkPosition(ctx, a, b)
						require.NoError(t, err)
						assert.True(t, want.Equal(got),
							"seed %d, fork(%s, %s), %s:\nflat %s\ngot  %s", sc.Seed, pair[0], pair[1], inst.Kind, want, got)
					}
				}
			}
		})
	}
}

func TestParity_FindCoverWithFilter(t *testing.T) {
	ctx := context.Background()

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			for _, sc := range buildScenarios(t, gen, 3, 8) {
				filters := sampleFilters(t, sc.Instances[0].Dag)

				for pname, p := range queryPositions(t, sc) {
					for fname, filter := range filters {
						want, err := sc.Instances[0].Dag.FindCoverWithFilter(ctx, p, filter)
						require.NoError(t, err)

						for _, inst := range sc.Instances[1:] {
							got, err := inst.Dag.FindCoverWithFilter(ctx, p, filter)
							require.NoError(t, err)
							assert.True(t, want.Equal(got),
								"seed %d, %s, filter %s, %s: flat %s, got %s", sc.Seed, pname, fname, inst.Kind, want, got)
						}
					}
				}
			}
		})
	}
}

func TestParity_FindConcurrentCoverWithFilter(t *testing.T) {
	ctx := context.Background()

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			for _, sc := range buildScenarios(t, gen, 4, 8) {
				filters := sampleFilters(t, sc.Instances[0].Dag)
				filters["empty"] = model.EntryMetaFilter{}
				positions := queryPositions(t, sc)

				var flatDag, levelDag *dag.Dag
				for _, inst := range sc.Instances {
					switch inst.Kind {
					case dag.IndexFlat:
						flatDag = inst.Dag
					case dag.IndexLevel:
						levelDag = inst.Dag
					}
				}
				require.NotNil(t, flatDag)
				require.NotNil(t, levelDag)

				pairs := [][2]string{{"a", "b"}, {"b", "a"}, {"frontier", "a"}, {"union", "b"}}
				for _, pair := range pairs {
					from, concTo := positions[pair[0]], positions[pair[1]]
					for fname, filter := range filters {
						label := fmt.Sprintf("seed %d, cc(%s, %s), filter %s", sc.Seed, pair[0], pair[1], fname)

						want, err := flatDag.FindConcurrentCoverWithFilter(ctx, from, concTo, filter)
						require.NoError(t, err, label)
						got, err := levelDag.FindConcurrentCoverWithFilter(ctx, from, concTo, filter)
						require.NoError(t, err, label)
						assert.True(t, want.Equal(got), "%s: flat %s, level %s", label, want, got)
					}
				}
			}
		})
	}
}

func TestScenarios_AreDeterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping randomized scenarios in short mode")
	}
	ctx := context.Background()

	first, err := dagtest.BuildScenarios(ctx, dagtest.CreateRandomDag, 9, 2, 50, 4)
	require.NoError(t, err)
	second, err := dagtest.BuildScenarios(ctx, dagtest.CreateRandomDag, 9, 2, 50, 4)
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].Seed, second[i].Seed)
		assert.True(t, first[i].A.Equal(second[i].A))
		assert.True(t, first[i].B.Equal(second[i].B))

		f1, err := first[i].Instances[0].Dag.Frontier(ctx)
		require.NoError(t, err)
		f2, err := second[i].Instances[0].Dag.Frontier(ctx)
		require.NoError(t, err)
		assert.True(t, f1.Equal(f2))
	}
}
