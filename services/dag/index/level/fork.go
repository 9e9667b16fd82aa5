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

	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
)

// baseGraph is the level-0 graph, numbered by topological index.
type baseGraph struct{ store Store }

func (g baseGraph) TopoIndex(ctx context.Context, n model.Hash) (uint64, error) {
	info, err := g.store.GetEntryInfo(ctx, n)
	if err != nil {
		return 0, err
	}
	return info.TopoIndex, nil
}

func (g baseGraph) Preds(ctx context.Context, n model.Hash) (model.Position, error) {
	return g.store.GetPreds(ctx, 0, n)
}

// FindForkPosition implements index.Index.
//
// The sweep runs over level-0 edges. Coarser edges would jump over
// single-sided nodes whose predecessors decide forkA and forkB, and over
// shared nodes that only sit below such a node.
func (ix *Index) FindForkPosition(ctx context.Context, a, b model.Position) (model.ForkPosition, error) {
	return index.SweepForkPosition(ctx, baseGraph{store: ix.store}, a, b)
}
