// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index defines the query contract shared by the DAG index
// implementations, together with the traversal helpers they have in
// common.
//
// Three implementations live in sub-packages:
//
//   - flat: walks raw predecessor links; the reference for correctness
//   - topo: numbers entries in insertion order and walks backwards with a
//     priority queue, stopping at the lowest index of interest
//   - level: adds per-level skip-predecessor graphs that let cover queries
//     jump over long runs of low-level entries
//
// The topo and level indices share one fork sweep (SweepForkPosition). For
// the same insertions and the same arguments all three return equal
// results (the topo index does not implement the concurrent cover query).
//
// # Thread Safety
//
// Implementations allow concurrent queries. Index calls must be
// serialized by the caller; the dag facade does this.
package index

import (
	"context"
	"errors"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotIndexed is returned when a query or an insertion references a
	// node the index has never seen.
	ErrNotIndexed = errors.New("node not indexed")

	// ErrEntryNotFound is returned when a filter query cannot load an entry
	// from the store.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnsupported is returned by implementations that do not support a
	// query.
	ErrUnsupported = errors.New("operation not supported by this index")
)

// =============================================================================
// Contract
// =============================================================================

// Index answers partial-order queries over a DAG.
type Index interface {
	// Index records a newly appended node and its declared predecessors.
	// It fails with ErrNotIndexed, without changing anything, when a
	// predecessor is unknown. Indexing a known node again is a no-op.
	Index(ctx context.Context, hash model.Hash, after model.Position) error

	// FindMinimalCover drops every element of p reachable from another
	// element of p.
	FindMinimalCover(ctx context.Context, p model.Position) (model.Position, error)

	// FindForkPosition describes where the histories of a and b diverge.
	FindForkPosition(ctx context.Context, a, b model.Position) (model.ForkPosition, error)

	// FindCoverWithFilter walks back from `from`, keeping entries that
	// match the filter and replacing the others by their predecessors. It
	// returns the minimal cover of the kept entries.
	FindCoverWithFilter(ctx context.Context, from model.Position, filter model.EntryMetaFilter) (model.Position, error)

	// FindConcurrentCoverWithFilter is FindCoverWithFilter restricted to
	// entries that are neither ancestors nor descendants of any element of
	// concurrentTo.
	FindConcurrentCoverWithFilter(ctx context.Context, from, concurrentTo model.Position, filter model.EntryMetaFilter) (model.Position, error)
}

// EntryLoader loads entries for metadata filtering. Stores implement it.
type EntryLoader interface {
	LoadEntry(ctx context.Context, hash model.Hash) (model.Entry, bool, error)
}
