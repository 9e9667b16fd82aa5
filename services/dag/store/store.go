// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists DAG entries and tracks the frontier.
//
// Two implementations are provided: MemStore, the in-memory reference, and
// BadgerStore, which keeps entries in BadgerDB. Both only ever grow:
// appending an entry that is already stored changes nothing.
//
// # Thread Safety
//
// Both implementations are safe for concurrent use. Appends for a single
// DAG are expected to come from one writer (the dag facade serializes
// them).
package store

import (
	"context"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// Store is the append-only entry store of a DAG.
type Store interface {
	// Append persists entry. The caller guarantees its predecessors are
	// already stored. Appending a stored hash is a no-op.
	Append(ctx context.Context, entry model.Entry) error

	// LoadEntry returns the entry for hash, or false if absent. The
	// returned entry must not be modified.
	LoadEntry(ctx context.Context, hash model.Hash) (model.Entry, bool, error)

	// LoadHeader returns the header for hash, or false if absent.
	LoadHeader(ctx context.Context, hash model.Hash) (model.Header, bool, error)

	// Frontier returns the entries that have no appended successor.
	Frontier(ctx context.Context) (model.Position, error)

	// LoadAllEntries returns every entry in insertion order, which is a
	// topological order.
	LoadAllEntries(ctx context.Context) ([]model.Entry, error)
}
