// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the data types of the causal history DAG.
//
// An Entry is an immutable node identified by the digest of its Header.
// The Header names the digest of the payload and the entry's immediate
// predecessors; metadata travels with the entry but is not hashed, so two
// replicas may hold the same entry with different metadata.
package model

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/causallog/pkg/canonical"
)

// =============================================================================
// Header and Entry
// =============================================================================

// Header is the hashed part of an entry.
type Header struct {
	// PayloadHash is the digest of the canonical payload.
	PayloadHash Hash

	// PrevEntryHashes are the immediate predecessors. Callers are expected
	// to pass a minimal cover; this is not verified.
	PrevEntryHashes Position
}

// Literal returns the header in the form that is serialized for hashing.
func (h Header) Literal() map[string]any {
	return map[string]any{
		"payloadHash":     string(h.PayloadHash),
		"prevEntryHashes": canonical.SetLiteral(h.PrevEntryHashes.Strings()),
	}
}

// ComputeHash returns digest(serialize(header)).
func (h Header) ComputeHash() (Hash, error) {
	d, err := canonical.Hash(h.Literal())
	if err != nil {
		return "", fmt.Errorf("hash header: %w", err)
	}
	return Hash(d), nil
}

// Entry is a DAG node. Entries are never mutated once appended.
type Entry struct {
	Hash    Hash
	Header  Header
	Payload any
	Meta    MetaProps
}

// =============================================================================
// Metadata
// =============================================================================

// ValueSet is a set of metadata values.
type ValueSet map[string]struct{}

// NewValueSet builds a ValueSet from the given values.
func NewValueSet(values ...string) ValueSet {
	s := make(ValueSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s ValueSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the values in ascending order.
func (s ValueSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MetaProps maps a key to a set of values. Only set-valued metadata is
// supported, so that filters compose with concurrent histories.
type MetaProps map[string]ValueSet

// Literal returns the metadata as nested set literals: {key: {value: ""}}.
func (m MetaProps) Literal() map[string]any {
	lit := make(map[string]any, len(m))
	for k, vs := range m {
		lit[k] = canonical.SetLiteral(vs.Sorted())
	}
	return lit
}

// MetaFromLiteral is the inverse of MetaProps.Literal.
//
// Outputs:
//
//	MetaProps - The decoded metadata (never nil).
//	error - canonical.ErrMalformedSet (wrapped) if any value set is malformed.
func MetaFromLiteral(lit map[string]any) (MetaProps, error) {
	m := make(MetaProps, len(lit))
	for k, raw := range lit {
		values, err := canonical.ParseSet(raw)
		if err != nil {
			return nil, fmt.Errorf("meta key %q: %w", k, err)
		}
		m[k] = NewValueSet(values...)
	}
	return m, nil
}

// PositionFromLiteral decodes a set literal of hashes.
func PositionFromLiteral(lit any) (Position, error) {
	elems, err := canonical.ParseSet(lit)
	if err != nil {
		return nil, err
	}
	p := make(Position, len(elems))
	for _, e := range elems {
		p.Add(Hash(e))
	}
	return p, nil
}

// EntryMetaFilter is a conjunctive predicate over an entry's metadata.
type EntryMetaFilter struct {
	// ContainsKeys lists keys that must be present.
	ContainsKeys []string

	// ContainsValues lists, per key, values that must all be present.
	ContainsValues map[string][]string
}

// =============================================================================
// Fork position
// =============================================================================

// ForkPosition describes where the histories of two positions A and B
// diverge.
type ForkPosition struct {
	// CommonFrontier is the minimal cover of history(A) ∩ history(B).
	CommonFrontier Position

	// Common holds shared entries with a successor reachable from only one
	// side.
	Common Position

	// ForkA holds entries reachable only from A whose predecessor is shared,
	// or that have no predecessors.
	ForkA Position

	// ForkB is the B-side counterpart of ForkA.
	ForkB Position
}

// NewForkPosition returns a ForkPosition with all sets allocated.
func NewForkPosition() ForkPosition {
	return ForkPosition{
		CommonFrontier: Position{},
		Common:         Position{},
		ForkA:          Position{},
		ForkB:          Position{},
	}
}

// Equal reports whether all four sets are equal.
func (f ForkPosition) Equal(o ForkPosition) bool {
	return f.CommonFrontier.Equal(o.CommonFrontier) &&
		f.Common.Equal(o.Common) &&
		f.ForkA.Equal(o.ForkA) &&
		f.ForkB.Equal(o.ForkB)
}

// Swap returns the fork position with the A and B sides exchanged.
func (f ForkPosition) Swap() ForkPosition {
	return ForkPosition{
		CommonFrontier: f.CommonFrontier,
		Common:         f.Common,
		ForkA:          f.ForkB,
		ForkB:          f.ForkA,
	}
}

func (f ForkPosition) String() string {
	return fmt.Sprintf("commonFrontier=%s common=%s forkA=%s forkB=%s",
		f.CommonFrontier, f.Common, f.ForkA, f.ForkB)
}
