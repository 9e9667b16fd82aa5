// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"sort"
	"strings"
)

// Hash identifies a serialized value by its content digest.
type Hash string

// Position is a set of hashes: a point in partial-order time, usually the
// maximal elements of some sub-history. The empty (or nil) Position means
// "no history".
//
// Position is a plain map so it can be ranged over directly. Methods that
// mutate require a non-nil receiver.
type Position map[Hash]struct{}

// NewPosition builds a Position from the given hashes.
func NewPosition(hashes ...Hash) Position {
	p := make(Position, len(hashes))
	for _, h := range hashes {
		p[h] = struct{}{}
	}
	return p
}

// Has reports whether h is in the position.
func (p Position) Has(h Hash) bool {
	_, ok := p[h]
	return ok
}

// Add inserts h.
func (p Position) Add(h Hash) {
	p[h] = struct{}{}
}

// Remove deletes h. Removing a missing hash is a no-op.
func (p Position) Remove(h Hash) {
	delete(p, h)
}

// Len returns the number of hashes.
func (p Position) Len() int {
	return len(p)
}

// Clone returns an independent copy. Cloning a nil Position yields an
// empty, non-nil one.
func (p Position) Clone() Position {
	c := make(Position, len(p))
	for h := range p {
		c[h] = struct{}{}
	}
	return c
}

// Equal reports set equality.
func (p Position) Equal(o Position) bool {
	if len(p) != len(o) {
		return false
	}
	for h := range p {
		if _, ok := o[h]; !ok {
			return false
		}
	}
	return true
}

// Union adds every element of o to p.
func (p Position) Union(o Position) {
	for h := range o {
		p[h] = struct{}{}
	}
}

// Sorted returns the hashes in ascending order.
func (p Position) Sorted() []Hash {
	hs := make([]Hash, 0, len(p))
	for h := range p {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Strings returns the sorted hashes as plain strings.
func (p Position) Strings() []string {
	out := make([]string, 0, len(p))
	for _, h := range p.Sorted() {
		out = append(out, string(h))
	}
	return out
}

// String renders the position as "{h1, h2}" in sorted order.
func (p Position) String() string {
	return "{" + strings.Join(p.Strings(), ", ") + "}"
}
