// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"container/heap"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// =============================================================================
// TopoQueue
// =============================================================================

// TopoQueue is a max-priority queue of nodes keyed by topological index.
// Popping yields nodes in reverse insertion order, so every successor of a
// node inside the queued region is popped before the node itself.
//
// TopoQueue does not deduplicate; callers track what they enqueued.
//
// Thread Safety: Not safe for concurrent use.
type TopoQueue struct {
	items topoHeap
}

type topoItem struct {
	hash model.Hash
	topo uint64
}

type topoHeap []topoItem

func (h topoHeap) Len() int           { return len(h) }
func (h topoHeap) Less(i, j int) bool { return h[i].topo > h[j].topo }
func (h topoHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topoHeap) Push(x any)        { *h = append(*h, x.(topoItem)) }
func (h *topoHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewTopoQueue returns an empty queue.
func NewTopoQueue() *TopoQueue {
	return &TopoQueue{}
}

// Push enqueues hash with the given topological index.
func (q *TopoQueue) Push(hash model.Hash, topo uint64) {
	heap.Push(&q.items, topoItem{hash: hash, topo: topo})
}

// Pop removes and returns the node with the highest topological index.
// It panics on an empty queue.
func (q *TopoQueue) Pop() (model.Hash, uint64) {
	item := heap.Pop(&q.items).(topoItem)
	return item.hash, item.topo
}

// Len returns the number of queued nodes.
func (q *TopoQueue) Len() int {
	return q.items.Len()
}

// =============================================================================
// MultiMap
// =============================================================================

// MultiMap maps a node to a set of nodes. Used for successor bookkeeping
// during traversals.
type MultiMap map[model.Hash]model.Position

// Add records value under key.
func (m MultiMap) Add(key, value model.Hash) {
	set, ok := m[key]
	if !ok {
		set = model.Position{}
		m[key] = set
	}
	set.Add(value)
}

// Get returns the set stored under key, or nil.
func (m MultiMap) Get(key model.Hash) model.Position {
	return m[key]
}

// DeleteKey drops every value stored under key.
func (m MultiMap) DeleteKey(key model.Hash) {
	delete(m, key)
}
