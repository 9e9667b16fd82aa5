// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag is the entry point of the causal log: an append-only,
// content-addressed DAG of entries.
//
// A Dag pairs a store.Store, which owns entries and the frontier, with an
// index.Index, which answers partial-order queries. Append hashes the
// payload and the predecessor set into the entry hash, checks that every
// predecessor is stored, then indexes and persists the entry.
//
// # Thread Safety
//
// A Dag is safe for concurrent use. Appends are serialized; queries may run
// alongside them.
package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/causallog/pkg/canonical"
	"github.com/AleutianAI/causallog/services/dag/index"
	"github.com/AleutianAI/causallog/services/dag/model"
	"github.com/AleutianAI/causallog/services/dag/store"
)

// Dag is the causal log facade.
type Dag struct {
	store  store.Store
	index  index.Index
	logger *slog.Logger

	// appendMu serializes Append so the existence check, indexing and
	// persistence of one entry are not interleaved with another.
	appendMu sync.Mutex

	meterProvider   metric.MeterProvider
	metricsOnce     sync.Once
	appendTotal     metric.Int64Counter
	appendRejected  metric.Int64Counter
	queryLatency    metric.Float64Histogram
	queryResultSize metric.Int64Histogram
}

// Option configures a Dag.
type Option func(*Dag)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dag) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dag) {
		if mp != nil {
			d.meterProvider = mp
		}
	}
}

// New creates a Dag over st and ix.
//
// Inputs:
//
//	st - Entry store. Must not be nil.
//	ix - Index built with st as its entry loader. Must not be nil.
//	opts - Optional logger and meter provider.
//
// Outputs:
//
//	*Dag - The facade.
func New(st store.Store, ix index.Index, opts ...Option) *Dag {
	d := &Dag{
		store:         st,
		index:         ix,
		logger:        slog.Default(),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ComputeEntryHash returns the hash an entry with this payload and these
// predecessors would get. It has no side effects.
func ComputeEntryHash(payload any, after model.Position) (model.Hash, error) {
	header, err := buildHeader(payload, after)
	if err != nil {
		return "", err
	}
	return header.ComputeHash()
}

// ComputeEntryHash is the method form of the package-level function.
func (d *Dag) ComputeEntryHash(payload any, after model.Position) (model.Hash, error) {
	return ComputeEntryHash(payload, after)
}

func buildHeader(payload any, after model.Position) (model.Header, error) {
	ph, err := canonical.Hash(payload)
	if err != nil {
		return model.Header{}, fmt.Errorf("hash payload: %w", err)
	}
	return model.Header{
		PayloadHash:     model.Hash(ph),
		PrevEntryHashes: after.Clone(),
	}, nil
}

// Append adds an entry whose predecessors are after and returns its hash.
//
// Description:
//
//	Computes the entry hash, then checks that every hash in after is
//	stored. Appending an entry that already exists returns its hash and
//	changes nothing. Otherwise the entry is indexed and then persisted.
//	after should be a minimal cover; this is not verified.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	payload - JSON-like value (maps with string keys, slices, strings,
//	  numbers, booleans). Must not be modified after Append.
//	meta - Set-valued metadata used by filter queries. May be nil.
//	after - The predecessor set.
//
// Outputs:
//
//	model.Hash - The entry hash.
//	error - ErrMissingPredecessor (as *MissingPredecessorError) if a
//	predecessor is absent, canonical.ErrUnsupportedValue for a payload that
//	cannot be serialized, or a store/index error.
//
// Thread Safety: Safe for concurrent use. Appends are serialized.
func (d *Dag) Append(ctx context.Context, payload any, meta model.MetaProps, after model.Position) (hash model.Hash, err error) {
	ctx, span := tracer.Start(ctx, "Dag.Append",
		trace.WithAttributes(attribute.Int("dag.after_count", after.Len())),
	)
	defer func() { endSpan(span, err) }()

	header, err := buildHeader(payload, after)
	if err != nil {
		d.recordRejected(ctx, rejectInvalidPayload)
		return "", err
	}
	hash, err = header.ComputeHash()
	if err != nil {
		d.recordRejected(ctx, rejectInvalidPayload)
		return "", err
	}
	span.SetAttributes(attribute.String("dag.entry_hash", string(hash)))

	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	for _, pred := range after.Sorted() {
		_, ok, err := d.store.LoadHeader(ctx, pred)
		if err != nil {
			d.recordRejected(ctx, rejectIndexOrStoreErr)
			return "", fmt.Errorf("load predecessor %s: %w", pred, err)
		}
		if !ok {
			d.recordRejected(ctx, rejectMissingPred)
			d.logger.Warn("append rejected",
				slog.String("hash", string(hash)),
				slog.String("missing", string(pred)),
			)
			return "", &MissingPredecessorError{Hash: hash, Predecessor: pred}
		}
	}

	if _, ok, err := d.store.LoadHeader(ctx, hash); err != nil {
		d.recordRejected(ctx, rejectIndexOrStoreErr)
		return "", fmt.Errorf("check existing %s: %w", hash, err)
	} else if ok {
		return hash, nil
	}

	entry := model.Entry{
		Hash:    hash,
		Header:  header,
		Payload: payload,
		Meta:    cloneMeta(meta),
	}

	if err := d.index.Index(ctx, hash, header.PrevEntryHashes); err != nil {
		d.recordRejected(ctx, rejectIndexOrStoreErr)
		return "", fmt.Errorf("index %s: %w", hash, err)
	}
	if err := d.store.Append(ctx, entry); err != nil {
		d.recordRejected(ctx, rejectIndexOrStoreErr)
		return "", fmt.Errorf("store %s: %w", hash, err)
	}

	d.recordAppend(ctx)
	d.logger.Debug("entry appended",
		slog.String("hash", string(hash)),
		slog.Int("preds", after.Len()),
	)
	return hash, nil
}

func cloneMeta(meta model.MetaProps) model.MetaProps {
	out := make(model.MetaProps, len(meta))
	for k, vs := range meta {
		out[k] = model.NewValueSet(vs.Sorted()...)
	}
	return out
}

// =============================================================================
// Store passthrough
// =============================================================================

// LoadEntry returns the entry for hash, or false if absent.
func (d *Dag) LoadEntry(ctx context.Context, hash model.Hash) (model.Entry, bool, error) {
	return d.store.LoadEntry(ctx, hash)
}

// LoadHeader returns the header for hash, or false if absent.
func (d *Dag) LoadHeader(ctx context.Context, hash model.Hash) (model.Header, bool, error) {
	return d.store.LoadHeader(ctx, hash)
}

// Frontier returns the entries that have no successor.
func (d *Dag) Frontier(ctx context.Context) (model.Position, error) {
	return d.store.Frontier(ctx)
}

// LoadAllEntries returns every entry in insertion order.
func (d *Dag) LoadAllEntries(ctx context.Context) ([]model.Entry, error) {
	return d.store.LoadAllEntries(ctx)
}

// =============================================================================
// Index queries
// =============================================================================

// FindMinimalCover drops every element of p that another element reaches.
func (d *Dag) FindMinimalCover(ctx context.Context, p model.Position) (model.Position, error) {
	return d.positionQuery(ctx, queryMinimalCover, p.Len(), func(ctx context.Context) (model.Position, error) {
		return d.index.FindMinimalCover(ctx, p)
	})
}

// FindForkPosition describes where the histories of a and b diverge.
func (d *Dag) FindForkPosition(ctx context.Context, a, b model.Position) (fp model.ForkPosition, err error) {
	ctx, span := startQuerySpan(ctx, queryForkPosition, a.Len()+b.Len())
	defer func() { endSpan(span, err) }()

	start := time.Now()
	fp, err = d.index.FindForkPosition(ctx, a, b)
	if err != nil {
		return model.ForkPosition{}, err
	}
	d.recordQuery(ctx, queryForkPosition, time.Since(start), fp.ForkA.Len()+fp.ForkB.Len())
	return fp, nil
}

// FindCoverWithFilter returns the minimal cover of the entries reached from
// `from` that satisfy filter, stopping at each match.
func (d *Dag) FindCoverWithFilter(ctx context.Context, from model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	return d.positionQuery(ctx, queryCoverWithFilter, from.Len(), func(ctx context.Context) (model.Position, error) {
		return d.index.FindCoverWithFilter(ctx, from, filter)
	})
}

// FindConcurrentCoverWithFilter is FindCoverWithFilter restricted to
// entries concurrent with every element of concurrentTo. Not every index
// supports it (index.ErrUnsupported).
func (d *Dag) FindConcurrentCoverWithFilter(ctx context.Context, from, concurrentTo model.Position, filter model.EntryMetaFilter) (model.Position, error) {
	return d.positionQuery(ctx, queryConcurrentCover, from.Len()+concurrentTo.Len(), func(ctx context.Context) (model.Position, error) {
		return d.index.FindConcurrentCoverWithFilter(ctx, from, concurrentTo, filter)
	})
}

func (d *Dag) positionQuery(ctx context.Context, query string, inputSize int, fn func(context.Context) (model.Position, error)) (p model.Position, err error) {
	ctx, span := startQuerySpan(ctx, query, inputSize)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	p, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	d.recordQuery(ctx, query, time.Since(start), p.Len())
	span.SetAttributes(attribute.Int("dag.result_size", p.Len()))
	return p, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// Copy replays every entry of from into to, in insertion order.
//
// Outputs:
//
//	error - ErrCopyMismatch if to hashes an entry differently, or the first
//	append error.
func Copy(ctx context.Context, from, to *Dag) error {
	entries, err := from.LoadAllEntries(ctx)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	for _, e := range entries {
		h, err := to.Append(ctx, e.Payload, e.Meta, e.Header.PrevEntryHashes)
		if err != nil {
			return fmt.Errorf("copy %s: %w", e.Hash, err)
		}
		if h != e.Hash {
			return fmt.Errorf("%w: %s copied as %s", ErrCopyMismatch, e.Hash, h)
		}
	}

	from.logger.Debug("dag copied", slog.Int("entries", len(entries)))
	return nil
}

// Rebuild indexes every stored entry, in insertion order. Use it after
// reopening a persistent store with a fresh index. Entries already indexed
// are skipped by the index.
func (d *Dag) Rebuild(ctx context.Context) error {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	entries, err := d.store.LoadAllEntries(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	start := time.Now()
	for _, e := range entries {
		if err := d.index.Index(ctx, e.Hash, e.Header.PrevEntryHashes); err != nil {
			return fmt.Errorf("rebuild %s: %w", e.Hash, err)
		}
	}

	d.logger.Info("index rebuilt",
		slog.Int("entries", len(entries)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
