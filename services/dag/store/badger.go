// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/causallog/pkg/canonical"
	"github.com/AleutianAI/causallog/services/dag/model"
	badgerstore "github.com/AleutianAI/causallog/services/dag/storage/badger"
)

// Key layout.
//
//	e/<hash>  entry record (msgpack)
//	f/<hash>  frontier marker (empty value)
//	s/<seq>   insertion sequence, big-endian uint64 -> hash
//	m/seq     next sequence number
var (
	prefixEntry    = []byte("e/")
	prefixFrontier = []byte("f/")
	prefixSeq      = []byte("s/")
	keyNextSeq     = []byte("m/seq")
)

// DefaultCacheSize is the default number of decoded entries kept in memory.
const DefaultCacheSize = 4096

// entryRecord is the persisted form of an entry. Sets are stored as set
// literals and the payload as JSON. The canonical form cannot be used for
// the payload since it reorders long arrays.
type entryRecord struct {
	Hash        string         `msgpack:"h"`
	PayloadHash string         `msgpack:"ph"`
	Prev        map[string]any `msgpack:"prev"`
	Payload     string         `msgpack:"p"`
	Meta        map[string]any `msgpack:"m"`
	Seq         uint64         `msgpack:"s"`
}

// BadgerStore persists entries in BadgerDB.
//
// Each Append is a single transaction that writes the entry, its sequence
// key and the frontier update, so a crash never leaves a partial entry.
// Decoded entries are cached in an LRU.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badgerstore.DB
	cache  *lru.Cache[model.Hash, model.Entry]
	logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// BadgerOption configures a BadgerStore.
type BadgerOption func(*BadgerStore) error

// WithCacheSize sets the entry cache size. 0 disables the cache.
func WithCacheSize(size int) BadgerOption {
	return func(s *BadgerStore) error {
		if size < 0 {
			return fmt.Errorf("cache size must not be negative, got %d", size)
		}
		if size == 0 {
			s.cache = nil
			return nil
		}
		cache, err := lru.New[model.Hash, model.Entry](size)
		if err != nil {
			return fmt.Errorf("create entry cache: %w", err)
		}
		s.cache = cache
		return nil
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) BadgerOption {
	return func(s *BadgerStore) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// NewBadgerStore wraps an open database. The store takes ownership of db
// and closes it in Close.
//
// Outputs:
//
//	*BadgerStore - The store.
//	error - Non-nil if db is nil or an option is invalid.
func NewBadgerStore(db *badgerstore.DB, opts ...BadgerOption) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}

	s := &BadgerStore{db: db, logger: slog.Default()}
	if err := WithCacheSize(DefaultCacheSize)(s); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *BadgerStore) Append(ctx context.Context, entry model.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("serialize payload of %s: %w", entry.Hash, err)
	}

	rec := entryRecord{
		Hash:        string(entry.Hash),
		PayloadHash: string(entry.Header.PayloadHash),
		Prev:        canonical.SetLiteral(entry.Header.PrevEntryHashes.Strings()),
		Payload:     string(payload),
		Meta:        entry.Meta.Literal(),
	}

	written := false
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(entryKey(entry.Hash))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		rec.Seq = seq

		data, err := msgpack.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		if err := txn.Set(entryKey(entry.Hash), data); err != nil {
			return err
		}
		if err := txn.Set(seqKey(seq), []byte(entry.Hash)); err != nil {
			return err
		}
		for prev := range entry.Header.PrevEntryHashes {
			if err := txn.Delete(frontierKey(prev)); err != nil {
				return err
			}
		}
		if err := txn.Set(frontierKey(entry.Hash), nil); err != nil {
			return err
		}
		written = true
		return txn.Set(keyNextSeq, encodeSeq(seq+1))
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", entry.Hash, err)
	}
	if written {
		s.logger.Debug("entry persisted",
			slog.String("hash", string(entry.Hash)),
			slog.Uint64("seq", rec.Seq),
		)
	}
	return nil
}

// LoadEntry implements Store.
func (s *BadgerStore) LoadEntry(ctx context.Context, hash model.Hash) (model.Entry, bool, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(hash); ok {
			return e, true, nil
		}
	}

	var (
		entry model.Entry
		found bool
	)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		e, ok, err := loadEntry(txn, hash)
		entry, found = e, ok
		return err
	})
	if err != nil {
		return model.Entry{}, false, fmt.Errorf("load %s: %w", hash, err)
	}

	if found && s.cache != nil {
		s.cache.Add(hash, entry)
	}
	return entry, found, nil
}

// LoadHeader implements Store.
func (s *BadgerStore) LoadHeader(ctx context.Context, hash model.Hash) (model.Header, bool, error) {
	e, ok, err := s.LoadEntry(ctx, hash)
	if err != nil || !ok {
		return model.Header{}, ok, err
	}
	return e.Header, true, nil
}

// Frontier implements Store.
func (s *BadgerStore) Frontier(ctx context.Context) (model.Position, error) {
	frontier := model.Position{}
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixFrontier
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			frontier.Add(model.Hash(key[len(prefixFrontier):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load frontier: %w", err)
	}
	return frontier, nil
}

// LoadAllEntries implements Store.
func (s *BadgerStore) LoadAllEntries(ctx context.Context) ([]model.Entry, error) {
	var out []model.Entry
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSeq
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, ok, err := loadEntry(txn, model.Hash(hash))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("sequence references missing entry %s", hash)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load all entries: %w", err)
	}
	return out, nil
}

func loadEntry(txn *badger.Txn, hash model.Hash) (model.Entry, bool, error) {
	item, err := txn.Get(entryKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Entry{}, false, nil
	}
	if err != nil {
		return model.Entry{}, false, err
	}

	var rec entryRecord
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rec)
	})
	if err != nil {
		return model.Entry{}, false, fmt.Errorf("decode entry %s: %w", hash, err)
	}

	e, err := rec.toEntry()
	if err != nil {
		return model.Entry{}, false, fmt.Errorf("decode entry %s: %w", hash, err)
	}
	return e, true, nil
}

func (r *entryRecord) toEntry() (model.Entry, error) {
	prev, err := model.PositionFromLiteral(r.Prev)
	if err != nil {
		return model.Entry{}, fmt.Errorf("predecessors: %w", err)
	}
	meta, err := model.MetaFromLiteral(r.Meta)
	if err != nil {
		return model.Entry{}, err
	}

	// Numbers stay json.Number so the payload hashes as it did on append.
	dec := json.NewDecoder(bytes.NewReader([]byte(r.Payload)))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return model.Entry{}, fmt.Errorf("payload: %w", err)
	}

	return model.Entry{
		Hash: model.Hash(r.Hash),
		Header: model.Header{
			PayloadHash:     model.Hash(r.PayloadHash),
			PrevEntryHashes: prev,
		},
		Payload: payload,
		Meta:    meta,
	}, nil
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(keyNextSeq)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence counter (%d bytes)", len(val))
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func entryKey(h model.Hash) []byte    { return append(append([]byte{}, prefixEntry...), string(h)...) }
func frontierKey(h model.Hash) []byte { return append(append([]byte{}, prefixFrontier...), string(h)...) }
func seqKey(seq uint64) []byte        { return append(append([]byte{}, prefixSeq...), encodeSeq(seq)...) }
