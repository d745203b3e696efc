// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store defines the pluggable key-value backend that the
// content manager shards content across. The original module loaded
// one of several on-disk database implementations (gdbm, tdb, mysql,
// ...) as a dynamic library chosen by configuration; Go has no
// equivalent of dlopen for this, so the same pluggability is expressed
// as a Backend interface with compile-time-selected implementations
// (store/luxdb, store/pebblestore, and store/memstore as a test double).
package store

import (
	"errors"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
)

// VeryLargeFile marks an Entry whose payload lives in the large-reply
// store instead of inline, because it grew past the point where
// keeping it in the usual backend would force a read-modify-write of
// an oversized record on every insert.
const VeryLargeFile = 42

// Entry is one content record: either an inline block, an on-demand
// index pointing at a local file, or a VeryLargeFile forwarding marker.
type Entry struct {
	Type          blocktype.Type
	Importance    uint32
	FileNameIndex uint16 // 0 unless on-demand encoded from an indexed file
	FileOffset    uint32
	Data          []byte
}

// Indexed reports whether this entry is on-demand encoded from a
// locally indexed file rather than stored inline.
func (e Entry) Indexed() bool {
	return e.FileNameIndex > 0
}

// VeryLarge reports whether this entry is a forwarding marker for the
// large-reply store.
func (e Entry) VeryLarge() bool {
	return len(e.Data) == VeryLargeFile
}

// ErrNotFound is returned by Read when no entry exists for a key.
var ErrNotFound = errors.New("store: entry not found")

// Backend is one shard of the content database. Implementations need
// not be safe for concurrent use by multiple goroutines; callers
// serialize access per shard.
type Backend interface {
	// Read returns the entry stored under key, or ErrNotFound.
	Read(key hash160.Hash) (Entry, error)
	// Write stores (or overwrites) the entry under key.
	Write(key hash160.Hash, e Entry) error
	// Delete removes the entry under key, if any.
	Delete(key hash160.Hash) error
	// Count returns the number of entries in the shard.
	Count() (int, error)
	// MinimumPriority returns the lowest importance value currently
	// stored, or 0 if the shard is empty.
	MinimumPriority() (uint32, error)
	// EvictLowestPriority deletes up to n entries with the lowest
	// importance, invoking onEvict for each (so the caller can keep
	// its bloom filters and quota estimate in sync), and returns the
	// number actually evicted.
	EvictLowestPriority(n int, onEvict func(key hash160.Hash, e Entry)) (int, error)
	// Random returns an arbitrary entry from the shard, used to seed
	// migration pushes. Returns ErrNotFound if the shard is empty.
	Random() (hash160.Hash, Entry, error)
	// EstimateAvailableBlocks estimates how many more blocks fit
	// under quotaBlocks given current usage; may be negative.
	EstimateAvailableBlocks(quotaBlocks int) (int, error)
	// Close releases any resources held by the backend.
	Close() error
}
