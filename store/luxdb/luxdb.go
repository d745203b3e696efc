// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package luxdb adapts github.com/luxfi/database's generic Database
// interface into a store.Backend. It is the production in-memory
// backend (backed by database/memdb, the same constructor the
// consensus engine's own test harness uses), and gives any other
// database.Database implementation the priority-ordered operations
// (eviction, minimum-priority lookup) the content manager needs but
// the plain key-value interface doesn't offer, via a small in-memory
// index of key -> importance rebuilt from the database's iterator at
// Open time and kept in sync on every write/delete. This mirrors
// store/pebblestore's indexing strategy, generalized to any
// database.Database rather than one pinned to pebble specifically.
package luxdb

import (
	"fmt"
	"math/rand/v2"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/internal/wrappers"
	"github.com/luxfi/afscore/store"
)

// Store is a database.Database-backed store.Backend for one shard.
type Store struct {
	db  database.Database
	idx map[hash160.Hash]uint32
}

// New wraps db, rebuilding the priority index from its contents.
func New(db database.Database) (*Store, error) {
	s := &Store{db: db, idx: make(map[hash160.Hash]uint32)}

	it := db.NewIterator()
	defer it.Release()
	for it.Next() {
		var key hash160.Hash
		copy(key[:], it.Key())
		e, err := decodeEntry(it.Value())
		if err != nil {
			continue
		}
		s.idx[key] = e.Importance
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("luxdb: iterate: %w", err)
	}
	return s, nil
}

// OpenMemory returns a Store backed by a fresh database/memdb
// instance, the in-memory database.Database implementation the
// consensus engine itself constructs via memdb.New() in its test
// harness.
func OpenMemory() (*Store, error) {
	return New(memdb.New())
}

func encodeEntry(e store.Entry) []byte {
	p := wrappers.NewPacker(2 + 4 + 2 + 4 + 4 + len(e.Data))
	p.PackInt(uint32(e.Type))
	p.PackInt(e.Importance)
	p.PackInt(uint32(e.FileNameIndex))
	p.PackInt(e.FileOffset)
	p.PackInt(uint32(len(e.Data)))
	p.PackBytes(e.Data)
	return p.Bytes
}

func decodeEntry(raw []byte) (store.Entry, error) {
	u := wrappers.NewUnpacker(raw)
	typ := u.UnpackInt()
	importance := u.UnpackInt()
	fileNameIndex := u.UnpackInt()
	fileOffset := u.UnpackInt()
	dataLen := u.UnpackInt()
	data := u.UnpackBytes(int(dataLen))
	if u.Err != nil {
		return store.Entry{}, fmt.Errorf("luxdb: corrupt entry: %w", u.Err)
	}
	return store.Entry{
		Type:          blocktype.Type(typ),
		Importance:    importance,
		FileNameIndex: uint16(fileNameIndex),
		FileOffset:    fileOffset,
		Data:          data,
	}, nil
}

func (s *Store) Read(key hash160.Hash) (store.Entry, error) {
	raw, err := s.db.Get(key[:])
	if err != nil {
		if err == database.ErrNotFound {
			return store.Entry{}, store.ErrNotFound
		}
		return store.Entry{}, fmt.Errorf("luxdb: get: %w", err)
	}
	return decodeEntry(raw)
}

func (s *Store) Write(key hash160.Hash, e store.Entry) error {
	if err := s.db.Put(key[:], encodeEntry(e)); err != nil {
		return fmt.Errorf("luxdb: put: %w", err)
	}
	s.idx[key] = e.Importance
	return nil
}

func (s *Store) Delete(key hash160.Hash) error {
	if err := s.db.Delete(key[:]); err != nil {
		return fmt.Errorf("luxdb: delete: %w", err)
	}
	delete(s.idx, key)
	return nil
}

func (s *Store) Count() (int, error) {
	return len(s.idx), nil
}

func (s *Store) MinimumPriority() (uint32, error) {
	if len(s.idx) == 0 {
		return 0, nil
	}
	min := uint32(1<<32 - 1)
	for _, p := range s.idx {
		if p < min {
			min = p
		}
	}
	return min, nil
}

func (s *Store) EvictLowestPriority(n int, onEvict func(key hash160.Hash, e store.Entry)) (int, error) {
	if n <= 0 || len(s.idx) == 0 {
		return 0, nil
	}

	type kv struct {
		key        hash160.Hash
		importance uint32
	}
	ranked := make([]kv, 0, len(s.idx))
	for k, p := range s.idx {
		ranked = append(ranked, kv{k, p})
	}
	for i := 0; i < n && i < len(ranked); i++ {
		minIdx := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].importance < ranked[minIdx].importance {
				minIdx = j
			}
		}
		ranked[i], ranked[minIdx] = ranked[minIdx], ranked[i]
	}

	evicted := 0
	for i := 0; i < n && i < len(ranked); i++ {
		key := ranked[i].key
		e, err := s.Read(key)
		if err != nil {
			continue
		}
		if err := s.Delete(key); err != nil {
			return evicted, err
		}
		if onEvict != nil {
			onEvict(key, e)
		}
		evicted++
	}
	return evicted, nil
}

func (s *Store) Random() (hash160.Hash, store.Entry, error) {
	if len(s.idx) == 0 {
		return hash160.Hash{}, store.Entry{}, store.ErrNotFound
	}
	skip := rand.N(len(s.idx))
	i := 0
	for k := range s.idx {
		if i == skip {
			e, err := s.Read(k)
			return k, e, err
		}
		i++
	}
	return hash160.Hash{}, store.Entry{}, store.ErrNotFound
}

func (s *Store) EstimateAvailableBlocks(quotaBlocks int) (int, error) {
	return quotaBlocks - len(s.idx), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
