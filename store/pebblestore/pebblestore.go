// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pebblestore is the on-disk store.Backend, backed by
// cockroachdb/pebble. Pebble has no secondary-index support, so the
// priority-ordered operations the content manager needs (eviction,
// minimum-priority lookups) are served from a small in-memory index
// of key -> importance that is rebuilt from the pebble iterator at
// Open time and kept in sync on every write/delete.
package pebblestore

import (
	"fmt"
	"math/rand/v2"

	"github.com/cockroachdb/pebble"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/internal/wrappers"
	"github.com/luxfi/afscore/store"
)

// Store is a pebble-backed store.Backend for one shard.
type Store struct {
	db  *pebble.DB
	idx map[hash160.Hash]uint32
}

// Open opens (or creates) a pebble database at dir and rebuilds the
// priority index from its contents.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", dir, err)
	}
	s := &Store{db: db, idx: make(map[hash160.Hash]uint32)}

	it, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pebblestore: iterate %s: %w", dir, err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		var key hash160.Hash
		copy(key[:], it.Key())
		e, err := decodeEntry(it.Value())
		if err != nil {
			continue
		}
		s.idx[key] = e.Importance
	}
	return s, nil
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
		return store.Entry{}, fmt.Errorf("pebblestore: corrupt entry: %w", u.Err)
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
	raw, closer, err := s.db.Get(key[:])
	if err != nil {
		if err == pebble.ErrNotFound {
			return store.Entry{}, store.ErrNotFound
		}
		return store.Entry{}, fmt.Errorf("pebblestore: get: %w", err)
	}
	defer closer.Close()
	return decodeEntry(raw)
}

func (s *Store) Write(key hash160.Hash, e store.Entry) error {
	if err := s.db.Set(key[:], encodeEntry(e), pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: set: %w", err)
	}
	s.idx[key] = e.Importance
	return nil
}

func (s *Store) Delete(key hash160.Hash) error {
	if err := s.db.Delete(key[:], pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: delete: %w", err)
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
