// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package memstore is an in-memory store.Backend, used as the test
// double in other packages' tests.
package memstore

import (
	"sync"

	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/store"
)

// Store is a map-backed store.Backend guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	entries map[hash160.Hash]store.Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[hash160.Hash]store.Entry)}
}

func (s *Store) Read(key hash160.Hash) (store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) Write(key hash160.Hash, e store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *Store) Delete(key hash160.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *Store) MinimumPriority() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, nil
	}
	min := uint32(1<<32 - 1)
	for _, e := range s.entries {
		if e.Importance < min {
			min = e.Importance
		}
	}
	return min, nil
}

func (s *Store) EvictLowestPriority(n int, onEvict func(key hash160.Hash, e store.Entry)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.entries) == 0 {
		return 0, nil
	}

	type kv struct {
		key hash160.Hash
		e   store.Entry
	}
	ranked := make([]kv, 0, len(s.entries))
	for k, e := range s.entries {
		ranked = append(ranked, kv{k, e})
	}
	// partial selection of the n lowest-importance entries.
	for i := 0; i < n && i < len(ranked); i++ {
		minIdx := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].e.Importance < ranked[minIdx].e.Importance {
				minIdx = j
			}
		}
		ranked[i], ranked[minIdx] = ranked[minIdx], ranked[i]
	}

	evicted := 0
	for i := 0; i < n && i < len(ranked); i++ {
		delete(s.entries, ranked[i].key)
		if onEvict != nil {
			onEvict(ranked[i].key, ranked[i].e)
		}
		evicted++
	}
	return evicted, nil
}

func (s *Store) Random() (hash160.Hash, store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		// Go's random map iteration order makes the first entry a
		// uniform-enough pick without a separate shuffle.
		return k, e, nil
	}
	return hash160.Hash{}, store.Entry{}, store.ErrNotFound
}

func (s *Store) EstimateAvailableBlocks(quotaBlocks int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return quotaBlocks - len(s.entries), nil
}

func (s *Store) Close() error {
	return nil
}
