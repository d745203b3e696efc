// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pebblestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/store"
)

func TestWriteReadDelete(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir())
	require.NoError(err)
	defer s.Close()

	key := hash160.Sum([]byte("k"))
	_, err = s.Read(key)
	require.ErrorIs(err, store.ErrNotFound)

	e := store.Entry{Type: blocktype.CHK, Importance: 5, Data: []byte("payload")}
	require.NoError(s.Write(key, e))

	got, err := s.Read(key)
	require.NoError(err)
	require.Equal(e.Type, got.Type)
	require.Equal(e.Importance, got.Importance)
	require.Equal(e.Data, got.Data)

	require.NoError(s.Delete(key))
	_, err = s.Read(key)
	require.ErrorIs(err, store.ErrNotFound)
}

func TestReopenRebuildsIndex(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(err)
	key := hash160.Sum([]byte("persisted"))
	require.NoError(s.Write(key, store.Entry{Importance: 42}))
	require.NoError(s.Close())

	reopened, err := Open(dir)
	require.NoError(err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(err)
	require.Equal(1, count)

	min, err := reopened.MinimumPriority()
	require.NoError(err)
	require.Equal(uint32(42), min)
}

func TestEvictLowestPriority(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir())
	require.NoError(err)
	defer s.Close()

	a, b, c := hash160.Sum([]byte("a")), hash160.Sum([]byte("b")), hash160.Sum([]byte("c"))
	require.NoError(s.Write(a, store.Entry{Importance: 9}))
	require.NoError(s.Write(b, store.Entry{Importance: 1}))
	require.NoError(s.Write(c, store.Entry{Importance: 5}))

	var evicted []hash160.Hash
	n, err := s.EvictLowestPriority(2, func(key hash160.Hash, e store.Entry) {
		evicted = append(evicted, key)
	})
	require.NoError(err)
	require.Equal(2, n)
	require.ElementsMatch([]hash160.Hash{b, c}, evicted)

	count, err := s.Count()
	require.NoError(err)
	require.Equal(1, count)
}

func TestRandomOnEmptyReturnsNotFound(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir())
	require.NoError(err)
	defer s.Close()

	_, _, err = s.Random()
	require.ErrorIs(err, store.ErrNotFound)
}

func TestEstimateAvailableBlocks(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir())
	require.NoError(err)
	defer s.Close()

	require.NoError(s.Write(hash160.Sum([]byte("a")), store.Entry{}))
	avail, err := s.EstimateAvailableBlocks(10)
	require.NoError(err)
	require.Equal(9, avail)
}
