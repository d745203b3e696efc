// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package largereply

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/afscore/hash160"
)

func block(b byte) []byte {
	buf := make([]byte, BlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestAppendAndReadAll(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	key := hash160.Sum([]byte("popular"))

	require.NoError(s.Append(key, block(1)))
	require.NoError(s.Append(key, block(2)))
	require.NoError(s.Append(key, block(3)))

	blocks, err := s.ReadAll(key)
	require.NoError(err)
	require.Len(blocks, 3)
	require.True(bytes.Equal(blocks[0], block(1)))
	require.True(bytes.Equal(blocks[1], block(2)))
	require.True(bytes.Equal(blocks[2], block(3)))
}

func TestReadAllMissingKey(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	_, err = s.ReadAll(hash160.Sum([]byte("absent")))
	require.ErrorIs(err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	key := hash160.Sum([]byte("x"))
	require.NoError(s.Append(key, block(1)))
	require.NoError(s.Remove(key))

	_, err = s.ReadAll(key)
	require.ErrorIs(err, ErrNotFound)
}

func TestAppendRejectsWrongBlockSize(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	err = s.Append(hash160.Sum([]byte("x")), []byte("short"))
	require.Error(err)
}

func TestAppendFixesTrailingPartialBlock(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	s, err := Open(dir, "keyword")
	require.NoError(err)

	key := hash160.Sum([]byte("x"))
	require.NoError(s.Append(key, block(1)))

	// Corrupt the file with a trailing partial block, as a crash
	// mid-write would leave behind.
	path := filepath.Join(dir, "keyword.lfs", key.String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	require.NoError(err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(err)
	require.NoError(f.Close())

	require.NoError(s.Append(key, block(2)))

	blocks, err := s.ReadAll(key)
	require.NoError(err)
	require.Len(blocks, 2)
	require.True(bytes.Equal(blocks[1], block(2)))
}

func TestReadRandomSamplesWithoutReplacement(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	key := hash160.Sum([]byte("popular"))
	for i := 0; i < 10; i++ {
		require.NoError(s.Append(key, block(byte(i))))
	}

	identity := func(n int) int { return 0 }
	blocks, err := s.ReadRandom(key, 0, 45, identity)
	require.NoError(err)
	// want = (50-45)*(0+1) = 5
	require.Len(blocks, 5)

	seen := map[byte]bool{}
	for _, b := range blocks {
		seen[b[0]] = true
	}
	require.Len(seen, 5)
}

func TestReadRandomCapsAtAvailableBlocks(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	key := hash160.Sum([]byte("rare"))
	require.NoError(s.Append(key, block(1)))
	require.NoError(s.Append(key, block(2)))

	identity := func(n int) int { return 0 }
	blocks, err := s.ReadRandom(key, 100, 0, identity)
	require.NoError(err)
	require.Len(blocks, 2)
}

func TestReadRandomMissingKey(t *testing.T) {
	require := require.New(t)
	s, err := Open(t.TempDir(), "keyword")
	require.NoError(err)

	identity := func(n int) int { return 0 }
	_, err = s.ReadRandom(hash160.Sum([]byte("absent")), 0, 0, identity)
	require.ErrorIs(err, ErrNotFound)
}
