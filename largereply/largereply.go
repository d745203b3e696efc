// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package largereply stores reply sets that have grown past
// VERY_LARGE_SIZE results for one query key (a popular keyword can
// attract thousands of 3HASH or SBLOCK hits). Stuffing that many
// values into a single backend record forces a read-modify-write of
// the whole set on every insert; this package instead keeps one
// flat, append-only file per query key, so a single result can be
// appended or randomly sampled without touching the rest.
package largereply

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/luxfi/afscore/hash160"
)

// BlockSize is the fixed size of every stored content block.
const BlockSize = 1024

// dirExt matches the original ".lfs" storage directory suffix.
const dirExt = ".lfs"

var (
	// ErrNotFound is returned when no file exists for a query key.
	ErrNotFound = errors.New("largereply: no entry for key")
	// ErrEmpty is returned when a key's file exists but holds no blocks.
	ErrEmpty = errors.New("largereply: entry holds no blocks")
)

// Store is a directory of per-key append-only block files.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open creates (if necessary) and returns a Store rooted at
// filepath.Join(baseDir, name+".lfs").
func Open(baseDir, name string) (*Store, error) {
	dir := filepath.Join(baseDir, name+dirExt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("largereply: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(key hash160.Hash) string {
	return filepath.Join(s.dir, key.String())
}

// Append adds one block to key's file, truncating away any trailing
// partial block left by a prior short write before appending.
func (s *Store) Append(key hash160.Hash, block []byte) error {
	if len(block) != BlockSize {
		return fmt.Errorf("largereply: block must be %d bytes, got %d", BlockSize, len(block))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("largereply: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := truncateToBlockBoundary(f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("largereply: seek %s: %w", path, err)
	}
	if _, err := f.Write(block); err != nil {
		return fmt.Errorf("largereply: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes key's entire file, freeing the space it occupied.
func (s *Store) Remove(key hash160.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("largereply: remove: %w", err)
	}
	return nil
}

// ReadAll returns every block stored under key, in append order.
func (s *Store) ReadAll(key hash160.Hash) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("largereply: open %s: %w", path, err)
	}
	defer f.Close()

	n, err := truncateToBlockBoundary(f)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}

	raw := make([]byte, n*BlockSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("largereply: read %s: %w", path, err)
	}
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = raw[i*BlockSize : (i+1)*BlockSize]
	}
	return blocks, nil
}

// ReadRandom samples up to max(1, (50-networkLoadUp)*(priority+1))
// blocks from key's file without replacement, via a partial
// Fisher-Yates shuffle of the block indices. Lower network load and
// higher query priority both widen the sample.
func (s *Store) ReadRandom(key hash160.Hash, priority, networkLoadUp int, rnd func(n int) int) ([][]byte, error) {
	want := (50 - networkLoadUp) * (priority + 1)
	if want <= 0 {
		want = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("largereply: open %s: %w", path, err)
	}
	defer f.Close()

	n, err := truncateToBlockBoundary(f)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	if want > n {
		want = n
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < want; i++ {
		j := i + rnd(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}

	blocks := make([][]byte, want)
	for i := 0; i < want; i++ {
		buf := make([]byte, BlockSize)
		if _, err := f.ReadAt(buf, int64(perm[i])*BlockSize); err != nil {
			return nil, fmt.Errorf("largereply: read %s: %w", path, err)
		}
		blocks[i] = buf
	}
	return blocks, nil
}

// truncateToBlockBoundary drops any trailing partial block left by a
// prior crash or short write, and returns the number of whole blocks
// remaining.
func truncateToBlockBoundary(f *os.File) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("largereply: stat: %w", err)
	}
	size := info.Size()
	n := size / BlockSize
	aligned := n * BlockSize
	if aligned != size {
		if err := f.Truncate(aligned); err != nil {
			return 0, fmt.Errorf("largereply: truncate: %w", err)
		}
	}
	return int(n), nil
}
