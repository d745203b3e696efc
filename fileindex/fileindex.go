// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fileindex implements the on-disk table mapping a small
// integer position to the local filesystem path of an indexed file.
// Position 0 is reserved to mean "not indexed"; positions are 1-based
// and capped at 65535. The table is persisted as a newline-delimited
// list file, one path per line, with a blank line marking a tombstoned
// (deleted) entry so that surviving entries keep their position.
package fileindex

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// listFileName matches the original database.list constant.
const listFileName = "database.list"

// MaxEntries is the largest position the table can hand out. The
// position is carried on the wire as a 16-bit value.
const MaxEntries = 0xFFFF

// MaxLineSize bounds an indexed path's length.
const MaxLineSize = 1024

var (
	// ErrFull is returned by Append when the table already holds
	// MaxEntries entries.
	ErrFull = errors.New("fileindex: table full (limit is 65535)")
	// ErrTooLong is returned by Append when path exceeds MaxLineSize.
	ErrTooLong = errors.New("fileindex: path too long")
	// ErrNotIndexed is returned by Lookup for position 0, an
	// out-of-range position, or a tombstoned entry.
	ErrNotIndexed = errors.New("fileindex: position not indexed")
)

// Table is the in-memory, mutex-guarded, disk-backed index.
type Table struct {
	mu      sync.Mutex
	path    string
	entries []string // 0-indexed; entries[i] holds position i+1. "" means tombstoned.
}

// Open loads the table from dataDir, creating an empty one if the
// list file does not yet exist.
func Open(dataDir string) (*Table, error) {
	path := filepath.Join(dataDir, listFileName)
	t := &Table{path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("fileindex: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, MaxLineSize), MaxLineSize)
	for scanner.Scan() {
		t.entries = append(t.entries, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fileindex: read %s: %w", path, err)
	}
	return t, nil
}

// Append records path in the table. If path is already present the
// existing position is returned unchanged (idempotent), matching
// appendFilename's linear scan for a duplicate before growing the
// table.
func (t *Table) Append(path string) (uint16, error) {
	if len(path) > MaxLineSize {
		return 0, ErrTooLong
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.entries {
		if existing == path {
			return uint16(i + 1), nil
		}
	}

	if len(t.entries) >= MaxEntries {
		return 0, ErrFull
	}

	t.entries = append(t.entries, path)
	pos := uint16(len(t.entries))

	if err := t.rewriteLocked(); err != nil {
		return 0, err
	}
	return pos, nil
}

// Lookup returns the path stored at position, or ErrNotIndexed if
// position is 0, out of range, or tombstoned.
func (t *Table) Lookup(position uint16) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if position == 0 || int(position) > len(t.entries) {
		return "", ErrNotIndexed
	}
	path := t.entries[position-1]
	if path == "" {
		return "", ErrNotIndexed
	}
	return path, nil
}

// Count returns the number of slots in the table, including
// tombstoned ones (matching indexed_files_count's slot-count
// semantics, not a live-entry count).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ForEach invokes fn once per live entry, in position order. fn
// returns false to request that the entry be tombstoned (e.g. the
// backing file no longer exists on disk). The table's lock is
// released for the duration of each fn call, so fn may itself call
// back into the table, but other goroutines may also observe
// in-progress changes mid-iteration. If any entry was tombstoned, the
// whole list file is rewritten once at the end. ForEach returns the
// number of live entries remaining after the pass.
func (t *Table) ForEach(fn func(position uint16, path string) bool) (int, error) {
	t.mu.Lock()
	n := len(t.entries)
	changed := false

	for i := 0; i < n; i++ {
		path := t.entries[i]
		if path == "" {
			continue
		}
		position := uint16(i + 1)

		t.mu.Unlock()
		keep := fn(position, path)
		t.mu.Lock()

		// The entry may have moved under us only if the table shrank,
		// which Append never does; index i still refers to position.
		if !keep && i < len(t.entries) && t.entries[i] == path {
			t.entries[i] = ""
			changed = true
		}
	}

	var err error
	if changed {
		err = t.rewriteLocked()
	}

	live := 0
	for _, e := range t.entries {
		if e != "" {
			live++
		}
	}
	t.mu.Unlock()
	return live, err
}

// rewriteLocked rewrites the entire list file from t.entries. Callers
// must hold t.mu.
func (t *Table) rewriteLocked() error {
	if t.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("fileindex: mkdir: %w", err)
	}

	tmp := t.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fileindex: create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	for _, e := range t.entries {
		if _, err := w.WriteString(e); err != nil {
			f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("fileindex: flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fileindex: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("fileindex: rename %s: %w", tmp, err)
	}
	return nil
}
