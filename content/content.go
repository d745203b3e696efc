// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package content implements the content manager: it decides what to
// keep under the configured disk quota, shards storage across a
// pluggable backend, merges multi-reply (3HASH/SBLOCK) result sets,
// migrates oversized result sets into the large-reply store, and
// performs on-demand encoding of locally indexed files.
package content

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/bloom"
	"github.com/luxfi/afscore/fileindex"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/largereply"
	"github.com/luxfi/afscore/store"
)

// VeryLargeSize is the number of existing multi-reply results at
// which the set is migrated out of the database row and into the
// large-reply store.
const VeryLargeSize = 15

// evictDirty marks a shard's cached available-block estimate as
// needing recomputation.
const evictDirty = math.MinInt32

// ageFileName matches the original database.age constant.
const ageFileName = "database.age"

var (
	// ErrMigrationDisabled is returned by Insert when the content
	// came from a remote peer but active migration is turned off.
	ErrMigrationDisabled = errors.New("content: active migration disabled")
	// ErrDroppedLowPriority is returned by Insert when a probabilistic
	// priority gate drops a peer-sourced insert.
	ErrDroppedLowPriority = errors.New("content: dropped (priority gate)")
	// ErrQuotaExceeded is returned by Insert when the store is full and
	// the new content's priority does not beat the bucket minimum.
	ErrQuotaExceeded = errors.New("content: quota exceeded, priority too low")
)

// Request describes content to be inserted.
type Request struct {
	Type          blocktype.Type
	Hash          hash160.Hash // the content descriptor's own hash
	Importance    uint32
	FileNameIndex uint16
	FileOffset    uint32
	Data          []byte
	FromPeer      bool
}

// Manager is the sharded, quota-enforcing content store.
type Manager struct {
	mu                  sync.Mutex
	shards              []store.Backend
	quotaBlocksPerShard int
	cachedAvail         []int

	bloom *bloom.Pair
	files *fileindex.Table
	vls   *largereply.Store

	activeMigration bool
	age             uint32
	ageFilePath     string

	rnd      func(n int) int
	loadFunc func() int
	onEvict  func(key hash160.Hash, e store.Entry)
	log      log.Logger
}

// Config bundles the Manager's dependencies and tunables.
type Config struct {
	Shards              []store.Backend
	QuotaBlocksPerShard int
	Bloom               *bloom.Pair
	Files               *fileindex.Table
	VLS                 *largereply.Store
	ActiveMigration     bool
	DataDir             string
	Rand                func(n int) int
	// LoadFunc reports current network-up load as a percentage, used
	// to decide how generously on-demand blocks get re-read for
	// multi-reply content. Nil keeps sampling generous (reports 0).
	LoadFunc func() int
	// OnEvict, if set, is called once per entry evicted to satisfy the
	// per-shard quota. Intended for metrics reporting.
	OnEvict func(key hash160.Hash, e store.Entry)
	Log     log.Logger
}

// New constructs a Manager, loading the persisted age counter from
// DataDir/database.age if present.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Shards) == 0 {
		return nil, errors.New("content: at least one shard is required")
	}
	m := &Manager{
		shards:              cfg.Shards,
		quotaBlocksPerShard: cfg.QuotaBlocksPerShard,
		cachedAvail:         make([]int, len(cfg.Shards)),
		bloom:               cfg.Bloom,
		files:               cfg.Files,
		vls:                 cfg.VLS,
		activeMigration:     cfg.ActiveMigration,
		ageFilePath:         filepath.Join(cfg.DataDir, ageFileName),
		rnd:                 cfg.Rand,
		loadFunc:            cfg.LoadFunc,
		onEvict:             cfg.OnEvict,
		log:                 cfg.Log,
	}
	if m.loadFunc == nil {
		m.loadFunc = func() int { return 0 }
	}
	for i := range m.cachedAvail {
		m.cachedAvail[i] = evictDirty
	}
	age, err := loadAge(m.ageFilePath)
	if err != nil {
		return nil, err
	}
	m.age = age
	return m, nil
}

func loadAge(path string) (uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("content: read age file: %w", err)
	}
	if len(raw) < 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (m *Manager) persistAge(age uint32) error {
	if m.ageFilePath == "." || m.ageFilePath == "" {
		return nil
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], age)
	if err := os.MkdirAll(filepath.Dir(m.ageFilePath), 0o755); err != nil {
		return fmt.Errorf("content: mkdir age dir: %w", err)
	}
	return os.WriteFile(m.ageFilePath, buf[:], 0o600)
}

// RunAging increments the global age counter every interval (the
// original cron fired every 12 hours) and persists it, until ctx is
// canceled.
func (m *Manager) RunAging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.age++
			age := m.age
			m.mu.Unlock()
			if err := m.persistAge(age); err != nil && m.log != nil {
				m.log.Warn("content: failed to persist age counter", "error", err)
			}
		}
	}
}

func (m *Manager) bucketIndex(key hash160.Hash) int {
	return int(hash160.Bucket(key, uint32(len(m.shards))))
}

func (m *Manager) estimateAvailableLocked() int {
	total := 0
	for i, cached := range m.cachedAvail {
		if cached == evictDirty {
			v, err := m.shards[i].EstimateAvailableBlocks(m.quotaBlocksPerShard)
			if err != nil {
				v = 0
			}
			m.cachedAvail[i] = v
			cached = v
		}
		total += cached
	}
	return total
}

// ShardUsedBlocks reports, per shard, the number of blocks currently
// occupied out of quotaBlocksPerShard. Intended for metrics sampling.
func (m *Manager) ShardUsedBlocks() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := make([]int, len(m.shards))
	for i := range m.shards {
		avail := m.cachedAvail[i]
		if avail == evictDirty {
			v, err := m.shards[i].EstimateAvailableBlocks(m.quotaBlocksPerShard)
			if err != nil {
				v = 0
			}
			m.cachedAvail[i] = v
			avail = v
		}
		used[i] = m.quotaBlocksPerShard - avail
	}
	return used
}

func (m *Manager) invalidate(i int) {
	m.mu.Lock()
	m.cachedAvail[i] = evictDirty
	m.mu.Unlock()
}

// Insert stores req, subject to the migration gate, priority-gated
// eviction, and per-type merge rules described by the package doc.
// It reports whether the content was already present.
func (m *Manager) Insert(req Request) (duplicate bool, err error) {
	if req.FromPeer && !m.activeMigration {
		return false, ErrMigrationDisabled
	}
	if req.FromPeer && m.rnd(2+int(req.Importance)) == 0 {
		return false, ErrDroppedLowPriority
	}

	query := req.Hash
	if req.Type == blocktype.ThreeHash {
		query = req.Hash.Double()
	}

	effective := req.Importance + m.currentAge()
	bucketIdx := m.bucketIndex(query)
	bucket := m.shards[bucketIdx]

	m.mu.Lock()
	avail := m.estimateAvailableLocked()
	m.mu.Unlock()

	if avail <= 0 {
		minPrio, err := bucket.MinimumPriority()
		if err != nil {
			return false, err
		}
		if effective <= minPrio {
			return false, ErrQuotaExceeded
		}
		if _, err := bucket.EvictLowestPriority(16-avail, func(key hash160.Hash, e store.Entry) {
			m.bloom.Remove(e.Type, key)
			if e.VeryLarge() {
				_ = m.vls.Remove(key)
			}
			if m.onEvict != nil {
				m.onEvict(key, e)
			}
		}); err != nil {
			return false, err
		}
		m.invalidate(bucketIdx)
	}

	old, readErr := bucket.Read(query)
	hasOld := readErr == nil
	if readErr != nil && !errors.Is(readErr, store.ErrNotFound) {
		return false, readErr
	}

	newEntry := store.Entry{
		Type:          req.Type,
		Importance:    effective,
		FileNameIndex: req.FileNameIndex,
		FileOffset:    req.FileOffset,
		Data:          req.Data,
	}

	if req.Type.MultiReply() {
		duplicate, err = m.insertMultiReply(bucketIdx, bucket, query, hasOld, old, newEntry)
	} else {
		duplicate, err = m.insertSingleReply(bucketIdx, bucket, query, hasOld, old, newEntry)
	}
	if err != nil {
		return false, err
	}
	if !duplicate {
		m.bloom.Add(req.Type, query)
	}
	return duplicate, nil
}

func (m *Manager) currentAge() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.age
}

func (m *Manager) insertMultiReply(bucketIdx int, bucket store.Backend, query hash160.Hash, hasOld bool, old, newEntry store.Entry) (bool, error) {
	if !hasOld {
		if err := bucket.Write(query, newEntry); err != nil {
			return false, err
		}
		m.invalidate(bucketIdx)
		return false, nil
	}

	if old.VeryLarge() {
		return m.appendToVLS(query, newEntry.Data)
	}

	blockSize := len(newEntry.Data)
	if blockSize == 0 {
		blockSize = largereply.BlockSize
	}
	count := 0
	if blockSize > 0 {
		count = len(old.Data) / blockSize
	}
	for i := 0; i < count; i++ {
		if bytes.Equal(old.Data[i*blockSize:(i+1)*blockSize], newEntry.Data) {
			return true, nil
		}
	}

	if count >= VeryLargeSize {
		return false, m.migrateToVLS(bucketIdx, bucket, query, old, newEntry)
	}

	merged := make([]byte, 0, len(old.Data)+len(newEntry.Data))
	merged = append(merged, old.Data...)
	merged = append(merged, newEntry.Data...)
	newEntry.Data = merged
	newEntry.Importance = old.Importance + newEntry.Importance
	if err := bucket.Write(query, newEntry); err != nil {
		return false, err
	}
	m.invalidate(bucketIdx)
	return false, nil
}

func (m *Manager) migrateToVLS(bucketIdx int, bucket store.Backend, query hash160.Hash, old, newEntry store.Entry) error {
	blockSize := largereply.BlockSize
	count := len(old.Data) / blockSize
	for i := 0; i < count; i++ {
		if err := m.vls.Append(query, old.Data[i*blockSize:(i+1)*blockSize]); err != nil {
			_ = m.vls.Remove(query)
			return err
		}
	}
	if err := m.vls.Append(query, newEntry.Data); err != nil {
		_ = m.vls.Remove(query)
		return err
	}
	marker := store.Entry{
		Type:       newEntry.Type,
		Importance: newEntry.Importance,
		Data:       make([]byte, store.VeryLargeFile),
	}
	if err := bucket.Write(query, marker); err != nil {
		return err
	}
	m.invalidate(bucketIdx)
	return nil
}

func (m *Manager) appendToVLS(query hash160.Hash, data []byte) (bool, error) {
	blocks, err := m.vls.ReadAll(query)
	if err != nil && !errors.Is(err, largereply.ErrEmpty) && !errors.Is(err, largereply.ErrNotFound) {
		return false, err
	}
	for _, b := range blocks {
		if bytes.Equal(b, data) {
			return true, nil
		}
	}
	return false, m.vls.Append(query, data)
}

func (m *Manager) insertSingleReply(bucketIdx int, bucket store.Backend, query hash160.Hash, hasOld bool, old, newEntry store.Entry) (bool, error) {
	replace := false
	duplicate := true

	switch {
	case !hasOld:
		replace = true
		duplicate = false
	case old.Indexed():
		if newEntry.Indexed() && newEntry.Importance > old.Importance {
			replace = true
		}
	default:
		if len(old.Data) != len(newEntry.Data) || newEntry.Importance > old.Importance || newEntry.Indexed() {
			replace = true
		}
	}

	if !replace {
		return duplicate, nil
	}
	if err := bucket.Write(query, newEntry); err != nil {
		return false, err
	}
	m.invalidate(bucketIdx)
	return duplicate, nil
}

// Retrieve fetches the content addressed by query. local distinguishes
// a direct client request (which gets every large-reply result) from
// a remote peer's query (which gets a priority-sized random sample).
func (m *Manager) Retrieve(query hash160.Hash, priority uint32, local bool) ([]byte, error) {
	bucketIdx := m.bucketIndex(query)
	e, err := m.shards[bucketIdx].Read(query)
	if err != nil {
		return nil, err
	}

	if e.VeryLarge() {
		var blocks [][]byte
		if local {
			blocks, err = m.vls.ReadAll(query)
		} else {
			blocks, err = m.vls.ReadRandom(query, int(priority), m.networkLoadUp(), m.rnd)
		}
		if err != nil {
			return nil, err
		}
		return concatBlocks(blocks), nil
	}

	if e.Indexed() {
		return m.encodeOnDemand(e, 1)
	}
	return e.Data, nil
}

// networkLoadUp reports the node's current upstream network load as a
// percentage, via the Config.LoadFunc hook.
func (m *Manager) networkLoadUp() int {
	return m.loadFunc()
}

func concatBlocks(blocks [][]byte) []byte {
	out := make([]byte, 0, len(blocks)*largereply.BlockSize)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

// encodeOnDemand reads readCount blocks from the locally indexed file
// referenced by e, starting at e.FileOffset, and on-demand encrypts
// each sub-block with a key derived from its own plaintext hash. A
// short final block is zero-padded; the hash (and therefore the
// encryption key) for that block is taken over the true, unpadded
// length.
func (m *Manager) encodeOnDemand(e store.Entry, readCount int) ([]byte, error) {
	path, err := m.files.Lookup(e.FileNameIndex)
	if err != nil {
		return nil, fmt.Errorf("content: ondemand: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content: ondemand open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(e.FileOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("content: ondemand seek %s: %w", path, err)
	}

	blockSize := largereply.BlockSize
	buf := make([]byte, blockSize*readCount)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("content: ondemand read %s: %w", path, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("content: ondemand: read 0 bytes from %s", path)
	}

	total := n / blockSize
	lastBlockSize := blockSize
	if n%blockSize != 0 {
		total++
		lastBlockSize = n - (total-1)*blockSize
		for i := n; i < total*blockSize; i++ {
			buf[i] = 0
		}
	}

	out := make([]byte, total*blockSize)
	for i := 0; i < total; i++ {
		start := i * blockSize
		hashLen := blockSize
		if i == total-1 {
			hashLen = lastBlockSize
		}
		key := hash160.Sum(buf[start : start+hashLen])
		copy(out[start:start+blockSize], encryptBlock(buf[start:start+blockSize], key))
	}
	return out, nil
}

// RetrieveRandom picks a uniformly random shard and returns an
// arbitrary entry from it, used to seed migration pushes.
func (m *Manager) RetrieveRandom() (hash160.Hash, store.Entry, error) {
	idx := m.rnd(len(m.shards))
	return m.shards[idx].Random()
}

// ErrNotMigratable is returned by RetrieveRandomBlocks when the
// randomly selected entry cannot be pushed out standalone: 3HASH and
// SUPER entries answer a query jointly with other entries sharing the
// same key, and a VeryLarge marker has no single block to push.
var ErrNotMigratable = errors.New("content: entry type cannot be migrated")

// RetrieveRandomBlocks picks a uniformly random entry across all
// shards and returns its query key plus up to maxBlocks ready-to-send
// blocks: inline CHK data unchanged, on-demand indexed content freshly
// encoded. It is the feeder for the migration engine's prefetch
// buffer.
func (m *Manager) RetrieveRandomBlocks(maxBlocks int) (hash160.Hash, [][]byte, error) {
	key, e, err := m.RetrieveRandom()
	if err != nil {
		return hash160.Hash{}, nil, err
	}
	if e.Type == blocktype.ThreeHash || e.Type == blocktype.Super || e.VeryLarge() {
		return hash160.Hash{}, nil, ErrNotMigratable
	}
	if e.Indexed() {
		if maxBlocks < 1 {
			maxBlocks = 1
		}
		data, err := m.encodeOnDemand(e, maxBlocks)
		if err != nil {
			return hash160.Hash{}, nil, err
		}
		return key, splitBlocks(data, largereply.BlockSize), nil
	}
	return key, [][]byte{e.Data}, nil
}

func splitBlocks(data []byte, blockSize int) [][]byte {
	var blocks [][]byte
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	return blocks
}

// Remove deletes the content addressed by query, cleaning up its
// large-reply file (if any) and bloom-filter membership.
func (m *Manager) Remove(query hash160.Hash) error {
	bucketIdx := m.bucketIndex(query)
	bucket := m.shards[bucketIdx]

	e, err := bucket.Read(query)
	if err != nil {
		return err
	}
	if e.VeryLarge() {
		if err := m.vls.Remove(query); err != nil {
			return err
		}
	}
	if err := bucket.Delete(query); err != nil {
		return err
	}
	m.invalidate(bucketIdx)
	m.bloom.Remove(e.Type, query)
	return nil
}
