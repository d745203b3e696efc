// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the AFS node's configuration: disk quota,
// storage backend selection, indexing directories, and the
// indirection table size. DefaultConfig() returns a small,
// local-friendly configuration; production deployments override
// individual fields.
package config

import (
	"errors"
	"fmt"
)

// DatabaseType selects a store.Backend implementation.
type DatabaseType string

const (
	// DatabaseMemory uses store/luxdb, an in-memory backend over
	// github.com/luxfi/database/memdb with no persistence. Useful for
	// tests and ephemeral nodes.
	DatabaseMemory DatabaseType = "memory"
	// DatabasePebble uses store/pebblestore, an on-disk, crash-safe
	// backend backed by github.com/cockroachdb/pebble.
	DatabasePebble DatabaseType = "pebble"
)

// Config is the full AFS node configuration.
type Config struct {
	// DiskQuotaMiB bounds total content storage across all shards.
	DiskQuotaMiB uint64
	// DatabaseType selects the storage backend implementation.
	DatabaseType DatabaseType
	// ShardCount is the number of storage shards content is split
	// across via hash160.Bucket.
	ShardCount int
	// ActiveMigration enables accepting and pushing migrated content
	// from/to peers; disabling it makes the node answer only its own
	// indexed and inserted content.
	ActiveMigration bool
	// AFSDir is the root directory for the node's database, bloom
	// filter, file index, and large-reply store.
	AFSDir string
	// IndexDirectory names the directory for client-indexed files. It
	// is carried in the configuration only: no package in this module
	// reads it, and nothing checks that it is set.
	IndexDirectory string
	// IndexQuotaMiB is the size limit for IndexDirectory, 0 meaning
	// unbounded. No package in this module reads or enforces it.
	IndexQuotaMiB uint64
	// IndirectionTableSize is the requested indirection table size,
	// rounded up to a power of two no smaller than indirection.MinSize.
	IndirectionTableSize int
}

// DefaultConfig returns a small, local-friendly configuration suitable
// for a single-node development run.
func DefaultConfig() Config {
	return Config{
		DiskQuotaMiB:         1024,
		DatabaseType:         DatabaseMemory,
		ShardCount:           8,
		ActiveMigration:      false,
		AFSDir:               "afs-data",
		IndexDirectory:       "afs-data/index",
		IndexQuotaMiB:        0,
		IndirectionTableSize: 8192,
	}
}

// Validation errors.
var (
	ErrInvalidDiskQuota  = errors.New("config: disk quota must be > 0")
	ErrInvalidShardCount = errors.New("config: shard count must be > 0")
	ErrMissingAFSDir     = errors.New("config: AFS directory must be set")
	ErrUnknownDatabase   = errors.New("config: unknown database type")
)

// Validate checks c for internal consistency.
func (c Config) Validate() error {
	if c.DiskQuotaMiB == 0 {
		return ErrInvalidDiskQuota
	}
	if c.ShardCount <= 0 {
		return ErrInvalidShardCount
	}
	if c.AFSDir == "" {
		return ErrMissingAFSDir
	}
	switch c.DatabaseType {
	case DatabaseMemory, DatabasePebble:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDatabase, c.DatabaseType)
	}
	return nil
}

// QuotaBlocksPerShard converts DiskQuotaMiB into a per-shard block
// count, given the fixed block size used throughout the store.
func (c Config) QuotaBlocksPerShard(blockSizeBytes int) int {
	totalBlocks := int(c.DiskQuotaMiB * 1024 * 1024 / uint64(blockSizeBytes))
	if c.ShardCount == 0 {
		return totalBlocks
	}
	return totalBlocks / c.ShardCount
}
