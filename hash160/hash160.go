// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hash160 implements the 160-bit content identifier used
// throughout the AFS core: query keys, encryption keys, and namespace
// identifiers are all values of this type.
package hash160

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length of a Hash in bytes (160 bits).
const Size = 20

// Hash is a 160-bit content identifier.
type Hash [Size]byte

// Sum computes the hash of data, truncating the BLAKE3 output to
// 160 bits. BLAKE3 is used (rather than the legacy SHA-1 the original
// C implementation used) because it is the hash function the rest of
// this dependency tree already pulls in.
func Sum(data []byte) Hash {
	full := blake3.Sum256(data)
	var h Hash
	copy(h[:], full[:Size])
	return h
}

// Double returns Sum(h[:]), the "double hash" used to compute a
// 3HASH query key from a content hash (hash(hash(keyword))).
func (h Hash) Double() Hash {
	return Sum(h[:])
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Word returns the 32-bit little-endian word at the given index,
// treating h as an array of five uint32s. Used by the indirection
// table to pick a routing index from a fixed, randomly-chosen word
// of the query for the lifetime of the process.
func (h Hash) Word(i int) uint32 {
	o := i * 4
	return uint32(h[o]) | uint32(h[o+1])<<8 | uint32(h[o+2])<<16 | uint32(h[o+3])<<24
}

// WordCount is the number of uint32 words in a Hash.
const WordCount = Size / 4

// String renders the hash as lowercase hex, matching the index and
// large-reply directory naming convention.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse parses a hex-encoded Hash.
func Parse(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash160: %w", err)
	}
	if len(b) != Size {
		return Hash{}, fmt.Errorf("hash160: expected %d bytes, got %d", Size, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// XORDistance returns the bitwise XOR distance between two hashes as
// a Hash (used by the migration engine to pick the content closest to
// a receiving peer's id).
func XORDistance(a, b Hash) Hash {
	var d Hash
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a represents a smaller distance/identifier
// than b under a big-endian byte-wise comparison.
func Less(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Bucket maps query to one of maxBuckets storage shards. The formula
// XORs the difference between each of query's five words and the
// corresponding word of Sum(query), then shifts away the low bits
// before reducing modulo maxBuckets. This specific formula must be
// preserved exactly: changing it silently reshuffles every key to a
// different shard on the next startup. maxBuckets of 0 is treated as 1.
func Bucket(query Hash, maxBuckets uint32) uint32 {
	if maxBuckets == 0 {
		maxBuckets = 1
	}
	qt := Sum(query[:])
	var mix uint32
	for i := 0; i < WordCount; i++ {
		mix ^= query.Word(i) - qt.Word(i)
	}
	return (mix >> 4) % maxBuckets
}
