// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bloom implements the two counting bloom filters that
// short-circuit negative content lookups: one for ordinary content
// (CHK/CHKS/3HASH/SBLOCK), one for SUPER keyword-bundle
// advertisements. Both are sized from the configured disk quota and
// persisted across restarts.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/bits-and-blooms/bitset"

	"github.com/luxfi/afscore/hash160"
)

// HashPositions is the number of bit positions touched per key,
// yielding roughly 3% false positives at full quota utilization.
const HashPositions = 5

// ErrQuotaMismatch is returned by Load when the persisted quota
// does not match the configured quota. The original design treats
// this as fatal: a migration tool must be used.
var ErrQuotaMismatch = errors.New("bloom: persisted quota does not match configured quota")

// Filter is a counting bloom filter: each bit position also has an
// associated reference count so that Remove can decrement instead of
// blindly clearing a bit that other keys still depend on.
type Filter struct {
	bits    *bitset.BitSet
	counts  []uint16
	nbits   uint
	quotaKB uint32
}

// New creates a filter sized for quotaKB kibibytes of content, at 8
// bits per kibibyte.
func New(quotaKB uint32) *Filter {
	nbits := uint(quotaKB) * 8
	if nbits == 0 {
		nbits = 8
	}
	return &Filter{
		bits:    bitset.New(nbits),
		counts:  make([]uint16, nbits),
		nbits:   nbits,
		quotaKB: quotaKB,
	}
}

func (f *Filter) positions(key hash160.Hash) [HashPositions]uint {
	var pos [HashPositions]uint
	// Five independent positions are derived from the 160-bit key by
	// combining adjacent 32-bit words; this spreads the key's entropy
	// across the filter without requiring a separate hash per slot.
	for i := 0; i < HashPositions; i++ {
		w1 := key.Word(i % hash160.WordCount)
		w2 := key.Word((i + 1) % hash160.WordCount)
		mix := w1*2654435761 + w2 + uint32(i)
		pos[i] = uint(mix) % f.nbits
	}
	return pos
}

// Add sets the bits for key, incrementing each position's reference
// count.
func (f *Filter) Add(key hash160.Hash) {
	for _, p := range f.positions(key) {
		if f.counts[p] < 0xFFFF {
			f.counts[p]++
		}
		f.bits.Set(p)
	}
}

// Remove decrements the reference count for each of key's positions,
// clearing the bit only when its count reaches zero. This preserves
// bits shared by other, still-present keys.
func (f *Filter) Remove(key hash160.Hash) {
	for _, p := range f.positions(key) {
		if f.counts[p] == 0 {
			continue
		}
		f.counts[p]--
		if f.counts[p] == 0 {
			f.bits.Clear(p)
		}
	}
}

// Test reports whether key may be present. A false return is
// authoritative; a true return may be a false positive.
func (f *Filter) Test(key hash160.Hash) bool {
	for _, p := range f.positions(key) {
		if !f.bits.Test(p) {
			return false
		}
	}
	return true
}

// Reset clears the filter entirely.
func (f *Filter) Reset() {
	f.bits = bitset.New(f.nbits)
	for i := range f.counts {
		f.counts[i] = 0
	}
}

// QuotaKB returns the quota (in KiB) this filter was sized for.
func (f *Filter) QuotaKB() uint32 {
	return f.quotaKB
}

const fileMagic = "AFSBLOOM1"

// Save persists the filter's bits and counts to path. The reference
// counts are saved too (not just the bits) so that Remove continues
// to work correctly across restarts.
func (f *Filter) Save(path string) error {
	buf, err := f.bits.MarshalBinary()
	if err != nil {
		return fmt.Errorf("bloom: marshal bitset: %w", err)
	}
	out := make([]byte, 0, len(fileMagic)+4+4+len(buf)+len(f.counts)*2)
	out = append(out, fileMagic...)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], f.quotaKB)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(buf)))
	out = append(out, hdr[:]...)
	out = append(out, buf...)
	for _, c := range f.counts {
		var cb [2]byte
		binary.BigEndian.PutUint16(cb[:], c)
		out = append(out, cb[:]...)
	}
	return os.WriteFile(path, out, 0o600)
}

// Load reads a filter previously written by Save. It is fatal (in the
// sense that the caller should abort startup) if the persisted quota
// does not match configuredQuotaKB.
func Load(path string, configuredQuotaKB uint32) (*Filter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(configuredQuotaKB), nil
		}
		return nil, fmt.Errorf("bloom: read %s: %w", path, err)
	}
	if len(raw) < len(fileMagic)+8 || string(raw[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("bloom: %s: corrupt header", path)
	}
	off := len(fileMagic)
	quotaKB := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	bitsetLen := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	if quotaKB != configuredQuotaKB {
		return nil, fmt.Errorf("%w: persisted=%d configured=%d", ErrQuotaMismatch, quotaKB, configuredQuotaKB)
	}
	if uint32(len(raw)-off) < bitsetLen {
		return nil, fmt.Errorf("bloom: %s: truncated bitset", path)
	}
	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(raw[off : off+int(bitsetLen)]); err != nil {
		return nil, fmt.Errorf("bloom: unmarshal bitset: %w", err)
	}
	off += int(bitsetLen)
	nbits := uint(quotaKB) * 8
	if nbits == 0 {
		nbits = 8
	}
	counts := make([]uint16, nbits)
	for i := range counts {
		if off+2 > len(raw) {
			break
		}
		counts[i] = binary.BigEndian.Uint16(raw[off : off+2])
		off += 2
	}
	return &Filter{bits: bits, counts: counts, nbits: nbits, quotaKB: quotaKB}, nil
}
