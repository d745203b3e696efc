// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrappers

import "errors"

// ErrInsufficientLength is returned by Unpacker methods when the
// remaining bytes are too short for the requested field.
var ErrInsufficientLength = errors.New("insufficient length to unpack")

// Packer builds a big-endian byte record. The store backends
// (store/luxdb, store/pebblestore) encode their entries with it.
type Packer struct {
	Bytes []byte
	Err   error
}

// NewPacker returns a new Packer with capacity hint size.
func NewPacker(size int) *Packer {
	return &Packer{
		Bytes: make([]byte, 0, size),
	}
}

// PackByte packs a single byte.
func (p *Packer) PackByte(b byte) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, b)
}

// PackBytes packs a raw byte slice verbatim (no length prefix).
func (p *Packer) PackBytes(bytes []byte) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, bytes...)
}

// PackInt packs a uint32 big-endian.
func (p *Packer) PackInt(i uint32) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
}

// PackLong packs a uint64 big-endian.
func (p *Packer) PackLong(l uint64) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes,
		byte(l>>56), byte(l>>48), byte(l>>40), byte(l>>32),
		byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
}

// Unpacker reads fields out of a big-endian wire message. It never
// panics: once the buffer is exhausted every method sets Err and
// subsequent calls become no-ops, so callers can unpack a whole
// message and check Err once at the end.
type Unpacker struct {
	Bytes  []byte
	offset int
	Err    error
}

// NewUnpacker wraps a received message for field-by-field parsing.
func NewUnpacker(bytes []byte) *Unpacker {
	return &Unpacker{Bytes: bytes}
}

// Remaining returns the number of bytes not yet consumed.
func (u *Unpacker) Remaining() int {
	return len(u.Bytes) - u.offset
}

// UnpackByte reads a single byte.
func (u *Unpacker) UnpackByte() byte {
	if u.Err != nil {
		return 0
	}
	if u.Remaining() < 1 {
		u.Err = ErrInsufficientLength
		return 0
	}
	b := u.Bytes[u.offset]
	u.offset++
	return b
}

// UnpackBytes reads exactly n raw bytes.
func (u *Unpacker) UnpackBytes(n int) []byte {
	if u.Err != nil {
		return nil
	}
	if u.Remaining() < n {
		u.Err = ErrInsufficientLength
		return nil
	}
	out := make([]byte, n)
	copy(out, u.Bytes[u.offset:u.offset+n])
	u.offset += n
	return out
}

// UnpackInt reads a big-endian uint32.
func (u *Unpacker) UnpackInt() uint32 {
	b := u.UnpackBytes(4)
	if u.Err != nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// UnpackLong reads a big-endian uint64.
func (u *Unpacker) UnpackLong() uint64 {
	b := u.UnpackBytes(8)
	if u.Err != nil {
		return 0
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
