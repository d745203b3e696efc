// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blocktype defines the five wire block-type tags shared by
// every AFS subsystem.
package blocktype

// Type is the 16-bit block-type tag carried in a content descriptor
// and on the wire.
type Type uint16

const (
	// CHK is an opaque 1 KiB encrypted payload addressed by the hash
	// of its own ciphertext.
	CHK Type = iota + 1
	// CHKS is a CHK block that has been indexed (on-demand encoded);
	// distinguished from CHK only for bloom-filter routing purposes.
	CHKS
	// ThreeHash is a keyword-search result; multiple results may
	// share one query key.
	ThreeHash
	// SBlock is a signed entry in a namespace; multiple results may
	// share one query key.
	SBlock
	// Super is a compact set-membership advertisement for keyword
	// bundles.
	Super
)

// String renders the block type for logging.
func (t Type) String() string {
	switch t {
	case CHK:
		return "CHK"
	case CHKS:
		return "CHKS"
	case ThreeHash:
		return "3HASH"
	case SBlock:
		return "SBLOCK"
	case Super:
		return "SUPER"
	default:
		return "UNKNOWN"
	}
}

// MultiReply reports whether multiple results may legitimately share
// one query key (3HASH, SBLOCK), as opposed to single-reply types
// (CHK, CHKS, SUPER) where a second insert is a collision/replace
// decision rather than an append.
func (t Type) MultiReply() bool {
	return t == ThreeHash || t == SBlock
}
