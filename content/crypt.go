// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package content

import (
	"encoding/binary"

	"github.com/luxfi/afscore/hash160"
)

// encryptBlock XORs plaintext with a keystream derived from key by
// repeated hashing, key || counter, of a one-block run. The same
// function decrypts: XOR is its own inverse. This is the on-demand
// "encode" step described for indexed content: it is a convergent
// encryption scheme (the key is derived from the content itself), not
// a confidentiality mechanism, so any deterministic keystream
// construction is equivalent as long as every reader derives the same
// key from the same plaintext hash.
func encryptBlock(plaintext []byte, key hash160.Hash) []byte {
	out := make([]byte, len(plaintext))
	var counter uint32
	pos := 0
	for pos < len(plaintext) {
		var seed [hash160.Size + 4]byte
		copy(seed[:hash160.Size], key[:])
		binary.BigEndian.PutUint32(seed[hash160.Size:], counter)
		ks := hash160.Sum(seed[:])

		n := len(plaintext) - pos
		if n > hash160.Size {
			n = hash160.Size
		}
		for i := 0; i < n; i++ {
			out[pos+i] = plaintext[pos+i] ^ ks[i]
		}
		pos += n
		counter++
	}
	return out
}
