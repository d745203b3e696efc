// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package policy decides how much of a query's claimed priority to
// actually honor, and whether inbound content is worth keeping, both
// as a function of the node's current load. An idle node answers and
// forwards everything for free; a loaded node charges the query's
// priority against the sender's trust balance and scales back what it
// is willing to do as load approaches saturation.
package policy

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/trust"
)

// IdleLoadThreshold is the network load percentage below which queries
// are answered, forwarded, and indirected for free.
const IdleLoadThreshold = 50

// PriorityBitmask caps the priority a query decision may carry.
const PriorityBitmask = 0x0000FFFF

// Decision is the outcome of evaluating an incoming query: whether to
// answer it locally, forward it to peers, and/or indirect it (route it
// as if it originated here), plus the priority to carry forward.
type Decision struct {
	Answer   bool
	Forward  bool
	Indirect bool
	Priority uint32
}

// Dropped reports whether the decision says to drop the query
// entirely (none of the three actions apply).
func (d Decision) Dropped() bool {
	return !d.Answer && !d.Forward && !d.Indirect
}

// LoadSource reports the nodes' current resource usage. Satisfied by
// *load.Tracker.
type LoadSource interface {
	NetworkLoadUp() int
}

// EvaluateQuery decides how to handle a query of the given claimed
// priority arriving from sender. Below IdleLoadThreshold load, queries
// are free. Above it, the claimed priority is charged against the
// sender's trust balance (a malicious peer claiming a priority it
// hasn't earned gets capped at whatever trust it actually has), and
// the charged amount buys progressively less as load climbs toward
// saturation: answer-only above 90%+10*priority load, nothing at 100%.
func EvaluateQuery(sender ids.NodeID, priority uint32, charger trust.Manager, loadSrc LoadSource) Decision {
	netLoad := loadSrc.NetworkLoadUp()

	if netLoad < IdleLoadThreshold {
		return Decision{Answer: true, Forward: true, Indirect: true}
	}

	charged := charger.Charge(sender, priority)
	if charged > PriorityBitmask {
		charged = PriorityBitmask
	}

	switch {
	case netLoad < IdleLoadThreshold+int(charged):
		return Decision{Answer: true, Forward: true, Indirect: true, Priority: charged}
	case netLoad < 90+10*int(charged):
		return Decision{Answer: true, Forward: true, Priority: charged}
	case netLoad < 100:
		return Decision{Answer: true, Priority: charged}
	default:
		return Decision{}
	}
}

// EvaluateContent decides whether to keep content passing through and
// at what priority, based on how close its query key is to ours: the
// closer the content's key is to our own node identity, the more
// responsibility we have for caching it, expressed as log2 of the XOR
// distance. ok is false when the content is too far from us to be
// worth the priority's weight at all.
func EvaluateContent(query hash160.Hash, self hash160.Hash, priority uint32) (effectivePriority uint32, ok bool) {
	distance := hash160.XORDistance(query, self)
	bits := bitLength(distance)
	j := 16 - bits
	if j < 0 {
		return 0, false
	}
	return priority * uint32(j), true
}

// bitLength returns the position (1-based, from the most significant
// set bit) of the highest set bit in a big-endian hash treated as one
// large unsigned integer, i.e. floor(log2(value))+1. A zero hash has
// bit length 0.
func bitLength(h hash160.Hash) int {
	for i := 0; i < len(h); i++ {
		if h[i] == 0 {
			continue
		}
		bits := 0
		b := h[i]
		for b > 0 {
			bits++
			b >>= 1
		}
		return (len(h)-1-i)*8 + bits
	}
	return 0
}
