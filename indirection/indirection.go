// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package indirection implements the routing core: a fixed-size table
// of slots, one per live query, that decides whether an incoming query
// needs to be answered locally, forwarded to peers, merely grown with
// a new waiter, or dropped outright. It also fans out replies to every
// party waiting on a slot and deduplicates them against a seen list.
package indirection

import (
	"math/rand/v2"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
)

// MinSize is the smallest table the indirection table will run with,
// regardless of configuration.
const MinSize = 8192

// TieBreakerChance is the 1-in-N odds of Case J's random replacement
// of an otherwise-busy slot. This is a protocol constant.
const TieBreakerChance = 4

// TTLDecrement is the unit by which query TTLs decay per hop, and the
// threshold for "significantly longer/shorter" deadline comparisons.
// It is a protocol constant, not a wall-clock duration.
const TTLDecrement = 300

// ClientID identifies a local client connection waiting on a slot.
type ClientID uint64

// Request describes an incoming query being considered for routing.
type Request struct {
	Query     hash160.Hash
	Namespace *hash160.Hash // present for SBLOCK queries
	Type      blocktype.Type
	TTL       int64 // signed; negative means "don't forward further"
	Priority  uint32
	FromPeer  *ids.NodeID // nil for a local client request
	FromLocal *ClientID
}

type slot struct {
	mu                  sync.Mutex
	occupied            bool
	query               hash160.Hash
	namespace           *hash160.Hash
	blockType           blocktype.Type
	deadline            int64
	priority            uint32
	remoteWaiters       []ids.NodeID
	localWaiters        []ClientID
	seen                []hash160.Hash
	localLookupInFlight bool
}

// Table is the fixed-size, power-of-two-sized indirection table.
type Table struct {
	slots     []slot
	mask      uint32
	wordIndex int
	rnd       func(n int) int
	now       func() int64
}

// New creates a table sized to at least MinSize slots (rounded up to
// the next power of two). wordIndex selects which 32-bit word of a
// query's hash picks its slot; callers should choose it randomly once
// at startup so that slot collisions are not predictable to an
// attacker across the process lifetime. rnd and now are injectable for
// deterministic tests.
func New(size, wordIndex int, rnd func(n int) int, now func() int64) *Table {
	if size < MinSize {
		size = MinSize
	}
	size = nextPowerOfTwo(size)
	if rnd == nil {
		rnd = func(n int) int {
			if n <= 0 {
				return 0
			}
			return rand.N(n)
		}
	}
	return &Table{
		slots:     make([]slot, size),
		mask:      uint32(size - 1),
		wordIndex: wordIndex % hash160.WordCount,
		rnd:       rnd,
		now:       now,
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table) routingIndex(query hash160.Hash) uint32 {
	return query.Word(t.wordIndex) & t.mask
}

// NeedsForwarding is the single function governing routing decisions.
// It returns isRouted (should the query be answered locally?) and
// doForward (should it be sent on to peers?).
func (t *Table) NeedsForwarding(req Request) (isRouted, doForward bool) {
	idx := t.routingIndex(req.Query)
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	newDeadline := now + req.TTL
	identical := s.occupied && s.query == req.Query
	significantlyLonger := s.occupied && newDeadline > s.deadline+TTLDecrement

	switch {
	case !s.occupied:
		t.replaceLocked(s, req, newDeadline)
		return true, true

	// Case A: slot effectively expired, new query not deeply negative.
	case s.deadline < now-10*TTLDecrement && req.TTL > -5*TTLDecrement:
		t.replaceLocked(s, req, newDeadline)
		return true, true

	// Case C: slot expiration significantly earlier than the new
	// deadline. Checked ahead of the identical-query-specific cases
	// below and takes priority over them regardless of whether the
	// slot's query matches req's, matching routing.c's precedence: an
	// identical, already-expired, multi-reply query with a non-empty
	// seen list still resets seen and replaces here rather than
	// falling through to Case F/I/J/K.
	case s.deadline+TTLDecrement < newDeadline:
		s.seen = nil
		routed := !s.localLookupInFlight
		t.replaceLocked(s, req, newDeadline)
		return routed, true

	// Case B: new ttl negative, identical query already tracked: grow only.
	case req.TTL < 0 && identical:
		t.growLocked(s, req, newDeadline)
		return false, false

	// Case D: identical query, nothing seen yet.
	case identical && len(s.seen) == 0:
		routed := !s.localLookupInFlight
		if significantlyLonger {
			t.replaceLocked(s, req, newDeadline)
			return routed, true
		}
		t.growLocked(s, req, newDeadline)
		return routed, false

	// Case E: identical, one CHK reply already seen, longer ttl requested.
	case identical && len(s.seen) == 1 && s.blockType == blocktype.CHK && significantlyLonger:
		s.seen = nil
		routed := !s.localLookupInFlight
		t.replaceLocked(s, req, newDeadline)
		return routed, true

	// Case F: identical multi-reply query, this waiter already present.
	case identical && req.Type.MultiReply() && t.hasWaiterLocked(s, req):
		t.growLocked(s, req, newDeadline)
		return significantlyLonger, false

	// Case G: expired slot holding a satisfied CHK: eager replace.
	case s.deadline < now && len(s.seen) == 1 && s.blockType == blocktype.CHK:
		t.replaceLocked(s, req, newDeadline)
		return true, true

	// Case H: nothing else applies and the new query won't be forwarded anyway.
	case req.TTL < 0:
		return false, false

	// Case I: the new query's priority justifies evicting the old one.
	case (s.deadline-now)*int64(req.Priority) > 10*(req.TTL*int64(s.priority)):
		t.replaceLocked(s, req, newDeadline)
		return true, true

	// Case J: tie-breaker random replacement.
	case t.rnd(TieBreakerChance) == 0:
		t.replaceLocked(s, req, newDeadline)
		return true, true

	// Case K: slot is busy, do nothing.
	default:
		return false, false
	}
}

func (t *Table) hasWaiterLocked(s *slot, req Request) bool {
	if req.FromPeer != nil {
		for _, p := range s.remoteWaiters {
			if p == *req.FromPeer {
				return true
			}
		}
	}
	if req.FromLocal != nil {
		for _, c := range s.localWaiters {
			if c == *req.FromLocal {
				return true
			}
		}
	}
	return false
}

// replaceLocked clears seen, the waiter lists, and the deadline, and
// installs req as the slot's new query.
func (t *Table) replaceLocked(s *slot, req Request, newDeadline int64) {
	s.occupied = true
	s.query = req.Query
	s.namespace = req.Namespace
	s.blockType = req.Type
	s.deadline = newDeadline
	s.priority = req.Priority
	s.seen = nil
	s.remoteWaiters = nil
	s.localWaiters = nil
	s.localLookupInFlight = false
	t.addWaiterLocked(s, req)
}

// growLocked adds req's waiter to the slot (deduplicated) and extends
// the deadline if the new one is later.
func (t *Table) growLocked(s *slot, req Request, newDeadline int64) {
	if newDeadline > s.deadline {
		s.deadline = newDeadline
	}
	t.addWaiterLocked(s, req)
}

func (t *Table) addWaiterLocked(s *slot, req Request) {
	if req.FromPeer != nil {
		for _, p := range s.remoteWaiters {
			if p == *req.FromPeer {
				return
			}
		}
		s.remoteWaiters = append(s.remoteWaiters, *req.FromPeer)
	}
	if req.FromLocal != nil {
		for _, c := range s.localWaiters {
			if c == *req.FromLocal {
				return
			}
		}
		s.localWaiters = append(s.localWaiters, *req.FromLocal)
	}
}

// SetLocalLookupInFlight marks (or clears) the slot holding query as
// having a local lookup in progress, to suppress a second concurrent
// lookup for the same query while a reply is deliberately delayed.
func (t *Table) SetLocalLookupInFlight(query hash160.Hash, inFlight bool) {
	idx := t.routingIndex(query)
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occupied && s.query == query {
		s.localLookupInFlight = inFlight
	}
}

// Deliver processes an arriving reply for query. It reports whether
// the reply was a duplicate (already in the slot's seen list), the
// amount of priority to credit to whichever peer sent this reply (the
// slot's priority is zeroed immediately after so a later reply isn't
// double-paid), and the full set of parties to fan the reply out to.
func (t *Table) Deliver(query hash160.Hash, namespace *hash160.Hash, payload []byte) (remote []ids.NodeID, local []ClientID, priorityCredit uint32, duplicate, delivered bool) {
	idx := t.routingIndex(query)
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.occupied || s.query != query {
		return nil, nil, 0, false, false
	}
	if namespace != nil {
		if s.namespace == nil || *s.namespace != *namespace {
			return nil, nil, 0, false, false
		}
	}

	contentHash := hash160.Sum(payload)
	for _, seen := range s.seen {
		if seen == contentHash {
			return nil, nil, 0, true, false
		}
	}

	credit := s.priority
	s.priority = 0
	s.seen = append(s.seen, contentHash)

	remote = append(remote, s.remoteWaiters...)
	local = append(local, s.localWaiters...)
	return remote, local, credit, false, true
}

// ClientDisconnect removes client from every slot's local-waiter list.
func (t *Table) ClientDisconnect(client ClientID) {
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		for j, c := range s.localWaiters {
			if c == client {
				last := len(s.localWaiters) - 1
				s.localWaiters[j] = s.localWaiters[last]
				s.localWaiters = s.localWaiters[:last]
				break
			}
		}
		s.mu.Unlock()
	}
}

// Size returns the number of slots in the table.
func (t *Table) Size() int {
	return len(t.slots)
}

// AveragePriority returns the mean priority of occupied, non-local
// slots: entries that carry at least one remote waiter, i.e. queries
// that arrived from (or were forwarded to) the network rather than
// being purely a local client's own search. Returns 0 if no such slot
// is occupied.
func (t *Table) AveragePriority() uint32 {
	var sum, count int64
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		if s.occupied && len(s.remoteWaiters) > 0 {
			sum += int64(s.priority)
			count++
		}
		s.mu.Unlock()
	}
	if count == 0 {
		return 0
	}
	return uint32(sum / count)
}
