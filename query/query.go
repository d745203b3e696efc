// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package query implements the query manager: it tracks in-flight
// queries in a fixed-size ring, ranks connected peers to pick the best
// forwarding targets, fills outgoing send buffers from the ring, and
// ages per-peer response statistics so old behavior doesn't dominate
// forever.
package query

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/set"
)

// RecordCount is the size of the pending-query ring.
const RecordCount = 512

// ForwardFanout is the number of peers a forwarded query is sent to.
const ForwardFanout = 4

// NoClearChance is the 1-in-N odds that a fresh, recently-repeated
// query keeps its send-to bitmap instead of clearing it, so an
// eventually-forgotten query can be re-sent after a while.
const NoClearChance = 4

// responseRankingWeight and distanceRankingWeight are the protocol's
// fixed scoring constants: a peer's historical response count
// dominates the ranking, a random term inversely proportional to
// query/peer distance biases toward closer peers, and a small jitter
// keeps the ranking from being fully deterministic.
const (
	responseRankingWeight = 0x7FFF
	responseRankingCap    = 0x7FFFFFF
	distanceRankingWeight = 0xFFFF
	jitterRange           = 0xFF
)

// record is one pending forwarded query.
type record struct {
	query    hash160.Hash
	typ      blocktype.Type
	priority uint32
	deadline int64
	sentTo   set.Set[ids.NodeID]
	expired  bool
	lastSeen int64
}

// peerStats tracks a connected peer's recent responsiveness.
type peerStats struct {
	responseCount uint32
	lastReply     int64
}

// Manager is the query manager.
type Manager struct {
	mu            sync.Mutex
	records       [RecordCount]*record
	byQuery       map[hash160.Hash]int
	rotatingIndex int
	peers         map[ids.NodeID]*peerStats
	rnd           func(n int) int
	now           func() int64
}

// New returns an empty Manager. rnd and now are injectable for tests;
// a nil rnd defaults to math/rand/v2, while now has no default and
// must be supplied by the caller.
func New(rnd func(n int) int, now func() int64) *Manager {
	if rnd == nil {
		rnd = func(n int) int {
			if n <= 0 {
				return 0
			}
			return rand.N(n)
		}
	}
	return &Manager{
		byQuery: make(map[hash160.Hash]int),
		peers:   make(map[ids.NodeID]*peerStats),
		rnd:     rnd,
		now:     now,
	}
}

// ForwardQuery enters query into the ring (reusing an existing record
// for the same query, or evicting the soonest-expiring one) and
// returns up to ForwardFanout peers to forward it to, selected by a
// weighted random draw over a per-peer ranking.
func (m *Manager) ForwardQuery(q hash160.Hash, typ blocktype.Type, priority uint32, deadline int64, connected []ids.NodeID) []ids.NodeID {
	m.mu.Lock()
	r := m.slotForLocked(q, deadline)
	m.mu.Unlock()

	m.mu.Lock()
	fresh := !r.expired && deadline <= r.deadline+0 // conservative: slot not already past its old deadline
	recentRepeat := r.query == q && m.now()-r.lastSeen < 1
	if r.query != q || !fresh || !recentRepeat || m.rnd(NoClearChance) != 0 {
		r.sentTo = make(set.Set[ids.NodeID])
	}
	r.query = q
	r.typ = typ
	r.priority = priority
	if deadline > r.deadline {
		r.deadline = deadline
	}
	r.expired = false
	r.lastSeen = m.now()
	m.mu.Unlock()

	selected := m.rankAndSelect(q, connected)

	m.mu.Lock()
	r.sentTo.Add(selected...)
	m.mu.Unlock()

	return selected
}

// slotForLocked returns the record for q if already tracked, otherwise
// the record with the earliest deadline (evicting it). Callers must
// hold m.mu only around the map lookup; the returned record is
// returned unlocked for the caller to continue mutating (the Manager
// has no per-record lock, callers serialize through m.mu themselves).
func (m *Manager) slotForLocked(q hash160.Hash, deadline int64) *record {
	if idx, ok := m.byQuery[q]; ok {
		return m.records[idx]
	}

	oldestIdx := 0
	var oldestDeadline int64 = 1<<63 - 1
	for i, r := range m.records {
		if r == nil {
			oldestIdx = i
			oldestDeadline = -1 << 63
			break
		}
		if r.deadline < oldestDeadline {
			oldestDeadline = r.deadline
			oldestIdx = i
		}
	}

	if old := m.records[oldestIdx]; old != nil {
		delete(m.byQuery, old.query)
	}
	r := &record{}
	m.records[oldestIdx] = r
	m.byQuery[q] = oldestIdx
	return r
}

// rankingPoolCap bounds how many connected peers get individually
// ranked per query. Above this, a random subset is sampled first so
// ranking cost stays bounded regardless of how many peers are
// connected.
const rankingPoolCap = 64

// rankAndSelect scores a candidate pool of connected peers and draws
// ForwardFanout of them without replacement, weighted by ranking. When
// more than rankingPoolCap peers are connected, the candidate pool is
// itself a random sample, bounding ranking cost independent of the
// total peer count.
func (m *Manager) rankAndSelect(q hash160.Hash, connected []ids.NodeID) []ids.NodeID {
	if len(connected) == 0 {
		return nil
	}
	if len(connected) > rankingPoolCap {
		connected = set.Of(connected...).Sample(rankingPoolCap)
	}

	type candidate struct {
		peer    ids.NodeID
		ranking int64
	}
	pool := make([]candidate, len(connected))
	for i, p := range connected {
		pool[i] = candidate{peer: p, ranking: m.rankPeer(q, p)}
	}

	n := ForwardFanout
	if n > len(pool) {
		n = len(pool)
	}

	selected := make([]ids.NodeID, 0, n)
	for i := 0; i < n; i++ {
		var sum int64
		for _, c := range pool {
			sum += c.ranking
		}
		var idx int
		if sum <= 0 {
			idx = m.rnd(len(pool))
		} else {
			sel := int64(m.rnd(int(sum)))
			var pos int64
			for j, c := range pool {
				pos += c.ranking
				if sel < pos {
					idx = j
					break
				}
			}
		}
		selected = append(selected, pool[idx].peer)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return selected
}

func (m *Manager) rankPeer(q hash160.Hash, peer ids.NodeID) int64 {
	m.mu.Lock()
	stats := m.peers[peer]
	m.mu.Unlock()

	var ranking int64
	if stats != nil {
		if stats.responseCount < 0xFFFF {
			ranking = int64(responseRankingWeight) * int64(stats.responseCount)
		} else {
			ranking = responseRankingCap
		}
	}

	distance := peerDistance(q, peer)
	if distance <= 0 {
		distance = 1
	}
	ranking += int64(distanceRankingWeight) / (1 + int64(m.rnd(distance)))
	ranking += int64(m.rnd(jitterRange))
	return ranking
}

// peerDistance renders the XOR distance between a query and a peer id
// as a positive integer usable as a divisor.
func peerDistance(q hash160.Hash, peer ids.NodeID) int {
	var peerHash hash160.Hash
	n := copy(peerHash[:], peer[:])
	_ = n
	d := hash160.XORDistance(q, peerHash)
	v := int(binary.BigEndian.Uint32(d[:4]))
	if v < 0 {
		v = -v
	}
	return v
}

// RegisterResponse credits peer with one more response, refreshing its
// last-reply timestamp.
func (m *Manager) RegisterResponse(peer ids.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.peers[peer]
	if !ok {
		s = &peerStats{}
		m.peers[peer] = s
	}
	s.responseCount++
	s.lastReply = m.now()
}

// AgeRankings halves every peer's response count, drops peers whose
// count has reached zero, and drops peers whose last reply is older
// than maxIdle. Run this on a 2-minute timer.
func (m *Manager) AgeRankings(maxIdle int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for peer, s := range m.peers {
		s.responseCount /= 2
		if s.responseCount == 0 || now-s.lastReply > maxIdle {
			delete(m.peers, peer)
		}
	}
}

// Dequeue marks every ring entry matching query as expired, because an
// answer has already arrived.
func (m *Manager) Dequeue(q hash160.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byQuery[q]; ok {
		m.records[idx].expired = true
	}
}

// FillSendBuffer scans the ring starting from the persistent rotating
// index, invoking encode for each non-expired entry the receiver
// hasn't already gotten. encode serializes the query and returns its
// byte size and whether it was written; FillSendBuffer stops once
// budget bytes have been spent, an entry is larger than the remaining
// budget, or the whole ring has been scanned once, and returns the
// number of entries copied into the buffer.
func (m *Manager) FillSendBuffer(receiver ids.NodeID, budget int, encode func(q hash160.Hash, typ blocktype.Type, priority uint32) (size int, ok bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	filled := 0
	for scanned := 0; scanned < RecordCount && budget > 0; scanned++ {
		idx := (m.rotatingIndex + scanned) % RecordCount
		r := m.records[idx]
		if r == nil || r.expired {
			continue
		}
		if r.sentTo.Contains(receiver) {
			continue
		}
		size, ok := encode(r.query, r.typ, r.priority)
		if !ok {
			continue
		}
		if size > budget {
			break
		}
		if r.sentTo == nil {
			r.sentTo = make(set.Set[ids.NodeID])
		}
		r.sentTo.Add(receiver)
		budget -= size
		filled++
	}
	m.rotatingIndex = (m.rotatingIndex + 1) % RecordCount
	return filled
}
