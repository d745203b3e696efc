// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
)

func fixedClock(t int64) func() int64 {
	return func() int64 { return t }
}

func firstOf(v int) func(int) int {
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		return v % n
	}
}

func TestForwardQuerySelectsUpToFanout(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	peers := []ids.NodeID{{1}, {2}, {3}, {4}, {5}, {6}}
	selected := m.ForwardQuery(hash160.Sum([]byte("q1")), blocktype.CHK, 5, 1000, peers)
	require.Len(selected, ForwardFanout)

	seen := make(map[ids.NodeID]bool)
	for _, p := range selected {
		require.False(seen[p], "peer selected twice")
		seen[p] = true
	}
}

func TestForwardQueryFewerPeersThanFanout(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	peers := []ids.NodeID{{1}, {2}}
	selected := m.ForwardQuery(hash160.Sum([]byte("q2")), blocktype.CHK, 5, 1000, peers)
	require.Len(selected, 2)
}

func TestForwardQueryNoPeersReturnsEmpty(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	selected := m.ForwardQuery(hash160.Sum([]byte("q3")), blocktype.CHK, 5, 1000, nil)
	require.Empty(selected)
}

func TestRegisterResponseIncreasesRanking(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	q := hash160.Sum([]byte("q4"))
	busy := ids.NodeID{9}
	for i := 0; i < 100; i++ {
		m.RegisterResponse(busy)
	}

	ranking := m.rankPeer(q, busy)
	quiet := ids.NodeID{10}
	quietRanking := m.rankPeer(q, quiet)
	require.Greater(ranking, quietRanking)
}

func TestAgeRankingsHalvesAndEvicts(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	peer := ids.NodeID{1}
	m.RegisterResponse(peer)
	m.RegisterResponse(peer)
	m.RegisterResponse(peer)

	m.AgeRankings(1000)
	require.Equal(uint32(1), m.peers[peer].responseCount)

	m.AgeRankings(1000)
	// responseCount halves from 1 to 0 and the peer is dropped.
	_, ok := m.peers[peer]
	require.False(ok)
}

func TestAgeRankingsDropsStalePeers(t *testing.T) {
	require := require.New(t)
	now := int64(0)
	m := New(firstOf(0), func() int64 { return now })

	peer := ids.NodeID{1}
	m.RegisterResponse(peer)
	m.RegisterResponse(peer)

	now = 10000
	m.AgeRankings(100)
	_, ok := m.peers[peer]
	require.False(ok)
}

func TestDequeueMarksExpired(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	q := hash160.Sum([]byte("q5"))
	m.ForwardQuery(q, blocktype.CHK, 5, 1000, []ids.NodeID{{1}})

	m.Dequeue(q)
	idx, ok := m.byQuery[q]
	require.True(ok)
	require.True(m.records[idx].expired)
}

func TestFillSendBufferSkipsAlreadySentAndExpired(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	receiver := ids.NodeID{7}
	q1 := hash160.Sum([]byte("qa"))
	q2 := hash160.Sum([]byte("qb"))

	m.ForwardQuery(q1, blocktype.CHK, 1, 1000, []ids.NodeID{receiver})
	m.ForwardQuery(q2, blocktype.CHK, 1, 1000, []ids.NodeID{{8}})

	encoded := make(map[hash160.Hash]bool)
	n := m.FillSendBuffer(receiver, 1<<20, func(q hash160.Hash, typ blocktype.Type, priority uint32) (int, bool) {
		encoded[q] = true
		return 16, true
	})

	// q1 was already sent to receiver during ForwardQuery, so only q2
	// should be newly encoded.
	require.Equal(1, n)
	require.True(encoded[q2])
	require.False(encoded[q1])
}

func TestFillSendBufferRespectsBudget(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	receiver := ids.NodeID{7}
	for i := 0; i < 5; i++ {
		q := hash160.Sum([]byte{byte(i)})
		m.ForwardQuery(q, blocktype.CHK, 1, 1000, []ids.NodeID{{99}})
	}

	n := m.FillSendBuffer(receiver, 32, func(q hash160.Hash, typ blocktype.Type, priority uint32) (int, bool) {
		return 16, true
	})
	require.Equal(2, n)
}

func TestSlotForLockedEvictsEarliestDeadlineWhenFull(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(0))

	for i := 0; i < RecordCount; i++ {
		q := hash160.Sum([]byte{byte(i), byte(i >> 8)})
		m.slotForLocked(q, int64(i))
	}
	require.Len(m.byQuery, RecordCount)

	evictQuery := hash160.Sum([]byte{0, 0})
	_, present := m.byQuery[evictQuery]
	require.True(present)

	newQuery := hash160.Sum([]byte("overflow"))
	m.slotForLocked(newQuery, 1<<30)

	_, stillPresent := m.byQuery[evictQuery]
	require.False(stillPresent)
	_, nowPresent := m.byQuery[newQuery]
	require.True(nowPresent)
}

func TestForwardQuerySamplesCandidatePoolWhenOverCap(t *testing.T) {
	require := require.New(t)
	m := New(firstOf(0), fixedClock(100))

	peers := make([]ids.NodeID, rankingPoolCap*2)
	for i := range peers {
		peers[i] = ids.NodeID{byte(i), byte(i >> 8)}
	}

	selected := m.ForwardQuery(hash160.Sum([]byte("many-peers")), blocktype.CHK, 5, 1000, peers)
	require.Len(selected, ForwardFanout)
	for _, p := range selected {
		require.Contains(peers, p)
	}
}
