// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/trust"
)

type fixedLoad int

func (f fixedLoad) NetworkLoadUp() int { return int(f) }

func TestEvaluateQueryIdleIsFree(t *testing.T) {
	require := require.New(t)
	tm := trust.NewManager()
	d := EvaluateQuery(ids.NodeID{1}, 500, tm, fixedLoad(10))
	require.True(d.Answer)
	require.True(d.Forward)
	require.True(d.Indirect)
	require.Equal(uint32(0), d.Priority)
}

func TestEvaluateQueryChargesTrustUnderLoad(t *testing.T) {
	require := require.New(t)
	tm := trust.NewManager()
	peer := ids.NodeID{1}
	tm.Credit(peer, 100)

	d := EvaluateQuery(peer, 30, tm, fixedLoad(60))
	require.Equal(uint32(30), d.Priority)
	require.Equal(uint32(70), tm.Balance(peer))
}

func TestEvaluateQueryCapsChargeAtAvailableTrust(t *testing.T) {
	require := require.New(t)
	tm := trust.NewManager()
	peer := ids.NodeID{2}
	tm.Credit(peer, 5)

	d := EvaluateQuery(peer, 30, tm, fixedLoad(60))
	require.Equal(uint32(5), d.Priority)
}

func TestEvaluateQueryDropsAtFullSaturation(t *testing.T) {
	require := require.New(t)
	tm := trust.NewManager()
	d := EvaluateQuery(ids.NodeID{3}, 0, tm, fixedLoad(100))
	require.True(d.Dropped())
}

func TestEvaluateQueryAnswerOnlyAtHighLoad(t *testing.T) {
	require := require.New(t)
	tm := trust.NewManager()
	peer := ids.NodeID{4}
	tm.Credit(peer, 1)

	d := EvaluateQuery(peer, 0, tm, fixedLoad(95))
	require.True(d.Answer)
	require.False(d.Forward)
	require.False(d.Indirect)
}

func TestEvaluateContentCloseIsPrioritized(t *testing.T) {
	require := require.New(t)
	self := hash160.Sum([]byte("self"))
	close := self // zero distance

	p, ok := EvaluateContent(close, self, 10)
	require.True(ok)
	require.Equal(uint32(10*16), p)
}

func TestEvaluateContentFarIsRejected(t *testing.T) {
	require := require.New(t)
	self := hash160.Hash{}
	var far hash160.Hash
	for i := range far {
		far[i] = 0xFF
	}

	_, ok := EvaluateContent(far, self, 10)
	require.False(ok)
}
