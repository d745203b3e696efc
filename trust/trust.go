// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package trust tracks a per-peer trust balance: credits earned by a
// peer answering our queries, spent down when we charge a peer's
// queries against its balance under load. It is the bookkeeping layer
// the query policy leans on to decide how much of an incoming query's
// claimed priority to actually honor.
package trust

import (
	"sync"

	"github.com/luxfi/ids"
)

// Manager tracks per-peer trust balances.
type Manager interface {
	// Charge attempts to debit amount from peer's balance and returns
	// the amount actually debited, which is capped at the peer's
	// current balance (a peer can never be charged into the negative).
	Charge(peer ids.NodeID, amount uint32) uint32
	// Credit adds amount to peer's balance, uncapped.
	Credit(peer ids.NodeID, amount uint32)
	// Balance reports peer's current trust balance.
	Balance(peer ids.NodeID) uint32
}

type manager struct {
	mu      sync.Mutex
	balance map[ids.NodeID]uint32
}

// NewManager returns an empty trust Manager; every peer starts at a
// balance of zero.
func NewManager() Manager {
	return &manager{
		balance: make(map[ids.NodeID]uint32),
	}
}

func (m *manager) Charge(peer ids.NodeID, amount uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	have := m.balance[peer]
	if amount > have {
		amount = have
	}
	m.balance[peer] = have - amount
	return amount
}

func (m *manager) Credit(peer ids.NodeID, amount uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[peer] += amount
}

func (m *manager) Balance(peer ids.NodeID) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[peer]
}
