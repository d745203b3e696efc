// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package handler wires together the indirection table, content
// manager, query manager, and query/content policies into the
// request/response dispatch a peer-to-peer or local client message
// actually drives: an incoming query gets TTL-decremented, policy
// charged, routed for a local answer and/or forwarded to peers; an
// incoming content reply gets delivered to whoever was waiting on it,
// policy-evaluated for local replication, and inserted.
package handler

import (
	"errors"
	"math/rand/v2"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/content"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/indirection"
	"github.com/luxfi/afscore/policy"
	"github.com/luxfi/afscore/query"
	"github.com/luxfi/afscore/trust"
)

// ContentBandwidthValue is the minimum traffic preference reported for
// a peer that has just delivered content, even at zero priority: a
// useful block is worth more bandwidth attention than an empty query.
const ContentBandwidthValue = 0.8

// QueryBandwidthValue is the corresponding floor for queries.
const QueryBandwidthValue = 0.01

// ErrMalformed is returned when a request carries no query keys.
var ErrMalformed = errors.New("handler: malformed request, no queries")

// QueryRequest describes an incoming query, from either a peer
// (Sender set, Local nil) or a local client (Sender nil, Local set).
type QueryRequest struct {
	Sender    *ids.NodeID
	Local     *indirection.ClientID
	Queries   []hash160.Hash
	Namespace *hash160.Hash
	Type      blocktype.Type
	TTL       int64
	Priority  uint32
}

// LocalAnswer pairs a query with the content.Manager's local answer
// for it.
type LocalAnswer struct {
	Query hash160.Hash
	Data  []byte
}

// QueryOutcome reports the result of dispatching a QueryRequest.
type QueryOutcome struct {
	Dropped      bool
	LocalAnswers []LocalAnswer
	ForwardTo    []ids.NodeID
}

// ContentMessage describes an incoming content reply. Key is the
// identifier passed to the content manager for storage: the raw
// content hash for CHK, the pre-double metadata hash for 3HASH, the
// SBlock identifier for SBLOCK. Sender is nil when the content
// originated locally (no migration bookkeeping needed).
type ContentMessage struct {
	Sender *ids.NodeID
	Type   blocktype.Type
	Key    hash160.Hash
	Data   []byte
}

// ContentOutcome reports the result of dispatching a ContentMessage.
type ContentOutcome struct {
	ForwardTo    []ids.NodeID
	LocalDeliver []indirection.ClientID
	Stored       bool
	Preference   float64
}

// Dispatcher ties the routing, storage, and policy subsystems
// together to process incoming queries and content.
type Dispatcher struct {
	Indirect  *indirection.Table
	Content   *content.Manager
	Query     *query.Manager
	Trust     trust.Manager
	Load      policy.LoadSource
	Self      hash160.Hash
	Connected func() []ids.NodeID
	Rand      func(n int) int
}

func (d *Dispatcher) rnd(n int) int {
	if d.Rand != nil {
		return d.Rand(n)
	}
	if n <= 0 {
		return 0
	}
	return rand.N(n)
}

// HandleQuery decrements the request's TTL, charges its priority
// against the sender's trust balance (for peer-originated requests,
// under load), and routes every query key through the indirection
// table, collecting local answers and forwarding targets.
func (d *Dispatcher) HandleQuery(req QueryRequest) (QueryOutcome, error) {
	if len(req.Queries) == 0 {
		return QueryOutcome{}, ErrMalformed
	}

	ttl := req.TTL
	decrement := int64(2*indirection.TTLDecrement + d.rnd(indirection.TTLDecrement))
	if ttl < 0 {
		ttl -= decrement
		if ttl > 0 {
			return QueryOutcome{Dropped: true}, nil
		}
	} else {
		ttl -= decrement
	}

	priority := req.Priority
	if req.Sender != nil {
		decision := policy.EvaluateQuery(*req.Sender, priority, d.Trust, d.Load)
		if decision.Dropped() {
			return QueryOutcome{Dropped: true}, nil
		}
		if decision.Priority < priority {
			priority = decision.Priority
		}
	}
	priority /= uint32(len(req.Queries))

	bound := (int64(priority) + 3) * indirection.TTLDecrement
	if ttl > 0 && ttl > bound {
		ttl = bound
	}

	var outcome QueryOutcome
	connected := d.connectedPeers()
	for _, q := range req.Queries {
		routed, forward := d.Indirect.NeedsForwarding(indirection.Request{
			Query:     q,
			Namespace: req.Namespace,
			Type:      req.Type,
			TTL:       ttl,
			Priority:  priority,
			FromPeer:  req.Sender,
			FromLocal: req.Local,
		})
		if routed {
			if data, err := d.Content.Retrieve(q, priority, req.Sender == nil); err == nil {
				outcome.LocalAnswers = append(outcome.LocalAnswers, LocalAnswer{Query: q, Data: data})
			}
		}
		if forward && d.Query != nil {
			peers := d.Query.ForwardQuery(q, req.Type, priority, ttl, connected)
			outcome.ForwardTo = append(outcome.ForwardTo, peers...)
		}
	}
	return outcome, nil
}

func (d *Dispatcher) connectedPeers() []ids.NodeID {
	if d.Connected == nil {
		return nil
	}
	return d.Connected()
}

// AveragePriority serves the local "Get-average-priority" client
// opcode: the mean priority of non-local indirection entries.
func (d *Dispatcher) AveragePriority() uint32 {
	return d.Indirect.AveragePriority()
}

// routingKey derives the indirection-table slot key for a piece of
// content from its type and the identifier the content manager stores
// it under: 3HASH's routing key is the double-hash of its metadata
// hash, everything else routes on its own identifier.
func routingKey(typ blocktype.Type, key hash160.Hash) hash160.Hash {
	if typ == blocktype.ThreeHash {
		return key.Double()
	}
	return key
}

// HandleContent delivers an incoming content reply to whoever was
// waiting on it, credits the sending peer's priority, evaluates
// whether the node should keep the content locally, and inserts it
// when the policy says yes.
func (d *Dispatcher) HandleContent(msg ContentMessage) (ContentOutcome, error) {
	key := routingKey(msg.Type, msg.Key)
	remote, local, credit, _, _ := d.Indirect.Deliver(key, nil, msg.Data)

	outcome := ContentOutcome{ForwardTo: remote, LocalDeliver: local}
	preference := float64(credit)

	if msg.Sender == nil {
		outcome.Preference = preference
		return outcome, nil
	}
	if credit > 0 && d.Trust != nil {
		d.Trust.Credit(*msg.Sender, credit)
	}

	effPriority, ok := policy.EvaluateContent(key, d.Self, credit)
	if ok {
		preference += float64(effPriority)
	}
	if preference < ContentBandwidthValue {
		preference = ContentBandwidthValue
	}
	outcome.Preference = preference

	if !ok {
		return outcome, nil
	}

	dup, err := d.Content.Insert(content.Request{
		Type:       msg.Type,
		Hash:       msg.Key,
		Importance: effPriority,
		Data:       msg.Data,
		FromPeer:   true,
	})
	if err != nil {
		return outcome, err
	}
	outcome.Stored = !dup
	return outcome, nil
}
