// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package migration implements opportunistic content migration: a
// background prefetcher keeps a bounded buffer of randomly sampled,
// already-encoded content blocks, and a send-fill step drains the
// buffer entry whose hash lies closest to each receiving peer, so
// padding bytes in outgoing messages carry useful content instead of
// being wasted.
package migration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/hash160"
)

// BufferSize is the number of buffered content blocks the prefetcher
// keeps ready to push.
const BufferSize = 128

// OnDemandBlocks is how many sequential blocks to pull from an
// on-demand indexed file in one prefetch, amortizing the cost of
// opening and seeking the backing file across several pushes.
const OnDemandBlocks = 16

// minSleepSeconds and loadDivisor bound the backoff applied after a
// failed prefetch attempt: sleep for max(minSleepSeconds, load/loadDivisor)
// seconds, so a busy node backs off harder.
const (
	minSleepSeconds = 2
	loadDivisor     = 5
)

// ErrDisabled names the state in which active migration is turned off.
// SelectForPeer does not return it; it reports that state as ok=false.
var ErrDisabled = errors.New("migration: disabled")

// Source supplies randomly selected, ready-to-send content blocks to
// the prefetcher. It is satisfied by *content.Manager.
type Source interface {
	RetrieveRandomBlocks(maxBlocks int) (hash160.Hash, [][]byte, error)
}

type bufferedBlock struct {
	hash hash160.Hash
	data []byte
}

// Engine runs the background prefetcher and serves send-fill requests
// from its buffer.
type Engine struct {
	mu      sync.Mutex
	buf     []bufferedBlock
	enabled bool

	source   Source
	loadFunc func() int
	sleep    func(time.Duration)
	room     chan struct{} // one token per free buffer slot
	log      log.Logger
}

// Config bundles Engine construction parameters.
type Config struct {
	Source Source
	// LoadFunc reports the node's current CPU load as a percentage,
	// used to back off the prefetcher under load. Nil defaults to a
	// constant 0 (no backoff pressure) until a load tracker is wired in.
	LoadFunc func() int
	Log      log.Logger
}

// New constructs an Engine with an empty, enabled buffer.
func New(cfg Config) *Engine {
	loadFunc := cfg.LoadFunc
	if loadFunc == nil {
		loadFunc = func() int { return 0 }
	}
	room := make(chan struct{}, BufferSize)
	for i := 0; i < BufferSize; i++ {
		room <- struct{}{}
	}
	return &Engine{
		enabled:  true,
		source:   cfg.Source,
		loadFunc: loadFunc,
		sleep:    time.Sleep,
		room:     room,
		log:      cfg.Log,
	}
}

// SetEnabled turns active migration on or off. When disabled,
// SelectForPeer returns ok=false and the prefetch loop idles.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Run blocks until the buffer has room for a full batch of
// OnDemandBlocks, pulls that many fresh content blocks from source to
// refill it, and repeats until ctx is canceled. It backs off after an
// empty store or migration-ineligible pick, proportionally to load.
// Waiting for a full batch's worth of room (rather than firing on a
// single free slot) amortizes the cost of opening and seeking the
// on-demand source file across a whole batch instead of paying it for
// a single block that happens to fit.
func (e *Engine) Run(ctx context.Context) {
	for {
		if !e.acquireRoom(ctx, OnDemandBlocks) {
			return
		}

		e.mu.Lock()
		disabled := !e.enabled
		e.mu.Unlock()
		if disabled {
			e.releaseRoom(OnDemandBlocks)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		key, blocks, err := e.source.RetrieveRandomBlocks(OnDemandBlocks)
		if err != nil {
			e.backoff(ctx)
			e.releaseRoom(OnDemandBlocks)
			continue
		}

		e.mu.Lock()
		accepted := 0
		for _, b := range blocks {
			if len(e.buf) >= BufferSize {
				break
			}
			e.buf = append(e.buf, bufferedBlock{hash: key, data: b})
			accepted++
		}
		e.mu.Unlock()
		if unused := OnDemandBlocks - accepted; unused > 0 {
			e.releaseRoom(unused)
		}
	}
}

// acquireRoom blocks until n buffer slots are free, reserving all n as
// a single batch so the prefetcher never pulls a fresh on-demand batch
// until there is genuinely room for the whole thing. Returns false if
// ctx is canceled first, returning any partially acquired slots.
func (e *Engine) acquireRoom(ctx context.Context, n int) bool {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			e.releaseRoom(i)
			return false
		case <-e.room:
		}
	}
	return true
}

// releaseRoom returns n buffer slots' worth of tokens to the room
// channel, dropping any that would overflow its capacity.
func (e *Engine) releaseRoom(n int) {
	for i := 0; i < n; i++ {
		select {
		case e.room <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) backoff(ctx context.Context) {
	load := e.loadFunc()
	if load < minSleepSeconds*loadDivisor {
		load = minSleepSeconds * loadDivisor
	}
	d := time.Duration(load/loadDivisor) * time.Second
	if e.log != nil {
		e.log.Debug("migration prefetch empty, backing off", "seconds", d.Seconds())
	}
	done := make(chan struct{})
	go func() {
		e.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// SelectForPeer removes and returns the buffered block whose hash is
// closest (XOR distance) to receiver, freeing its buffer slot for the
// prefetcher to refill. It returns ok=false if the buffer is empty or
// migration is disabled.
func (e *Engine) SelectForPeer(receiver ids.NodeID) (key hash160.Hash, data []byte, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled || len(e.buf) == 0 {
		return hash160.Hash{}, nil, false
	}

	var peerHash hash160.Hash
	copy(peerHash[:], receiver[:])

	minIdx := 0
	minDist := hash160.XORDistance(e.buf[0].hash, peerHash)
	for i := 1; i < len(e.buf); i++ {
		d := hash160.XORDistance(e.buf[i].hash, peerHash)
		if hash160.Less(d, minDist) {
			minDist = d
			minIdx = i
		}
	}

	chosen := e.buf[minIdx]
	last := len(e.buf) - 1
	e.buf[minIdx] = e.buf[last]
	e.buf = e.buf[:last]

	select {
	case e.room <- struct{}{}:
	default:
	}

	return chosen.hash, chosen.data, true
}

// FillSendBuffer repeatedly calls SelectForPeer and hands each result
// to encode until encode reports no more room or the buffer runs dry.
// It returns the number of blocks written. encode receives the block's
// query hash and payload and reports whether it fit.
func (e *Engine) FillSendBuffer(receiver ids.NodeID, encode func(key hash160.Hash, data []byte) (fit bool)) int {
	written := 0
	for {
		key, data, ok := e.SelectForPeer(receiver)
		if !ok {
			return written
		}
		if !encode(key, data) {
			// put it back; the caller's buffer is full, not this entry's fault.
			e.mu.Lock()
			e.buf = append(e.buf, bufferedBlock{hash: key, data: data})
			select {
			case <-e.room:
			default:
			}
			e.mu.Unlock()
			return written
		}
		written++
	}
}

// Len reports the number of blocks currently buffered.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}
