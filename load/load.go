// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package load tracks exponentially-decaying resource usage meters
// for CPU and upstream/downstream network bandwidth, reported as a
// percentage of a configured target. The query policy and migration
// engine both back off when these numbers climb.
package load

import (
	"sync"
	"time"
)

// decayHalfLife is how long it takes a sample's contribution to an
// idle meter to decay by half, smoothing out short spikes while still
// tracking sustained load within a few seconds.
const decayHalfLife = 4 * time.Second

// Meter is a single exponentially-decaying usage percentage.
type Meter struct {
	mu      sync.Mutex
	value   float64
	lastAt  time.Time
	nowFunc func() time.Time
}

// NewMeter returns a Meter starting at 0%. nowFunc is injectable for
// tests; nil defaults to time.Now.
func NewMeter(nowFunc func() time.Time) *Meter {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Meter{nowFunc: nowFunc}
}

// Sample folds a fresh percentage reading (0-100) into the meter,
// decaying the previous value by elapsed time first. The first sample
// is taken as-is.
func (m *Meter) Sample(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	first := m.lastAt.IsZero()
	elapsed := now.Sub(m.lastAt)
	m.lastAt = now

	if first || elapsed <= 0 {
		m.value = percent
		return
	}
	decay := halfLifeDecay(elapsed)
	m.value = m.value*decay + percent*(1-decay)
}

func halfLifeDecay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	ratio := float64(elapsed) / float64(decayHalfLife)
	// 0.5^ratio, computed without math.Pow to keep this dependency-free:
	// one multiplication by 0.5 per whole unit of the (small,
	// non-negative) ratio.
	result := 1.0
	base := 0.5
	for ratio > 0 {
		if ratio >= 1 {
			result *= base
			ratio--
		} else {
			// Linear blend for the fractional remainder; fine for a
			// smoothing heuristic, not meant to be exact.
			result *= 1 - ratio*(1-base)
			ratio = 0
		}
	}
	return result
}

// Value returns the meter's current percentage reading.
func (m *Meter) Value() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.value)
}

// Tracker bundles the meters the AFS policy consults: CPU load and
// upstream/downstream network load, each 0-100.
type Tracker struct {
	CPU         *Meter
	NetworkUp   *Meter
	NetworkDown *Meter
}

// NewTracker returns a Tracker with all meters starting at 0%.
func NewTracker() *Tracker {
	return &Tracker{
		CPU:         NewMeter(nil),
		NetworkUp:   NewMeter(nil),
		NetworkDown: NewMeter(nil),
	}
}

// CPULoad reports current CPU load as a percentage, for the migration
// engine's backoff calculation.
func (t *Tracker) CPULoad() int {
	return t.CPU.Value()
}

// NetworkLoadUp reports current upstream network load as a
// percentage, for the query policy's idle-load check.
func (t *Tracker) NetworkLoadUp() int {
	return t.NetworkUp.Value()
}
