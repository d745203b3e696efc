// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AFS bundles the prometheus collectors a running node reports:
// indirection table occupancy, content store activity, query
// forwarding fanout, and migration buffer throughput.
type AFS struct {
	Registry prometheus.Registerer

	IndirectionSlotsUsed  prometheus.Gauge
	QueriesForwarded      prometheus.Counter
	QueriesAnswered       prometheus.Counter
	ContentInserted       prometheus.Counter
	ContentEvicted        prometheus.Counter
	ContentQuotaUsedShard *prometheus.GaugeVec
	MigrationBufferLen    prometheus.Gauge
	MigrationPushed       prometheus.Counter
}

// NewAFS constructs and registers an AFS metrics bundle against reg.
func NewAFS(reg prometheus.Registerer) (*AFS, error) {
	m := &AFS{
		Registry: reg,
		IndirectionSlotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "afs",
			Subsystem: "indirection",
			Name:      "slots_used",
			Help:      "Number of occupied indirection table slots.",
		}),
		QueriesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afs",
			Subsystem: "query",
			Name:      "forwarded_total",
			Help:      "Total queries forwarded to peers.",
		}),
		QueriesAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afs",
			Subsystem: "query",
			Name:      "answered_total",
			Help:      "Total queries answered from local content.",
		}),
		ContentInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afs",
			Subsystem: "content",
			Name:      "inserted_total",
			Help:      "Total content entries inserted.",
		}),
		ContentEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afs",
			Subsystem: "content",
			Name:      "evicted_total",
			Help:      "Total content entries evicted to satisfy quota.",
		}),
		ContentQuotaUsedShard: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afs",
			Subsystem: "content",
			Name:      "quota_used_blocks",
			Help:      "Blocks used per shard, relative to its quota.",
		}, []string{"shard"}),
		MigrationBufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "afs",
			Subsystem: "migration",
			Name:      "buffer_len",
			Help:      "Number of blocks currently buffered for migration push.",
		}),
		MigrationPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afs",
			Subsystem: "migration",
			Name:      "pushed_total",
			Help:      "Total blocks pushed to peers via opportunistic migration.",
		}),
	}

	collectors := []prometheus.Collector{
		m.IndirectionSlotsUsed,
		m.QueriesForwarded,
		m.QueriesAnswered,
		m.ContentInserted,
		m.ContentEvicted,
		m.ContentQuotaUsedShard,
		m.MigrationBufferLen,
		m.MigrationPushed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
