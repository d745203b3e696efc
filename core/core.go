// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package core wires the indirection table, content manager, query
// manager, migration engine, trust manager, and load tracker into a
// single running AFS node, and owns the background goroutines that
// age rankings, age content priorities, and prefetch migration
// content.
package core

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/luxfi/ids"

	afsbloom "github.com/luxfi/afscore/bloom"
	afsconfig "github.com/luxfi/afscore/config"
	"github.com/luxfi/afscore/content"
	"github.com/luxfi/afscore/fileindex"
	"github.com/luxfi/afscore/handler"
	"github.com/luxfi/afscore/hash160"
	"github.com/luxfi/afscore/indirection"
	"github.com/luxfi/afscore/largereply"
	"github.com/luxfi/afscore/load"
	afslog "github.com/luxfi/afscore/log"
	"github.com/luxfi/afscore/metrics"
	"github.com/luxfi/afscore/migration"
	"github.com/luxfi/afscore/query"
	"github.com/luxfi/afscore/store"
	"github.com/luxfi/afscore/store/luxdb"
	"github.com/luxfi/afscore/store/pebblestore"
	"github.com/luxfi/afscore/trust"

	"github.com/luxfi/afscore/internal/wrappers"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	contentAgingInterval  = 12 * time.Hour
	queryAgingInterval    = 2 * time.Minute
	rankingMaxIdle        = 10 * time.Minute
	metricsSampleInterval = 15 * time.Second
)

// Core bundles every live AFS subsystem for one node.
type Core struct {
	Config     afsconfig.Config
	Indirect   *indirection.Table
	Content    *content.Manager
	Query      *query.Manager
	Migration  *migration.Engine
	Trust      trust.Manager
	Load       *load.Tracker
	Dispatcher *handler.Dispatcher
	Metrics    *metrics.AFS

	Self hash160.Hash

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps supplies runtime hooks that must vary in tests (clocks,
// randomness, peer connectivity) but default sensibly for production.
type Deps struct {
	Self       hash160.Hash
	Connected  func() []ids.NodeID
	Rand       func(n int) int
	Now        func() int64
	NowTime    func() time.Time
	Log        log.Logger
	Registerer prometheus.Registerer
}

func (d *Deps) setDefaults() {
	if d.Rand == nil {
		d.Rand = func(n int) int {
			if n <= 0 {
				return 0
			}
			return rand.N(n)
		}
	}
	if d.Now == nil {
		d.Now = func() int64 { return time.Now().Unix() }
	}
	if d.NowTime == nil {
		d.NowTime = time.Now
	}
	if d.Connected == nil {
		d.Connected = func() []ids.NodeID { return nil }
	}
	if d.Log == nil {
		d.Log = afslog.NewNoOpLogger()
	}
	if d.Registerer == nil {
		d.Registerer = prometheus.NewRegistry()
	}
}

// New constructs a Core from cfg and deps, opening the on-disk bloom
// filter, file index, large-reply store, and one or more content
// shards under cfg.AFSDir.
func New(cfg afsconfig.Config, deps Deps) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps.setDefaults()

	var errs wrappers.Errs

	bloomPair, err := afsbloom.Open(cfg.AFSDir, uint32(cfg.DiskQuotaMiB)*1024)
	errs.Add(err)
	files, err := fileindex.Open(cfg.AFSDir)
	errs.Add(err)
	vls, err := largereply.Open(cfg.AFSDir, "vls")
	errs.Add(err)

	shards := make([]store.Backend, cfg.ShardCount)
	for i := range shards {
		switch cfg.DatabaseType {
		case afsconfig.DatabasePebble:
			s, err := pebblestore.Open(shardDir(cfg.AFSDir, i))
			errs.Add(err)
			shards[i] = s
		default:
			s, err := luxdb.OpenMemory()
			errs.Add(err)
			shards[i] = s
		}
	}
	if errs.Errored() {
		return nil, errs.Err()
	}

	loadTracker := load.NewTracker()

	afsMetrics, err := metrics.NewAFS(deps.Registerer)
	if err != nil {
		return nil, err
	}

	cm, err := content.New(content.Config{
		Shards:              shards,
		QuotaBlocksPerShard: cfg.QuotaBlocksPerShard(largereply.BlockSize),
		Bloom:               bloomPair,
		Files:               files,
		VLS:                 vls,
		ActiveMigration:     cfg.ActiveMigration,
		DataDir:             cfg.AFSDir,
		Rand:                deps.Rand,
		LoadFunc:            loadTracker.NetworkLoadUp,
		OnEvict:             func(hash160.Hash, store.Entry) { afsMetrics.ContentEvicted.Inc() },
		Log:                 deps.Log,
	})
	if err != nil {
		return nil, err
	}

	tbl := indirection.New(cfg.IndirectionTableSize, deps.Rand(hash160.WordCount), deps.Rand, deps.Now)
	qm := query.New(deps.Rand, deps.Now)
	tm := trust.NewManager()

	mig := migration.New(migration.Config{
		Source:   cm,
		LoadFunc: loadTracker.CPULoad,
		Log:      deps.Log,
	})
	mig.SetEnabled(cfg.ActiveMigration)

	dispatcher := &handler.Dispatcher{
		Indirect:  tbl,
		Content:   cm,
		Query:     qm,
		Trust:     tm,
		Load:      loadTracker,
		Self:      deps.Self,
		Connected: deps.Connected,
		Rand:      deps.Rand,
	}

	return &Core{
		Config:     cfg,
		Indirect:   tbl,
		Content:    cm,
		Query:      qm,
		Migration:  mig,
		Trust:      tm,
		Load:       loadTracker,
		Dispatcher: dispatcher,
		Metrics:    afsMetrics,
		Self:       deps.Self,
	}, nil
}

// HandleQuery dispatches req and updates query metrics from the
// outcome.
func (c *Core) HandleQuery(req handler.QueryRequest) (handler.QueryOutcome, error) {
	out, err := c.Dispatcher.HandleQuery(req)
	if err != nil {
		return out, err
	}
	if len(out.LocalAnswers) > 0 {
		c.Metrics.QueriesAnswered.Add(float64(len(out.LocalAnswers)))
	}
	if len(out.ForwardTo) > 0 {
		c.Metrics.QueriesForwarded.Add(float64(len(out.ForwardTo)))
	}
	return out, nil
}

// HandleContent dispatches msg and updates content metrics from the
// outcome.
func (c *Core) HandleContent(msg handler.ContentMessage) (handler.ContentOutcome, error) {
	out, err := c.Dispatcher.HandleContent(msg)
	if err != nil {
		return out, err
	}
	if out.Stored {
		c.Metrics.ContentInserted.Inc()
	}
	return out, nil
}

// PushMigrationContent fills as much of a peer's send buffer as
// possible from the migration engine's prefetched blocks and reports
// the blocks pushed to the migration metric.
func (c *Core) PushMigrationContent(receiver ids.NodeID, encode func(key hash160.Hash, data []byte) bool) int {
	n := c.Migration.FillSendBuffer(receiver, encode)
	if n > 0 {
		c.Metrics.MigrationPushed.Add(float64(n))
	}
	return n
}

func shardDir(base string, i int) string {
	return base + "/shard-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// Run starts the node's background goroutines: content priority
// aging, query ranking aging, and migration prefetching. Run blocks
// until ctx is canceled, then waits for all goroutines to exit.
func (c *Core) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Content.RunAging(ctx, contentAgingInterval)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runQueryAging(ctx)
	}()

	if c.Config.ActiveMigration {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Migration.Run(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runMetricsSampler(ctx)
	}()

	<-ctx.Done()
	c.wg.Wait()
}

func (c *Core) runMetricsSampler(ctx context.Context) {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleMetrics()
		}
	}
}

func (c *Core) sampleMetrics() {
	c.Metrics.IndirectionSlotsUsed.Set(float64(c.Indirect.Size()))
	c.Metrics.MigrationBufferLen.Set(float64(c.Migration.Len()))
	for i, used := range c.Content.ShardUsedBlocks() {
		c.Metrics.ContentQuotaUsedShard.WithLabelValues(itoa(i)).Set(float64(used))
	}
}

func (c *Core) runQueryAging(ctx context.Context) {
	ticker := time.NewTicker(queryAgingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Query.AgeRankings(int64(rankingMaxIdle.Seconds()))
		}
	}
}

// Stop cancels the background goroutines started by Run and waits for
// them to exit.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
