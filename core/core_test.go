// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/afscore/blocktype"
	afsconfig "github.com/luxfi/afscore/config"
	"github.com/luxfi/afscore/handler"
	"github.com/luxfi/afscore/hash160"
)

func testConfig(t *testing.T) afsconfig.Config {
	t.Helper()
	cfg := afsconfig.DefaultConfig()
	cfg.AFSDir = t.TempDir()
	cfg.IndexDirectory = cfg.AFSDir + "/index"
	cfg.ShardCount = 2
	cfg.ActiveMigration = true
	return cfg
}

func TestNewBuildsAllSubsystems(t *testing.T) {
	require := require.New(t)
	c, err := New(testConfig(t), Deps{Self: hash160.Sum([]byte("self"))})
	require.NoError(err)
	require.NotNil(c.Indirect)
	require.NotNil(c.Content)
	require.NotNil(c.Query)
	require.NotNil(c.Migration)
	require.NotNil(c.Trust)
	require.NotNil(c.Load)
	require.NotNil(c.Dispatcher)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiskQuotaMiB = 0
	_, err := New(cfg, Deps{})
	require.Error(t, err)
}

func TestRunAndStopShutsDownCleanly(t *testing.T) {
	c, err := New(testConfig(t), Deps{Self: hash160.Sum([]byte("self"))})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	// Let the background goroutines start before stopping them.
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestDispatcherIsWiredToCoreSubsystems(t *testing.T) {
	require := require.New(t)
	self := hash160.Sum([]byte("self"))
	c, err := New(testConfig(t), Deps{Self: self})
	require.NoError(err)

	peer := ids.NodeID{7}
	out, err := c.HandleQuery(handler.QueryRequest{
		Sender:   &peer,
		Queries:  []hash160.Hash{hash160.Sum([]byte("q"))},
		Type:     blocktype.CHK,
		TTL:      10000,
		Priority: 5,
	})
	require.NoError(err)
	require.False(out.Dropped)
}

func TestHandleContentIncrementsContentInserted(t *testing.T) {
	require := require.New(t)
	self := hash160.Sum([]byte("self"))
	// A Rand that never returns 0, so the content manager's random
	// drop of peer inserts never fires.
	lastRand := func(n int) int {
		if n <= 0 {
			return 0
		}
		return n - 1
	}
	c, err := New(testConfig(t), Deps{Self: self, Rand: lastRand})
	require.NoError(err)

	data := make([]byte, 1024)
	key := hash160.Sum(data)
	c.Dispatcher.Self = key // guarantee zero distance so replication policy passes

	peer := ids.NodeID{9}
	out, err := c.HandleContent(handler.ContentMessage{
		Sender: &peer,
		Type:   blocktype.CHK,
		Key:    key,
		Data:   data,
	})
	require.NoError(err)
	require.True(out.Stored)
}

func TestPushMigrationContentReportsZeroOnEmptyBuffer(t *testing.T) {
	require := require.New(t)
	c, err := New(testConfig(t), Deps{Self: hash160.Sum([]byte("self"))})
	require.NoError(err)

	n := c.PushMigrationContent(ids.NodeID{1}, func(hash160.Hash, []byte) bool { return true })
	require.Equal(0, n)
}
