// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewAFSRegistersAllCollectors(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()

	m, err := NewAFS(reg)
	require.NoError(err)

	m.QueriesForwarded.Inc()
	m.ContentInserted.Add(3)
	m.ContentQuotaUsedShard.WithLabelValues("0").Set(42)

	families, err := reg.Gather()
	require.NoError(err)
	require.NotEmpty(families)
}

func TestNewAFSRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewAFS(reg)
	require.NoError(t, err)

	_, err = NewAFS(reg)
	require.Error(t, err)
}
