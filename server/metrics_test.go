package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	hub := newEventHub()
	a := newMetrics(hub)
	b := newMetrics(hub) // would panic on a shared default registry

	a.subsGauge.Set(3)
	b.subsGauge.Set(7)

	fams, err := a.registry.Gather()
	require.NoError(t, err)
	got := -1.0
	for _, mf := range fams {
		if mf.GetName() == "subbrawl_submarines" {
			got = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, got)
}
