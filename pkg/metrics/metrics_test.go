package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	m.RecordRun(nil)
	m.RecordRun(errors.New("boom"))
	m.RecordRun(nil)
	m.RecordCache("onsets", true)
	m.RecordCache("windows", false)
	m.RecordHit("kick")
	m.RecordStage("onsets", 0.02)
	done := m.RunStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("onsets", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("windows", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HitsTotal.WithLabelValues("kick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))

	// registering twice on the same registry fails
	_, err = NewPipelineMetrics(reg)
	assert.Error(t, err)
}

func TestNilPipelineMetrics(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.RecordRun(nil)
		m.RecordStage("hits", 1)
		m.RecordCache("hits", true)
		m.RecordHit("snare")
		m.RunStarted()()
	})
}
