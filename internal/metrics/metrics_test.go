package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipeline_RecordsStageOutcome(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveStage("processor_pe", "ok", 20*time.Millisecond)
	m.ObserveStage("processor_pe", "ok", 30*time.Millisecond)
	m.ObserveStage("processor_pe", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageOutcome.WithLabelValues("processor_pe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageOutcome.WithLabelValues("processor_pe", "error")))
}

func TestPipeline_NilIsNoop(t *testing.T) {
	var m *Pipeline
	assert.NotPanics(t, func() {
		m.IncCreated("PE")
		m.IncConflict()
		m.IncConflictCheckFailOpen()
		m.ObserveStage("intake", "ok", time.Second)
		m.AddDeadLettered("appointments-pe", 1)
		m.IncNotification("sent")
	})
}
