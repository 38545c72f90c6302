package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/types"
)

func TestCollector_CallLifecycle(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector("callpilot", reg, nil)

	c.CallStarted()
	c.CallStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.activeCalls))

	c.CallCompleted(types.OutcomeAppointmentSet, 90*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsCompleted.WithLabelValues("appointment_set")))

	c.CallRejected()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsRejected))
}

func TestCollector_StageSamples(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector("callpilot", reg, nil)

	c.StageSample(types.LatencySample{Stage: "asr", Duration: 120 * time.Millisecond})
	c.StageSample(types.LatencySample{Stage: "llm", Duration: 3 * time.Second, Exceeded: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.budgetExceeded.WithLabelValues("llm")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.budgetExceeded.WithLabelValues("asr")))
}

func TestCollector_EventCounters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector("callpilot", reg, nil)

	c.BargeIn()
	c.AMDVerdict("machine")
	c.PolicyGap()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.bargeIns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.amdVerdicts.WithLabelValues("machine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.policyGaps))
}

// Two collectors on separate registries must not collide.
func TestCollector_IndependentRegistries(t *testing.T) {
	t.Parallel()
	require.NotPanics(t, func() {
		NewCollector("callpilot", prometheus.NewRegistry(), nil)
		NewCollector("callpilot", prometheus.NewRegistry(), nil)
	})
}
