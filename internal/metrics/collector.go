// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/types"
)

// Collector holds the call-orchestration instruments.
type Collector struct {
	callsStarted   prometheus.Counter
	callsCompleted *prometheus.CounterVec
	callsRejected  prometheus.Counter
	activeCalls    prometheus.Gauge
	callDuration   prometheus.Histogram

	stageLatency   *prometheus.HistogramVec
	budgetExceeded *prometheus.CounterVec

	bargeIns    prometheus.Counter
	amdVerdicts *prometheus.CounterVec
	policyGaps  prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the instruments on reg. Passing a fresh
// registry per test avoids duplicate-registration panics.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.callsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_started_total",
		Help:      "Total number of call sessions admitted",
	})
	c.callsCompleted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_completed_total",
		Help:      "Total number of finalized calls by outcome",
	}, []string{"outcome"})
	c.callsRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_rejected_total",
		Help:      "Call attempts rejected because the session pool was full",
	})
	c.activeCalls = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_calls",
		Help:      "Number of call sessions currently running",
	})
	c.callDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Wall-clock duration of finalized calls",
		Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
	})

	c.stageLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_latency_seconds",
		Help:      "Latency of budgeted pipeline stages",
		Buckets:   []float64{.05, .1, .2, .3, .5, 1, 2, 5},
	}, []string{"stage"})
	c.budgetExceeded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_budget_exceeded_total",
		Help:      "Stage invocations that overran their latency budget",
	}, []string{"stage"})

	c.bargeIns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "barge_ins_total",
		Help:      "Playback truncations caused by caller interruption",
	})
	c.amdVerdicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "amd_verdicts_total",
		Help:      "Answering machine detection verdicts",
	}, []string{"verdict"})
	c.policyGaps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_gaps_total",
		Help:      "Dialogue steps with no defined transition",
	})

	return c
}

func (c *Collector) CallStarted() {
	c.callsStarted.Inc()
	c.activeCalls.Inc()
}

func (c *Collector) CallCompleted(outcome types.Outcome, duration time.Duration) {
	c.callsCompleted.WithLabelValues(string(outcome)).Inc()
	c.activeCalls.Dec()
	c.callDuration.Observe(duration.Seconds())
}

func (c *Collector) CallRejected() {
	c.callsRejected.Inc()
}

// StageSample records one latency sample. Shaped to plug directly into
// the budget enforcer's observer.
func (c *Collector) StageSample(s types.LatencySample) {
	c.stageLatency.WithLabelValues(s.Stage).Observe(s.Duration.Seconds())
	if s.Exceeded {
		c.budgetExceeded.WithLabelValues(s.Stage).Inc()
	}
}

func (c *Collector) BargeIn() {
	c.bargeIns.Inc()
}

func (c *Collector) AMDVerdict(verdict string) {
	c.amdVerdicts.WithLabelValues(verdict).Inc()
}

func (c *Collector) PolicyGap() {
	c.policyGaps.Inc()
}
