// Package budget bounds every external stage call with an independent
// latency budget so no slow dependency can stall a live call.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/types"
)

// Stage names the budgeted pipeline stages.
type Stage string

const (
	StageASR Stage = "asr"
	StageTTS Stage = "tts"
	StageLLM Stage = "llm"
)

// Budgets holds the per-stage deadlines.
type Budgets struct {
	ASRPartial   time.Duration
	TTSFirstByte time.Duration
	LLMResponse  time.Duration
}

// DefaultBudgets returns the standard stage deadlines.
func DefaultBudgets() Budgets {
	return Budgets{
		ASRPartial:   500 * time.Millisecond,
		TTSFirstByte: 300 * time.Millisecond,
		LLMResponse:  2 * time.Second,
	}
}

// Observer receives every recorded sample. Used for metrics.
type Observer func(types.LatencySample)

// Enforcer wraps stage invocations with timeouts and records one
// LatencySample per invocation. One enforcer per session.
type Enforcer struct {
	budgets  Budgets
	observer Observer
	logger   *zap.Logger

	mu      sync.Mutex
	samples []types.LatencySample
}

// NewEnforcer creates a session-scoped enforcer. observer may be nil.
func NewEnforcer(budgets Budgets, observer Observer, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		budgets:  budgets,
		observer: observer,
		logger:   logger.With(zap.String("component", "budget_enforcer")),
	}
}

// Budget returns the deadline for a stage.
func (e *Enforcer) Budget(stage Stage) time.Duration {
	switch stage {
	case StageASR:
		return e.budgets.ASRPartial
	case StageTTS:
		return e.budgets.TTSFirstByte
	case StageLLM:
		return e.budgets.LLMResponse
	}
	return 2 * time.Second
}

// Do runs fn under the stage's budget. On overrun it returns a
// stage-timeout error so the caller can take its fallback path; the
// sample is recorded either way. Parent cancellation passes through
// unchanged so hangup is distinguishable from slowness.
func (e *Enforcer) Do(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	deadline := e.Budget(stage)
	stageCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)

	exceeded := elapsed >= deadline || errors.Is(err, context.DeadlineExceeded)
	e.record(types.LatencySample{Stage: string(stage), Duration: elapsed, Exceeded: exceeded})

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// The whole session was cancelled, not just this stage.
		return types.NewError(types.ErrStageCancelled, "stage cancelled").
			WithStage(string(stage)).WithCause(ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("stage budget exceeded",
			zap.String("stage", string(stage)),
			zap.Duration("budget", deadline),
			zap.Duration("elapsed", elapsed))
		return types.NewError(types.ErrStageTimeout, "stage budget exceeded").
			WithStage(string(stage)).WithRetryable(true).WithCause(err)
	}
	return err
}

func (e *Enforcer) record(sample types.LatencySample) {
	e.mu.Lock()
	e.samples = append(e.samples, sample)
	e.mu.Unlock()
	if e.observer != nil {
		e.observer(sample)
	}
}

// Samples returns a copy of all recorded samples.
func (e *Enforcer) Samples() []types.LatencySample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.LatencySample, len(e.samples))
	copy(out, e.samples)
	return out
}

// Summarize rolls the samples up per stage for the outcome package, in
// stable stage order.
func (e *Enforcer) Summarize() []types.LatencySummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	byStage := make(map[string]*types.LatencySummary)
	order := []string{}
	for _, s := range e.samples {
		agg, ok := byStage[s.Stage]
		if !ok {
			agg = &types.LatencySummary{Stage: s.Stage}
			byStage[s.Stage] = agg
			order = append(order, s.Stage)
		}
		agg.Invocations++
		agg.Total += s.Duration
		if s.Exceeded {
			agg.Exceeded++
		}
		if s.Duration > agg.Max {
			agg.Max = s.Duration
		}
	}

	out := make([]types.LatencySummary, 0, len(order))
	for _, stage := range order {
		out = append(out, *byStage[stage])
	}
	return out
}
