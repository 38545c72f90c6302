// Package call owns the per-call session loop, the supervisor that
// bounds concurrent sessions, and the outcome resolver.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/callpilot-ai/callpilot/audio"
	"github.com/callpilot-ai/callpilot/budget"
	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/internal/metrics"
	"github.com/callpilot-ai/callpilot/respond"
	"github.com/callpilot-ai/callpilot/speech"
	"github.com/callpilot-ai/callpilot/telephony"
	"github.com/callpilot-ai/callpilot/types"
)

// Config is the immutable per-session configuration, resolved once at
// session creation.
type Config struct {
	ID       string
	TenantID string
	LeadRef  string

	Script  *dialogue.ScriptPack
	Budgets budget.Budgets

	MaxCallDuration time.Duration
	AMDWindow       time.Duration
	BargeInDebounce time.Duration
	// ListenWindow bounds how long one listen phase waits for a final
	// transcript before treating the turn as silence.
	ListenWindow time.Duration

	MaxRenegotiations   int
	MaxUnclearTurns     int
	RejectionConfidence float64

	SampleRate int
	Voice      string
}

func (c *Config) applyDefaults() {
	if c.MaxCallDuration == 0 {
		c.MaxCallDuration = 300 * time.Second
	}
	if c.AMDWindow == 0 {
		c.AMDWindow = 3 * time.Second
	}
	if c.BargeInDebounce == 0 {
		c.BargeInDebounce = 150 * time.Millisecond
	}
	if c.ListenWindow == 0 {
		c.ListenWindow = 6 * time.Second
	}
	if c.MaxRenegotiations == 0 {
		c.MaxRenegotiations = 2
	}
	if c.MaxUnclearTurns == 0 {
		c.MaxUnclearTurns = 3
	}
	if c.RejectionConfidence == 0 {
		c.RejectionConfidence = 0.85
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
}

// Deps are the collaborators one session talks to. Carrier, ASR, TTS,
// Classifier, and Generator are required; Metrics and Prerecorded are
// optional.
type Deps struct {
	Carrier    telephony.Carrier
	ASR        speech.ASRProvider
	TTS        speech.TTSProvider
	Classifier *dialogue.Classifier
	Generator  *respond.Generator
	Metrics    *metrics.Collector

	// Prerecorded supplies canned audio per topic for the TTS fallback
	// path, so a slow synthesizer never leaves the caller in silence.
	Prerecorded map[dialogue.Topic][]audio.Frame

	Logger *zap.Logger
}

func (d *Deps) validate() error {
	if d.Carrier == nil || d.ASR == nil || d.TTS == nil || d.Classifier == nil || d.Generator == nil {
		return fmt.Errorf("session requires carrier, asr, tts, classifier, and generator")
	}
	return nil
}

// Session drives one call from connect to disposition. It is owned by
// exactly one goroutine; collaborator pumps feed it through channels.
type Session struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	adapter  *audio.Adapter
	policy   dialogue.Policy
	enforcer *budget.Enforcer
	amd      *audio.AMD

	asrStream speech.ASRStream

	// dtmf and hangupCh are fed by the carrier event watcher.
	dtmf         chan string
	hangupCh     chan string
	disconnected atomic.Bool

	monitorMu sync.Mutex
	monitor   *audio.BargeInMonitor
	ttsCancel func()

	mu                sync.Mutex
	state             types.DialogueState
	turns             []types.Turn
	slot              *types.AppointmentSlot
	renegotiations    int
	unclearStreak     int
	qualifyingAnswers int
	pitchIdx          int
	questionIdx       int
	startedAt         time.Time
	endedAt           time.Time
	errDetail         string
}

// NewSession wires a session. The budget enforcer reports every sample
// to the metrics collector when one is present.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.Script == nil {
		return nil, fmt.Errorf("session requires a script pack")
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "call_session"), zap.String("session_id", cfg.ID))

	var observer budget.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics.StageSample
	}

	return &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		adapter:  audio.NewAdapter(deps.Carrier, logger),
		policy:   dialogue.NewPolicy(cfg.Script, cfg.MaxRenegotiations, cfg.MaxUnclearTurns, cfg.RejectionConfidence),
		enforcer: budget.NewEnforcer(cfg.Budgets, observer, logger),
		amd:      audio.NewAMD(audio.AMDConfig{Window: cfg.AMDWindow, MonologueCutoff: cfg.AMDWindow, WordCutoff: 14}),
		dtmf:     make(chan string, 8),
		hangupCh: make(chan string, 1),
		state:    types.StateGreeting,
	}, nil
}

// Run executes the call to completion and always returns an outcome
// package; "never finalized" is not a reachable result.
func (s *Session) Run(ctx context.Context) *types.OutcomePackage {
	ctx, span := otel.Tracer("callpilot/call").Start(ctx, "call.session")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.cfg.ID),
		attribute.String("session.tenant_id", s.cfg.TenantID),
	)

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	// Hard stop a little past the ceiling; the policy closes the call
	// gracefully before this fires in the normal case.
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxCallDuration+10*time.Second)
	defer cancel()

	if err := s.runPipeline(runCtx, cancel); err != nil && !s.currentState().IsTerminal() {
		s.recordFailure(err)
	}

	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()

	pkg := BuildPackage(s)
	span.SetAttributes(attribute.String("session.outcome", string(pkg.Outcome)))
	if s.deps.Metrics != nil {
		s.deps.Metrics.CallCompleted(pkg.Outcome, pkg.EndedAt.Sub(pkg.StartedAt))
	}
	s.logger.Info("call finalized",
		zap.String("outcome", string(pkg.Outcome)),
		zap.String("final_state", string(pkg.FinalState)),
		zap.Int("turns", len(pkg.Turns)),
		zap.Duration("duration", pkg.EndedAt.Sub(pkg.StartedAt)))
	return pkg
}

// runPipeline starts the audio pumps and runs the dialogue loop.
func (s *Session) runPipeline(ctx context.Context, cancel context.CancelFunc) error {
	stream, err := s.deps.ASR.StartStream(ctx, speech.StreamConfig{
		SampleRate:     s.cfg.SampleRate,
		InterimResults: true,
	})
	if err != nil {
		return types.NewError(types.ErrStageUnavailable, "asr stream failed to start").
			WithStage("asr").WithCause(err)
	}
	s.asrStream = stream
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.adapter.Run(gctx) })
	g.Go(func() error { return s.watchCarrierEvents(gctx) })
	g.Go(func() error { return s.routeInbound(gctx) })

	converseErr := s.converse(gctx)

	cancel()
	pumpErr := g.Wait()

	if converseErr != nil && !errors.Is(converseErr, context.Canceled) {
		return converseErr
	}
	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) &&
		!errors.Is(pumpErr, context.DeadlineExceeded) && !s.currentState().IsTerminal() {
		return pumpErr
	}
	return nil
}

// watchCarrierEvents forwards DTMF to the dialogue loop and turns a
// disconnect into session cancellation.
func (s *Session) watchCarrierEvents(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-s.deps.Carrier.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case telephony.EventDTMF:
				s.logger.Debug("dtmf received", zap.String("digit", ev.Digit))
				select {
				case s.dtmf <- ev.Digit:
				default:
				}
			case telephony.EventDisconnected:
				s.logger.Info("carrier disconnected", zap.String("reason", ev.Reason))
				s.disconnected.Store(true)
				select {
				case s.hangupCh <- ev.Reason:
				default:
				}
				return errCarrierHangup
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errCarrierHangup = errors.New("carrier hangup")

// routeInbound fans every inbound frame into the ASR stream and, while
// outbound audio is playing, into the barge-in monitor. A barge-in
// truncates playback before the frame that triggered it is processed
// further, so the interrupting speech is already flowing to the ASR by
// the time the next turn is classified.
func (s *Session) routeInbound(ctx context.Context) error {
	for {
		select {
		case frame, ok := <-s.adapter.Inbound():
			if !ok {
				return nil
			}
			if err := s.asrStream.Send(frame); err != nil && ctx.Err() == nil {
				s.logger.Warn("asr send failed", zap.Error(err))
			}

			s.monitorMu.Lock()
			monitor, ttsCancel := s.monitor, s.ttsCancel
			s.monitorMu.Unlock()
			if monitor != nil && monitor.Observe(frame) {
				s.logger.Info("barge-in detected, truncating playback")
				s.adapter.Truncate()
				if ttsCancel != nil {
					ttsCancel()
				}
				if s.deps.Metrics != nil {
					s.deps.Metrics.BargeIn()
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// converse runs the AMD gate and then the speak/listen/classify/advance
// loop until a terminal state.
func (s *Session) converse(ctx context.Context) error {
	verdict := s.amdGate(ctx)
	if s.deps.Metrics != nil {
		s.deps.Metrics.AMDVerdict(string(verdict))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var dec dialogue.Decision
	if verdict == audio.AMDMachine {
		dec = s.policy.MachineDetected()
	} else {
		dec = s.policy.Opening()
	}

	for {
		line := s.produceLine(ctx, dec)
		s.speak(ctx, dec.Topic, line)
		s.setState(dec.Next)

		if dec.Next.IsTerminal() || dec.Action == dialogue.ActionEndCall {
			if !dec.Next.IsTerminal() {
				s.setState(types.StateCompleted)
			}
			hangupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.deps.Carrier.Hangup(hangupCtx)
			cancel()
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		text, audioDur, hangup := s.listen(ctx)
		if hangup {
			return errCarrierHangup
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dec = s.advance(ctx, text, audioDur)
	}
}

// amdGate classifies the opening window as human or machine. It never
// blocks past the window plus one listen grace period.
func (s *Session) amdGate(ctx context.Context) audio.AMDVerdict {
	deadline := time.NewTimer(s.cfg.AMDWindow + time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case ev, ok := <-s.asrStream.Events():
			if !ok {
				return audio.AMDHuman
			}
			s.amd.ObserveTranscript(ev.Text, ev.SpeechDur, ev.IsFinal)
			if verdict, decided := s.amd.Verdict(); decided {
				return verdict
			}
		case <-s.dtmf:
			s.amd.ObserveDTMF()
			if verdict, decided := s.amd.Verdict(); decided {
				return verdict
			}
		case <-tick.C:
			if verdict, decided := s.amd.Verdict(); decided {
				return verdict
			}
		case <-deadline.C:
			// No evidence at all inside the window: treat as human.
			return audio.AMDHuman
		case <-s.hangupCh:
			s.requeueHangup()
			return audio.AMDHuman
		case <-ctx.Done():
			return audio.AMDHuman
		}
	}
}

// produceLine generates the next spoken line under the LLM budget,
// falling back to the state-keyed template on overrun.
func (s *Session) produceLine(ctx context.Context, dec dialogue.Decision) string {
	s.mu.Lock()
	req := &respond.Request{
		Topic:         dec.Topic,
		State:         s.state,
		Objection:     dec.Objection,
		History:       append([]types.Turn(nil), s.turns...),
		Slot:          s.slot,
		PitchIndex:    s.pitchIdx,
		QuestionIndex: s.questionIdx,
	}
	fallbackState := s.state
	turnCount := len(s.turns)
	s.mu.Unlock()

	var line string
	start := time.Now()
	err := s.enforcer.Do(ctx, budget.StageLLM, func(stageCtx context.Context) error {
		var genErr error
		line, genErr = s.deps.Generator.Generate(stageCtx, req)
		return genErr
	})
	if err != nil || line == "" {
		line = s.deps.Generator.Fallback(fallbackState)
	}
	if ctx.Err() == nil && time.Since(start) >= s.enforcer.Budget(budget.StageLLM) {
		// A short filler covers the recovery so the overrun is not
		// heard as dead air.
		line = s.deps.Generator.Filler(turnCount) + " " + line
	}

	s.bumpIndexes(dec.Topic)
	return line
}

func (s *Session) bumpIndexes(topic dialogue.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch topic {
	case dialogue.TopicPitch:
		s.pitchIdx++
	case dialogue.TopicQualifying:
		s.questionIdx++
	}
}

// speak synthesizes and plays one line with barge-in armed. The system
// turn is appended with whatever was actually delivered; a truncated
// line is still part of the audit trail.
func (s *Session) speak(ctx context.Context, topic dialogue.Topic, line string) {
	if line == "" {
		return
	}

	stream, err := s.deps.TTS.Synthesize(ctx, &speech.TTSRequest{
		Text:       line,
		Voice:      s.cfg.Voice,
		SampleRate: s.cfg.SampleRate,
	})
	if err != nil {
		s.logger.Warn("tts synthesis failed, using prerecorded clip", zap.Error(err))
		s.playPrerecorded(ctx, topic)
		s.appendSystemTurn(line)
		return
	}

	// The budget bounds only the first audio byte; synthesis continues
	// streaming past it.
	var first audio.Frame
	var open bool
	budgetErr := s.enforcer.Do(ctx, budget.StageTTS, func(stageCtx context.Context) error {
		select {
		case first, open = <-stream.Frames():
			if !open {
				if serr := stream.Err(); serr != nil {
					return serr
				}
				return errors.New("tts produced no audio")
			}
			return nil
		case <-stageCtx.Done():
			return stageCtx.Err()
		}
	})
	if budgetErr != nil {
		stream.Cancel()
		s.logger.Warn("tts missed first-byte budget, using prerecorded clip", zap.Error(budgetErr))
		s.playPrerecorded(ctx, topic)
		s.appendSystemTurn(line)
		return
	}

	s.playStream(ctx, first, stream)
	s.appendSystemTurn(line)
}

// playStream plays the synthesized frames while the barge-in monitor is
// armed. Returns when playback finishes, is truncated, or fails.
func (s *Session) playStream(ctx context.Context, first audio.Frame, stream speech.SpeechStream) {
	monitor := audio.NewBargeInMonitor(audio.DefaultVADConfig(), s.cfg.BargeInDebounce)
	s.monitorMu.Lock()
	s.monitor = monitor
	s.ttsCancel = stream.Cancel
	s.monitorMu.Unlock()
	defer func() {
		s.monitorMu.Lock()
		s.monitor = nil
		s.ttsCancel = nil
		s.monitorMu.Unlock()
	}()

	frames := make(chan audio.Frame, 1)
	go func() {
		defer close(frames)
		frames <- first
		for f := range stream.Frames() {
			select {
			case frames <- f:
			case <-ctx.Done():
				stream.Cancel()
				return
			}
		}
	}()

	if err := s.adapter.Play(ctx, frames); err != nil {
		if errors.Is(err, audio.ErrTruncated) {
			return
		}
		if ctx.Err() == nil {
			s.logger.Warn("playback failed", zap.Error(err))
		}
		stream.Cancel()
		// Drain the feeder so its goroutine exits.
		go func() {
			for range frames {
			}
		}()
	}
}

// playPrerecorded plays the canned clip for a topic. A session without
// any clip for the topic still plays a prompt tone; a synthesis
// failure never leaves the caller in silence.
func (s *Session) playPrerecorded(ctx context.Context, topic dialogue.Topic) {
	clip := s.deps.Prerecorded[topic]
	if len(clip) == 0 {
		clip = s.deps.Prerecorded[dialogue.TopicClarify]
	}
	if len(clip) == 0 {
		clip = audio.ToneClip(s.cfg.SampleRate, 600*time.Millisecond)
	}
	frames := make(chan audio.Frame, len(clip))
	for _, f := range clip {
		frames <- f
	}
	close(frames)
	if err := s.adapter.Play(ctx, frames); err != nil && ctx.Err() == nil && !errors.Is(err, audio.ErrTruncated) {
		s.logger.Warn("prerecorded playback failed", zap.Error(err))
	}
}

// listen waits for the caller's next utterance. The ASR budget bounds
// the wait for a first partial; the listen window bounds the whole
// phase. Silence and budget overruns both resolve to an empty text so
// the turn still advances.
func (s *Session) listen(ctx context.Context) (text string, audioDur time.Duration, hangup bool) {
	var best speech.TranscriptEvent

	// First partial under the ASR budget.
	err := s.enforcer.Do(ctx, budget.StageASR, func(stageCtx context.Context) error {
		for {
			select {
			case ev, ok := <-s.asrStream.Events():
				if !ok {
					return errors.New("asr stream closed")
				}
				if ev.Text == "" && !ev.IsFinal {
					continue
				}
				best = ev
				return nil
			case <-stageCtx.Done():
				return stageCtx.Err()
			}
		}
	})
	if err != nil {
		select {
		case <-s.hangupCh:
			return "", 0, true
		default:
		}
		// Best partial so far is empty; the classifier maps it to
		// silence and the policy's unclear-streak rule takes over.
		return "", 0, false
	}

	if best.IsFinal {
		return best.Text, best.SpeechDur, false
	}

	// Keep collecting until the final result or the window closes.
	window := time.NewTimer(s.cfg.ListenWindow)
	defer window.Stop()
	for {
		select {
		case ev, ok := <-s.asrStream.Events():
			if !ok {
				return best.Text, best.SpeechDur, false
			}
			if ev.Text != "" || ev.IsFinal {
				best = ev
			}
			if ev.IsFinal {
				return best.Text, best.SpeechDur, false
			}
		case <-window.C:
			return best.Text, best.SpeechDur, false
		case <-s.hangupCh:
			return best.Text, best.SpeechDur, true
		case <-ctx.Done():
			return best.Text, best.SpeechDur, false
		}
	}
}

// advance classifies the caller turn, appends it, and steps the policy.
func (s *Session) advance(ctx context.Context, text string, audioDur time.Duration) dialogue.Decision {
	s.mu.Lock()
	state := s.state
	history := append([]types.Turn(nil), s.turns...)
	s.mu.Unlock()

	cls := s.deps.Classifier.Classify(ctx, text, history, state)

	s.mu.Lock()
	intent := cls.Intent
	s.turns = append(s.turns, types.Turn{
		Speaker:    types.SpeakerCaller,
		Text:       text,
		Timestamp:  time.Now(),
		Intent:     &intent,
		Confidence: cls.Confidence,
		AudioDur:   audioDur,
	})

	if cls.Intent == types.IntentUnclear || cls.Intent == types.IntentSilence {
		s.unclearStreak++
	} else {
		s.unclearStreak = 0
	}
	if state == types.StateQualifying && qualifyingAnswer(cls.Intent) {
		s.qualifyingAnswers++
	}
	if state == types.StateBookingAppointment && text != "" {
		if at, ok := extractSlot(text, time.Now()); ok {
			s.slot = &types.AppointmentSlot{At: at}
		}
	}

	in := dialogue.Input{
		State:             state,
		Intent:            cls.Intent,
		Confidence:        cls.Confidence,
		QualifyingAnswers: s.qualifyingAnswers,
		UnclearStreak:     s.unclearStreak,
		Renegotiations:    s.renegotiations,
		SlotProposed:      s.slot != nil,
		CeilingExceeded:   time.Since(s.startedAt) >= s.cfg.MaxCallDuration,
	}
	s.mu.Unlock()

	dec := s.policy.Advance(in)

	s.mu.Lock()
	if dec.ConfirmSlot && s.slot != nil {
		s.slot.Confirmed = true
	}
	if dec.Renegotiate {
		s.slot = nil
		s.renegotiations++
	}
	s.mu.Unlock()

	if dec.PolicyGap {
		s.logger.Warn("dialogue policy gap, closing call",
			zap.String("state", string(in.State)),
			zap.String("intent", string(in.Intent)),
			zap.String("script_pack", s.cfg.Script.ID))
		if s.deps.Metrics != nil {
			s.deps.Metrics.PolicyGap()
		}
	}
	return dec
}

// qualifyingAnswer reports whether an intent counts as answering a
// qualifying question.
func qualifyingAnswer(intent types.Intent) bool {
	switch intent {
	case types.IntentUnclear, types.IntentSilence, types.IntentRejection:
		return false
	}
	return !intent.IsObjection()
}

func (s *Session) appendSystemTurn(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.turns = append(s.turns, types.Turn{
		Speaker:   types.SpeakerSystem,
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (s *Session) setState(next types.DialogueState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = next
}

func (s *Session) currentState() types.DialogueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// recordFailure finalizes an abnormal termination. Carrier hangups
// resolve by conversation progress; everything else is an error.
func (s *Session) recordFailure(err error) {
	// The audio pump can surface the disconnect as a transport error
	// before the event watcher processes the hangup event. Either way
	// the remote hung up, which is not an error disposition.
	remoteHangup := errors.Is(err, errCarrierHangup) ||
		(types.IsCarrierError(err) && s.sawDisconnect())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}

	switch {
	case remoteHangup:
		// ResolveOutcome maps the non-terminal state by progress:
		// no caller turns means nobody answered.
	case types.IsCarrierError(err):
		s.errDetail = err.Error()
		s.state = types.StateError
	case errors.Is(err, context.DeadlineExceeded):
		s.state = types.StateCompleted
	default:
		s.errDetail = err.Error()
		s.state = types.StateError
	}
}

// sawDisconnect reports whether the carrier delivered a disconnect,
// including one still buffered in a channel the pumps never got to.
func (s *Session) sawDisconnect() bool {
	if s.disconnected.Load() {
		return true
	}
	for {
		select {
		case <-s.hangupCh:
			return true
		case ev, ok := <-s.deps.Carrier.Events():
			if !ok {
				return false
			}
			if ev.Type == telephony.EventDisconnected {
				return true
			}
		default:
			return false
		}
	}
}

func (s *Session) requeueHangup() {
	select {
	case s.hangupCh <- "carrier hangup":
	default:
	}
}
