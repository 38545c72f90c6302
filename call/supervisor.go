package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/callpilot-ai/callpilot/archive"
	"github.com/callpilot-ai/callpilot/audio"
	"github.com/callpilot-ai/callpilot/budget"
	"github.com/callpilot-ai/callpilot/crmsync"
	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/internal/metrics"
	"github.com/callpilot-ai/callpilot/internal/pool"
	"github.com/callpilot-ai/callpilot/respond"
	"github.com/callpilot-ai/callpilot/speech"
	"github.com/callpilot-ai/callpilot/telephony"
	"github.com/callpilot-ai/callpilot/types"
)

// SupervisorConfig bounds the fleet of concurrent sessions.
type SupervisorConfig struct {
	MaxConcurrentCalls int
	// StartRate paces new call starts per second; zero disables pacing.
	StartRate  float64
	StartBurst int

	Defaults Config
}

func (c *SupervisorConfig) applyDefaults() {
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 50
	}
	if c.StartBurst <= 0 {
		c.StartBurst = 1
	}
}

// SupervisorDeps are the shared collaborators every session draws from.
// Sync and Archive are optional; a nil field skips that delivery path.
// Prerecorded holds the canned clips every session falls back to when
// synthesis fails, usually built once with PrerecordedClips.
type SupervisorDeps struct {
	ASR         speech.ASRProvider
	TTS         speech.TTSProvider
	Classifier  *dialogue.Classifier
	Generator   *respond.Generator
	Metrics     *metrics.Collector
	Prerecorded map[dialogue.Topic][]audio.Frame
	Sync        crmsync.Sync
	Archive     *archive.Store
	Logger      *zap.Logger
}

// StartRequest describes one inbound or dialed call to run.
type StartRequest struct {
	TenantID string
	LeadRef  string
	Carrier  telephony.Carrier
	Script   *dialogue.ScriptPack
	Budgets  *budget.Budgets
}

// Supervisor owns the session table and admission control. All state is
// held on the struct; nothing is package-global, so tests can run
// supervisors side by side.
type Supervisor struct {
	cfg     SupervisorConfig
	deps    SupervisorDeps
	logger  *zap.Logger
	pool    *pool.SessionPool
	limiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSupervisor(cfg SupervisorConfig, deps SupervisorDeps) (*Supervisor, error) {
	if deps.ASR == nil || deps.TTS == nil || deps.Classifier == nil || deps.Generator == nil {
		return nil, fmt.Errorf("supervisor requires asr, tts, classifier, and generator")
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "call_supervisor"))

	var limiter *rate.Limiter
	if cfg.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StartRate), cfg.StartBurst)
	}

	s := &Supervisor{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		limiter:  limiter,
		sessions: make(map[string]*Session),
	}
	s.pool = pool.NewSessionPool(cfg.MaxConcurrentCalls, func(r any) {
		logger.Error("session panicked", zap.Any("panic", r))
	})
	return s, nil
}

// Start admits and launches one call session. It returns the session id
// immediately; the session runs in the background and its outcome flows
// to the sync stream and the archive when those are configured.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Carrier == nil {
		return "", fmt.Errorf("start request requires a carrier")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("call start pacing: %w", err)
		}
	}

	cfg := s.cfg.Defaults
	cfg.ID = uuid.NewString()
	cfg.TenantID = req.TenantID
	cfg.LeadRef = req.LeadRef
	if req.Script != nil {
		cfg.Script = req.Script
	}
	if cfg.Script == nil {
		cfg.Script = dialogue.DefaultScriptPack()
	}
	if req.Budgets != nil {
		cfg.Budgets = *req.Budgets
	}

	sess, err := NewSession(cfg, Deps{
		Carrier:     req.Carrier,
		ASR:         s.deps.ASR,
		TTS:         s.deps.TTS,
		Classifier:  s.deps.Classifier,
		Generator:   s.deps.Generator,
		Metrics:     s.deps.Metrics,
		Prerecorded: s.deps.Prerecorded,
		Logger:      s.deps.Logger,
	})
	if err != nil {
		return "", err
	}

	s.remember(cfg.ID, sess)
	// The admission ctx only gates pacing; a session's lifetime is its
	// own, bounded by its duration ceiling and the carrier.
	launchErr := s.pool.Launch(context.Background(), func(runCtx context.Context) {
		defer s.forget(cfg.ID)
		pkg := sess.Run(runCtx)
		s.deliver(pkg)
	})
	if launchErr != nil {
		s.forget(cfg.ID)
		if s.deps.Metrics != nil {
			s.deps.Metrics.CallRejected()
		}
		s.logger.Warn("session rejected",
			zap.String("tenant_id", req.TenantID),
			zap.Int("active", s.pool.Active()),
			zap.Error(launchErr))
		return "", launchErr
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.CallStarted()
	}
	s.logger.Info("session started",
		zap.String("session_id", cfg.ID),
		zap.String("tenant_id", req.TenantID),
		zap.Int("active", s.pool.Active()))
	return cfg.ID, nil
}

// deliver pushes a finished call's outcome package downstream. Sync
// publishing is fire-and-forget; archiving failures are logged, never
// retried here.
func (s *Supervisor) deliver(pkg *types.OutcomePackage) {
	if p, ok := s.deps.Sync.(*crmsync.RedisPublisher); ok && p != nil {
		p.PublishAsync(pkg)
	} else if s.deps.Sync != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Sync.Publish(ctx, pkg); err != nil {
			s.logger.Error("outcome publish failed",
				zap.String("session_id", pkg.SessionID), zap.Error(err))
		}
	}

	if s.deps.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Archive.Save(ctx, pkg); err != nil {
			s.logger.Error("outcome archive failed",
				zap.String("session_id", pkg.SessionID), zap.Error(err))
		}
	}
}

func (s *Supervisor) remember(id string, sess *Session) {
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
}

func (s *Supervisor) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Session looks up a running session by id.
func (s *Supervisor) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// EndCall is the operator override: it hangs up a running call from
// our side. The session observes the carrier disconnect and finalizes
// normally.
func (s *Supervisor) EndCall(ctx context.Context, id string) error {
	sess, ok := s.Session(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.deps.Carrier.Hangup(ctx)
}

// Active returns the number of running sessions.
func (s *Supervisor) Active() int { return s.pool.Active() }

// Stats returns pool admission counters.
func (s *Supervisor) Stats() pool.Stats { return s.pool.Stats() }

// Shutdown stops admissions and waits for in-flight calls, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Info("supervisor draining", zap.Int("active", s.pool.Active()))
	return s.pool.CloseAndWait(ctx)
}
