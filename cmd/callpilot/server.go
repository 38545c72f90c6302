package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/archive"
	"github.com/callpilot-ai/callpilot/budget"
	"github.com/callpilot-ai/callpilot/call"
	"github.com/callpilot-ai/callpilot/config"
	"github.com/callpilot-ai/callpilot/crmsync"
	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/internal/metrics"
	"github.com/callpilot-ai/callpilot/internal/telemetry"
	"github.com/callpilot-ai/callpilot/llm"
	"github.com/callpilot-ai/callpilot/respond"
	"github.com/callpilot-ai/callpilot/retrieval"
	"github.com/callpilot-ai/callpilot/speech"
	"github.com/callpilot-ai/callpilot/telephony"
)

// Server hosts the media-stream websocket endpoint, health checks, and
// Prometheus metrics over one HTTP listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpServer *http.Server
	supervisor *call.Supervisor
	otel       *telemetry.Providers
	registry   *prometheus.Registry
}

// NewServer wires the full pipeline from configuration: speech and
// language-model providers, the response generator, the supervisor, and
// the downstream sync and archive collaborators.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) (*Server, error) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("callpilot", registry, logger)

	asr := speech.NewDeepgramASR(speech.DeepgramConfig{
		APIKey:  cfg.Speech.ASRAPIKey,
		BaseURL: cfg.Speech.ASRBaseURL,
	}, logger)
	tts := speech.NewElevenLabsTTS(speech.ElevenLabsConfig{
		APIKey:      cfg.Speech.TTSAPIKey,
		BaseURL:     cfg.Speech.TTSBaseURL,
		VoiceID:     cfg.Speech.Voice,
		FramePeriod: cfg.Speech.FramePeriod,
	}, logger)

	// Without an API key the classifier runs on its rule layer alone
	// and the generator speaks script templates verbatim.
	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		provider = llm.NewOpenAICompat(llm.OpenAICompatConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
		}, logger)
	}

	script := dialogue.DefaultScriptPack()
	classifier := dialogue.NewClassifier(provider, cfg.Session.RuleConfidenceThreshold, logger)
	retriever := retrieval.NewBM25Retriever(retrieval.DefaultConfig(), scriptSnippets(script), logger)
	generator, err := respond.NewGenerator(respond.Config{Model: cfg.LLM.Model}, script, provider, retriever, logger)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}

	// Canned fallback audio is rendered once here so a mid-call TTS
	// outage still plays something for every topic.
	clips := call.PrerecordedClips(context.Background(), tts, script, cfg.Speech.Voice, cfg.Speech.SampleRate, logger)

	deps := call.SupervisorDeps{
		ASR:         asr,
		TTS:         tts,
		Classifier:  classifier,
		Generator:   generator,
		Metrics:     collector,
		Prerecorded: clips,
		Logger:      logger,
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.Sync = crmsync.NewRedisPublisher(crmsync.Config{
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
		}, client, logger)
	}
	if cfg.Archive.DSN != "" {
		store, storeErr := archive.Open(archive.Config{
			Driver: cfg.Archive.Driver,
			DSN:    cfg.Archive.DSN,
		}, logger)
		if storeErr != nil {
			return nil, fmt.Errorf("open archive: %w", storeErr)
		}
		deps.Archive = store
	}

	supervisor, err := call.NewSupervisor(call.SupervisorConfig{
		MaxConcurrentCalls: cfg.Session.MaxConcurrentCalls,
		StartRate:          cfg.Session.DialRatePerSecond,
		Defaults: call.Config{
			Script:            script,
			MaxCallDuration:   cfg.Session.MaxCallDuration,
			AMDWindow:         cfg.Session.AMDWindow,
			BargeInDebounce:   cfg.Session.BargeInDebounce,
			SampleRate:        cfg.Speech.SampleRate,
			Voice:             cfg.Speech.Voice,
			MaxRenegotiations: cfg.Session.MaxRenegotiations,
			MaxUnclearTurns:   cfg.Session.MaxUnclearTurns,
			Budgets: budget.Budgets{
				ASRPartial:   cfg.Session.Budgets.ASRPartial,
				TTSFirstByte: cfg.Session.Budgets.TTSFirstByte,
				LLMResponse:  cfg.Session.Budgets.LLMResponse,
			},
		},
	}, deps)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "server")),
		supervisor: supervisor,
		otel:       otel,
		registry:   registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/media", s.handleMedia)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}
	return s, nil
}

// scriptSnippets seeds the grounding retriever from the script pack so
// model-adapted lines stay anchored to approved copy.
func scriptSnippets(script *dialogue.ScriptPack) []retrieval.Snippet {
	var snippets []retrieval.Snippet
	add := func(topic, content string) {
		if content == "" {
			return
		}
		snippets = append(snippets, retrieval.Snippet{
			ID:       fmt.Sprintf("%s-%d", topic, len(snippets)),
			Industry: script.Industry,
			Topic:    topic,
			Content:  content,
		})
	}
	for _, line := range script.PitchLines {
		add("pitch", line)
	}
	for intent, rebuttal := range script.Rebuttals {
		add("rebuttal "+string(intent), rebuttal)
	}
	for _, q := range script.QualifyingQuestions {
		add("qualifying", q)
	}
	return snippets
}

// handleMedia upgrades one carrier connection and hands it to the
// supervisor as a new call session.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	leadRef := r.URL.Query().Get("lead_ref")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("media upgrade failed", zap.Error(err))
		return
	}

	// The upgraded connection is hijacked from the HTTP server and must
	// outlive this handler; the session owns its lifetime from here.
	carrier := telephony.NewMediaStream(context.Background(), conn, s.cfg.Speech.SampleRate, s.logger)
	id, err := s.supervisor.Start(r.Context(), call.StartRequest{
		TenantID: tenantID,
		LeadRef:  leadRef,
		Carrier:  carrier,
	})
	if err != nil {
		s.logger.Warn("session admission failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "at capacity")
		return
	}
	s.logger.Info("media stream admitted",
		zap.String("session_id", id), zap.String("tenant_id", tenantID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"version":      Version,
		"active_calls": s.supervisor.Active(),
		"pool":         s.supervisor.Stats(),
	})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight
// calls within the configured grace period.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", zap.Duration("grace", timeout))
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := s.supervisor.Shutdown(ctx); err != nil {
		s.logger.Warn("session drain incomplete", zap.Error(err))
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
}
