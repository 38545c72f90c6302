// Package config provides the configuration surface for the call
// orchestrator: YAML file loading with environment variable overrides,
// validated defaults, and the immutable per-session settings handed to each
// call at creation time.
package config

import (
	"fmt"
	"time"
)

// Config is the full orchestrator configuration.
type Config struct {
	// Server HTTP listener settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Session call-loop settings
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Speech ASR/TTS provider settings
	Speech SpeechConfig `yaml:"speech" env:"SPEECH"`

	// LLM language model settings
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Redis call-log sync transport
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Archive finalized-session store
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTel settings
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP listener that carries media-stream
// websockets, health checks, and metrics.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// Grace period for in-flight calls on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// SessionConfig holds the per-call settings. A copy is resolved once at
// session creation and never mutated for that session's lifetime.
type SessionConfig struct {
	// Script pack selecting industry templates and rebuttals
	ScriptPack string `yaml:"script_pack" env:"SCRIPT_PACK"`
	// Maximum simultaneously active calls
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" env:"MAX_CONCURRENT_CALLS"`
	// Outbound session admissions per second (0 disables pacing)
	DialRatePerSecond float64 `yaml:"dial_rate_per_second" env:"DIAL_RATE_PER_SECOND"`
	// Hard ceiling on call duration
	MaxCallDuration time.Duration `yaml:"max_call_duration" env:"MAX_CALL_DURATION"`
	// Answering-machine classification window after connect
	AMDWindow time.Duration `yaml:"amd_window" env:"AMD_WINDOW"`
	// Sustained voice needed to confirm a barge-in
	BargeInDebounce time.Duration `yaml:"barge_in_debounce" env:"BARGE_IN_DEBOUNCE"`
	// Rule-layer classifications at or above this confidence are authoritative
	RuleConfidenceThreshold float64 `yaml:"rule_confidence_threshold" env:"RULE_CONFIDENCE_THRESHOLD"`
	// Appointment renegotiation attempts before closing unconfirmed
	MaxRenegotiations int `yaml:"max_renegotiations" env:"MAX_RENEGOTIATIONS"`
	// Consecutive unclear/silence turns before a neutral close
	MaxUnclearTurns int `yaml:"max_unclear_turns" env:"MAX_UNCLEAR_TURNS"`
	// Budgets per-stage latency budgets
	Budgets BudgetConfig `yaml:"budgets" env:"BUDGETS"`
}

// BudgetConfig holds the per-stage latency budgets enforced by the budget
// package.
type BudgetConfig struct {
	// First ASR partial result
	ASRPartial time.Duration `yaml:"asr_partial" env:"ASR_PARTIAL"`
	// First synthesized audio byte
	TTSFirstByte time.Duration `yaml:"tts_first_byte" env:"TTS_FIRST_BYTE"`
	// Full language-model response
	LLMResponse time.Duration `yaml:"llm_response" env:"LLM_RESPONSE"`
}

// SpeechConfig configures the ASR and TTS provider adapters.
type SpeechConfig struct {
	ASRProvider string        `yaml:"asr_provider" env:"ASR_PROVIDER"`
	ASRBaseURL  string        `yaml:"asr_base_url" env:"ASR_BASE_URL"`
	ASRAPIKey   string        `yaml:"asr_api_key" env:"ASR_API_KEY"`
	TTSProvider string        `yaml:"tts_provider" env:"TTS_PROVIDER"`
	TTSBaseURL  string        `yaml:"tts_base_url" env:"TTS_BASE_URL"`
	TTSAPIKey   string        `yaml:"tts_api_key" env:"TTS_API_KEY"`
	Voice       string        `yaml:"voice" env:"VOICE"`
	SampleRate  int           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	FramePeriod time.Duration `yaml:"frame_period" env:"FRAME_PERIOD"`
}

// LLMConfig configures the language model port.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig configures the call-log sync publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Stream receiving finalized outcome payloads
	Stream string `yaml:"stream" env:"STREAM"`
	// Approximate stream length cap
	MaxLen int64 `yaml:"max_len" env:"MAX_LEN"`
}

// ArchiveConfig configures the finalized-session archive store.
type ArchiveConfig struct {
	// Driver: sqlite or postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN, e.g. file path for sqlite or a postgres URL
	DSN string `yaml:"dsn" env:"DSN"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks invariants that would otherwise surface mid-call.
func (c *Config) Validate() error {
	s := c.Session
	if s.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("session.max_concurrent_calls must be positive, got %d", s.MaxConcurrentCalls)
	}
	if s.MaxCallDuration <= 0 {
		return fmt.Errorf("session.max_call_duration must be positive, got %s", s.MaxCallDuration)
	}
	if s.AMDWindow <= 0 {
		return fmt.Errorf("session.amd_window must be positive, got %s", s.AMDWindow)
	}
	if s.RuleConfidenceThreshold < 0 || s.RuleConfidenceThreshold > 1 {
		return fmt.Errorf("session.rule_confidence_threshold must be in [0,1], got %f", s.RuleConfidenceThreshold)
	}
	if s.MaxUnclearTurns <= 0 {
		return fmt.Errorf("session.max_unclear_turns must be positive, got %d", s.MaxUnclearTurns)
	}
	b := s.Budgets
	if b.ASRPartial <= 0 || b.TTSFirstByte <= 0 || b.LLMResponse <= 0 {
		return fmt.Errorf("session.budgets must all be positive")
	}
	if c.Speech.SampleRate <= 0 {
		return fmt.Errorf("speech.sample_rate must be positive, got %d", c.Speech.SampleRate)
	}
	if c.Speech.FramePeriod <= 0 {
		return fmt.Errorf("speech.frame_period must be positive, got %s", c.Speech.FramePeriod)
	}
	return nil
}
