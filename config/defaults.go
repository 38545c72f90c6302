package config

import "time"

// DefaultConfig returns the default configuration. Defaults favor low
// latency and are safe to use without a config file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			ScriptPack:              "generic",
			MaxConcurrentCalls:      50,
			DialRatePerSecond:       5,
			MaxCallDuration:         300 * time.Second,
			AMDWindow:               3 * time.Second,
			BargeInDebounce:         150 * time.Millisecond,
			RuleConfidenceThreshold: 0.85,
			MaxRenegotiations:       2,
			MaxUnclearTurns:         3,
			Budgets: BudgetConfig{
				ASRPartial:   500 * time.Millisecond,
				TTSFirstByte: 300 * time.Millisecond,
				LLMResponse:  2000 * time.Millisecond,
			},
		},
		Speech: SpeechConfig{
			ASRProvider: "deepgram",
			TTSProvider: "elevenlabs",
			Voice:       "default",
			SampleRate:  16000,
			FramePeriod: 20 * time.Millisecond,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   256,
			Temperature: 0.4,
			Timeout:     10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "callpilot:outcomes",
			MaxLen: 100000,
		},
		Archive: ArchiveConfig{
			Driver: "sqlite",
			DSN:    "callpilot.db",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "callpilot",
			SampleRate:  1.0,
		},
	}
}
