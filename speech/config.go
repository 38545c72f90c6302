package speech

import "time"

// DeepgramConfig configures the Deepgram streaming ASR adapter.
type DeepgramConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ElevenLabsConfig configures the ElevenLabs streaming TTS adapter.
type ElevenLabsConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	VoiceID string        `yaml:"voice_id" json:"voice_id"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Frame size of the emitted PCM stream
	FramePeriod time.Duration `yaml:"frame_period" json:"frame_period"`
}
