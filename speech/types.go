// Package speech defines the streaming ASR and TTS ports consumed by the
// call session, plus one adapter per provider. The session depends only on
// the interfaces here, never on a concrete vendor type.
package speech

import (
	"context"
	"time"

	"github.com/callpilot-ai/callpilot/audio"
)

// TranscriptEvent is one partial or final recognition result.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	// Accumulated speech duration for the current utterance
	SpeechDur time.Duration `json:"speech_dur"`
	Timestamp time.Time     `json:"timestamp"`
}

// StreamConfig configures one recognition stream.
type StreamConfig struct {
	SampleRate     int    `json:"sample_rate"`
	Language       string `json:"language,omitempty"`
	InterimResults bool   `json:"interim_results"`
}

// ASRStream is one live recognition session. Events are delivered in order;
// the channel closes when the stream ends or errors.
type ASRStream interface {
	// Send pushes one inbound audio frame to the recognizer.
	Send(f audio.Frame) error
	// Events returns the ordered transcript event channel.
	Events() <-chan TranscriptEvent
	// Close ends the stream and releases resources.
	Close() error
}

// ASRProvider opens recognition streams. Implementations must support
// cancellation through ctx and continuous partial results.
type ASRProvider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (ASRStream, error)
	Name() string
}

// TTSRequest is one synthesis request.
type TTSRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

// SpeechStream is cancellable synthesized audio. Frames closes when
// synthesis completes, errors, or Cancel is called.
type SpeechStream interface {
	Frames() <-chan audio.Frame
	// Cancel stops synthesis; no frame is delivered after roughly one frame
	// period.
	Cancel()
	// Err reports the stream failure, if any, once Frames is drained.
	Err() error
}

// TTSProvider renders an utterance into an outbound frame stream.
type TTSProvider interface {
	Synthesize(ctx context.Context, req *TTSRequest) (SpeechStream, error)
	Name() string
}
