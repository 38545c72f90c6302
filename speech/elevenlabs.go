package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/audio"
)

// ElevenLabsTTS implements streaming synthesis over the ElevenLabs HTTP
// API. Audio is requested as raw PCM and sliced into fixed-period frames
// so playback can be truncated with frame granularity.
type ElevenLabsTTS struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

// NewElevenLabsTTS creates the adapter.
func NewElevenLabsTTS(cfg ElevenLabsConfig, logger *zap.Logger) *ElevenLabsTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_turbo_v2_5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FramePeriod == 0 {
		cfg.FramePeriod = 20 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "elevenlabs_tts")),
	}
}

func (p *ElevenLabsTTS) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize issues the streaming request and returns a frame stream.
// Frames become available as response chunks arrive, so the first frame
// does not wait for full synthesis.
func (p *ElevenLabsTTS) Synthesize(ctx context.Context, req *TTSRequest) (SpeechStream, error) {
	if req == nil || req.Text == "" {
		return nil, fmt.Errorf("empty synthesis request")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	body, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: p.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=pcm_%d",
		strings.TrimRight(p.cfg.BaseURL, "/"), voice, sampleRate)

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	s := &elevenLabsStream{
		frames: make(chan audio.Frame, 8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.decode(resp.Body, sampleRate, p.cfg.FramePeriod, p.logger)
	return s, nil
}

type elevenLabsStream struct {
	frames chan audio.Frame
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	err      error
	doneOnce sync.Once
}

func (s *elevenLabsStream) Frames() <-chan audio.Frame { return s.frames }

// Cancel aborts the HTTP request. Already-buffered frames may still be
// delivered, but no new audio is decoded after the call returns.
func (s *elevenLabsStream) Cancel() {
	s.doneOnce.Do(func() { close(s.done) })
	s.cancel()
}

func (s *elevenLabsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *elevenLabsStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// decode slices the raw little-endian PCM body into frames of one frame
// period each. A trailing partial frame is emitted as-is.
func (s *elevenLabsStream) decode(body io.ReadCloser, sampleRate int, period time.Duration, logger *zap.Logger) {
	defer close(s.frames)
	defer body.Close()
	defer s.cancel()

	frameBytes := audio.SamplesPerFrame(sampleRate, period) * 2
	buf := make([]byte, frameBytes)
	filled := 0

	emit := func(n int) bool {
		pcm := make([]int16, n/2)
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		select {
		case s.frames <- audio.Frame{PCM: pcm, SampleRate: sampleRate, Timestamp: time.Now()}:
			return true
		case <-s.done:
			return false
		}
	}

	for {
		n, err := body.Read(buf[filled:])
		filled += n
		if filled == frameBytes {
			if !emit(frameBytes) {
				return
			}
			filled = 0
		}
		if err != nil {
			if filled > 0 && filled%2 == 0 {
				emit(filled)
			}
			if err != io.EOF {
				if s.errIsCancel(err) {
					return
				}
				logger.Debug("tts body read ended", zap.Error(err))
				s.setErr(fmt.Errorf("elevenlabs body: %w", err))
			}
			return
		}
	}
}

func (s *elevenLabsStream) errIsCancel(err error) bool {
	return err == context.Canceled || strings.Contains(err.Error(), "context canceled")
}
