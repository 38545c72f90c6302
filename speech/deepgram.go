package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/audio"
)

// DeepgramASR implements streaming recognition over the Deepgram live
// websocket API.
type DeepgramASR struct {
	cfg    DeepgramConfig
	logger *zap.Logger
}

// NewDeepgramASR creates the adapter.
func NewDeepgramASR(cfg DeepgramConfig, logger *zap.Logger) *DeepgramASR {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramASR{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "deepgram_asr")),
	}
}

func (p *DeepgramASR) Name() string { return "deepgram" }

// StartStream dials the live endpoint and starts the result reader.
func (p *DeepgramASR) StartStream(ctx context.Context, cfg StreamConfig) (ASRStream, error) {
	params := url.Values{}
	params.Set("model", p.cfg.Model)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	params.Set("punctuate", "true")
	if cfg.InterimResults {
		params.Set("interim_results", "true")
	}
	if cfg.Language != "" {
		params.Set("language", cfg.Language)
	}

	base := strings.TrimRight(p.cfg.BaseURL, "/")
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	endpoint := fmt.Sprintf("%s/v1/listen?%s", base, params.Encode())

	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set("Authorization", "Token "+p.cfg.APIKey)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:   conn,
		events: make(chan TranscriptEvent, 16),
		ctx:    streamCtx,
		cancel: cancel,
		logger: p.logger,
	}
	go s.readLoop()
	return s, nil
}

type deepgramStream struct {
	conn   *websocket.Conn
	events chan TranscriptEvent
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	// Start of the current utterance in recognizer time, seconds.
	utterStart float64
	haveStart  bool
}

type deepgramLiveResult struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Send pushes one PCM frame as a binary websocket message.
func (s *deepgramStream) Send(f audio.Frame) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	buf := make([]byte, len(f.PCM)*2)
	for i, sample := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, buf); err != nil {
		return fmt.Errorf("deepgram send: %w", err)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan TranscriptEvent {
	return s.events
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debug("deepgram read ended", zap.Error(err))
			}
			return
		}

		var result deepgramLiveResult
		if err := json.Unmarshal(data, &result); err != nil {
			s.logger.Warn("deepgram unparseable message", zap.Error(err))
			continue
		}
		if result.Type != "" && result.Type != "Results" {
			continue
		}
		if len(result.Channel.Alternatives) == 0 {
			continue
		}
		alt := result.Channel.Alternatives[0]

		if !s.haveStart {
			s.utterStart = result.Start
			s.haveStart = true
		}
		speechSecs := result.Start + result.Duration - s.utterStart
		if result.IsFinal {
			s.haveStart = false
		}

		event := TranscriptEvent{
			Text:       alt.Transcript,
			IsFinal:    result.IsFinal,
			Confidence: alt.Confidence,
			SpeechDur:  time.Duration(speechSecs * float64(time.Second)),
			Timestamp:  time.Now(),
		}
		select {
		case s.events <- event:
		case <-s.ctx.Done():
			return
		}
	}
}

// Close ends the stream. Deepgram expects a CloseStream control message
// before the socket shuts down.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()
		s.cancel()
		err = s.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return err
}
