package telephony

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/audio"
	"github.com/callpilot-ai/callpilot/types"
)

// mediaMessage is the JSON envelope on the media websocket.
type mediaMessage struct {
	Event   string `json:"event"`
	CallID  string `json:"call_id,omitempty"`
	Payload string `json:"payload,omitempty"`
	Digit   string `json:"digit,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Target  string `json:"target,omitempty"`
}

// MediaStream adapts one media websocket connection to the Carrier
// port. Inbound JSON messages become events and PCM frames; outbound
// frames are base64 encoded back onto the socket.
type MediaStream struct {
	conn       *websocket.Conn
	sampleRate int
	logger     *zap.Logger

	events chan Event
	frames chan audio.Frame

	ctx    context.Context
	cancel context.CancelFunc

	writeMu  sync.Mutex
	hangupMu sync.Once
}

// NewMediaStream wraps an accepted websocket connection. The read pump
// starts immediately.
func NewMediaStream(ctx context.Context, conn *websocket.Conn, sampleRate int, logger *zap.Logger) *MediaStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	m := &MediaStream{
		conn:       conn,
		sampleRate: sampleRate,
		logger:     logger.With(zap.String("component", "media_stream")),
		events:     make(chan Event, 16),
		frames:     make(chan audio.Frame, 64),
		ctx:        streamCtx,
		cancel:     cancel,
	}
	go m.readPump()
	return m
}

func (m *MediaStream) Events() <-chan Event { return m.events }

// ReadFrame returns the next inbound PCM frame.
func (m *MediaStream) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-m.frames:
		if !ok {
			return audio.Frame{}, types.NewError(types.ErrCarrierDisconnected, "media stream closed")
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// WriteFrame sends one outbound PCM frame.
func (m *MediaStream) WriteFrame(ctx context.Context, f audio.Frame) error {
	buf := make([]byte, len(f.PCM)*2)
	for i, s := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	msg := mediaMessage{Event: "media", Payload: base64.StdEncoding.EncodeToString(buf)}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal media message: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return types.NewError(types.ErrCarrierWrite, "media write failed").WithCause(err)
	}
	return nil
}

// Hangup tells the carrier to end the call and closes the socket.
func (m *MediaStream) Hangup(ctx context.Context) error {
	var err error
	m.hangupMu.Do(func() {
		data, _ := json.Marshal(mediaMessage{Event: "hangup"})
		m.writeMu.Lock()
		writeErr := m.conn.Write(ctx, websocket.MessageText, data)
		m.writeMu.Unlock()
		m.cancel()
		closeErr := m.conn.Close(websocket.StatusNormalClosure, "hangup")
		if writeErr != nil {
			err = writeErr
		} else {
			err = closeErr
		}
	})
	return err
}

// Transfer asks the carrier to hand the call to target. The socket
// stays open; the carrier signals the handoff with a disconnect event.
func (m *MediaStream) Transfer(ctx context.Context, target string) error {
	data, _ := json.Marshal(mediaMessage{Event: "transfer", Target: target})
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return types.NewError(types.ErrCarrierWrite, "transfer request failed").WithCause(err)
	}
	return nil
}

func (m *MediaStream) readPump() {
	defer close(m.events)
	defer close(m.frames)
	defer m.cancel()

	for {
		_, data, err := m.conn.Read(m.ctx)
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Debug("media socket closed", zap.Error(err))
				m.emit(Event{Type: EventDisconnected, Reason: "socket closed", Timestamp: time.Now()})
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("unparseable media message", zap.Error(err))
			continue
		}

		switch msg.Event {
		case "connected", "start":
			m.emit(Event{Type: EventConnected, CallID: msg.CallID, Timestamp: time.Now()})
		case "media":
			m.handleMedia(msg.Payload)
		case "dtmf":
			m.emit(Event{Type: EventDTMF, Digit: msg.Digit, Timestamp: time.Now()})
		case "stop", "hangup":
			m.emit(Event{Type: EventDisconnected, Reason: msg.Reason, Timestamp: time.Now()})
			return
		default:
			m.logger.Debug("ignoring media event", zap.String("event", msg.Event))
		}
	}
}

func (m *MediaStream) handleMedia(payload string) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(raw)%2 != 0 {
		m.logger.Warn("corrupt media payload", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	frame := audio.Frame{PCM: pcm, SampleRate: m.sampleRate, Timestamp: time.Now()}

	select {
	case m.frames <- frame:
	default:
		// Consumer is behind; drop the oldest frame to stay realtime.
		select {
		case <-m.frames:
		default:
		}
		select {
		case m.frames <- frame:
		default:
		}
	}
}

func (m *MediaStream) emit(e Event) {
	select {
	case m.events <- e:
	default:
		m.logger.Warn("event backlog full, dropping", zap.String("type", string(e.Type)))
	}
}
