package audio

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/types"
)

// ErrTruncated is returned by Play when playback was cut short by Truncate.
var ErrTruncated = errors.New("playback truncated")

// CarrierIO is the raw frame interface the telephony adapter implements.
type CarrierIO interface {
	// ReadFrame blocks for the next inbound frame.
	ReadFrame(ctx context.Context) (Frame, error)
	// WriteFrame forwards one outbound frame to the carrier.
	WriteFrame(ctx context.Context, f Frame) error
}

// Adapter normalizes carrier audio into the session pipeline: it pumps
// inbound frames onto a channel and plays outbound frame streams in order.
// Outbound playback can be truncated between frames, so carrier framing is
// never corrupted by a barge-in.
type Adapter struct {
	io     CarrierIO
	logger *zap.Logger

	inbound chan Frame

	mu       sync.Mutex
	truncate chan struct{}
}

// NewAdapter creates an adapter over the given carrier stream.
func NewAdapter(io CarrierIO, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		io:      io,
		logger:  logger.With(zap.String("component", "audio_adapter")),
		inbound: make(chan Frame, 64),
	}
}

// Run pumps inbound carrier frames onto the Inbound channel until the
// carrier disconnects or ctx is cancelled. The Inbound channel is closed on
// return.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.inbound)

	for {
		frame, err := a.io.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Debug("carrier read ended", zap.Error(err))
			return types.NewError(types.ErrCarrierDisconnected, "carrier audio stream ended").WithCause(err)
		}
		select {
		case a.inbound <- frame:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Inbound backlog means the session stalled; drop the oldest
			// frame rather than the carrier connection.
			select {
			case <-a.inbound:
			default:
			}
			select {
			case a.inbound <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Inbound returns the inbound frame channel fed by Run.
func (a *Adapter) Inbound() <-chan Frame {
	return a.inbound
}

// Play writes the frame stream to the carrier in order until the stream
// closes, the context is cancelled, or Truncate is called. It returns
// ErrTruncated when cut short by a barge-in.
func (a *Adapter) Play(ctx context.Context, frames <-chan Frame) error {
	a.mu.Lock()
	truncate := make(chan struct{})
	a.truncate = truncate
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.truncate = nil
		a.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-truncate:
			return ErrTruncated
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			// Re-check truncation before the write so no frame is emitted
			// after Truncate returns.
			select {
			case <-truncate:
				return ErrTruncated
			default:
			}
			if err := a.io.WriteFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return types.NewError(types.ErrCarrierWrite, "carrier write failed").WithCause(err)
			}
		}
	}
}

// Truncate stops the in-flight playback, if any. It is safe to call at any
// time and from any goroutine; playback halts before the next frame write.
func (a *Adapter) Truncate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.truncate != nil {
		select {
		case <-a.truncate:
		default:
			close(a.truncate)
		}
	}
}
