package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/types"
)

// --- Inline mocks (function callback pattern) ---

type mockCarrierIO struct {
	readFn  func(ctx context.Context) (Frame, error)
	writeFn func(ctx context.Context, f Frame) error
}

func (m *mockCarrierIO) ReadFrame(ctx context.Context) (Frame, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (m *mockCarrierIO) WriteFrame(ctx context.Context, f Frame) error {
	if m.writeFn != nil {
		return m.writeFn(ctx, f)
	}
	return nil
}

func testFrame() Frame {
	return Frame{PCM: make([]int16, 320), SampleRate: 16000, Timestamp: time.Now()}
}

func TestAdapter_RunDeliversInboundFrames(t *testing.T) {
	t.Parallel()

	var produced int
	carrier := &mockCarrierIO{
		readFn: func(ctx context.Context) (Frame, error) {
			if produced >= 3 {
				return Frame{}, io.EOF
			}
			produced++
			return testFrame(), nil
		},
	}

	a := NewAdapter(carrier, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	var got int
	for range a.Inbound() {
		got++
	}
	assert.Equal(t, 3, got)

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, types.ErrCarrierDisconnected, types.GetErrorCode(err))
}

func TestAdapter_PlayWritesAllFrames(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var written int
	carrier := &mockCarrierIO{
		writeFn: func(ctx context.Context, f Frame) error {
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		},
	}

	a := NewAdapter(carrier, nil)
	frames := make(chan Frame, 5)
	for i := 0; i < 5; i++ {
		frames <- testFrame()
	}
	close(frames)

	require.NoError(t, a.Play(context.Background(), frames))
	assert.Equal(t, 5, written)
}

func TestAdapter_TruncateStopsPlayback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var written int
	var a *Adapter
	carrier := &mockCarrierIO{
		writeFn: func(ctx context.Context, f Frame) error {
			mu.Lock()
			written++
			n := written
			mu.Unlock()
			if n == 2 {
				a.Truncate()
			}
			return nil
		},
	}
	a = NewAdapter(carrier, nil)

	frames := make(chan Frame, 10)
	for i := 0; i < 10; i++ {
		frames <- testFrame()
	}
	close(frames)

	err := a.Play(context.Background(), frames)
	require.ErrorIs(t, err, ErrTruncated)

	mu.Lock()
	defer mu.Unlock()
	// No frame may be written after Truncate returns.
	assert.Equal(t, 2, written)
}

func TestAdapter_PlaySurfacesCarrierWriteError(t *testing.T) {
	t.Parallel()

	carrier := &mockCarrierIO{
		writeFn: func(ctx context.Context, f Frame) error {
			return errors.New("socket closed")
		},
	}
	a := NewAdapter(carrier, nil)

	frames := make(chan Frame, 1)
	frames <- testFrame()
	close(frames)

	err := a.Play(context.Background(), frames)
	require.Error(t, err)
	assert.Equal(t, types.ErrCarrierWrite, types.GetErrorCode(err))
}

func TestAdapter_TruncateWithoutPlaybackIsSafe(t *testing.T) {
	t.Parallel()

	a := NewAdapter(&mockCarrierIO{}, nil)
	a.Truncate()
	a.Truncate()
}
