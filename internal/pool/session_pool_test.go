package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPool_AdmitAndReject(t *testing.T) {
	t.Parallel()
	p := NewSessionPool(2, nil)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Launch(context.Background(), func(ctx context.Context) {
			wg.Done()
			<-release
		}))
	}
	wg.Wait()
	assert.Equal(t, 2, p.Active())

	err := p.Launch(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrAtCapacity)

	close(release)
	require.Eventually(t, func() bool { return p.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Admitted)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(2), stats.Completed)
}

func TestSessionPool_SlotFreedAfterCompletion(t *testing.T) {
	t.Parallel()
	p := NewSessionPool(1, nil)

	done := make(chan struct{})
	require.NoError(t, p.Launch(context.Background(), func(ctx context.Context) { close(done) }))
	<-done
	require.Eventually(t, func() bool { return p.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NoError(t, p.Launch(context.Background(), func(ctx context.Context) {}))
}

func TestSessionPool_PanicRecovered(t *testing.T) {
	t.Parallel()
	var recovered any
	var mu sync.Mutex
	p := NewSessionPool(1, func(r any) {
		mu.Lock()
		recovered = r
		mu.Unlock()
	})

	require.NoError(t, p.Launch(context.Background(), func(ctx context.Context) {
		panic("session blew up")
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return recovered != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "session blew up", recovered)
	assert.Equal(t, 0, p.Active())
}

func TestSessionPool_CloseAndWait(t *testing.T) {
	t.Parallel()
	p := NewSessionPool(4, nil)

	release := make(chan struct{})
	require.NoError(t, p.Launch(context.Background(), func(ctx context.Context) { <-release }))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.CloseAndWait(ctx))

	assert.ErrorIs(t, p.Launch(context.Background(), func(ctx context.Context) {}), ErrPoolClosed)
}

func TestSessionPool_CloseTimeout(t *testing.T) {
	t.Parallel()
	p := NewSessionPool(1, nil)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Launch(context.Background(), func(ctx context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, p.CloseAndWait(ctx))
}
