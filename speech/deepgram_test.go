package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/audio"
)

// fakeDeepgram accepts the live websocket, records the request, and
// replies with one interim and one final result per received frame batch.
func fakeDeepgram(t *testing.T, gotAuth *string, gotQuery *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotAuth = r.Header.Get("Authorization")
		*gotQuery = r.URL.RawQuery

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		typ, _, err := conn.Read(ctx)
		if err != nil || typ == websocket.MessageText {
			// Text before any audio is the client's CloseStream.
			return
		}

		write := func(isFinal bool, text string, start, dur float64) {
			msg := map[string]any{
				"type":     "Results",
				"is_final": isFinal,
				"start":    start,
				"duration": dur,
				"channel": map[string]any{
					"alternatives": []map[string]any{
						{"transcript": text, "confidence": 0.93},
					},
				},
			}
			data, _ := json.Marshal(msg)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		write(false, "hello", 0.2, 0.4)
		write(true, "hello there", 0.2, 1.1)

		// Drain until the client closes.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func TestDeepgramStream_TranscriptEvents(t *testing.T) {
	var gotAuth, gotQuery string
	srv := fakeDeepgram(t, &gotAuth, &gotQuery)
	defer srv.Close()

	asr := NewDeepgramASR(DeepgramConfig{APIKey: "dg-key", BaseURL: srv.URL}, nil)
	assert.Equal(t, "deepgram", asr.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := asr.StartStream(ctx, StreamConfig{SampleRate: 16000, InterimResults: true})
	require.NoError(t, err)
	defer stream.Close()

	frame := audio.Frame{PCM: make([]int16, 320), SampleRate: 16000}
	require.NoError(t, stream.Send(frame))

	interim := <-stream.Events()
	assert.Equal(t, "hello", interim.Text)
	assert.False(t, interim.IsFinal)
	assert.InDelta(t, 0.93, interim.Confidence, 1e-9)
	assert.Equal(t, 400*time.Millisecond, interim.SpeechDur)

	final := <-stream.Events()
	assert.Equal(t, "hello there", final.Text)
	assert.True(t, final.IsFinal)
	// Speech duration is measured from the utterance start, not t=0.
	assert.Equal(t, 1100*time.Millisecond, final.SpeechDur)

	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Contains(t, gotQuery, "encoding=linear16")
	assert.Contains(t, gotQuery, "sample_rate=16000")
	assert.Contains(t, gotQuery, "interim_results=true")
}

func TestDeepgramStream_CloseEndsEvents(t *testing.T) {
	var gotAuth, gotQuery string
	srv := fakeDeepgram(t, &gotAuth, &gotQuery)
	defer srv.Close()

	asr := NewDeepgramASR(DeepgramConfig{BaseURL: srv.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := asr.StartStream(ctx, StreamConfig{SampleRate: 16000})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	// Events channel must drain and close after Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel did not close")
		}
	}
}

func TestDeepgramStream_DialFailure(t *testing.T) {
	asr := NewDeepgramASR(DeepgramConfig{BaseURL: "ws://127.0.0.1:1", Timeout: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := asr.StartStream(ctx, StreamConfig{SampleRate: 16000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepgram dial")
}
