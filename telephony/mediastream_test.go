package telephony

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/audio"
	"github.com/callpilot-ai/callpilot/types"
)

// wsPair returns a connected client/server websocket pair.
func wsPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		serverCh <- c
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, strings.Replace(srv.URL, "http://", "ws://", 1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })

	return c, <-serverCh
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func encodePCM(pcm []int16) string {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func TestMediaStream_EventsAndFrames(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	sendJSON(t, peer, mediaMessage{Event: "connected", CallID: "call-7"})
	ev := <-m.Events()
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, "call-7", ev.CallID)

	sendJSON(t, peer, mediaMessage{Event: "media", Payload: encodePCM([]int16{10, -10, 300})})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := m.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int16{10, -10, 300}, frame.PCM)
	assert.Equal(t, 16000, frame.SampleRate)

	sendJSON(t, peer, mediaMessage{Event: "dtmf", Digit: "3"})
	ev = <-m.Events()
	assert.Equal(t, EventDTMF, ev.Type)
	assert.Equal(t, "3", ev.Digit)
}

func TestMediaStream_WriteFrame(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	err := m.WriteFrame(context.Background(), audio.Frame{PCM: []int16{1, 2, 3}, SampleRate: 16000})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := peer.Read(ctx)
	require.NoError(t, err)

	var msg mediaMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, encodePCM([]int16{1, 2, 3}), msg.Payload)
}

func TestMediaStream_StopClosesStream(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	sendJSON(t, peer, mediaMessage{Event: "stop", Reason: "caller hung up"})

	ev := <-m.Events()
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "caller hung up", ev.Reason)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.ReadFrame(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrCarrierDisconnected, types.GetErrorCode(err))
}

func TestMediaStream_Hangup(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	require.NoError(t, m.Hangup(context.Background()))
	// Idempotent.
	assert.NoError(t, m.Hangup(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := peer.Read(ctx)
	require.NoError(t, err)
	var msg mediaMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "hangup", msg.Event)
}

func TestMediaStream_Transfer(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	require.NoError(t, m.Transfer(context.Background(), "operator-queue-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := peer.Read(ctx)
	require.NoError(t, err)
	var msg mediaMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "transfer", msg.Event)
	assert.Equal(t, "operator-queue-1", msg.Target)

	// The call keeps running until the carrier acknowledges.
	require.NoError(t, m.Hangup(context.Background()))
}

func TestMediaStream_CorruptPayloadSkipped(t *testing.T) {
	carrier, peer := wsPair(t)
	m := NewMediaStream(context.Background(), carrier, 16000, nil)

	sendJSON(t, peer, mediaMessage{Event: "media", Payload: "not base64!!"})
	sendJSON(t, peer, mediaMessage{Event: "media", Payload: encodePCM([]int16{5})})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := m.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int16{5}, frame.PCM)
}
