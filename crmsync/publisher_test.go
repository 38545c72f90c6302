package crmsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/types"
)

func testPackage() *types.OutcomePackage {
	return &types.OutcomePackage{
		SessionID:  "sess-1",
		TenantID:   "tenant-a",
		Outcome:    types.OutcomeAppointmentSet,
		FinalState: types.StateAppointmentSet,
		StartedAt:  time.Now().Add(-time.Minute),
		EndedAt:    time.Now(),
		Turns: []types.Turn{
			{Speaker: types.SpeakerSystem, Text: "Hi, this is Alex."},
			{Speaker: types.SpeakerCaller, Text: "yes that works"},
		},
		Slot: &types.AppointmentSlot{At: time.Now().Add(24 * time.Hour), Confirmed: true},
	}
}

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisPublisher(DefaultConfig(), client, nil)
	require.NoError(t, p.Publish(context.Background(), testPackage()))

	entries, err := client.XRange(context.Background(), DefaultConfig().Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "sess-1", entries[0].Values["session_id"])
	assert.Equal(t, "appointment_set", entries[0].Values["outcome"])

	var pkg types.OutcomePackage
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["package"].(string)), &pkg))
	assert.Equal(t, types.OutcomeAppointmentSet, pkg.Outcome)
	require.NotNil(t, pkg.Slot)
	assert.True(t, pkg.Slot.Confirmed)
	assert.Len(t, pkg.Turns, 2)
}

func TestRedisPublisher_RetriesThenFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Retries = 1
	cfg.Backoff = time.Millisecond
	cfg.Timeout = 100 * time.Millisecond
	p := NewRedisPublisher(cfg, client, nil)

	err := p.Publish(context.Background(), testPackage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 attempts")
}

func TestRedisPublisher_PublishAsyncDoesNotBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisPublisher(DefaultConfig(), client, nil)

	start := time.Now()
	p.PublishAsync(testPackage())
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), DefaultConfig().Stream).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}
