package respond

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/llm"
	"github.com/callpilot-ai/callpilot/retrieval"
	"github.com/callpilot-ai/callpilot/types"
)

type mockProvider struct {
	completionFn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (m *mockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return m.completionFn(ctx, req)
}

func (m *mockProvider) Name() string { return "mock" }

func newTestGenerator(t *testing.T, provider llm.Provider, retriever retrieval.Retriever) *Generator {
	t.Helper()
	g, err := NewGenerator(DefaultConfig(), dialogue.DefaultScriptPack(), provider, retriever, nil)
	require.NoError(t, err)
	return g
}

func TestGenerator_TemplateTopics(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, nil, nil)
	script := dialogue.DefaultScriptPack()

	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{"opening", &Request{Topic: dialogue.TopicOpening}, script.Opening},
		{"first pitch line", &Request{Topic: dialogue.TopicPitch}, script.PitchLines[0]},
		{"second pitch line", &Request{Topic: dialogue.TopicPitch, PitchIndex: 1}, script.PitchLines[1]},
		{"price rebuttal", &Request{Topic: dialogue.TopicRebuttal, Objection: types.IntentObjectionPrice}, script.Rebuttals[types.IntentObjectionPrice]},
		{"qualifying question", &Request{Topic: dialogue.TopicQualifying, QuestionIndex: 1}, script.QualifyingQuestions[1]},
		{"propose slot", &Request{Topic: dialogue.TopicProposeSlot}, script.BookingPrompt},
		{"closing", &Request{Topic: dialogue.TopicClosing}, script.ClosingLine},
		{"neutral close", &Request{Topic: dialogue.TopicNeutralClose}, script.NeutralClose},
		{"voicemail", &Request{Topic: dialogue.TopicVoicemailDrop}, script.VoicemailMessage},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := g.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, Sanitize(tt.want, 360), got)
		})
	}
}

func TestGenerator_ConfirmSlotSubstitution(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, nil, nil)

	at := time.Date(2026, time.September, 3, 15, 0, 0, 0, time.UTC)
	got, err := g.Generate(context.Background(), &Request{
		Topic: dialogue.TopicConfirmSlot,
		Slot:  &types.AppointmentSlot{At: at},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "Thursday, September 3 at 3:00 PM")
	assert.NotContains(t, got, "{{slot}}")
}

func TestGenerator_ModelAdaptsPitch(t *testing.T) {
	t.Parallel()
	var gotSystem string
	provider := &mockProvider{
		completionFn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			require.NotEmpty(t, req.Messages)
			gotSystem = req.Messages[0].Content
			return &llm.ChatResponse{Choices: []llm.ChatChoice{{
				Message: llm.Message{Role: llm.RoleAssistant, Content: "So, about those **savings** on your bill."},
			}}}, nil
		},
	}
	snippets := []retrieval.Snippet{
		{ID: "s1", Industry: "solar", Topic: "pitch",
			Content: "Mention the neighborhood reference installs."},
	}
	retr := retrieval.NewBM25Retriever(retrieval.DefaultConfig(), snippets, nil)
	g := newTestGenerator(t, provider, retr)

	got, err := g.Generate(context.Background(), &Request{
		Topic: dialogue.TopicPitch,
		History: []types.Turn{
			{Speaker: types.SpeakerCaller, Text: "go on then"},
		},
	})
	require.NoError(t, err)

	// Model output is sanitized before it reaches TTS.
	assert.Equal(t, "So, about those savings on your bill.", got)
	assert.Contains(t, gotSystem, "solar")
	assert.Contains(t, gotSystem, "neighborhood reference installs")
}

func TestGenerator_ModelFailureFallsBackToTemplate(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{
		completionFn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, assert.AnError
		},
	}
	g := newTestGenerator(t, provider, nil)

	got, err := g.Generate(context.Background(), &Request{Topic: dialogue.TopicPitch})
	require.NoError(t, err)
	assert.Equal(t, dialogue.DefaultScriptPack().PitchLines[0], got)
}

func TestGenerator_OpeningNeverAdapted(t *testing.T) {
	t.Parallel()
	provider := &mockProvider{
		completionFn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			t.Error("compliance topics must not reach the model")
			return nil, assert.AnError
		},
	}
	g := newTestGenerator(t, provider, nil)

	got, err := g.Generate(context.Background(), &Request{Topic: dialogue.TopicOpening})
	require.NoError(t, err)
	assert.Equal(t, dialogue.DefaultScriptPack().Opening, got)
}

func TestGenerator_PromptHistoryClampedByTokens(t *testing.T) {
	t.Parallel()
	var gotMessages []llm.Message
	provider := &mockProvider{
		completionFn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			gotMessages = req.Messages
			return &llm.ChatResponse{Choices: []llm.ChatChoice{{
				Message: llm.Message{Role: llm.RoleAssistant, Content: "sure"},
			}}}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.MaxPromptTokens = 200
	g, err := NewGenerator(cfg, dialogue.DefaultScriptPack(), provider, nil, nil)
	require.NoError(t, err)

	long := strings.Repeat("a perfectly ordinary sentence about electricity bills ", 40)
	history := []types.Turn{
		{Speaker: types.SpeakerCaller, Text: long},
		{Speaker: types.SpeakerCaller, Text: long},
		{Speaker: types.SpeakerCaller, Text: "keep this one"},
	}

	_, err = g.Generate(context.Background(), &Request{Topic: dialogue.TopicClarify, History: history})
	require.NoError(t, err)

	require.NotEmpty(t, gotMessages)
	assert.Equal(t, llm.RoleSystem, gotMessages[0].Role)
	// The oversized turns are dropped, the recent short one survives.
	require.Len(t, gotMessages, 2)
	assert.Equal(t, "keep this one", gotMessages[1].Content)
}

func TestGenerator_Fallback(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, nil, nil)
	script := dialogue.DefaultScriptPack()

	assert.Equal(t, script.StateFallbacks[types.StatePitching], g.Fallback(types.StatePitching))
	assert.Equal(t, script.NeutralClose, g.Fallback(types.StateVoicemail))
	assert.NotEmpty(t, g.Filler(0))
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"markdown stripped", "Here is **bold** and `code` and a [link](http://x)", "Here is bold and code and a link"},
		{"headings and lists", "# Title\n- first\n- second", "Title first second"},
		{"control chars dropped", "hi\x00 there\x07", "hi there"},
		{"whitespace collapsed", "  too   many\n\nspaces  ", "too many spaces"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in, 0))
		})
	}
}

func TestSanitize_ClampsAtWordBoundary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 50)
	got := Sanitize(long, 40)
	assert.LessOrEqual(t, len(got), 41)
	assert.True(t, strings.HasSuffix(got, "."))
	assert.NotContains(t, got, "wor.")
}
