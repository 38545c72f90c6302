// Package respond turns policy decisions into spoken lines: script
// templates first, with optional language-model adaptation grounded on
// retrieved snippets.
package respond

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/dialogue"
	"github.com/callpilot-ai/callpilot/llm"
	"github.com/callpilot-ai/callpilot/retrieval"
	"github.com/callpilot-ai/callpilot/types"
)

// ClarifyLine is the fixed clarification prompt. It is also rendered
// into a canned clip at startup.
const ClarifyLine = "Sorry, I didn't quite catch that. Could you say that again?"

// Request describes the line the session needs next.
type Request struct {
	Topic     dialogue.Topic
	State     types.DialogueState
	Objection types.Intent
	History   []types.Turn
	Slot      *types.AppointmentSlot

	// PitchIndex and QuestionIndex walk the script's pitch lines and
	// qualifying questions across turns.
	PitchIndex    int
	QuestionIndex int
}

// Config tunes generation limits.
type Config struct {
	// MaxResponseChars caps spoken line length so TTS duration stays
	// bounded.
	MaxResponseChars int
	// MaxPromptTokens caps the assembled prompt; older turns are
	// dropped first.
	MaxPromptTokens int
	// Model is passed to the language model provider.
	Model string
}

// DefaultConfig returns the standard generation limits.
func DefaultConfig() Config {
	return Config{MaxResponseChars: 360, MaxPromptTokens: 1600}
}

// Generator assembles spoken responses. The provider and retriever are
// both optional; without them every topic resolves from the script.
type Generator struct {
	cfg       Config
	script    *dialogue.ScriptPack
	provider  llm.Provider
	retriever retrieval.Retriever
	encoder   *tiktoken.Tiktoken
	logger    *zap.Logger
}

// NewGenerator creates a generator for one script pack.
func NewGenerator(cfg Config, script *dialogue.ScriptPack, provider llm.Provider, retriever retrieval.Retriever, logger *zap.Logger) (*Generator, error) {
	if script == nil {
		return nil, fmt.Errorf("generator requires a script pack")
	}
	if cfg.MaxResponseChars == 0 {
		cfg.MaxResponseChars = DefaultConfig().MaxResponseChars
	}
	if cfg.MaxPromptTokens == 0 {
		cfg.MaxPromptTokens = DefaultConfig().MaxPromptTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The BPE table may need a one-time download; counting degrades to
	// a word heuristic when it is unavailable.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("token encoder unavailable, using word estimate", zap.Error(err))
		encoder = nil
	}

	return &Generator{
		cfg:       cfg,
		script:    script,
		provider:  provider,
		retriever: retriever,
		encoder:   encoder,
		logger:    logger.With(zap.String("component", "response_generator")),
	}, nil
}

// Generate produces the next spoken line. It never returns an empty
// line on model failure; the script template is the floor.
func (g *Generator) Generate(ctx context.Context, req *Request) (string, error) {
	template := g.template(req)

	if g.provider != nil && adaptiveTopic(req.Topic) {
		if line, err := g.adapt(ctx, req, template); err == nil && line != "" {
			return line, nil
		} else if err != nil {
			g.logger.Warn("model adaptation failed, using template",
				zap.String("topic", string(req.Topic)), zap.Error(err))
		}
	}

	return Sanitize(template, g.cfg.MaxResponseChars), nil
}

// Fallback returns the templated line for a state, used when the
// language model misses its budget entirely.
func (g *Generator) Fallback(state types.DialogueState) string {
	if line, ok := g.script.StateFallbacks[state]; ok {
		return Sanitize(line, g.cfg.MaxResponseChars)
	}
	return Sanitize(g.script.NeutralClose, g.cfg.MaxResponseChars)
}

// Filler returns a short neutral phrase for the given turn index.
func (g *Generator) Filler(turn int) string {
	return g.script.Filler(turn)
}

// adaptiveTopic reports whether a topic benefits from model adaptation.
// Opening, voicemail, and closing lines stay verbatim for compliance.
func adaptiveTopic(topic dialogue.Topic) bool {
	switch topic {
	case dialogue.TopicPitch, dialogue.TopicRebuttal, dialogue.TopicQualifying, dialogue.TopicClarify:
		return true
	}
	return false
}

// template resolves the script line for a request.
func (g *Generator) template(req *Request) string {
	switch req.Topic {
	case dialogue.TopicOpening:
		return g.script.Opening
	case dialogue.TopicPitch:
		if len(g.script.PitchLines) == 0 {
			return g.script.NeutralClose
		}
		return g.script.PitchLines[req.PitchIndex%len(g.script.PitchLines)]
	case dialogue.TopicRebuttal:
		if line, ok := g.script.Rebuttals[req.Objection]; ok {
			return line
		}
		return g.Fallback(types.StateHandlingObjection)
	case dialogue.TopicQualifying:
		if len(g.script.QualifyingQuestions) == 0 {
			return g.script.BookingPrompt
		}
		return g.script.QualifyingQuestions[req.QuestionIndex%len(g.script.QualifyingQuestions)]
	case dialogue.TopicProposeSlot:
		return g.script.BookingPrompt
	case dialogue.TopicConfirmSlot:
		return g.confirmLine(req.Slot)
	case dialogue.TopicClarify:
		return ClarifyLine
	case dialogue.TopicClosing:
		return g.script.ClosingLine
	case dialogue.TopicNeutralClose:
		return g.script.NeutralClose
	case dialogue.TopicVoicemailDrop:
		return g.script.VoicemailMessage
	}
	return g.script.NeutralClose
}

// confirmLine substitutes the proposed slot into the confirm template.
func (g *Generator) confirmLine(slot *types.AppointmentSlot) string {
	line := g.script.ConfirmPrompt
	when := "the time we discussed"
	if slot != nil {
		when = slot.At.Format("Monday, January 2 at 3:04 PM")
	}
	return strings.ReplaceAll(line, "{{slot}}", when)
}

// adapt asks the model to rephrase the template for this conversation,
// grounded on retrieved snippets.
func (g *Generator) adapt(ctx context.Context, req *Request, template string) (string, error) {
	prompt := g.buildPrompt(ctx, req, template)

	resp, err := g.provider.Completion(ctx, &llm.ChatRequest{
		Model:       g.cfg.Model,
		Messages:    prompt,
		MaxTokens:   120,
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}

	line := Sanitize(resp.Text(), g.cfg.MaxResponseChars)
	if line == "" {
		return "", fmt.Errorf("model returned empty line")
	}
	return line, nil
}
