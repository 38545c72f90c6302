package dialogue

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/llm"
	"github.com/callpilot-ai/callpilot/types"
)

// Classification is one classifier verdict.
type Classification struct {
	Intent     types.Intent
	Confidence float64
	// Rule reports whether the deterministic layer decided.
	Rule bool
}

// intentRule is one deterministic pattern. Rules are checked in order;
// the first match wins.
type intentRule struct {
	intent     types.Intent
	pattern    *regexp.Regexp
	confidence float64
}

// Rule order matters: legally-significant rejection patterns come
// first so they can never be shadowed by a softer match.
var intentRules = []intentRule{
	{types.IntentRejection, regexp.MustCompile(`(?i)\b(do not call|don'?t call|stop calling|remove me|take me off|unsubscribe|never call)\b`), 0.98},
	{types.IntentObjectionNotInterested, regexp.MustCompile(`(?i)\b(not interested|no interest|don'?t need|we'?re all set|not for (me|us))\b`), 0.95},
	{types.IntentObjectionWrongPerson, regexp.MustCompile(`(?i)\b(wrong (number|person)|doesn'?t live here|not the (right|correct) person|no one by that name)\b`), 0.95},
	{types.IntentObjectionNeedToThink, regexp.MustCompile(`(?i)\b(think (about|it) over|need to think|think about it|sleep on it|talk to my (wife|husband|partner|spouse)|get back to you)\b`), 0.92},
	{types.IntentCallbackRequest, regexp.MustCompile(`(?i)\b(call (me )?back|call me (later|tomorrow|next week)|try (me|again) (later|tomorrow))\b`), 0.92},
	{types.IntentObjectionTime, regexp.MustCompile(`(?i)\b(bad time|busy right now|in a meeting|i'?m driving|no time right now|can'?t talk)\b`), 0.92},
	{types.IntentObjectionPrice, regexp.MustCompile(`(?i)\b(how much|price|pricing|cost|costs|expensive|afford|what('?s| is) the rate)\b`), 0.92},
	{types.IntentAppointmentRequest, regexp.MustCompile(`(?i)\b(schedule|book|set up (a )?(time|meeting|call)|make an appointment|come (out|by))\b`), 0.92},
	{types.IntentConfirmation, regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|sure|correct|absolutely|sounds good|that works|ok(ay)?|perfect|right)\b`), 0.9},
	{types.IntentInterested, regexp.MustCompile(`(?i)\b(interested|tell me more|sounds (good|interesting)|go on|i'?d like to (hear|know) more)\b`), 0.88},
	{types.IntentGreeting, regexp.MustCompile(`(?i)^\s*(hello|hi|hey|good (morning|afternoon|evening))\b`), 0.85},
}

// Classifier maps a caller turn to an intent. The deterministic rule
// layer is checked first and is authoritative when it matches at or
// above the configured threshold; the language model only sees input
// the rules could not place.
type Classifier struct {
	provider  llm.Provider
	threshold float64
	contextN  int
	logger    *zap.Logger
}

// NewClassifier creates a classifier. provider may be nil, in which
// case unmatched input classifies as unclear.
func NewClassifier(provider llm.Provider, ruleThreshold float64, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		provider:  provider,
		threshold: ruleThreshold,
		contextN:  6,
		logger:    logger.With(zap.String("component", "intent_classifier")),
	}
}

// Classify returns exactly one intent with confidence. Unclassifiable
// input maps to unclear, never to an absent value, and model failures
// degrade to unclear rather than erroring the turn.
func (c *Classifier) Classify(ctx context.Context, text string, history []types.Turn, state types.DialogueState) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Intent: types.IntentSilence, Confidence: 1.0, Rule: true}
	}

	if cls, ok := classifyByRule(trimmed); ok && cls.Confidence >= c.threshold {
		return cls
	}

	if c.provider == nil {
		return Classification{Intent: types.IntentUnclear, Confidence: 0.3}
	}

	cls, err := c.classifyByModel(ctx, trimmed, history, state)
	if err != nil {
		c.logger.Warn("model classification failed, defaulting to unclear", zap.Error(err))
		return Classification{Intent: types.IntentUnclear, Confidence: 0.3}
	}
	return cls
}

// classifyByRule runs the deterministic layer.
func classifyByRule(text string) (Classification, bool) {
	for _, r := range intentRules {
		if r.pattern.MatchString(text) {
			return Classification{Intent: r.intent, Confidence: r.confidence, Rule: true}, true
		}
	}
	return Classification{}, false
}

// classifyByModel asks the language model to pick one intent label.
func (c *Classifier) classifyByModel(ctx context.Context, text string, history []types.Turn, state types.DialogueState) (Classification, error) {
	var sb strings.Builder
	sb.WriteString("You classify one utterance from a phone call into exactly one label.\n")
	sb.WriteString("Labels: ")
	for i, intent := range types.AllIntents {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(string(intent))
	}
	sb.WriteString(".\nRespond with the label only.\n")
	fmt.Fprintf(&sb, "Conversation state: %s\n", state)

	start := len(history) - c.contextN
	if start < 0 {
		start = 0
	}
	for _, turn := range history[start:] {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Speaker, turn.Text)
	}

	resp, err := c.provider.Completion(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sb.String()},
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, err
	}

	label := types.Intent(strings.ToLower(strings.TrimSpace(resp.Text())))
	if !label.Valid() {
		return Classification{Intent: types.IntentUnclear, Confidence: 0.3}, nil
	}
	return Classification{Intent: label, Confidence: 0.7}, nil
}
