package respond

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/llm"
)

// buildPrompt assembles the system prompt plus as much recent history
// as fits the token budget, newest turns kept first.
func (g *Generator) buildPrompt(ctx context.Context, req *Request, template string) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a phone sales agent for the %s industry.\n", g.script.Industry)
	sb.WriteString("Rephrase the script line below naturally for this conversation. ")
	sb.WriteString("Keep it to one or two short spoken sentences. Plain text only, no markdown.\n")
	fmt.Fprintf(&sb, "Script line: %s\n", template)

	if g.retriever != nil {
		results, err := g.retriever.Retrieve(ctx, g.script.Industry, string(req.Topic))
		if err != nil {
			g.logger.Debug("snippet retrieval failed", zap.Error(err))
		}
		for _, r := range results {
			fmt.Fprintf(&sb, "Guidance: %s\n", r.Snippet.Content)
		}
	}

	system := llm.Message{Role: llm.RoleSystem, Content: sb.String()}
	budget := g.cfg.MaxPromptTokens - g.countTokens(system.Content)

	// Walk history newest-first so the most recent turns survive the
	// budget, then restore chronological order.
	var kept []llm.Message
	for i := len(req.History) - 1; i >= 0; i-- {
		turn := req.History[i]
		role := llm.RoleAssistant
		if turn.Speaker != "system" {
			role = llm.RoleUser
		}
		cost := g.countTokens(turn.Text)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, llm.Message{Role: role, Content: turn.Text})
	}

	messages := make([]llm.Message, 0, len(kept)+1)
	messages = append(messages, system)
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	return messages
}

func (g *Generator) countTokens(text string) int {
	if g.encoder != nil {
		return len(g.encoder.Encode(text, nil, nil))
	}
	// Rough 4 characters per token estimate.
	return len(text)/4 + 1
}
