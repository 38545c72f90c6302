package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/types"
)

// OpenAICompatConfig configures an OpenAI-compatible endpoint. It covers
// OpenAI itself plus the many vendors that mirror its chat API.
type OpenAICompatConfig struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	EndpointPath string
}

// OpenAICompatProvider implements Provider over the /v1/chat/completions
// wire format.
type OpenAICompatProvider struct {
	cfg    OpenAICompatConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompat creates the provider.
func NewOpenAICompat(cfg OpenAICompatConfig, logger *zap.Logger) *OpenAICompatProvider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompatProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *OpenAICompatProvider) Name() string { return p.cfg.ProviderName }

type openAIWireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type openAIWireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Created int64 `json:"created,omitempty"`
}

type openAIWireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion performs a synchronous chat completion.
func (p *OpenAICompatProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrInternal, "empty completion request").WithStage("llm")
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	payload, err := json.Marshal(openAIWireRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, types.NewError(types.ErrStageTimeout, "completion deadline exceeded").
				WithStage("llm").WithCause(err)
		}
		return nil, types.NewError(types.ErrStageUnavailable, "completion request failed").
			WithStage("llm").WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.mapHTTPError(resp)
	}

	var wire openAIWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrStageUnavailable, "malformed completion response").
			WithStage("llm").WithRetryable(true).WithCause(err)
	}

	out := &ChatResponse{
		ID:        wire.ID,
		Provider:  p.cfg.ProviderName,
		Model:     wire.Model,
		CreatedAt: time.Unix(wire.Created, 0),
	}
	for _, c := range wire.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      c.Message,
		})
	}
	if wire.Usage != nil {
		out.Usage = ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	p.logger.Debug("completion finished",
		zap.String("model", model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", out.Usage.TotalTokens))
	return out, nil
}

// mapHTTPError converts an error status into the shared error taxonomy.
// 429 and 5xx are retryable upstream conditions, everything else is not.
func (p *OpenAICompatProvider) mapHTTPError(resp *http.Response) error {
	var wire openAIWireError
	msg := ""
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
			msg = wire.Error.Message
		} else {
			msg = strings.TrimSpace(string(body))
		}
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return types.NewError(types.ErrStageUnavailable,
		fmt.Sprintf("%s status %d: %s", p.cfg.ProviderName, resp.StatusCode, msg)).
		WithStage("llm").WithRetryable(retryable)
}
