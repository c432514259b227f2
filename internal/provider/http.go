package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// HTTPBackend talks to any OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	cfg        types.ProviderConfig
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPBackend creates an adapter for cfg. apiKey may be empty for
// endpoints that do not authenticate (local inference servers).
func NewHTTPBackend(cfg types.ProviderConfig, apiKey string, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		cfg:    cfg,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // ceiling; per-request timeouts come via ctx
		},
		logger: logger.Named("provider").With(zap.String("provider", cfg.Name)),
	}
}

func (b *HTTPBackend) Name() string                     { return b.cfg.Name }
func (b *HTTPBackend) Capabilities() []types.Capability { return b.cfg.Capabilities }

func (b *HTTPBackend) EstimateTokens(messages []types.Message) int {
	return estimateTokens(messages)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate performs one chat completion call. The request-level timeout from
// opts bounds the call independently of the caller's loop budget.
func (b *HTTPBackend) Generate(ctx context.Context, messages []types.Message, taskType types.TaskType, opts types.GenerateOptions) (*types.GenerateResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = b.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = b.cfg.MaxTokens
	}

	reqBody := chatRequest{
		Model:       model,
		Messages:    make([]chatMessage, len(messages)),
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}
	for i, m := range messages {
		reqBody.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureNetwork,
			fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureNetwork,
			fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.NewProviderError(b.cfg.Name, types.FailureRateLimit,
			fmt.Errorf("rate limited (429): %s", truncate(body, 200)))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewProviderError(b.cfg.Name, types.FailureAuth,
			fmt.Errorf("authentication failed (%d)", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, types.NewProviderError(b.cfg.Name, types.FailureNetwork,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("api error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("no choices in response"))
	}

	usage := types.Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
	result := &types.GenerateResult{
		Content:      parsed.Choices[0].Message.Content,
		Usage:        usage,
		Cost:         cost(b.cfg.Pricing, usage),
		FinishReason: parsed.Choices[0].FinishReason,
	}

	b.logger.Debug("completion",
		zap.String("task", string(taskType)),
		zap.String("model", model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

// IsAvailable probes the models listing endpoint with a short deadline.
func (b *HTTPBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
