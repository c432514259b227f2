package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/louipr/spark-sub001/internal/types"
)

// GeminiBackend adapts Google's genai SDK to the Backend contract.
type GeminiBackend struct {
	cfg    types.ProviderConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiBackend creates a Gemini adapter. The API key is required.
func NewGeminiBackend(ctx context.Context, cfg types.ProviderConfig, apiKey string, logger *zap.Logger) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini backend %q requires an API key", types.ErrConfiguration, cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiBackend{
		cfg:    cfg,
		client: client,
		logger: logger.Named("provider").With(zap.String("provider", cfg.Name)),
	}, nil
}

func (b *GeminiBackend) Name() string                     { return b.cfg.Name }
func (b *GeminiBackend) Capabilities() []types.Capability { return b.cfg.Capabilities }

func (b *GeminiBackend) EstimateTokens(messages []types.Message) int {
	return estimateTokens(messages)
}

// toContents splits the conversation into a system instruction and the
// user/model turn contents Gemini expects.
func toContents(messages []types.Message) (system string, contents []*genai.Content) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, contents
}

func (b *GeminiBackend) Generate(ctx context.Context, messages []types.Message, taskType types.TaskType, opts types.GenerateOptions) (*types.GenerateResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = b.cfg.Model
	}

	system, contents := toContents(messages)
	if len(contents) == 0 {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("no user content to send"))
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = b.cfg.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	start := time.Now()
	resp, err := b.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse,
			fmt.Errorf("no candidates in response"))
	}

	var usage types.Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	result := &types.GenerateResult{
		Content:      resp.Text(),
		Usage:        usage,
		Cost:         cost(b.cfg.Pricing, usage),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}

	b.logger.Debug("completion",
		zap.String("task", string(taskType)),
		zap.String("model", model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

// classify maps genai errors into the failure taxonomy so the router can
// tell retryable rate limits from hard failures.
func (b *GeminiBackend) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return types.NewProviderError(b.cfg.Name, types.FailureRateLimit, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return types.NewProviderError(b.cfg.Name, types.FailureAuth, err)
		}
	}
	return types.NewProviderError(b.cfg.Name, types.FailureNetwork, err)
}

// IsAvailable counts tokens on a trivial prompt; cheap and authenticated.
func (b *GeminiBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	_, err := b.client.Models.CountTokens(ctx, b.cfg.Model, contents, nil)
	return err == nil
}
