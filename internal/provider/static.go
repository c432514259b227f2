package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louipr/spark-sub001/internal/types"
)

// StaticBackend produces deterministic documents without any network. It
// backs offline runs and is the default candidate in the sample config.
type StaticBackend struct {
	cfg types.ProviderConfig
}

// NewStaticBackend creates the offline adapter.
func NewStaticBackend(cfg types.ProviderConfig) *StaticBackend {
	return &StaticBackend{cfg: cfg}
}

func (b *StaticBackend) Name() string                     { return b.cfg.Name }
func (b *StaticBackend) Capabilities() []types.Capability { return b.cfg.Capabilities }
func (b *StaticBackend) IsAvailable(context.Context) bool { return true }

func (b *StaticBackend) EstimateTokens(messages []types.Message) int {
	return estimateTokens(messages)
}

// Generate synthesizes a minimal structured document from the last user
// message. Output is stable for a given input so cached responses verify
// cleanly.
func (b *StaticBackend) Generate(ctx context.Context, messages []types.Message, taskType types.TaskType, opts types.GenerateOptions) (*types.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureNetwork, err)
	}

	request := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			request = messages[i].Content
			break
		}
	}

	doc := types.Document{
		Title: titleFrom(request),
		Sections: map[string]string{
			"overview":     fmt.Sprintf("Generated outline for: %s", request),
			"requirements": "See the requirements list.",
			"architecture": "Single-service deployment with a relational store.",
		},
		Requirements: []string{
			"capture the user's core request",
			"persist state across sessions",
			"expose results for review",
		},
		TechStack:       []string{"go", "sqlite"},
		TestingStrategy: "unit tests for each package plus an integration smoke run",
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, types.NewProviderError(b.cfg.Name, types.FailureInvalidResponse, err)
	}

	usage := types.Usage{
		PromptTokens:     estimateTokens(messages),
		CompletionTokens: len(payload) / 4,
	}
	return &types.GenerateResult{
		Content:      string(payload),
		Usage:        usage,
		Cost:         cost(b.cfg.Pricing, usage),
		FinishReason: "stop",
	}, nil
}

func titleFrom(request string) string {
	words := strings.Fields(request)
	if len(words) > 8 {
		words = words[:8]
	}
	if len(words) == 0 {
		return "Untitled Document " + time.Now().Format("2006-01-02")
	}
	title := strings.Join(words, " ")
	return strings.ToUpper(title[:1]) + title[1:]
}
