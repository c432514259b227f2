package types

import (
	"context"
	"time"
)

// GenerateOptions are the per-call knobs the router hands a backend. The
// Timeout is the request-level budget, independent of the iteration loop's
// wall-clock budget.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Backend is one generation service adapter. One adapter exists per
// provider; the router treats them uniformly. Implementations classify
// their failures into ProviderError kinds so the routing strategies can
// decide between retrying and advancing.
type Backend interface {
	// Name identifies the backend; matches its ProviderConfig.Name.
	Name() string

	// Generate performs one completion call.
	Generate(ctx context.Context, messages []Message, taskType TaskType, opts GenerateOptions) (*GenerateResult, error)

	// IsAvailable reports whether the backend is currently reachable.
	IsAvailable(ctx context.Context) bool

	// Capabilities returns the feature flags the backend supports.
	Capabilities() []Capability

	// EstimateTokens predicts the prompt token count for cost estimation
	// before dispatch.
	EstimateTokens(messages []Message) int
}

// Analyzer is the external natural-language analysis collaborator, consumed
// once per session.
type Analyzer interface {
	Analyze(ctx context.Context, request string) (*Analysis, error)
}

// Generator is the external document author. prev carries the prior
// iteration's document when the loop refines; nil on the first pass.
type Generator interface {
	Generate(ctx context.Context, request string, analysis *Analysis, prev *Document) (*Document, error)
}
