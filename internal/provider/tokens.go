// Package provider contains the backend adapters: an OpenAI-compatible HTTP
// client, a Gemini client over the genai SDK, and a deterministic static
// backend for tests and offline runs. Adapters classify their failures into
// the router's taxonomy; retry and fallback policy live in the router, not
// here.
package provider

import "github.com/louipr/spark-sub001/internal/types"

// estimateTokens approximates prompt size at roughly four characters per
// token, plus a small per-message envelope overhead. Good enough for cost
// routing; providers report exact usage after the fact.
func estimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)/4 + 4
	}
	return total
}

// cost computes the dollar cost of a call from per-1K pricing.
func cost(pricing types.Pricing, usage types.Usage) float64 {
	return float64(usage.PromptTokens)/1000*pricing.InputPer1K +
		float64(usage.CompletionTokens)/1000*pricing.OutputPer1K
}
