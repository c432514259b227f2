package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/router"
	"github.com/louipr/spark-sub001/internal/types"
)

const systemPrompt = `You are a product requirements writer. Respond with a single JSON object:
{"title": string, "sections": {"overview": string, "requirements": string, "architecture": string, ...}, "requirements": [string], "tech_stack": [string], "testing_strategy": string}
Return only the JSON object, no surrounding prose.`

// DispatchGenerator produces documents by dispatching prompts through the
// provider router and parsing the JSON reply.
type DispatchGenerator struct {
	router     *router.Router
	candidates []router.Candidate
	strategy   router.Strategy
	sessionID  string
	logger     *zap.Logger
}

var _ types.Generator = (*DispatchGenerator)(nil)

// NewDispatchGenerator creates a generator bound to one session's dispatch
// context. sessionID attributes usage; it may be empty.
func NewDispatchGenerator(r *router.Router, candidates []router.Candidate, strategy router.Strategy, sessionID string, logger *zap.Logger) *DispatchGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchGenerator{
		router:     r,
		candidates: candidates,
		strategy:   strategy,
		sessionID:  sessionID,
		logger:     logger.Named("generate"),
	}
}

func (g *DispatchGenerator) Generate(ctx context.Context, request string, analysis *types.Analysis, prev *types.Document) (*types.Document, error) {
	messages := []types.Message{{Role: "system", Content: systemPrompt}}

	task := types.TaskGeneration
	if prev == nil {
		messages = append(messages, types.Message{Role: "user", Content: firstPrompt(request, analysis)})
	} else {
		task = types.TaskRefinement
		prevJSON, err := json.Marshal(prev)
		if err != nil {
			return nil, fmt.Errorf("failed to encode previous document: %w", err)
		}
		messages = append(messages,
			types.Message{Role: "user", Content: firstPrompt(request, analysis)},
			types.Message{Role: "assistant", Content: string(prevJSON)},
			types.Message{Role: "user", Content: "Refine the document above: tighten vague requirements, fill any thin or missing sections, and keep everything that is already concrete."},
		)
	}

	result, err := g.router.Dispatch(ctx, messages, task, g.strategy, g.candidates,
		router.DispatchOptions{SessionID: g.sessionID})
	if err != nil {
		return nil, err
	}

	doc, err := parseDocument(result.Response.Content)
	if err != nil {
		return nil, types.NewProviderError(result.Provider, types.FailureInvalidResponse, err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	doc.Metadata["provider"] = result.Provider
	doc.Metadata["cached"] = result.Cached
	g.logger.Debug("document generated",
		zap.String("provider", result.Provider),
		zap.Bool("cached", result.Cached),
		zap.String("task", string(task)))
	return doc, nil
}

func firstPrompt(request string, analysis *types.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a product requirements document for: %s\n", request)
	if analysis != nil {
		fmt.Fprintf(&b, "App type: %s. Complexity: %s.\n", analysis.AppType, analysis.Complexity)
		if len(analysis.Features) > 0 {
			fmt.Fprintf(&b, "Detected features: %s.\n", strings.Join(analysis.Features, ", "))
		}
		if len(analysis.SuggestedStack) > 0 {
			fmt.Fprintf(&b, "Suggested stack: %s.\n", strings.Join(analysis.SuggestedStack, ", "))
		}
	}
	return b.String()
}

// parseDocument tolerates markdown fences around the JSON body; models add
// them despite instructions.
func parseDocument(content string) (*types.Document, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var doc types.Document
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("response is not a document: %w", err)
	}
	if doc.Title == "" && len(doc.Sections) == 0 {
		return nil, fmt.Errorf("response decoded to an empty document")
	}
	return &doc, nil
}
