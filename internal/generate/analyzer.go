// Package generate supplies the analyzer and generator the iteration loop
// consumes: a deterministic keyword analyzer for request triage and a
// generator that produces documents through the provider router.
package generate

import (
	"context"
	"sort"
	"strings"

	"github.com/louipr/spark-sub001/internal/types"
)

// featureKeywords maps request phrasing to the feature list the generator
// is steered by.
var featureKeywords = map[string][]string{
	"authentication": {"login", "auth", "sign in", "signup", "account"},
	"storage":        {"database", "store", "persist", "save", "record"},
	"search":         {"search", "filter", "find", "query"},
	"realtime":       {"realtime", "real-time", "live", "websocket", "stream"},
	"payments":       {"payment", "checkout", "billing", "subscription"},
	"notifications":  {"notify", "notification", "email", "alert", "remind"},
	"reporting":      {"report", "analytics", "dashboard", "chart", "metric"},
	"api":            {"api", "endpoint", "rest", "graphql", "webhook"},
}

var appTypeKeywords = []struct {
	appType  string
	keywords []string
}{
	{"cli_tool", []string{"cli", "command line", "terminal", "script"}},
	{"api_service", []string{"api", "backend", "microservice", "service"}},
	{"mobile_app", []string{"mobile", "ios", "android", "phone"}},
	{"web_app", []string{"web", "site", "app", "application", "platform"}},
}

var stackByAppType = map[string][]string{
	"cli_tool":    {"go", "cobra", "sqlite"},
	"api_service": {"go", "postgres", "redis", "docker"},
	"mobile_app":  {"react-native", "typescript", "firebase"},
	"web_app":     {"react", "typescript", "node", "postgres"},
}

// KeywordAnalyzer classifies a request without calling a model. It is the
// default analyzer; a model-backed one can replace it behind the same
// interface.
type KeywordAnalyzer struct{}

var _ types.Analyzer = (*KeywordAnalyzer)(nil)

func (KeywordAnalyzer) Analyze(_ context.Context, request string) (*types.Analysis, error) {
	lower := strings.ToLower(request)

	appType := "web_app"
	matched := false
	for _, entry := range appTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				appType = entry.appType
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}

	var features []string
	for feature, keywords := range featureKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				features = append(features, feature)
				break
			}
		}
	}

	complexity := "simple"
	switch {
	case len(features) >= 5:
		complexity = "complex"
	case len(features) >= 2:
		complexity = "moderate"
	}

	// Keyword matching is coarse; confidence reflects how much of the
	// request it could actually classify.
	confidence := 0.5
	if matched {
		confidence += 0.2
	}
	if len(features) > 0 {
		confidence += 0.2
	}

	return &types.Analysis{
		AppType:        appType,
		Features:       sortedCopy(features),
		Complexity:     complexity,
		Confidence:     confidence,
		SuggestedStack: stackByAppType[appType],
		Reasoning:      "keyword classification",
	}, nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
