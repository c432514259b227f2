package generate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/louipr/spark-sub001/internal/provider"
	"github.com/louipr/spark-sub001/internal/router"
	"github.com/louipr/spark-sub001/internal/types"
)

func TestKeywordAnalyzerClassifiesAppType(t *testing.T) {
	a := KeywordAnalyzer{}

	cases := []struct {
		request string
		appType string
	}{
		{"a cli for renaming files", "cli_tool"},
		{"a rest api backend for orders", "api_service"},
		{"an android app for workouts", "mobile_app"},
		{"a web platform for recipes", "web_app"},
		{"something unclassifiable", "web_app"},
	}
	for _, tc := range cases {
		analysis, err := a.Analyze(context.Background(), tc.request)
		require.NoError(t, err)
		require.Equal(t, tc.appType, analysis.AppType, tc.request)
		require.GreaterOrEqual(t, analysis.Confidence, 0.5)
		require.LessOrEqual(t, analysis.Confidence, 1.0)
	}
}

func TestKeywordAnalyzerDetectsFeaturesAndComplexity(t *testing.T) {
	a := KeywordAnalyzer{}

	analysis, err := a.Analyze(context.Background(),
		"a web app with login, search, payments, email notifications and an analytics dashboard")
	require.NoError(t, err)
	require.Contains(t, analysis.Features, "authentication")
	require.Contains(t, analysis.Features, "search")
	require.Contains(t, analysis.Features, "payments")
	require.Contains(t, analysis.Features, "notifications")
	require.Contains(t, analysis.Features, "reporting")
	require.Equal(t, "complex", analysis.Complexity)
	require.NotEmpty(t, analysis.SuggestedStack)
}

func TestKeywordAnalyzerIsDeterministic(t *testing.T) {
	a := KeywordAnalyzer{}
	first, err := a.Analyze(context.Background(), "web app with search and login")
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "web app with search and login")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func staticCandidates(t *testing.T) []router.Candidate {
	t.Helper()
	cfg := types.ProviderConfig{
		Name:     "static",
		Kind:     provider.KindStatic,
		Model:    "static-template",
		Priority: types.TierMust,
		Enabled:  true,
	}
	backend, err := provider.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	return []router.Candidate{{Config: cfg, Backend: backend}}
}

func TestDispatchGeneratorProducesDocument(t *testing.T) {
	r := router.New(nil)
	g := NewDispatchGenerator(r, staticCandidates(t), router.Strategy{Kind: router.StrategyFallback}, "sess-1", nil)

	analysis, err := KeywordAnalyzer{}.Analyze(context.Background(), "build a recipe planner web app")
	require.NoError(t, err)

	doc, err := g.Generate(context.Background(), "build a recipe planner web app", analysis, nil)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Title)
	require.NotEmpty(t, doc.Sections)
	require.Equal(t, "static", doc.Metadata["provider"])
}

func TestDispatchGeneratorRefinesPreviousDocument(t *testing.T) {
	r := router.New(nil)
	g := NewDispatchGenerator(r, staticCandidates(t), router.Strategy{Kind: router.StrategyFallback}, "", nil)

	prev := &types.Document{
		Title:    "Draft",
		Sections: map[string]string{"overview": "thin"},
	}
	doc, err := g.Generate(context.Background(), "build a recipe planner", nil, prev)
	require.NoError(t, err)
	require.NotNil(t, doc)
}

func TestParseDocumentStripsFences(t *testing.T) {
	doc, err := parseDocument("```json\n{\"title\":\"T\",\"sections\":{\"overview\":\"x\"}}\n```")
	require.NoError(t, err)
	require.Equal(t, "T", doc.Title)
}

func TestParseDocumentRejectsProse(t *testing.T) {
	_, err := parseDocument("Sure! Here is your document.")
	require.Error(t, err)

	_, err = parseDocument("{}")
	require.Error(t, err, "an empty object is not a document")
}
