package validation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/louipr/spark-sub001/internal/types"
)

func completeDoc() *types.Document {
	return &types.Document{
		Title: "Task Tracker",
		Sections: map[string]string{
			"overview":     "A task tracker for small teams.",
			"requirements": "Listed below.",
			"architecture": "Client-server with a REST API.",
		},
		Requirements:    []string{"create tasks", "assign tasks", "close tasks"},
		TechStack:       []string{"go", "sqlite"},
		TestingStrategy: "unit tests plus an end-to-end smoke suite",
	}
}

func TestValidateCompleteDocument(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.RequireTestingStrategy = true

	report, err := engine.Validate(completeDoc(), cfg)
	require.NoError(t, err)

	require.True(t, report.Valid)
	require.Empty(t, report.Errors)
	require.Equal(t, 1.0, report.Completeness)
	require.Equal(t, 1.0, report.QualityScore)
	require.Empty(t, report.Recommendations)
	for name, result := range report.Sections {
		require.True(t, result.Valid, "section %s should be valid", name)
	}
}

func TestValidateMissingSection(t *testing.T) {
	engine := NewEngine(nil)
	doc := completeDoc()
	delete(doc.Sections, "architecture")

	report, err := engine.Validate(doc, DefaultConfig())
	require.NoError(t, err)

	require.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	require.InDelta(t, 2.0/3.0, report.Completeness, 1e-9)
	require.False(t, report.Sections["architecture"].Valid)
	require.True(t, report.Sections["overview"].Valid)
	require.NotEmpty(t, report.Recommendations)
}

func TestEmptySectionCountsAsMissing(t *testing.T) {
	engine := NewEngine(nil)
	doc := completeDoc()
	doc.Sections["overview"] = "   \n\t"

	report, err := engine.Validate(doc, DefaultConfig())
	require.NoError(t, err)
	require.False(t, report.Sections["overview"].Valid)
	require.Less(t, report.Completeness, 1.0)
}

func TestScoreBoundsUnderWorstInput(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.RequireTestingStrategy = true

	report, err := engine.Validate(&types.Document{}, cfg)
	require.NoError(t, err)

	require.GreaterOrEqual(t, report.Completeness, 0.0)
	require.LessOrEqual(t, report.Completeness, 1.0)
	require.GreaterOrEqual(t, report.QualityScore, 0.0)
	require.LessOrEqual(t, report.QualityScore, 1.0)
	require.False(t, report.Valid)
}

func TestMinOverMaxIsConfigurationError(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.MinRequirements = 10
	cfg.MaxRequirements = 5

	_, err := engine.Validate(completeDoc(), cfg)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestTooManyRequirementsIsWarningOnly(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.MaxRequirements = 2

	report, err := engine.Validate(completeDoc(), cfg)
	require.NoError(t, err)
	require.True(t, report.Valid, "over-max requirements must not invalidate")
	require.NotEmpty(t, report.Warnings)
}

func TestCustomRules(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.CustomRules = []Rule{
		{
			Name:        "title-required",
			Description: "document must carry a title",
			Severity:    SeverityError,
			Category:    CategoryBusiness,
			Validate: func(doc *types.Document) RuleResult {
				return RuleResult{Passed: doc.Title != ""}
			},
		},
		{
			Name:        "short-title",
			Description: "title should stay under 60 characters",
			Severity:    SeverityWarning,
			Category:    CategoryContent,
			Validate: func(doc *types.Document) RuleResult {
				return RuleResult{Passed: len(doc.Title) < 60}
			},
		},
	}

	doc := completeDoc()
	doc.Title = ""
	report, err := engine.Validate(doc, cfg)
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Contains(t, report.Recommendations, "document must carry a title")
}

func TestRecommendationsDeduplicated(t *testing.T) {
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	rule := Rule{
		Name:        "dup",
		Description: "same advice",
		Severity:    SeverityWarning,
		Category:    CategoryContent,
		Validate:    func(*types.Document) RuleResult { return RuleResult{} },
	}
	cfg.CustomRules = []Rule{rule, rule}

	report, err := engine.Validate(completeDoc(), cfg)
	require.NoError(t, err)

	count := 0
	for _, rec := range report.Recommendations {
		if rec == "same advice" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestQualityWeightsConfigurable(t *testing.T) {
	engine := NewEngine(nil)
	doc := completeDoc()
	delete(doc.Sections, "architecture") // completeness 2/3, one failed rule

	passOnly := DefaultConfig()
	passOnly.Weights = Weights{RulePassRate: 1, Completeness: 0}
	r1, err := engine.Validate(doc, passOnly)
	require.NoError(t, err)

	completenessOnly := DefaultConfig()
	completenessOnly.Weights = Weights{RulePassRate: 0, Completeness: 1}
	r2, err := engine.Validate(doc, completenessOnly)
	require.NoError(t, err)

	require.InDelta(t, 2.0/3.0, r2.QualityScore, 1e-9)
	require.NotEqual(t, r1.QualityScore, r2.QualityScore)
}

func TestUnnormalizedWeights(t *testing.T) {
	// Weights summing to 2 must still yield a score in [0,1].
	engine := NewEngine(nil)
	cfg := DefaultConfig()
	cfg.Weights = Weights{RulePassRate: 1.2, Completeness: 0.8}

	report, err := engine.Validate(completeDoc(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1.0, report.QualityScore)
}

func TestValidateDoesNotMutateDocument(t *testing.T) {
	engine := NewEngine(nil)
	doc := completeDoc()
	before := completeDoc()

	_, err := engine.Validate(doc, DefaultConfig())
	require.NoError(t, err)

	if diff := cmp.Diff(before, doc); diff != "" {
		t.Errorf("Validate mutated the document (-before +after):\n%s", diff)
	}
}

func TestEstimatedEffortBuckets(t *testing.T) {
	engine := NewEngine(nil)

	small, err := engine.Validate(completeDoc(), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, "low", small.EstimatedEffort)

	big := completeDoc()
	for i := 0; i < 40; i++ {
		big.Requirements = append(big.Requirements, "another requirement")
	}
	large, err := engine.Validate(big, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, "high", large.EstimatedEffort)
}
