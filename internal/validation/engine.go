// Package validation scores generated documents against a configurable rule
// set. Validation is pure: a call produces a fresh report and never mutates
// the document it inspects.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// Severity decides whether a failed rule invalidates the document or only
// warns.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Category groups rules for reporting.
type Category string

const (
	CategoryStructure Category = "structure"
	CategoryContent   Category = "content"
	CategoryBusiness  Category = "business"
	CategoryTechnical Category = "technical"
)

// RuleResult is the outcome of one rule against one document.
type RuleResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// Rule is a single validation check. Validate must not mutate the document.
type Rule struct {
	Name        string
	Description string
	Severity    Severity
	Category    Category
	Validate    func(doc *types.Document) RuleResult
}

// Weights combines rule pass rate and completeness into the quality score.
// The pair is normalized at scoring time when it does not sum to 1.
type Weights struct {
	RulePassRate float64 `yaml:"rule_pass_rate"`
	Completeness float64 `yaml:"completeness"`
}

// DefaultWeights favors rule conformance slightly over completeness.
func DefaultWeights() Weights {
	return Weights{RulePassRate: 0.6, Completeness: 0.4}
}

// Config drives a validation pass.
type Config struct {
	RequiredSections       []string `yaml:"required_sections"`
	MinRequirements        int      `yaml:"min_requirements"`
	MaxRequirements        int      `yaml:"max_requirements"`
	RequireTechStack       bool     `yaml:"require_tech_stack"`
	RequireTestingStrategy bool     `yaml:"require_testing_strategy"`
	Weights                Weights  `yaml:"weights"`

	// CustomRules are run after the built-in structural rules. Not
	// expressible in the YAML file; wired programmatically.
	CustomRules []Rule `yaml:"-"`
}

// DefaultConfig mirrors the structure of a product requirements document.
func DefaultConfig() Config {
	return Config{
		RequiredSections: []string{"overview", "requirements", "architecture"},
		MinRequirements:  3,
		MaxRequirements:  50,
		RequireTechStack: true,
		Weights:          DefaultWeights(),
	}
}

func (c Config) check() error {
	if c.MaxRequirements > 0 && c.MinRequirements > c.MaxRequirements {
		return fmt.Errorf("%w: min_requirements %d > max_requirements %d",
			types.ErrConfiguration, c.MinRequirements, c.MaxRequirements)
	}
	if c.Weights.RulePassRate < 0 || c.Weights.Completeness < 0 {
		return fmt.Errorf("%w: negative quality weights", types.ErrConfiguration)
	}
	return nil
}

// Engine runs validation passes. Stateless aside from its logger; one
// engine serves any number of concurrent callers.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a validation engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("validation")}
}

// Validate scores the document against the config's built-in and custom
// rules. ConfigurationError surfaces immediately; rule violations land in
// the report, never in the error return.
func (e *Engine) Validate(doc *types.Document, cfg Config) (*types.ValidationReport, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", types.ErrConfiguration)
	}

	report := &types.ValidationReport{
		Sections: make(map[string]types.SectionResult),
	}

	rules := builtinRules(cfg)
	rules = append(rules, cfg.CustomRules...)

	passed := 0
	var failedDescriptions []string
	for _, rule := range rules {
		result := rule.Validate(doc)
		if result.Passed {
			passed++
			continue
		}
		failedDescriptions = append(failedDescriptions, rule.Description)
		switch rule.Severity {
		case SeverityError:
			if len(result.Errors) == 0 {
				result.Errors = []string{rule.Description}
			}
			report.Errors = append(report.Errors, prefixAll(rule.Name, result.Errors)...)
			report.Warnings = append(report.Warnings, prefixAll(rule.Name, result.Warnings)...)
		default:
			if len(result.Warnings) == 0 {
				result.Warnings = []string{rule.Description}
			}
			report.Warnings = append(report.Warnings, prefixAll(rule.Name, result.Warnings)...)
		}
	}

	present := 0
	for _, name := range cfg.RequiredSections {
		content, ok := doc.Sections[name]
		sectionResult := types.SectionResult{Valid: true}
		if !ok || strings.TrimSpace(content) == "" {
			sectionResult.Valid = false
			sectionResult.Errors = []string{fmt.Sprintf("section %q is missing or empty", name)}
		} else {
			present++
		}
		report.Sections[name] = sectionResult
	}

	report.Valid = len(report.Errors) == 0
	report.Completeness = completeness(present, len(cfg.RequiredSections))
	report.QualityScore = qualityScore(passed, len(rules), report.Completeness, cfg.Weights)
	report.Recommendations = dedupe(failedDescriptions)
	report.EstimatedEffort = estimateEffort(doc, len(rules)-passed)

	e.logger.Debug("validation pass",
		zap.Bool("valid", report.Valid),
		zap.Float64("completeness", report.Completeness),
		zap.Float64("quality_score", report.QualityScore),
		zap.Int("rules", len(rules)),
		zap.Int("passed", passed))
	return report, nil
}

func completeness(present, required int) float64 {
	if required == 0 {
		return 1.0
	}
	return float64(present) / float64(required)
}

// qualityScore blends rule pass rate and completeness using the configured
// weights, normalizing when they do not sum to one. Zero weights fall back
// to the defaults rather than producing a constant zero score.
func qualityScore(passed, total int, completeness float64, w Weights) float64 {
	passRate := 1.0
	if total > 0 {
		passRate = float64(passed) / float64(total)
	}
	sum := w.RulePassRate + w.Completeness
	if sum <= 0 {
		w = DefaultWeights()
		sum = w.RulePassRate + w.Completeness
	}
	score := (w.RulePassRate*passRate + w.Completeness*completeness) / sum
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// estimateEffort buckets the build effort from requirement volume and how
// far the document is from passing.
func estimateEffort(doc *types.Document, failedRules int) string {
	score := len(doc.Requirements) + 3*failedRules
	switch {
	case score <= 8:
		return "low"
	case score <= 25:
		return "medium"
	default:
		return "high"
	}
}

func prefixAll(name string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s: %s", name, m)
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
