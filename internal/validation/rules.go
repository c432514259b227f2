package validation

import (
	"fmt"
	"strings"

	"github.com/louipr/spark-sub001/internal/types"
)

// builtinRules materializes the structural rule set for one config. Each
// rule closes over the config values it needs so the returned slice is
// self-contained.
func builtinRules(cfg Config) []Rule {
	var rules []Rule

	if len(cfg.RequiredSections) > 0 {
		required := append([]string(nil), cfg.RequiredSections...)
		rules = append(rules, Rule{
			Name:        "required-sections",
			Description: "every required section must be present and non-empty",
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Validate: func(doc *types.Document) RuleResult {
				var missing []string
				for _, name := range required {
					if strings.TrimSpace(doc.Sections[name]) == "" {
						missing = append(missing, fmt.Sprintf("missing or empty section %q", name))
					}
				}
				return RuleResult{Passed: len(missing) == 0, Errors: missing}
			},
		})
	}

	if cfg.MinRequirements > 0 {
		min := cfg.MinRequirements
		rules = append(rules, Rule{
			Name:        "min-requirements",
			Description: fmt.Sprintf("document needs at least %d requirements", min),
			Severity:    SeverityError,
			Category:    CategoryContent,
			Validate: func(doc *types.Document) RuleResult {
				if len(doc.Requirements) < min {
					return RuleResult{Errors: []string{
						fmt.Sprintf("have %d requirements, need at least %d", len(doc.Requirements), min),
					}}
				}
				return RuleResult{Passed: true}
			},
		})
	}

	if cfg.MaxRequirements > 0 {
		max := cfg.MaxRequirements
		rules = append(rules, Rule{
			Name:        "max-requirements",
			Description: fmt.Sprintf("document should stay under %d requirements", max),
			Severity:    SeverityWarning,
			Category:    CategoryContent,
			Validate: func(doc *types.Document) RuleResult {
				if len(doc.Requirements) > max {
					return RuleResult{Warnings: []string{
						fmt.Sprintf("have %d requirements, recommended maximum is %d", len(doc.Requirements), max),
					}}
				}
				return RuleResult{Passed: true}
			},
		})
	}

	if cfg.RequireTechStack {
		rules = append(rules, Rule{
			Name:        "tech-stack",
			Description: "document must name a technology stack",
			Severity:    SeverityError,
			Category:    CategoryTechnical,
			Validate: func(doc *types.Document) RuleResult {
				if len(doc.TechStack) == 0 {
					return RuleResult{Errors: []string{"tech stack is empty"}}
				}
				return RuleResult{Passed: true}
			},
		})
	}

	if cfg.RequireTestingStrategy {
		rules = append(rules, Rule{
			Name:        "testing-strategy",
			Description: "document must describe a testing strategy",
			Severity:    SeverityError,
			Category:    CategoryTechnical,
			Validate: func(doc *types.Document) RuleResult {
				if strings.TrimSpace(doc.TestingStrategy) == "" {
					return RuleResult{Errors: []string{"testing strategy is empty"}}
				}
				return RuleResult{Passed: true}
			},
		})
	}

	return rules
}
