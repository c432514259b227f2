package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/validation"
)

var validateRulesPath string

// validateCmd scores a document file without running the loop
var validateCmd = &cobra.Command{
	Use:   "validate [document.json]",
	Short: "Validate a document file against the configured rules",
	Long: `Reads a document JSON file and prints its validation report: per-section
results, completeness, quality score, and recommendations. Exit status is
non-zero when the document fails an error-severity rule.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateRulesPath, "rules", "", "validation rules YAML file (overrides the config's rules)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	rules := cfg.Validation
	if validateRulesPath != "" {
		if rules, err = validation.LoadConfigFile(validateRulesPath); err != nil {
			return err
		}
	}

	engine := validation.NewEngine(logger)
	report, err := engine.Validate(&doc, rules)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("document failed validation with %d error(s)", len(report.Errors))
	}
	return nil
}
