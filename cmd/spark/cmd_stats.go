package main

import (
	"github.com/spf13/cobra"

	"github.com/louipr/spark-sub001/internal/usage"
)

// statsCmd prints accumulated token and cost accounting
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token and cost usage by provider, model, and session",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := usage.NewTracker(cfg.Store.UsageDir, logger)
		if err != nil {
			return err
		}
		return printJSON(tracker.Snapshot())
	},
}
