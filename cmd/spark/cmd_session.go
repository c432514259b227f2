package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/louipr/spark-sub001/internal/store"
	"github.com/louipr/spark-sub001/internal/types"
)

var sessionListActive bool

// sessionCmd groups session inspection subcommands
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
	Long: `Lists or shows sessions from the durable store. Requires store.durable
to be enabled in the configuration; in-memory sessions do not outlive the
process that created them.`,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := requireLocalStore()
		if err != nil {
			return err
		}
		defer local.Close()

		summaries, err := local.ListSessions()
		if err != nil {
			return err
		}
		if sessionListActive {
			summaries = activeSummaries(summaries)
		}
		if len(summaries) == 0 {
			fmt.Println("No stored sessions.")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%-38s %-11s %3d%%  iter=%d  %s\n",
				s.ID, s.Stage, s.Progress, s.Iterations, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show one session's full state and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := requireLocalStore()
		if err != nil {
			return err
		}
		defer local.Close()

		sess, err := local.LoadSession(args[0])
		if err != nil {
			return err
		}
		return printJSON(sess)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := requireLocalStore()
		if err != nil {
			return err
		}
		defer local.Close()

		if err := local.DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionListCmd.Flags().BoolVar(&sessionListActive, "active", false, "only sessions whose workflow has not finished")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// activeSummaries drops sessions whose workflow reached a terminal stage.
func activeSummaries(in []types.SessionSummary) []types.SessionSummary {
	var out []types.SessionSummary
	for _, s := range in {
		if s.Stage.Terminal() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func requireLocalStore() (*store.LocalStore, error) {
	local, err := openLocalStore()
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("durable store is disabled; set store.durable: true (or SPARK_DB) to keep sessions")
	}
	return local, nil
}
