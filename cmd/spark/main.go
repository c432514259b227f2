package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/config"
	"github.com/louipr/spark-sub001/internal/logging"
	"github.com/louipr/spark-sub001/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Shared state built in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "spark",
	Short: "spark - iterative document generation engine",
	Long: `spark turns a one-line product request into a structured requirements
document by looping generate -> validate -> refine until the document
converges, the quality gain stalls, or the budget runs out.

Generation is routed across configured provider backends with fallback,
cost, performance, capability, and round-robin strategies; responses are
cached and each session's full state history is kept for inspection.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			logger, err = logging.New(true)
		} else {
			logger, err = logging.NewAtLevel(cfg.Logging.Level)
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "spark.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openLocalStore opens the durable store, or nil when durability is off.
func openLocalStore() (*store.LocalStore, error) {
	if !cfg.Store.Durable {
		return nil, nil
	}
	return store.NewLocalStore(cfg.Store.DatabasePath, logger)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
