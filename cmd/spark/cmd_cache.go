package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cacheCmd groups durable-cache maintenance subcommands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the durable response cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached response keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := requireLocalStore()
		if err != nil {
			return err
		}
		defer local.Close()

		keys, err := local.ListBlobKeys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("Cache is empty.")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove TTL-expired entries from the durable cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := requireLocalStore()
		if err != nil {
			return err
		}
		defer local.Close()

		removed, err := local.CleanupBlobs()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entries\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
}
