package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset stale processing tasks back to pending",
	Long:  "Tasks stay in processing forever if their worker dies; there are no\nleases. Run sweep periodically to return abandoned tasks to the queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.ResetStale(ctx, flagOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d stale task(s) older than %s\n", n, flagOlderThan)
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&flagOlderThan, "older-than", 30*time.Minute,
		"reset processing tasks not touched within this duration")
	rootCmd.AddCommand(sweepCmd)
}
