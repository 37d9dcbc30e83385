package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/KohakuBlueleaf/DIG/internal/types"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true)
	statusDoneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth per task state",
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

		counts, err := store.CountByStatus(ctx)
		if err != nil {
			return err
		}

		total := 0
		for _, n := range counts {
			total += n
		}

		if flagJSON {
			out := map[string]int{"total": total}
			for st, n := range counts {
				out[string(st)] = n
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		}

		fmt.Println(statusHeaderStyle.Render(fmt.Sprintf("Task queue: %s", cfg.DBPath)))
		for _, st := range types.AllStatuses {
			fmt.Printf("%-12s %6d\n", st, counts[st])
		}
		fmt.Printf("%-12s %6d\n", "total", total)
		if total > 0 {
			pct := float64(counts[types.StatusCompleted]) / float64(total) * 100
			fmt.Println(statusDoneStyle.Render(fmt.Sprintf("%.1f%% complete", pct)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
