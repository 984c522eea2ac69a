package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"surplus-watcher/internal/app"
)

var (
	simulateBefore string
	simulateAfter  string
	simulateNotify bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-diff",
	Short: "Diff two inventory JSON files and print the transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBefore == "" || simulateAfter == "" {
			return errors.New("--before and --after are both required")
		}

		opts := app.SimulateOptions{
			BeforePath: simulateBefore,
			AfterPath:  simulateAfter,
			Notify:     simulateNotify,
		}

		return getApp().SimulateDiff(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateBefore, "before", "", "Path to the baseline inventory JSON file")
	simulateCmd.Flags().StringVar(&simulateAfter, "after", "", "Path to the follow-up inventory JSON file")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Also push the digest through the configured channels")
}
