package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runtime config generations",
	Long:  "Without arguments lists recent runs, newest first. With a run ID prints that run and its chain logs.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runHistory),
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string, a *app.App) error {
	p := ui.New(cmd.OutOrStdout())
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("run id %q: %w", args[0], err)
		}
		run, err := a.History().Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		p.Run(run)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.History().Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	p.Runs(runs)
	return nil
}
