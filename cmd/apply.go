package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Regenerate and write the runtime config",
	Args:  cobra.NoArgs,
	RunE:  withApp(runApply),
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, _ []string, a *app.App) error {
	out, err := a.Apply(cmd.Context(), app.SourceManual)
	if err != nil && out.Data == nil {
		return err
	}
	printOutcome(ui.New(cmd.OutOrStdout()), a, out)
	return err
}

func printOutcome(p *ui.Printer, a *app.App, out app.Outcome) {
	p.Logs(out.Result.Logs.Entries())
	if out.Written {
		p.Success("wrote %s (run %d)", a.Config().RuntimeFile, out.RunID)
		return
	}
	p.Info("%s unchanged (run %d)", a.Config().RuntimeFile, out.RunID)
}
