package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/ui"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Print the runtime config without writing it",
	Long: `Runs the enhancement chain against the current profile and prints the
resulting config to stdout. Per-item logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: withApp(runEnhance),
}

func init() {
	enhanceCmd.Flags().Bool("logs", false, "print only the chain logs")
	rootCmd.AddCommand(enhanceCmd)
}

func runEnhance(cmd *cobra.Command, _ []string, a *app.App) error {
	gen, err := a.Enhance(cmd.Context())
	if err != nil {
		return err
	}
	ui.New(cmd.ErrOrStderr()).Logs(gen.Result.Logs.Entries())
	if logsOnly, _ := cmd.Flags().GetBool("logs"); logsOnly {
		return nil
	}
	_, err = cmd.OutOrStdout().Write(gen.Data)
	return err
}
