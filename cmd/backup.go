package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive or restore corona's state and profile files",
	Long: `Archives are zstd-compressed tarballs stored in a directory (backup.driver: fs)
or an S3-compatible bucket (backup.driver: s3, credentials from the standard
AWS environment).`,
}

var backupPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Store a new archive",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		key, n, err := a.Push(cmd.Context())
		if err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Success("stored %s (%d files)", key, n)
		return nil
	}),
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored archives, oldest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		b, err := a.Backup(cmd.Context())
		if err != nil {
			return err
		}
		infos, err := b.List(cmd.Context())
		if err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Backups(infos)
		return nil
	}),
}

var backupPullCmd = &cobra.Command{
	Use:   "pull [key]",
	Short: "Restore an archive and regenerate the runtime config",
	Long:  "Restores the named archive, or the newest one without a key, then regenerates the runtime config.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runBackupPull),
}

func init() {
	backupCmd.AddCommand(backupPushCmd, backupListCmd, backupPullCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupPull(cmd *cobra.Command, args []string, a *app.App) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	}
	key, restored, err := a.Restore(cmd.Context(), key)
	if err != nil {
		return err
	}
	p := ui.New(cmd.OutOrStdout())
	p.Success("restored %s (%d files)", key, len(restored))

	out, err := a.Apply(cmd.Context(), app.SourceBackup)
	if err != nil && out.Data == nil {
		return err
	}
	printOutcome(p, a, out)
	return err
}
