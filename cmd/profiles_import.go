package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/ui"
)

var profilesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Copy a local file into the profile list",
	Long: `Imports a profile, merge or script file. Profiles and merges may be YAML,
JSON with comments or TOML; scripts are JavaScript. The first imported
profile becomes current.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runProfilesImport),
}

var profilesRemoveCmd = &cobra.Command{
	Use:     "remove <uid>",
	Aliases: []string{"rm"},
	Short:   "Remove an item and delete its file",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		if err := a.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Success("removed %s", args[0])
		return nil
	}),
}

func init() {
	profilesImportCmd.Flags().StringP("type", "t", string(profile.TypeLocal), "item type: local, merge or script")
	profilesImportCmd.Flags().StringP("name", "n", "", "display name (default: file name)")
	profilesCmd.AddCommand(profilesImportCmd, profilesRemoveCmd)
}

func runProfilesImport(cmd *cobra.Command, args []string, a *app.App) error {
	typeFlag, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	typ, err := profile.ParseItemType(typeFlag)
	if err != nil {
		return err
	}
	it, err := a.Import(cmd.Context(), args[0], typ, name)
	if err != nil {
		return err
	}
	ui.New(cmd.OutOrStdout()).Success("imported %s as %s %s", it.DisplayName(), it.Type, it.UID)
	return nil
}
