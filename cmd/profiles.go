package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/ui"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage profiles and chain items",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles and chain items",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		p, _ := a.Profiles.Current()
		ui.New(cmd.OutOrStdout()).Profiles(p)
		return nil
	}),
}

var profilesUseCmd = &cobra.Command{
	Use:   "use <uid>",
	Short: "Select the current profile",
	Long:  "Selects the current profile. An empty uid (\"\") clears the selection.",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		return upsertProfiles(cmd, a, profile.WithCurrent(args[0]), "current profile set")
	}),
}

var profilesChainCmd = &cobra.Command{
	Use:   "chain [uid...]",
	Short: "Replace the enhancement chain",
	Long:  "Sets the chain items applied to the current profile, in order. No arguments empties the chain.",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		return upsertProfiles(cmd, a, profile.WithChain(args), fmt.Sprintf("chain set (%d items)", len(args)))
	}),
}

var profilesValidCmd = &cobra.Command{
	Use:   "valid [field...]",
	Short: "Replace the extra fields profiles may set",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		return upsertProfiles(cmd, a, profile.WithValid(args), "valid fields set")
	}),
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesUseCmd, profilesChainCmd, profilesValidCmd)
	rootCmd.AddCommand(profilesCmd)
}

func upsertProfiles(cmd *cobra.Command, a *app.App, patch profile.Builder, done string) error {
	if err := a.Profiles.Upsert(cmd.Context(), patch); err != nil {
		return err
	}
	ui.New(cmd.OutOrStdout()).Success("%s", done)
	return nil
}
