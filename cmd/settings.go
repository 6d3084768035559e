package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/settings"
	"github.com/papapumpkin/corona/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change application settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		s, _ := a.Settings.Current()
		ui.New(cmd.OutOrStdout()).KeyValues("settings", settings.Keys(), settingsValues(s))
		return nil
	}),
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Change settings in one transaction",
	Long: `Sets one or more settings. All pairs are applied together: if the
runtime config cannot be regenerated nothing changes.

Keys: ` + strings.Join(settings.Keys(), ", "),
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		patch, err := parsePairs(args, settings.Patch)
		if err != nil {
			return err
		}
		if err := a.Settings.Upsert(cmd.Context(), patch); err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Success("settings updated")
		return nil
	}),
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func settingsValues(s settings.Settings) map[string]string {
	return map[string]string{
		"core":           string(s.Core),
		"enable-tun":     strconv.FormatBool(s.EnableTun),
		"tun-stack":      string(s.TunStack),
		"enable-builtin": strconv.FormatBool(s.EnableBuiltin),
		"enable-filter":  strconv.FormatBool(s.EnableFilter),
		"script-timeout": s.ScriptTimeout.String(),
	}
}

type merger[B any] interface {
	Merge(patch B) B
}

// parsePairs folds key=value arguments into one patch.
func parsePairs[B merger[B]](args []string, patch func(key, value string) (B, error)) (B, error) {
	var out B
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return out, fmt.Errorf("expected key=value, got %q", arg)
		}
		p, err := patch(strings.TrimSpace(key), value)
		if err != nil {
			return out, err
		}
		out = out.Merge(p)
	}
	return out, nil
}
