package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/clash"
	"github.com/papapumpkin/corona/internal/ui"
)

var clashCmd = &cobra.Command{
	Use:   "clash",
	Short: "Show or change the fields corona owns in the runtime config",
}

var clashShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the clash config",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		c, _ := a.Clash.Current()
		ui.New(cmd.OutOrStdout()).KeyValues("clash", clash.Keys(), clashValues(c))
		return nil
	}),
}

var clashSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Change clash fields in one transaction",
	Long:  "Keys: " + strings.Join(clash.Keys(), ", "),
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		patch, err := parsePairs(args, clash.Patch)
		if err != nil {
			return err
		}
		if err := a.Clash.Upsert(cmd.Context(), patch); err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Success("clash config updated")
		return nil
	}),
}

func init() {
	clashCmd.AddCommand(clashShowCmd, clashSetCmd)
	rootCmd.AddCommand(clashCmd)
}

func clashValues(c clash.Config) map[string]string {
	secret := ""
	if c.Secret != "" {
		secret = "(set)"
	}
	return map[string]string{
		"port":                strconv.Itoa(c.Port),
		"socks-port":          strconv.Itoa(c.SocksPort),
		"mixed-port":          strconv.Itoa(c.MixedPort),
		"redir-port":          strconv.Itoa(c.RedirPort),
		"tproxy-port":         strconv.Itoa(c.TProxyPort),
		"allow-lan":           strconv.FormatBool(c.AllowLan),
		"mode":                c.Mode,
		"log-level":           c.LogLevel,
		"ipv6":                strconv.FormatBool(c.IPv6),
		"external-controller": c.ExternalController,
		"secret":              secret,
		"unified-delay":       strconv.FormatBool(c.UnifiedDelay),
	}
}
