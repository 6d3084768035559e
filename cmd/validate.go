package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check state files, profile items and the runtime config",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
		p := ui.New(cmd.OutOrStdout())
		ok := true
		for _, c := range a.Validate(cmd.Context()) {
			if c.Err != nil {
				p.Error(fmt.Errorf("%s: %w", c.Name, c.Err))
				ok = false
				continue
			}
			p.Success("%s", c.Name)
		}
		if !ok {
			return errors.New("validation failed")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
