package init

import (
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize cloudbridge configuration files",
		Long: `Initialize cloudbridge configuration files.

This command helps you create a default config.yaml with example accounts
for every supported provider.`,
	}

	cmd.AddCommand(NewConfigCmd())

	return cmd
}
