package list

import (
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts, providers and AWS profiles",
		Long: `List configuration related information.
Currently supports listing:
  - Accounts configured in config.yaml
  - Supported billing providers
  - Available AWS credential profiles`,
	}

	cmd.AddCommand(NewAccountsCmd())
	cmd.AddCommand(NewProvidersCmd())
	cmd.AddCommand(NewProfilesCmd())

	return cmd
}
