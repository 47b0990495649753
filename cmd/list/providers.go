package list

import (
	"fmt"

	"cloudbridge/internal/billing"
	_ "cloudbridge/internal/providers" // provider registration

	"github.com/spf13/cobra"
)

// NewProvidersCmd creates and returns the providers command
func NewProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "providers",
		Short:   "List supported billing providers",
		Long:    `List the provider tags accepted in the provider field of an account.`,
		Example: `  cloudbridge list providers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range billing.DefaultRegistry.Providers() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
