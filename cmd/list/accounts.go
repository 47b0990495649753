package list

import (
	"fmt"

	"cloudbridge/internal/config"

	"github.com/spf13/cobra"
)

// NewAccountsCmd creates and returns the accounts command
func NewAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts",
		Long: `List the accounts configured in config.yaml.
Credentials are never printed.`,
		Example: `  cloudbridge list accounts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccounts(cmd)
		},
	}
	return cmd
}

func runAccounts(cmd *cobra.Command) error {
	accounts, err := config.LoadAccounts()
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts configured")
		return nil
	}

	fmt.Fprintln(out, "Configured accounts:")
	for _, account := range accounts {
		state := ""
		if !account.Enabled {
			state = " [disabled]"
		}
		fmt.Fprintf(out, "  %s - %s (%s)%s\n", account.ID, account.Name, account.Provider, state)
	}
	return nil
}
