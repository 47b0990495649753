package cache

import (
	"fmt"

	"cloudbridge/cmd/commands"

	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache command
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached billing results",
	}
	cmd.AddCommand(newClearCmd())
	return cmd
}

func newClearCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached results",
		Long: `Drop cached summaries and trend days of one account, or of every account
when --account is not given. The next summary or trend fetches fresh data.`,
		Example: `  cloudbridge cache clear
  cloudbridge cache clear --account 123456789012`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := commands.NewOrchestrator()
			if err != nil {
				return err
			}
			if err := orch.Invalidate(accountID); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			if accountID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared cache for all accounts")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared cache for account %s\n", accountID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Only clear this account")
	return cmd
}
