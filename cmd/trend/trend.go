package trend

import (
	"fmt"

	"cloudbridge/cmd/commands"
	"cloudbridge/internal/orchestrator"
	"cloudbridge/internal/output"

	"github.com/spf13/cobra"
)

// NewTrendCmd creates the trend command
func NewTrendCmd() *cobra.Command {
	var force, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "trend ACCOUNT",
		Short: "Show the daily cost trend of one account",
		Long: `Show the daily cost of one account over the trailing window of its provider
(30 days for AWS and DeepSeek, 7 days for Aliyun).`,
		Example: `  cloudbridge trend 123456789012
  cloudbridge trend aliyun-main --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commands.SignalContext(cmd)
			defer cancel()

			orch, err := commands.NewOrchestrator()
			if err != nil {
				return err
			}
			account, err := orch.Account(args[0])
			if err != nil {
				return err
			}

			trend, err := orch.RefreshTrend(ctx, account.ID, orchestrator.Force(force))
			if err != nil {
				return fmt.Errorf("failed to fetch trend for %s: %w", account.ID, err)
			}

			if jsonOutput {
				return output.WriteJSON(cmd.OutOrStdout(), trend)
			}
			output.RenderTrend(cmd.OutOrStdout(), account, trend)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore cached days and fetch again")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the trend as JSON")
	return cmd
}
