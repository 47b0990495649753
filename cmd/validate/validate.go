package validate

import (
	"fmt"

	"cloudbridge/cmd/commands"
	"cloudbridge/internal/orchestrator"
	"cloudbridge/internal/output"

	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate [ACCOUNT]",
		Short: "Check the credentials of configured accounts",
		Long: `Check the credentials of every configured account, or of a single account.
Disabled accounts are checked too. The command fails when any account is invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commands.SignalContext(cmd)
			defer cancel()

			orch, err := commands.NewOrchestrator()
			if err != nil {
				return err
			}

			var results []orchestrator.ValidationResult
			if len(args) == 1 {
				result, err := orch.Validate(ctx, args[0])
				if err != nil {
					return err
				}
				results = []orchestrator.ValidationResult{result}
			} else {
				results = orch.ValidateAll(ctx)
			}

			rows := make([]output.ValidationRow, 0, len(results))
			failed := 0
			for _, r := range results {
				if !r.Valid {
					failed++
				}
				rows = append(rows, output.ValidationRow{
					AccountID: r.Account.ID,
					Name:      r.Account.Name,
					Provider:  string(r.Account.Provider),
					Valid:     r.Valid,
					Status:    r.Status(),
				})
			}

			if jsonOutput {
				if err := output.WriteJSON(cmd.OutOrStdout(), rows); err != nil {
					return err
				}
			} else {
				output.RenderValidation(cmd.OutOrStdout(), rows)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed validation", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}
