package version

import (
	"fmt"

	"cloudbridge/internal/output"
	"cloudbridge/internal/version"

	"github.com/spf13/cobra"
)

// NewVersionCmd creates and returns the version command
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long: `Print the version information for cloudbridge.
This includes the version number, git commit hash, build time, and Go version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return output.WriteJSON(cmd.OutOrStdout(), version.Info())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cloudbridge %s\n", version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print version information as JSON")
	return cmd
}
