package list

import (
	"fmt"

	"cloudbridge/internal/config"

	"github.com/spf13/cobra"
)

// NewProfilesCmd creates and returns the profiles command
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List available AWS profiles",
		Long: `List all available AWS credential profiles from the system.
These profiles are read from the AWS credentials and config files and can be
referenced by the aws_profile field of an account.`,
		Example: `  # List all available AWS profiles
  cloudbridge list profiles`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiles(cmd)
		},
	}

	return cmd
}

func runProfiles(cmd *cobra.Command) error {
	profiles, err := config.ListAWSProfiles()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	for _, profile := range profiles {
		fmt.Fprintln(cmd.OutOrStdout(), profile)
	}
	return nil
}
