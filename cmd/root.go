package cmd

import (
	"fmt"

	cachecmd "cloudbridge/cmd/cache"
	initCmd "cloudbridge/cmd/init"
	"cloudbridge/cmd/list"
	"cloudbridge/cmd/serve"
	"cloudbridge/cmd/summary"
	"cloudbridge/cmd/trend"
	"cloudbridge/cmd/validate"
	"cloudbridge/cmd/version"
	"cloudbridge/internal/config"
	"cloudbridge/internal/logging"

	"github.com/spf13/cobra"
)

// skipsConfig reports whether cmd runs without loading config.yaml
func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "help", "init":
			return true
		}
	}
	return false
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "cloudbridge",
		Short: "cloudbridge - multi-cloud cost reporting",
		Long: `cloudbridge collects billing data from AWS, Aliyun and DeepSeek accounts
and reports current and previous month spend, daily trends and credential health.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig(cmd) {
				return nil
			}

			if err := config.InitConfig(); err != nil {
				return err
			}
			if configFile != "" {
				if err := config.SetConfigFile(configFile); err != nil {
					return err
				}
			}
			if err := config.BindFlags(cmd); err != nil {
				return err
			}
			if err := config.Load(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logging.Configure(logging.LogConfig{
				Level:  logging.ParseLevel(config.Config.LogLevel),
				Format: logging.ParseFormat(config.Config.LogFormat),
			})
			config.LogConfigurationSources(cmd)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to config file (default: ./config.yaml)")
	flags.String("log-format", "text", "Log output format (text or json)")
	flags.String("log-level", "INFO", "Set logging level (DEBUG, INFO, WARN, ERROR)")
	flags.Int("max-workers", 8, "Maximum number of concurrent account fetches")
	flags.String("cache-backend", "file", "Cache backend (file or memory)")
	flags.String("cache-dir", config.DefaultCacheDir(), "Directory of the file cache")
	flags.Duration("cache-ttl", config.DefaultCacheTTL, "How long fetched results stay fresh")
	flags.Duration("task-timeout", config.DefaultTaskTimeout, "Timeout of a single provider call")
	flags.Duration("batch-timeout", config.DefaultBatchTimeout, "Timeout of a whole multi-account refresh")

	rootCmd.AddCommand(summary.NewSummaryCmd())
	rootCmd.AddCommand(trend.NewTrendCmd())
	rootCmd.AddCommand(validate.NewValidateCmd())
	rootCmd.AddCommand(cachecmd.NewCacheCmd())
	rootCmd.AddCommand(list.NewListCmd())
	rootCmd.AddCommand(initCmd.NewInitCmd())
	rootCmd.AddCommand(serve.NewServeCmd())
	rootCmd.AddCommand(version.NewVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
