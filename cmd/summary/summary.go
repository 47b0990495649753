package summary

import (
	"fmt"

	"cloudbridge/cmd/commands"
	"cloudbridge/internal/config"
	"cloudbridge/internal/orchestrator"
	"cloudbridge/internal/output"

	"github.com/spf13/cobra"
)

type options struct {
	force        bool
	jsonOutput   bool
	detailed     bool
	progress     bool
	export       string
	outputDir    string
	bucket       string
	bucketRegion string
	prefix       string
}

// NewSummaryCmd creates the summary command
func NewSummaryCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show current and previous month cost for every account",
		Long: `Fetch the month-to-date and previous month cost of every enabled account.

Results are served from the cache while fresh. Accounts that fail are logged
and left out of the report; the remaining accounts are still shown.`,
		Example: `  # Show the cost table
  cloudbridge summary

  # Bypass the cache and print JSON
  cloudbridge summary --force --json

  # Export a gzipped snapshot to S3
  cloudbridge summary --export s3 --bucket my-reports --bucket-region us-west-2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Ignore cached results and fetch again")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print summaries as JSON")
	cmd.Flags().BoolVarP(&opts.detailed, "detailed", "d", false, "Show the per-service breakdown of the current month")
	cmd.Flags().BoolVar(&opts.progress, "progress", true, "Show a progress bar while accounts are fetched")
	cmd.Flags().StringVar(&opts.export, "export", "", "Also export a snapshot (filesystem, s3)")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "output", "Directory for filesystem exports")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "S3 bucket name (required when --export=s3)")
	cmd.Flags().StringVar(&opts.bucketRegion, "bucket-region", "", "S3 bucket region")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Key prefix inside the S3 bucket")
	cmd.Flags().String("aws-profile", "default", "AWS profile used for S3 exports")

	return cmd
}

func exportConfig(opts *options) (output.Config, error) {
	switch output.Type(opts.export) {
	case output.FileSystem:
		return output.Config{Type: output.FileSystem, OutputDir: opts.outputDir}, nil
	case output.S3:
		if opts.bucket == "" {
			return output.Config{}, fmt.Errorf("--bucket is required when --export=s3")
		}
		return output.Config{
			Type:     output.S3,
			S3Bucket: opts.bucket,
			S3Region: opts.bucketRegion,
			S3Prefix: opts.prefix,
			Profile:  config.Config.AWSProfile,
		}, nil
	default:
		return output.Config{}, fmt.Errorf("invalid export type %q, must be filesystem or s3", opts.export)
	}
}

func runSummary(cmd *cobra.Command, opts *options) error {
	var exportCfg output.Config
	if opts.export != "" {
		cfg, err := exportConfig(opts)
		if err != nil {
			return err
		}
		exportCfg = cfg
		exportCfg.Progress = cmd.ErrOrStderr()
	}

	ctx, cancel := commands.SignalContext(cmd)
	defer cancel()

	var bar *output.BatchProgress
	progress := func(done, total int) {
		if bar != nil {
			bar.Update(done, total)
		}
	}

	orch, err := commands.NewOrchestrator(orchestrator.WithProgress(progress))
	if err != nil {
		return err
	}
	if n := len(orch.EnabledAccounts()); opts.progress && n > 0 {
		bar = output.NewBatchProgress(n, "Fetching accounts", cmd.ErrOrStderr())
	}

	summaries, err := orch.RefreshAll(ctx, orchestrator.Force(opts.force))
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("refresh interrupted: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := output.WriteJSON(out, summaries); err != nil {
			return err
		}
	} else {
		output.RenderSummaries(out, summaries, opts.detailed)
	}

	if opts.export == "" {
		return nil
	}
	location, err := output.NewWriter(exportCfg).Write(ctx, summaries)
	if err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot written to %s\n", location)
	return nil
}
