package serve

import (
	"context"
	"fmt"
	"time"

	"cloudbridge/cmd/commands"
	"cloudbridge/internal/config"
	"cloudbridge/internal/exporter"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/worker"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var forceRefresh bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose account costs as Prometheus metrics",
		Long: `Run an HTTP server exposing /metrics, /health and /ready.

Summaries of all enabled accounts are refreshed once at startup and then every
refresh interval. Scrapes are answered from the last successful refresh.`,
		Example: `  cloudbridge serve --listen-address :9184 --refresh-interval 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commands.SignalContext(cmd)
			defer cancel()

			orch, err := commands.NewOrchestrator()
			if err != nil {
				return err
			}

			pool := worker.GetSharedPool()
			collector := exporter.NewSummaryCollector(orch,
				exporter.WithForceRefresh(forceRefresh),
				exporter.WithPoolStats(pool.GetMetrics),
			)
			server, err := exporter.NewServer(config.Config.ListenAddress, collector)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			logging.Info("Serving cost metrics", map[string]interface{}{
				"address":          config.Config.ListenAddress,
				"accounts":         len(orch.EnabledAccounts()),
				"refresh_interval": config.Config.RefreshInterval.String(),
			})
			go collector.StartBackgroundRefresh(ctx, config.Config.RefreshInterval)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.Info("Shutting down metrics server")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			worker.ResetSharedPool()
			return nil
		},
	}

	cmd.Flags().String("listen-address", config.DefaultListenAddress, "Address to expose metrics on")
	cmd.Flags().Duration("refresh-interval", config.DefaultRefreshInterval, "Interval between background refreshes")
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Bypass the cache on every background refresh")
	return cmd
}
