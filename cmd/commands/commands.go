// Package commands holds the plumbing shared by the CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudbridge/internal/cache"
	"cloudbridge/internal/config"
	"cloudbridge/internal/orchestrator"
	_ "cloudbridge/internal/providers" // provider registration
)

// OpenCache returns the cache selected by cache.backend
func OpenCache() (*cache.Cache, error) {
	var backend cache.Backend
	switch config.Config.CacheBackend {
	case "memory":
		backend = cache.NewMemoryBackend()
	default:
		fb, err := cache.NewFileBackend(config.Config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		backend = fb
	}
	return cache.New(backend, cache.WithTTL(config.Config.CacheTTL)), nil
}

// NewOrchestrator loads the configured accounts and wires an orchestrator over
// the configured cache. Tests replace it to inject fixtures.
var NewOrchestrator = func(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	accounts, err := config.LoadAccounts()
	if err != nil {
		return nil, err
	}
	c, err := OpenCache()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(accounts, append([]orchestrator.Option{orchestrator.WithCache(c)}, opts...)...), nil
}

// SignalContext derives a context from the command that is cancelled on SIGINT or SIGTERM
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
