// Package exporter serves the latest cost summaries as Prometheus metrics.
package exporter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/orchestrator"
	"cloudbridge/internal/version"
	"cloudbridge/internal/worker"
)

const namespace = "cloudbridge"

// Refresher produces the summaries the collector exposes
type Refresher interface {
	RefreshAll(ctx context.Context, opts ...orchestrator.RefreshOption) ([]billing.CostSummary, error)
}

// PoolStats reports worker pool counters
type PoolStats func() worker.PoolMetrics

// SummaryCollector implements prometheus.Collector over the last refresh
type SummaryCollector struct {
	refresher Refresher
	clock     clock.Clock
	force     bool
	poolStats PoolStats

	monthCost       *prometheus.Desc
	serviceCost     *prometheus.Desc
	momChange       *prometheus.Desc
	accounts        *prometheus.Desc
	up              *prometheus.Desc
	refreshDuration *prometheus.Desc
	lastRefresh     *prometheus.Desc
	poolTasks       *prometheus.Desc
	poolBusy        *prometheus.Desc
	refreshErrors   prometheus.Counter
	buildInfo       *prometheus.GaugeVec

	mu              sync.RWMutex
	summaries       []billing.CostSummary
	lastErr         error
	lastRefreshTime time.Time
	lastDuration    time.Duration
	ready           bool
	refreshStarted  atomic.Bool
}

// CollectorOption configures a SummaryCollector
type CollectorOption func(*SummaryCollector)

// WithCollectorClock sets the time source for refresh timestamps
func WithCollectorClock(c clock.Clock) CollectorOption {
	return func(s *SummaryCollector) { s.clock = c }
}

// WithForceRefresh makes every refresh bypass the cache
func WithForceRefresh(force bool) CollectorOption {
	return func(s *SummaryCollector) { s.force = force }
}

// WithPoolStats exposes worker pool counters alongside the cost metrics
func WithPoolStats(fn PoolStats) CollectorOption {
	return func(s *SummaryCollector) { s.poolStats = fn }
}

// NewSummaryCollector creates a collector fed by refresher
func NewSummaryCollector(refresher Refresher, opts ...CollectorOption) *SummaryCollector {

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build version information",
	}, []string{"version", "git_commit", "build_time", "go_version"})
	info := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    info["version"],
		"git_commit": info["git_commit"],
		"build_time": info["build_time"],
		"go_version": info["go_version"],
	}).Set(1)

	c := &SummaryCollector{
		refresher: refresher,
		clock:     clock.RealClock{},
		monthCost: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "month_cost"),
			"Cost of a calendar month per account. month is current (to date) or previous.",
			[]string{"provider", "account_id", "account_name", "currency", "month"}, nil,
		),
		serviceCost: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "service_cost"),
			"Month to date cost per account and service",
			[]string{"provider", "account_id", "account_name", "service", "currency"}, nil,
		),
		momChange: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "month_over_month_change_percent"),
			"Change of the current month against the previous month in percent",
			[]string{"provider", "account_id", "account_name"}, nil,
		),
		accounts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "accounts_reported"),
			"Number of accounts in the last refresh",
			nil, nil,
		),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Whether the last refresh completed (1) or not (0)",
			nil, nil,
		),
		refreshDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "refresh_duration_seconds"),
			"Duration of the last refresh",
			nil, nil,
		),
		lastRefresh: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_refresh_timestamp_seconds"),
			"Unix time of the last refresh",
			nil, nil,
		),
		poolTasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker", "tasks"),
			"Worker pool tasks by outcome",
			[]string{"state"}, nil,
		),
		poolBusy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker", "busy"),
			"Workers currently running a task",
			nil, nil,
		),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_errors_total",
			Help:      "Refreshes that did not complete",
		}),
		buildInfo: buildInfo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector
func (c *SummaryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.monthCost
	ch <- c.serviceCost
	ch <- c.momChange
	ch <- c.accounts
	ch <- c.up
	ch <- c.refreshDuration
	ch <- c.lastRefresh
	if c.poolStats != nil {
		ch <- c.poolTasks
		ch <- c.poolBusy
	}
	c.refreshErrors.Describe(ch)
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *SummaryCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.summaries {
		provider := string(s.Provider)
		ch <- prometheus.MustNewConstMetric(c.monthCost, prometheus.GaugeValue,
			s.CurrentMonthCost.InexactFloat64(), provider, s.AccountID, s.AccountName, s.Currency, "current")
		ch <- prometheus.MustNewConstMetric(c.monthCost, prometheus.GaugeValue,
			s.LastMonthCost.InexactFloat64(), provider, s.AccountID, s.AccountName, s.Currency, "previous")
		ch <- prometheus.MustNewConstMetric(c.momChange, prometheus.GaugeValue,
			s.MonthOverMonthChangePct, provider, s.AccountID, s.AccountName)

		for _, svc := range s.CurrentMonthDetails {
			currency := svc.Currency
			if currency == "" {
				currency = s.Currency
			}
			ch <- prometheus.MustNewConstMetric(c.serviceCost, prometheus.GaugeValue,
				svc.Amount.InexactFloat64(), provider, s.AccountID, s.AccountName, svc.Service, currency)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.accounts, prometheus.GaugeValue, float64(len(c.summaries)))

	up := 0.0
	if c.ready && c.lastErr == nil {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(c.refreshDuration, prometheus.GaugeValue, c.lastDuration.Seconds())
	if !c.lastRefreshTime.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastRefresh, prometheus.GaugeValue, float64(c.lastRefreshTime.Unix()))
	}

	if c.poolStats != nil {
		m := c.poolStats()
		ch <- prometheus.MustNewConstMetric(c.poolTasks, prometheus.GaugeValue, float64(m.CompletedTasks), "completed")
		ch <- prometheus.MustNewConstMetric(c.poolTasks, prometheus.GaugeValue, float64(m.FailedTasks), "failed")
		ch <- prometheus.MustNewConstMetric(c.poolBusy, prometheus.GaugeValue, float64(m.BusyWorkers))
	}

	c.refreshErrors.Collect(ch)
	c.buildInfo.Collect(ch)
}

// Refresh runs one batch refresh and swaps in its result. A failed refresh
// keeps the previous summaries so scrapes keep reporting the last known data.
func (c *SummaryCollector) Refresh(ctx context.Context) error {
	start := c.clock.Now()
	summaries, err := c.refresher.RefreshAll(ctx, orchestrator.Force(c.force))
	duration := c.clock.Now().Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRefreshTime = c.clock.Now()
	c.lastDuration = duration
	c.lastErr = err

	if err != nil {
		c.refreshErrors.Inc()
		logging.Error("Metrics refresh failed", err)
		return err
	}

	c.summaries = summaries
	c.ready = true
	logging.Info("Metrics refreshed", map[string]interface{}{
		"accounts":    len(summaries),
		"duration_ms": duration.Milliseconds(),
	})
	return nil
}

// StartBackgroundRefresh refreshes once, then every interval until ctx ends.
// Only one loop runs per collector.
func (c *SummaryCollector) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	if !c.refreshStarted.CompareAndSwap(false, true) {
		logging.Warn("Background refresh already started")
		return
	}

	_ = c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer c.refreshStarted.Store(false)
		for {
			select {
			case <-ctx.Done():
				logging.Info("Stopping background refresh")
				return
			case <-ticker.C:
				_ = c.Refresh(ctx)
			}
		}
	}()
}

// IsReady reports whether a refresh has succeeded at least once
func (c *SummaryCollector) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LastError returns the error of the last refresh
func (c *SummaryCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastRefreshTime returns when the last refresh finished
func (c *SummaryCollector) LastRefreshTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshTime
}

// Summaries returns a copy of the summaries being served
func (c *SummaryCollector) Summaries() []billing.CostSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]billing.CostSummary, len(c.summaries))
	copy(out, c.summaries)
	return out
}
