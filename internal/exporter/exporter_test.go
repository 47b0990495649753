package exporter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/orchestrator"
	"cloudbridge/internal/worker"
)

type fakeRefresher struct {
	mu        sync.Mutex
	summaries []billing.CostSummary
	err       error
	calls     int
}

func (f *fakeRefresher) RefreshAll(ctx context.Context, opts ...orchestrator.RefreshOption) ([]billing.CostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.summaries, f.err
}

func (f *fakeRefresher) set(summaries []billing.CostSummary, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = summaries
	f.err = err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sampleSummaries() []billing.CostSummary {
	return []billing.CostSummary{{
		AccountID:               "prod",
		AccountName:             "Production",
		Provider:                billing.ProviderAWS,
		CurrentMonthCost:        decimal.RequireFromString("150.75"),
		LastMonthCost:           decimal.RequireFromString("100"),
		Currency:                "USD",
		MonthOverMonthChangePct: 50.75,
		CurrentMonthDetails: []billing.ServiceCost{
			{Service: "Amazon EC2", Amount: decimal.RequireFromString("120.5"), Currency: "USD"},
		},
	}}
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func newTestServer(t *testing.T, c *SummaryCollector) *httptest.Server {
	t.Helper()
	s, err := NewServer(":0", c)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestMetricsAfterRefresh(t *testing.T) {
	refresher := &fakeRefresher{summaries: sampleSummaries()}
	pool := worker.NewPool(1)
	c := NewSummaryCollector(refresher, WithPoolStats(pool.GetMetrics))
	srv := newTestServer(t, c)

	require.NoError(t, c.Refresh(context.Background()))

	status, body := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `cloudbridge_month_cost{account_id="prod",account_name="Production",currency="USD",month="current",provider="aws"} 150.75`)
	assert.Contains(t, body, `cloudbridge_month_cost{account_id="prod",account_name="Production",currency="USD",month="previous",provider="aws"} 100`)
	assert.Contains(t, body, `cloudbridge_service_cost{account_id="prod",account_name="Production",currency="USD",provider="aws",service="Amazon EC2"} 120.5`)
	assert.Contains(t, body, `cloudbridge_month_over_month_change_percent{account_id="prod",account_name="Production",provider="aws"} 50.75`)
	assert.Contains(t, body, "cloudbridge_accounts_reported 1")
	assert.Contains(t, body, "cloudbridge_up 1")
	assert.Contains(t, body, `cloudbridge_worker_tasks{state="failed"} 0`)
	assert.Contains(t, body, "cloudbridge_build_info{")
}

func TestFailedRefreshKeepsLastData(t *testing.T) {
	refresher := &fakeRefresher{summaries: sampleSummaries()}
	c := NewSummaryCollector(refresher)
	srv := newTestServer(t, c)

	require.NoError(t, c.Refresh(context.Background()))
	refresher.set(nil, context.Canceled)
	assert.Error(t, c.Refresh(context.Background()))

	assert.Len(t, c.Summaries(), 1)
	_, body := get(t, srv, "/metrics")
	assert.Contains(t, body, "cloudbridge_up 0")
	assert.Contains(t, body, "cloudbridge_refresh_errors_total 1")

	status, body := get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "context canceled")
}

func TestReadiness(t *testing.T) {
	refresher := &fakeRefresher{}
	c := NewSummaryCollector(refresher)
	srv := newTestServer(t, c)

	status, _ := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "waiting for initial refresh")

	require.NoError(t, c.Refresh(context.Background()))
	status, body = get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ready"}`, body)

	status, body = get(t, srv, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "accounts: 0")

	status, _ = get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBackgroundRefresh(t *testing.T) {
	refresher := &fakeRefresher{summaries: sampleSummaries()}
	c := NewSummaryCollector(refresher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartBackgroundRefresh(ctx, 10*time.Millisecond)
	assert.True(t, c.IsReady())

	// A second start is ignored while the loop runs
	c.StartBackgroundRefresh(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return refresher.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRefreshError(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("boom")}
	c := NewSummaryCollector(refresher)
	assert.Error(t, c.Refresh(context.Background()))
	assert.False(t, c.IsReady())
	assert.False(t, c.LastRefreshTime().IsZero())
}
