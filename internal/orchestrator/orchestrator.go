// Package orchestrator fans cost queries out across configured accounts.
// Each account runs as its own task on the worker pool; one account failing
// never affects the others.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/cache"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/config"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/worker"
)

const (
	sourceCache    = "cache"
	sourceProvider = "provider"
)

// trendWindows is how many days back a trend reaches, per provider
var trendWindows = map[billing.ProviderType]int{
	billing.ProviderAWS:      30,
	billing.ProviderAliyun:   7,
	billing.ProviderDeepSeek: 30,
}

const defaultTrendWindow = 30

// TrendWindow returns the trend length in days for a provider
func TrendWindow(p billing.ProviderType) int {
	if n, ok := trendWindows[p]; ok {
		return n
	}
	return defaultTrendWindow
}

// ProgressFunc is told how many accounts of a batch have finished
type ProgressFunc func(done, total int)

// Orchestrator runs cost queries for a fixed set of accounts
type Orchestrator struct {
	accounts     []billing.Account
	registry     *billing.Registry
	cache        *cache.Cache
	pool         *worker.Pool
	clock        clock.Clock
	batchTimeout time.Duration
	progress     ProgressFunc
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRegistry sets where providers are constructed from
func WithRegistry(r *billing.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithCache sets the result cache
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithPool sets the worker pool tasks run on
func WithPool(p *worker.Pool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithClock sets the time source used for trend windows
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithBatchTimeout bounds a whole RefreshAll
func WithBatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.batchTimeout = d
		}
	}
}

// WithProgress registers a batch progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// New creates an orchestrator over accounts. Without options it uses the
// default registry, an in-memory cache and the shared worker pool.
func New(accounts []billing.Account, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		accounts:     accounts,
		registry:     billing.DefaultRegistry,
		clock:        clock.RealClock{},
		batchTimeout: config.Config.BatchTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New(cache.NewMemoryBackend(), cache.WithClock(o.clock))
	}
	if o.pool == nil {
		o.pool = worker.GetSharedPool()
	}
	if o.batchTimeout <= 0 {
		o.batchTimeout = config.DefaultBatchTimeout
	}
	return o
}

// Accounts returns every configured account
func (o *Orchestrator) Accounts() []billing.Account {
	return o.accounts
}

// EnabledAccounts returns the accounts a batch refresh visits
func (o *Orchestrator) EnabledAccounts() []billing.Account {
	return lo.Filter(o.accounts, func(a billing.Account, _ int) bool { return a.Enabled })
}

// Account looks up a configured account by id
func (o *Orchestrator) Account(id string) (billing.Account, error) {
	acct, ok := lo.Find(o.accounts, func(a billing.Account) bool { return a.ID == id })
	if !ok {
		return billing.Account{}, &billing.ConfigError{Field: "account", Reason: fmt.Sprintf("unknown account %q", id)}
	}
	return acct, nil
}

// Cache returns the result cache
func (o *Orchestrator) Cache() *cache.Cache {
	return o.cache
}

type refreshOptions struct {
	force bool
}

// RefreshOption tunes a single refresh call
type RefreshOption func(*refreshOptions)

// Force drops cached entries for the affected accounts before fetching
func Force(force bool) RefreshOption {
	return func(r *refreshOptions) { r.force = force }
}

func buildRefreshOptions(opts []RefreshOption) refreshOptions {
	var r refreshOptions
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

type accountResult struct {
	index   int
	summary *billing.CostSummary
	source  string
	err     error
}

// RefreshAll returns the summary of every enabled account it could get.
// Accounts whose provider is unsupported or whose fetch fails are logged and
// left out. The batch is bounded by the batch timeout; accounts that finish
// later are dropped. An error is returned only when ctx itself ends.
func (o *Orchestrator) RefreshAll(ctx context.Context, opts ...RefreshOption) ([]billing.CostSummary, error) {
	options := buildRefreshOptions(opts)
	enabled := o.EnabledAccounts()
	logging.BatchStart("summary", len(enabled))

	batchCtx, cancel := context.WithTimeout(ctx, o.batchTimeout)
	defer cancel()

	// Buffered so a task finishing after the deadline never blocks
	results := make(chan accountResult, len(enabled))
	pending := make(map[int]billing.Account, len(enabled))

	for i, acct := range enabled {
		if !o.registry.Supports(acct.Provider) {
			logging.AccountSkipped(string(acct.Provider), acct.ID, acct.Name, "unsupported provider")
			continue
		}
		pending[i] = acct
	}
	total := len(pending)
	remaining := make(map[int]billing.Account, total)
	for i, acct := range pending {
		remaining[i] = acct
	}

	go func() {
		for i, acct := range enabled {
			if _, ok := pending[i]; !ok {
				continue
			}
			i, acct := i, acct
			err := o.pool.SubmitContext(batchCtx, func(taskCtx context.Context) error {
				summary, source, err := o.summary(taskCtx, acct, options.force)
				results <- accountResult{index: i, summary: summary, source: source, err: err}
				return err
			})
			if err != nil {
				results <- accountResult{index: i, err: err}
			}
		}
	}()

	summaries := make([]*billing.CostSummary, len(enabled))

	done := 0
collect:
	for len(remaining) > 0 {
		select {
		case r := <-results:
			acct := remaining[r.index]
			delete(remaining, r.index)
			done++
			if r.err != nil {
				logging.AccountFailed(string(acct.Provider), acct.ID, acct.Name, r.err)
			} else {
				summaries[r.index] = r.summary
				logging.AccountRefreshed(string(acct.Provider), acct.ID, acct.Name, r.source)
			}
			if o.progress != nil {
				o.progress(done, total)
			}
		case <-batchCtx.Done():
			break collect
		}
	}

	if len(remaining) > 0 {
		ids := lo.Map(lo.Values(remaining), func(a billing.Account, _ int) string { return a.ID })
		logging.Warn("Batch deadline reached, dropping unfinished accounts", map[string]interface{}{
			"timeout":  o.batchTimeout.String(),
			"accounts": ids,
		})
	}

	out := make([]billing.CostSummary, 0, len(enabled))
	for _, s := range summaries {
		if s != nil {
			out = append(out, *s)
		}
	}
	logging.BatchComplete("summary", len(out), len(enabled))

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Result is the outcome of an asynchronous RefreshAll
type Result struct {
	Summaries []billing.CostSummary
	Err       error
}

// RefreshAllAsync starts RefreshAll in the background. The channel is
// buffered so the refresh completes even if nobody receives.
func (o *Orchestrator) RefreshAllAsync(ctx context.Context, opts ...RefreshOption) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		summaries, err := o.RefreshAll(ctx, opts...)
		ch <- Result{Summaries: summaries, Err: err}
	}()
	return ch
}

// summary serves one account from cache, or from its provider on a miss
func (o *Orchestrator) summary(ctx context.Context, acct billing.Account, force bool) (*billing.CostSummary, string, error) {
	if force {
		if err := o.cache.Invalidate(cache.SummaryKey(acct.ID)); err != nil {
			logging.Warn("Failed to invalidate cached summary", map[string]interface{}{
				"account_id": acct.ID,
				"error":      err.Error(),
			})
		}
	} else if s, ok := o.cache.GetSummary(acct.ID); ok {
		return s, sourceCache, nil
	}

	provider, err := o.registry.New(acct)
	if err != nil {
		return nil, "", err
	}
	s, err := provider.FetchCostSummary(ctx)
	if err != nil {
		return nil, "", err
	}

	if err := o.cache.PutSummary(s); err != nil {
		logging.Warn("Failed to cache summary", map[string]interface{}{
			"account_id": acct.ID,
			"error":      err.Error(),
		})
	}
	return s, sourceProvider, nil
}

// RefreshTrend returns the daily trend of one account over its provider's
// window ending today
func (o *Orchestrator) RefreshTrend(ctx context.Context, accountID string, opts ...RefreshOption) (*billing.CostTrend, error) {
	options := buildRefreshOptions(opts)

	acct, err := o.Account(accountID)
	if err != nil {
		return nil, err
	}
	r := billing.LastNDays(o.clock.Now(), TrendWindow(acct.Provider))

	if options.force {
		for _, date := range r.Days() {
			if err := o.cache.Invalidate(cache.TrendDayKey(acct.ID, date)); err != nil {
				return nil, fmt.Errorf("failed to invalidate trend cache: %w", err)
			}
		}
	} else if t, ok := o.cache.GetTrend(acct.ID, r); ok {
		logging.AccountRefreshed(string(acct.Provider), acct.ID, acct.Name, sourceCache)
		return t, nil
	}

	provider, err := o.registry.New(acct)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.pool.TaskTimeout())
	defer cancel()
	t, err := provider.FetchDailyTrend(taskCtx, r)
	if err != nil {
		return nil, err
	}
	t.AccountID = acct.ID

	if err := o.cache.PutTrend(t, r); err != nil {
		logging.Warn("Failed to cache trend", map[string]interface{}{
			"account_id": acct.ID,
			"error":      err.Error(),
		})
	}
	logging.AccountRefreshed(string(acct.Provider), acct.ID, acct.Name, sourceProvider)
	return t, nil
}

// ValidationResult is the credential check outcome of one account
type ValidationResult struct {
	Account billing.Account
	Valid   bool
	Err     error
}

// Status is a short human readable outcome
func (v ValidationResult) Status() string {
	switch {
	case v.Err != nil:
		return billing.Describe(v.Err)
	case v.Valid:
		return "valid"
	default:
		return "credentials rejected"
	}
}

// ValidateAll checks the credentials of every configured account concurrently.
// Results keep the configured order.
func (o *Orchestrator) ValidateAll(ctx context.Context) []ValidationResult {
	return o.validate(ctx, o.accounts)
}

// Validate checks the credentials of one account
func (o *Orchestrator) Validate(ctx context.Context, accountID string) (ValidationResult, error) {
	acct, err := o.Account(accountID)
	if err != nil {
		return ValidationResult{}, err
	}
	return o.validate(ctx, []billing.Account{acct})[0], nil
}

func (o *Orchestrator) validate(ctx context.Context, accounts []billing.Account) []ValidationResult {
	results := make([]ValidationResult, len(accounts))
	var mu sync.Mutex

	tasks := lo.Map(accounts, func(acct billing.Account, i int) worker.Task {
		results[i] = ValidationResult{Account: acct}
		return func(taskCtx context.Context) error {
			provider, err := o.registry.New(acct)
			var valid bool
			if err == nil {
				valid, err = provider.ValidateCredentials(taskCtx)
			}
			mu.Lock()
			results[i].Valid = valid
			results[i].Err = err
			mu.Unlock()
			return err
		}
	})

	if err := o.pool.ExecuteTasks(ctx, tasks); err != nil {
		logging.Debug("Validation finished with errors", map[string]interface{}{
			"error": err.Error(),
		})
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range results {
		if !results[i].Valid && results[i].Err == nil && ctx.Err() != nil {
			results[i].Err = ctx.Err()
		}
	}
	return results
}

// Invalidate drops cached results of one account, or of all accounts when
// accountID is empty
func (o *Orchestrator) Invalidate(accountID string) error {
	if accountID == "" {
		return o.cache.InvalidateAll()
	}
	if _, err := o.Account(accountID); err != nil {
		return err
	}
	return o.cache.InvalidateAccount(accountID)
}
