// Package aliyun reads Alibaba Cloud spend through the BSS OpenAPI.
package aliyun

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cloudbridge/internal/aggregate"
	"cloudbridge/internal/billing"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/config"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/ratelimit"
	"cloudbridge/internal/signer"
)

// DefaultEndpoint is the BSS OpenAPI endpoint
const DefaultEndpoint = "https://business.aliyuncs.com/"

func init() {
	billing.DefaultRegistry.MustRegister(billing.ProviderAliyun, func(account billing.Account) (billing.Provider, error) {
		return New(account)
	})
}

// Provider implements billing.Provider for one Aliyun account
type Provider struct {
	account  billing.Account
	signer   *signer.Aliyun
	client   *http.Client
	clock    clock.Clock
	endpoint *url.URL
	limiter  *ratelimit.Limiter
	nonce    func() string
	policy   billing.AmountPolicy
}

// Option configures a Provider
type Option func(*Provider) error

// WithEndpoint overrides the BSS endpoint
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return &billing.ConfigError{Field: "endpoint", Reason: err.Error()}
		}
		p.endpoint = u
		return nil
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) error {
		p.client = client
		return nil
	}
}

// WithClock sets the time source for timestamps and billing cycles
func WithClock(clk clock.Clock) Option {
	return func(p *Provider) error {
		p.clock = clk
		return nil
	}
}

// WithLimiter replaces the shared per-account limiter
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Provider) error {
		p.limiter = l
		return nil
	}
}

// WithNonce replaces the SignatureNonce generator
func WithNonce(nonce func() string) Option {
	return func(p *Provider) error {
		p.nonce = nonce
		return nil
	}
}

// New creates an Aliyun provider for account
func New(account billing.Account, opts ...Option) (*Provider, error) {
	cred := account.Credential
	if cred.AccessKeyID == "" || cred.Secret == "" {
		return nil, &billing.ConfigError{Field: "access_key_id", Reason: fmt.Sprintf("account %s has no Aliyun AccessKey", account.ID)}
	}

	endpoint, _ := url.Parse(DefaultEndpoint)
	p := &Provider{
		account:  account,
		signer:   signer.NewAliyun(cred.AccessKeyID, cred.Secret),
		client:   httpclient.New(),
		clock:    clock.RealClock{},
		endpoint: endpoint,
		limiter:  ratelimit.For("aliyun/"+account.ID, &config.DefaultRateLimitConfig),
		nonce:    signer.NewNonce,
		policy:   account.AmountPolicy.Or(billing.AmountKeep),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ValidateCredentials calls QueryAccountBalance, the cheapest signed BSS call
func (p *Provider) ValidateCredentials(ctx context.Context) (bool, error) {
	if _, err := p.queryAccountBalance(ctx); err != nil {
		logging.Debug("Aliyun credential check failed", map[string]interface{}{
			"account_id": p.account.ID,
			"error":      err.Error(),
		})
		return false, nil
	}
	return true, nil
}

// FetchCostRecords queries DescribeInstanceBill day by day over r.
// A day that fails is logged and skipped unless the failure is an
// authentication error or the context is done, which end the whole fetch.
func (p *Provider) FetchCostRecords(ctx context.Context, r billing.DateRange) ([]billing.CostRecord, error) {
	records, _, err := p.fetchDays(ctx, r)
	return records, err
}

// fetchDays returns the records of r together with the days that failed
func (p *Provider) fetchDays(ctx context.Context, r billing.DateRange) ([]billing.CostRecord, []string, error) {
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}

	records := []billing.CostRecord{}
	var skipped []string
	for _, date := range r.Days() {
		items, err := p.describeDay(ctx, date)
		if err != nil {
			if billing.IsAuth(err) || ctx.Err() != nil {
				return nil, nil, err
			}
			logging.Warn("Skipping Aliyun billing day", map[string]interface{}{
				"account_id": p.account.ID,
				"date":       date,
				"error":      err.Error(),
			})
			skipped = append(skipped, date)
			continue
		}

		for _, item := range items {
			amount := p.policy.Apply(item.PretaxAmount)
			if amount.IsZero() {
				continue
			}
			day := item.BillingDate
			if day == "" {
				day = date
			}
			if !r.Contains(day) {
				continue
			}
			records = append(records, billing.CostRecord{
				AccountID: p.account.ID,
				Date:      day,
				Service:   productName(item.ProductName, item.ProductCode),
				Amount:    amount,
				Currency:  currencyOr(item.Currency),
			})
		}
	}
	return records, skipped, nil
}

// FetchCostSummary compares the current billing cycle with the previous one
func (p *Provider) FetchCostSummary(ctx context.Context) (*billing.CostSummary, error) {
	now := p.clock.Now().UTC()
	current := billing.CurrentMonth(now)
	last := billing.PreviousMonth(now)

	currentServices, currentCurrency, err := p.cycleServices(ctx, current.Start[:7])
	if err != nil {
		return nil, fmt.Errorf("current month: %w", err)
	}
	lastServices, lastCurrency, err := p.cycleServices(ctx, last.Start[:7])
	if err != nil {
		return nil, fmt.Errorf("last month: %w", err)
	}

	currency := currentCurrency
	if currency == "" {
		currency = currencyOr(lastCurrency)
	}
	currentTotal := aggregate.Total(currentServices)
	lastTotal := aggregate.Total(lastServices)

	return &billing.CostSummary{
		AccountID:               p.account.ID,
		AccountName:             p.account.Name,
		Provider:                billing.ProviderAliyun,
		CurrentMonthCost:        currentTotal,
		LastMonthCost:           lastTotal,
		Currency:                currency,
		MonthOverMonthChangePct: billing.MonthOverMonthChange(currentTotal, lastTotal),
		CurrentMonthDetails:     currentServices,
		LastMonthDetails:        lastServices,
	}, nil
}

func (p *Provider) cycleServices(ctx context.Context, cycle string) ([]billing.ServiceCost, string, error) {
	out, err := p.queryBillOverview(ctx, cycle)
	if err != nil {
		return nil, "", err
	}

	records := make([]billing.CostRecord, 0, len(out.Data.Items.Item))
	for _, item := range out.Data.Items.Item {
		records = append(records, billing.CostRecord{
			AccountID: p.account.ID,
			Date:      cycle,
			Service:   productName(item.ProductName, item.ProductCode),
			Amount:    p.policy.Apply(item.PretaxAmount),
			Currency:  currencyOr(item.Currency),
		})
	}
	return aggregate.ByService(records), aggregate.Currency(records, ""), nil
}

// FetchDailyTrend sums the per-day records and keeps days with spend.
// Days that could not be fetched are reported in SkippedDates.
func (p *Provider) FetchDailyTrend(ctx context.Context, r billing.DateRange) (*billing.CostTrend, error) {
	records, skipped, err := p.fetchDays(ctx, r)
	if err != nil {
		return nil, err
	}
	return &billing.CostTrend{
		AccountID:    p.account.ID,
		Currency:     aggregate.Currency(records, defaultCurrency),
		DailyCosts:   aggregate.NonZeroDays(aggregate.ByDay(records)),
		SkippedDates: skipped,
	}, nil
}
