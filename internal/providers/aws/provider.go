// Package aws reads AWS spend from Cost Explorer and checks keys against STS.
// Requests are signed with SigV4; Cost Explorer is only served from us-east-1
// so it is always signed for that region regardless of the account's region.
package aws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"cloudbridge/internal/aggregate"
	"cloudbridge/internal/billing"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/logging"
	"cloudbridge/internal/signer"
)

const (
	costExplorerRegion   = "us-east-1"
	costExplorerService  = "ce"
	costExplorerEndpoint = "https://ce.us-east-1.amazonaws.com/"
	stsService           = "sts"
	defaultCurrency      = "USD"
)

func init() {
	billing.DefaultRegistry.MustRegister(billing.ProviderAWS, func(account billing.Account) (billing.Provider, error) {
		return New(account)
	})
}

// Provider implements billing.Provider for one AWS account
type Provider struct {
	account     billing.Account
	signer      *signer.SigV4
	client      *http.Client
	clock       clock.Clock
	ceEndpoint  *url.URL
	stsEndpoint *url.URL
	policy      billing.AmountPolicy
}

// Option configures a Provider
type Option func(*Provider) error

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) error {
		p.client = client
		return nil
	}
}

// WithClock sets the time source for signing and month boundaries
func WithClock(clk clock.Clock) Option {
	return func(p *Provider) error {
		p.clock = clk
		return nil
	}
}

// WithCostExplorerEndpoint overrides the Cost Explorer URL
func WithCostExplorerEndpoint(endpoint string) Option {
	return func(p *Provider) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return &billing.ConfigError{Field: "cost_explorer_endpoint", Reason: err.Error()}
		}
		p.ceEndpoint = u
		return nil
	}
}

// WithSTSEndpoint overrides the regional STS URL
func WithSTSEndpoint(endpoint string) Option {
	return func(p *Provider) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return &billing.ConfigError{Field: "sts_endpoint", Reason: err.Error()}
		}
		p.stsEndpoint = u
		return nil
	}
}

// New creates an AWS provider for account
func New(account billing.Account, opts ...Option) (*Provider, error) {
	cred := account.Credential
	if cred.AccessKeyID == "" || cred.Secret == "" {
		return nil, &billing.ConfigError{Field: "access_key_id", Reason: fmt.Sprintf("account %s has no AWS access keys", account.ID)}
	}
	if cred.Region == "" {
		cred.Region = costExplorerRegion
	}
	account.Credential = cred

	ce, _ := url.Parse(costExplorerEndpoint)
	sts, _ := url.Parse(fmt.Sprintf("https://sts.%s.amazonaws.com/", cred.Region))

	p := &Provider{
		account:     account,
		signer:      signer.NewSigV4(cred.AccessKeyID, cred.Secret),
		client:      httpclient.New(),
		clock:       clock.RealClock{},
		ceEndpoint:  ce,
		stsEndpoint: sts,
		policy:      account.AmountPolicy.Or(billing.AmountKeep),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ValidateCredentials asks STS who the keys belong to
func (p *Provider) ValidateCredentials(ctx context.Context) (bool, error) {
	identity, err := p.CallerIdentity(ctx)
	if err != nil {
		logging.Debug("AWS credential check failed", map[string]interface{}{
			"account_id": p.account.ID,
			"error":      err.Error(),
		})
		return false, nil
	}
	logging.Debug("AWS credential check succeeded", map[string]interface{}{
		"account_id": p.account.ID,
		"arn":        identity.Arn,
	})
	return true, nil
}

// FetchCostRecords returns daily per-service unblended cost inside r
func (p *Provider) FetchCostRecords(ctx context.Context, r billing.DateRange) ([]billing.CostRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out, err := p.getCostAndUsage(ctx, r, granularityDaily, true)
	if err != nil {
		return nil, err
	}
	records, err := p.groupedRecords(out)
	if err != nil {
		return nil, err
	}

	inRange := records[:0]
	for _, rec := range records {
		if r.Contains(rec.Date) {
			inRange = append(inRange, rec)
		}
	}
	return inRange, nil
}

// FetchCostSummary queries this month and last month separately and compares them
func (p *Provider) FetchCostSummary(ctx context.Context) (*billing.CostSummary, error) {
	now := p.clock.Now().UTC()

	current, err := p.monthServices(ctx, billing.CurrentMonth(now))
	if err != nil {
		return nil, fmt.Errorf("current month: %w", err)
	}
	last, err := p.monthServices(ctx, billing.PreviousMonth(now))
	if err != nil {
		return nil, fmt.Errorf("last month: %w", err)
	}

	currentTotal := aggregate.Total(current)
	lastTotal := aggregate.Total(last)

	return &billing.CostSummary{
		AccountID:               p.account.ID,
		AccountName:             p.account.Name,
		Provider:                billing.ProviderAWS,
		CurrentMonthCost:        currentTotal,
		LastMonthCost:           lastTotal,
		Currency:                summaryCurrency(current, last),
		MonthOverMonthChangePct: billing.MonthOverMonthChange(currentTotal, lastTotal),
		CurrentMonthDetails:     current,
		LastMonthDetails:        last,
	}, nil
}

func (p *Provider) monthServices(ctx context.Context, month billing.DateRange) ([]billing.ServiceCost, error) {
	out, err := p.getCostAndUsage(ctx, month, granularityMonthly, true)
	if err != nil {
		return nil, err
	}
	records, err := p.groupedRecords(out)
	if err != nil {
		return nil, err
	}
	return aggregate.ByService(records), nil
}

func summaryCurrency(current, last []billing.ServiceCost) string {
	for _, services := range [][]billing.ServiceCost{current, last} {
		for _, s := range services {
			if s.Currency != "" {
				return s.Currency
			}
		}
	}
	return defaultCurrency
}

// FetchDailyTrend returns Cost Explorer's own daily totals, zero days included
func (p *Provider) FetchDailyTrend(ctx context.Context, r billing.DateRange) (*billing.CostTrend, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out, err := p.getCostAndUsage(ctx, r, granularityDaily, false)
	if err != nil {
		return nil, err
	}
	days, currency, err := p.dailyTotals(out, r)
	if err != nil {
		return nil, err
	}
	return &billing.CostTrend{
		AccountID:  p.account.ID,
		Currency:   currency,
		DailyCosts: days,
	}, nil
}

func (p *Provider) now() time.Time {
	return p.clock.Now()
}
