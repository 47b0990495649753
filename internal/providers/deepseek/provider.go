// Package deepseek reports the prepaid balance of a DeepSeek API account.
// DeepSeek exposes no usage history, so the balance stands in for spend.
package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/logging"
)

const (
	// DefaultEndpoint is the DeepSeek API base URL
	DefaultEndpoint = "https://api.deepseek.com"
	balancePath     = "/user/balance"
	trendCurrency   = "USD"
)

var currencyPreference = []string{"CNY", "USD"}

func init() {
	billing.DefaultRegistry.MustRegister(billing.ProviderDeepSeek, func(account billing.Account) (billing.Provider, error) {
		return New(account)
	})
}

type balanceInfo struct {
	Currency        string `json:"currency"`
	TotalBalance    string `json:"total_balance"`
	GrantedBalance  string `json:"granted_balance"`
	ToppedUpBalance string `json:"topped_up_balance"`
}

type balanceResponse struct {
	IsAvailable  bool          `json:"is_available"`
	BalanceInfos []balanceInfo `json:"balance_infos"`
}

// Provider implements billing.Provider for one DeepSeek API key
type Provider struct {
	account  billing.Account
	apiKey   string
	endpoint string
	client   *http.Client
	policy   billing.AmountPolicy
}

// Option configures a Provider
type Option func(*Provider)

// WithEndpoint overrides the API base URL
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a DeepSeek provider. The API key is read from the secret,
// falling back to the access key id field.
func New(account billing.Account, opts ...Option) (*Provider, error) {
	key := account.Credential.Secret
	if key == "" {
		key = account.Credential.AccessKeyID
	}
	if key == "" {
		return nil, &billing.ConfigError{Field: "secret_access_key", Reason: fmt.Sprintf("account %s has no DeepSeek API key", account.ID)}
	}

	p := &Provider{
		account:  account,
		apiKey:   key,
		endpoint: DefaultEndpoint,
		client:   httpclient.New(),
		policy:   account.AmountPolicy.Or(billing.AmountClamp),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) balance(ctx context.Context) (*balanceResponse, error) {
	req, err := http.NewRequest(http.MethodGet, p.endpoint+balancePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := httpclient.Do(ctx, p.client, req, billing.ProviderDeepSeek, "GetBalance")
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &billing.AuthError{Provider: billing.ProviderDeepSeek, Code: http.StatusText(resp.StatusCode), Message: httpclient.Snippet(resp.Body)}
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &billing.TransportError{
			Provider: billing.ProviderDeepSeek,
			Op:       "GetBalance",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, httpclient.Snippet(resp.Body)),
		}
	case !resp.OK():
		return nil, &billing.APIError{Provider: billing.ProviderDeepSeek, StatusCode: resp.StatusCode, Message: httpclient.Snippet(resp.Body)}
	}

	var out balanceResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &billing.ParseError{Provider: billing.ProviderDeepSeek, Op: "GetBalance", Err: err}
	}
	return &out, nil
}

// pickBalance prefers CNY, then USD, then whatever comes first
func pickBalance(infos []balanceInfo) (balanceInfo, bool) {
	for _, currency := range currencyPreference {
		for _, info := range infos {
			if info.Currency == currency {
				return info, true
			}
		}
	}
	if len(infos) == 0 {
		return balanceInfo{}, false
	}
	return infos[0], true
}

func parseBalance(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &billing.ParseError{Provider: billing.ProviderDeepSeek, Op: "GetBalance", Err: fmt.Errorf("%s: %w", field, err)}
	}
	return d, nil
}

// ValidateCredentials succeeds when the balance endpoint accepts the key
// and reports the account as available
func (p *Provider) ValidateCredentials(ctx context.Context) (bool, error) {
	out, err := p.balance(ctx)
	if err != nil {
		logging.Debug("DeepSeek credential check failed", map[string]interface{}{
			"account_id": p.account.ID,
			"error":      err.Error(),
		})
		return false, nil
	}
	return out.IsAvailable, nil
}

// FetchCostRecords has nothing to return; DeepSeek has no usage history
func (p *Provider) FetchCostRecords(_ context.Context, r billing.DateRange) ([]billing.CostRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return []billing.CostRecord{}, nil
}

// FetchCostSummary reports the available balance as the current figure
func (p *Provider) FetchCostSummary(ctx context.Context) (*billing.CostSummary, error) {
	out, err := p.balance(ctx)
	if err != nil {
		return nil, err
	}
	info, ok := pickBalance(out.BalanceInfos)
	if !ok {
		return nil, &billing.ParseError{Provider: billing.ProviderDeepSeek, Op: "GetBalance", Err: fmt.Errorf("no balance info")}
	}

	total, err := parseBalance("total_balance", info.TotalBalance)
	if err != nil {
		return nil, err
	}
	granted, err := parseBalance("granted_balance", info.GrantedBalance)
	if err != nil {
		return nil, err
	}
	toppedUp, err := parseBalance("topped_up_balance", info.ToppedUpBalance)
	if err != nil {
		return nil, err
	}

	details := []billing.ServiceCost{}
	if granted.IsPositive() {
		details = append(details, billing.ServiceCost{Service: "Granted Balance", Amount: granted, Currency: info.Currency})
	}
	if toppedUp.IsPositive() {
		details = append(details, billing.ServiceCost{Service: "Topped-up Balance", Amount: toppedUp, Currency: info.Currency})
	}

	return &billing.CostSummary{
		AccountID:               p.account.ID,
		AccountName:             p.account.Name,
		Provider:                billing.ProviderDeepSeek,
		CurrentMonthCost:        p.policy.Apply(total),
		LastMonthCost:           decimal.Zero,
		Currency:                info.Currency,
		MonthOverMonthChangePct: 0,
		CurrentMonthDetails:     details,
		LastMonthDetails:        []billing.ServiceCost{},
	}, nil
}

// FetchDailyTrend returns an empty series
func (p *Provider) FetchDailyTrend(_ context.Context, r billing.DateRange) (*billing.CostTrend, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &billing.CostTrend{
		AccountID:  p.account.ID,
		Currency:   trendCurrency,
		DailyCosts: []billing.DailyCost{},
	}, nil
}
