package billing

import (
	"github.com/shopspring/decimal"
)

// ProviderType identifies a billing backend
type ProviderType string

const (
	ProviderAWS      ProviderType = "aws"
	ProviderAliyun   ProviderType = "aliyun"
	ProviderDeepSeek ProviderType = "deepseek"
)

// Credential is the key pair handed to a provider signer. Values are never interpreted.
type Credential struct {
	AccountID   string `json:"-"`
	AccessKeyID string `json:"-"`
	Secret      string `json:"-"`
	Region      string `json:"-"`
}

// Account is a configured billing account
type Account struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Provider     ProviderType `json:"provider"`
	Enabled      bool         `json:"enabled"`
	Credential   Credential   `json:"-"`
	AmountPolicy AmountPolicy `json:"amount_policy,omitempty"`
}

// CostRecord is one (account, day, service) cost observation.
// Credits and refunds keep their negative sign.
type CostRecord struct {
	AccountID string          `json:"account_id"`
	Date      string          `json:"date"`
	Service   string          `json:"service"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// ServiceCost is the total for one service within a summary
type ServiceCost struct {
	Service  string          `json:"service"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// DailyCost is the total for one calendar day
type DailyCost struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// CostSummary compares the current calendar month with the previous one
type CostSummary struct {
	AccountID               string          `json:"account_id"`
	AccountName             string          `json:"account_name"`
	Provider                ProviderType    `json:"provider"`
	CurrentMonthCost        decimal.Decimal `json:"current_month_cost"`
	LastMonthCost           decimal.Decimal `json:"last_month_cost"`
	Currency                string          `json:"currency"`
	MonthOverMonthChangePct float64         `json:"month_over_month_change_pct"`
	CurrentMonthDetails     []ServiceCost   `json:"current_month_details"`
	LastMonthDetails        []ServiceCost   `json:"last_month_details"`
}

// CostTrend is a series of daily totals for one account
type CostTrend struct {
	AccountID  string      `json:"account_id"`
	Currency   string      `json:"currency"`
	DailyCosts []DailyCost `json:"daily_costs"`

	// SkippedDates lists days the provider could not fetch. They carry no
	// data and must not be cached as zero-spend days.
	SkippedDates []string `json:"-"`
}

// Total sums the daily amounts of the trend
func (t *CostTrend) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range t.DailyCosts {
		total = total.Add(d.Amount)
	}
	return total
}

// MonthOverMonthChange returns the percentage change from last to current.
// A zero (or negative) baseline yields 100 when current is positive and 0 otherwise.
func MonthOverMonthChange(current, last decimal.Decimal) float64 {
	if last.IsPositive() {
		return current.Sub(last).Div(last).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	if current.IsPositive() {
		return 100.0
	}
	return 0.0
}
