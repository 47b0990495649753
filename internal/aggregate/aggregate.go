// Package aggregate rolls cost records up into service and day totals.
// Every provider goes through these functions so ordering and the handling
// of credits stay identical across clouds.
package aggregate

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
)

// ByService sums amounts per service, keeping the last currency seen for it.
// Services whose total is zero or negative are dropped so credits never show
// up as spend. Output is ordered by amount descending, then service name.
func ByService(records []billing.CostRecord) []billing.ServiceCost {
	totals := make(map[string]decimal.Decimal)
	currencies := make(map[string]string)
	for _, r := range records {
		totals[r.Service] = totals[r.Service].Add(r.Amount)
		currencies[r.Service] = r.Currency
	}

	services := lo.FilterMap(lo.Keys(totals), func(name string, _ int) (billing.ServiceCost, bool) {
		amount := totals[name]
		return billing.ServiceCost{
			Service:  name,
			Amount:   amount,
			Currency: currencies[name],
		}, amount.IsPositive()
	})

	SortServiceCosts(services)
	return services
}

// SortServiceCosts orders by amount descending with ties broken by service name ascending
func SortServiceCosts(services []billing.ServiceCost) {
	sort.SliceStable(services, func(i, j int) bool {
		if c := services[i].Amount.Cmp(services[j].Amount); c != 0 {
			return c > 0
		}
		return services[i].Service < services[j].Service
	})
}

// ByDay sums amounts per date and orders the result by date ascending
func ByDay(records []billing.CostRecord) []billing.DailyCost {
	totals := make(map[string]decimal.Decimal)
	for _, r := range records {
		totals[r.Date] = totals[r.Date].Add(r.Amount)
	}

	dates := lo.Keys(totals)
	sort.Strings(dates)

	return lo.Map(dates, func(date string, _ int) billing.DailyCost {
		return billing.DailyCost{Date: date, Amount: totals[date]}
	})
}

// NonZeroDays drops days whose total is exactly zero
func NonZeroDays(days []billing.DailyCost) []billing.DailyCost {
	return lo.Filter(days, func(d billing.DailyCost, _ int) bool {
		return !d.Amount.IsZero()
	})
}

// Total sums the service amounts
func Total(services []billing.ServiceCost) decimal.Decimal {
	return lo.Reduce(services, func(acc decimal.Decimal, s billing.ServiceCost, _ int) decimal.Decimal {
		return acc.Add(s.Amount)
	}, decimal.Zero)
}

// Currency returns the last non-empty currency among records, or fallback
func Currency(records []billing.CostRecord, fallback string) string {
	currency := fallback
	for _, r := range records {
		if r.Currency != "" {
			currency = r.Currency
		}
	}
	return currency
}

// Records turns service totals back into records for one account and day,
// which lets aggregated output be fed through ByService again.
func Records(accountID, date string, services []billing.ServiceCost) []billing.CostRecord {
	return lo.Map(services, func(s billing.ServiceCost, _ int) billing.CostRecord {
		return billing.CostRecord{
			AccountID: accountID,
			Date:      date,
			Service:   s.Service,
			Amount:    s.Amount,
			Currency:  s.Currency,
		}
	})
}
