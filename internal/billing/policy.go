package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPolicy decides what happens to negative amounts reported by a provider
type AmountPolicy string

const (
	// AmountKeep passes negative amounts through unchanged
	AmountKeep AmountPolicy = "keep"
	// AmountClamp raises negative amounts to zero
	AmountClamp AmountPolicy = "clamp"
)

// ParseAmountPolicy accepts "", "keep" or "clamp"; the empty string yields fallback
func ParseAmountPolicy(s string, fallback AmountPolicy) (AmountPolicy, error) {
	switch AmountPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return fallback, nil
	case AmountKeep:
		return AmountKeep, nil
	case AmountClamp:
		return AmountClamp, nil
	default:
		return "", &ConfigError{Field: "amount_policy", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// Apply normalizes amount according to the policy
func (p AmountPolicy) Apply(amount decimal.Decimal) decimal.Decimal {
	if p == AmountClamp && amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Or returns p, or fallback when p is unset
func (p AmountPolicy) Or(fallback AmountPolicy) AmountPolicy {
	if p == "" {
		return fallback
	}
	return p
}
