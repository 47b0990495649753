package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthOverMonthChange(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		last    int64
		want    float64
	}{
		{name: "no baseline with spend", current: 50, last: 0, want: 100.0},
		{name: "no baseline no spend", current: 0, last: 0, want: 0.0},
		{name: "halved", current: 50, last: 100, want: -50.0},
		{name: "doubled", current: 200, last: 100, want: 100.0},
		{name: "unchanged", current: 80, last: 80, want: 0.0},
		{name: "negative baseline", current: 10, last: -5, want: 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonthOverMonthChange(decimal.NewFromInt(tt.current), decimal.NewFromInt(tt.last))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDateRange(t *testing.T) {
	t.Run("end before start is a config error", func(t *testing.T) {
		_, err := NewDateRange("2024-03-10", "2024-03-01")
		require.Error(t, err)
		assert.True(t, IsConfig(err))
	})

	t.Run("malformed date is a config error", func(t *testing.T) {
		_, err := NewDateRange("2024/03/01", "2024-03-10")
		require.Error(t, err)
		assert.True(t, IsConfig(err))
	})

	t.Run("days are inclusive and ascending", func(t *testing.T) {
		r, err := NewDateRange("2024-02-27", "2024-03-01")
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}, r.Days())
		assert.Equal(t, "2024-03-02", r.ExclusiveEnd())
		assert.True(t, r.Contains("2024-02-27"))
		assert.True(t, r.Contains("2024-03-01"))
		assert.False(t, r.Contains("2024-03-02"))
	})

	t.Run("single day range", func(t *testing.T) {
		r, err := NewDateRange("2024-05-05", "2024-05-05")
		require.NoError(t, err)
		assert.Len(t, r.Days(), 1)
	})
}

func TestCalendarMonths(t *testing.T) {
	now := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, DateRange{Start: "2024-03-01", End: "2024-03-15"}, CurrentMonth(now))
	assert.Equal(t, DateRange{Start: "2024-02-01", End: "2024-02-29"}, PreviousMonth(now))

	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, DateRange{Start: "2023-12-01", End: "2023-12-31"}, PreviousMonth(jan))
	assert.Equal(t, DateRange{Start: "2024-01-01", End: "2024-01-01"}, CurrentMonth(jan))

	assert.Equal(t, DateRange{Start: "2024-03-09", End: "2024-03-15"}, LastNDays(now, 7))
	assert.Len(t, LastNDays(now, 7).Days(), 7)
	assert.Len(t, LastNDays(now, 30).Days(), 30)
	assert.Equal(t, DateRange{Start: "2024-03-15", End: "2024-03-15"}, LastNDays(now, 1))
}

func TestAmountPolicy(t *testing.T) {
	p, err := ParseAmountPolicy("", AmountClamp)
	require.NoError(t, err)
	assert.Equal(t, AmountClamp, p)

	p, err = ParseAmountPolicy("KEEP", AmountClamp)
	require.NoError(t, err)
	assert.Equal(t, AmountKeep, p)

	_, err = ParseAmountPolicy("drop", AmountKeep)
	assert.True(t, IsConfig(err))

	neg := decimal.NewFromInt(-3)
	assert.Equal(t, "-3", AmountKeep.Apply(neg).String())
	assert.Equal(t, "0", AmountClamp.Apply(neg).String())
	assert.Equal(t, "4", AmountClamp.Apply(decimal.NewFromInt(4)).String())
	assert.Equal(t, AmountKeep, AmountPolicy("").Or(AmountKeep))
}

type stubProvider struct{}

func (stubProvider) ValidateCredentials(context.Context) (bool, error) { return true, nil }
func (stubProvider) FetchCostRecords(context.Context, DateRange) ([]CostRecord, error) {
	return nil, nil
}
func (stubProvider) FetchCostSummary(context.Context) (*CostSummary, error) { return nil, nil }
func (stubProvider) FetchDailyTrend(context.Context, DateRange) (*CostTrend, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ctor := func(Account) (Provider, error) { return stubProvider{}, nil }

	require.NoError(t, r.Register(ProviderDeepSeek, ctor))
	require.NoError(t, r.Register(ProviderAWS, ctor))
	assert.Error(t, r.Register(ProviderAWS, ctor))

	assert.Equal(t, []ProviderType{ProviderAWS, ProviderDeepSeek}, r.Providers())
	assert.True(t, r.Supports(ProviderAWS))
	assert.False(t, r.Supports(ProviderAliyun))

	p, err := r.New(Account{ID: "a", Provider: ProviderAWS})
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = r.New(Account{ID: "b", Provider: "gcp"})
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "credentials rejected", Describe(fmt.Errorf("wrapped: %w", &AuthError{Provider: ProviderAWS})))
	assert.Equal(t, "provider unreachable", Describe(&TransportError{Provider: ProviderAliyun, Err: context.DeadlineExceeded}))
	assert.Equal(t, "invalid configuration", Describe(&ConfigError{Reason: "x"}))
	assert.Equal(t, "request failed", Describe(&ParseError{Provider: ProviderAWS, Err: fmt.Errorf("bad")}))
	assert.Equal(t, "ok", Describe(nil))
}
