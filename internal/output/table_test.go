package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbridge/internal/billing"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestRenderSummaries(t *testing.T) {
	noColor(t)
	summaries := []billing.CostSummary{
		{
			AccountID:               "111111111111",
			AccountName:             "prod",
			Provider:                billing.ProviderAWS,
			CurrentMonthCost:        decimal.RequireFromString("120"),
			LastMonthCost:           decimal.RequireFromString("100"),
			Currency:                "USD",
			MonthOverMonthChangePct: 20,
			CurrentMonthDetails: []billing.ServiceCost{
				{Service: "Amazon EC2", Amount: decimal.RequireFromString("90"), Currency: "USD"},
				{Service: "Amazon S3", Amount: decimal.RequireFromString("30"), Currency: "USD"},
			},
		},
		{
			AccountID:               "ali-1",
			AccountName:             "cn",
			Provider:                billing.ProviderAliyun,
			CurrentMonthCost:        decimal.RequireFromString("50"),
			LastMonthCost:           decimal.RequireFromString("100"),
			Currency:                "CNY",
			MonthOverMonthChangePct: -50,
		},
	}

	var buf bytes.Buffer
	RenderSummaries(&buf, summaries, true)
	out := buf.String()

	lines := strings.Split(out, "\n")
	assert.True(t, strings.HasPrefix(lines[0], "ACCOUNT"))
	assert.Contains(t, lines[1], "120.00")
	assert.Contains(t, lines[1], "+20.0%")
	assert.Contains(t, lines[2], "-50.0%")
	assert.Equal(t, strings.Index(lines[0], "PROVIDER"), strings.Index(lines[1], "aws"))
	assert.Contains(t, out, "Amazon EC2")
	assert.NotContains(t, out, "cn (ali-1)")
}

func TestRenderSummariesEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderSummaries(&buf, nil, false)
	assert.Equal(t, "No cost data available\n", buf.String())
}

func TestRenderTrend(t *testing.T) {
	noColor(t)
	account := billing.Account{ID: "111111111111", Name: "prod", Provider: billing.ProviderAWS}
	trend := &billing.CostTrend{
		AccountID: account.ID,
		Currency:  "USD",
		DailyCosts: []billing.DailyCost{
			{Date: "2024-03-01", Amount: decimal.RequireFromString("10")},
			{Date: "2024-03-02", Amount: decimal.RequireFromString("5")},
			{Date: "2024-03-03", Amount: decimal.Zero},
		},
	}

	var buf bytes.Buffer
	RenderTrend(&buf, account, trend)
	out := buf.String()

	assert.Contains(t, out, "2024-03-01  10.00   "+strings.Repeat("#", 30))
	assert.Contains(t, out, strings.Repeat("#", 15)+"\n")
	assert.Contains(t, out, "Total: 15.00 USD")
}

func TestRenderTrendEmpty(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	RenderTrend(&buf, billing.Account{ID: "d1", Name: "ds", Provider: billing.ProviderDeepSeek}, &billing.CostTrend{})
	assert.Contains(t, buf.String(), "No daily cost data available")
}

func TestRenderValidation(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	RenderValidation(&buf, []ValidationRow{
		{AccountID: "a", Name: "one", Provider: "aws", Valid: true, Status: "ok"},
		{AccountID: "b", Name: "two", Provider: "aliyun", Status: "credentials rejected"},
	})
	out := buf.String()
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "credentials rejected")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	assert.Error(t, WriteJSON(failWriter{}, map[string]int{"a": 1}))
}
