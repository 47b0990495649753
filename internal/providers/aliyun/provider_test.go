package aliyun

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/cache"
	"cloudbridge/internal/clock"
	"cloudbridge/internal/config"
	"cloudbridge/internal/ratelimit"
	"cloudbridge/internal/signer"
)

const (
	testKeyID  = "testid"
	testSecret = "testsecret"
)

var testNow = time.Date(2024, time.March, 15, 8, 30, 0, 0, time.UTC)

func testAccount() billing.Account {
	return billing.Account{
		ID:       "cn-main",
		Name:     "China Main",
		Provider: billing.ProviderAliyun,
		Enabled:  true,
		Credential: billing.Credential{
			AccessKeyID: testKeyID,
			Secret:      testSecret,
		},
	}
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(&config.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
	})
}

// bssServer verifies the signature of every request and hands the
// parameters to respond
func bssServer(t *testing.T, respond func(params map[string]string) (int, string)) *httptest.Server {
	t.Helper()
	verifier := signer.NewAliyun(testKeyID, testSecret)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		params := make(map[string]string)
		for k, v := range r.URL.Query() {
			params[k] = v[0]
		}
		assert.Equal(t, apiVersion, params["Version"])
		assert.Equal(t, testKeyID, params["AccessKeyId"])
		assert.Equal(t, "JSON", params["Format"])
		assert.Equal(t, "2024-03-15T08:30:00Z", params["Timestamp"])
		assert.Equal(t, verifier.Signature(params), params[signer.AliyunSignatureParam], "signature mismatch")

		status, body := respond(params)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestProvider(t *testing.T, server *httptest.Server, account billing.Account) *Provider {
	t.Helper()
	p, err := New(account,
		WithEndpoint(server.URL+"/"),
		WithHTTPClient(server.Client()),
		WithClock(clock.NewFake(testNow)),
		WithLimiter(fastLimiter()),
		WithNonce(func() string { return "nonce" }),
	)
	require.NoError(t, err)
	return p
}

func overview(items string) string {
	return fmt.Sprintf(`{"RequestId": "r", "Success": true, "Code": "Success", "Message": "Successful!", "Data": {"Items": {"Item": [%s]}}}`, items)
}

func TestFetchCostSummary(t *testing.T) {
	server := bssServer(t, func(params map[string]string) (int, string) {
		assert.Equal(t, "QueryBillOverview", params["Action"])
		switch params["BillingCycle"] {
		case "2024-03":
			return http.StatusOK, overview(`
				{"ProductCode": "ecs", "ProductName": "Elastic Compute Service", "PretaxAmount": 300.5, "Currency": "CNY"},
				{"ProductCode": "oss", "ProductName": "Object Storage Service", "PretaxAmount": 100, "Currency": "CNY"},
				{"ProductCode": "cdn", "ProductName": "", "PretaxAmount": 0, "Currency": "CNY"},
				{"ProductCode": "voucher", "ProductName": "Voucher", "PretaxAmount": -20, "Currency": "CNY"}`)
		case "2024-02":
			return http.StatusOK, overview(`{"ProductCode": "ecs", "ProductName": "Elastic Compute Service", "PretaxAmount": 200, "Currency": "CNY"}`)
		}
		t.Errorf("unexpected cycle %q", params["BillingCycle"])
		return http.StatusBadRequest, `{}`
	})
	defer server.Close()

	summary, err := newTestProvider(t, server, testAccount()).FetchCostSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, billing.ProviderAliyun, summary.Provider)
	assert.Equal(t, "China Main", summary.AccountName)
	assert.Equal(t, "CNY", summary.Currency)
	assert.Equal(t, "400.5", summary.CurrentMonthCost.String())
	assert.Equal(t, "200", summary.LastMonthCost.String())
	assert.InDelta(t, 100.25, summary.MonthOverMonthChangePct, 1e-9)
	require.Len(t, summary.CurrentMonthDetails, 2)
	assert.Equal(t, "Elastic Compute Service", summary.CurrentMonthDetails[0].Service)
	assert.Equal(t, "Object Storage Service", summary.CurrentMonthDetails[1].Service)
}

func TestFetchCostSummaryEmptyDefaultsCurrency(t *testing.T) {
	server := bssServer(t, func(map[string]string) (int, string) {
		return http.StatusOK, overview(``)
	})
	defer server.Close()

	summary, err := newTestProvider(t, server, testAccount()).FetchCostSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CNY", summary.Currency)
	assert.True(t, summary.CurrentMonthCost.IsZero())
	assert.Equal(t, 0.0, summary.MonthOverMonthChangePct)
	assert.Empty(t, summary.CurrentMonthDetails)
}

func TestFetchCostRecordsPerDayWithPaging(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	server := bssServer(t, func(params map[string]string) (int, string) {
		assert.Equal(t, "DescribeInstanceBill", params["Action"])
		assert.Equal(t, "DAILY", params["Granularity"])
		assert.Equal(t, pageSize, params["MaxResults"])
		assert.Equal(t, params["BillingDate"][:7], params["BillingCycle"])

		mu.Lock()
		seen[params["BillingDate"]]++
		mu.Unlock()

		switch params["BillingDate"] {
		case "2024-03-01":
			if params["NextToken"] == "" {
				return http.StatusOK, `{"Code": "Success", "Data": {"NextToken": "t2", "Items": [
					{"BillingDate": "2024-03-01", "ProductCode": "ecs", "ProductName": "Elastic Compute Service", "PretaxAmount": 10, "Currency": "CNY"}]}}`
			}
			assert.Equal(t, "t2", params["NextToken"])
			return http.StatusOK, `{"Code": "Success", "Data": {"Items": [
				{"BillingDate": "2024-03-01", "ProductCode": "oss", "PretaxAmount": 2.5},
				{"BillingDate": "2024-03-01", "ProductCode": "free", "PretaxAmount": 0}]}}`
		case "2024-03-02":
			return http.StatusOK, `{"Code": "Throttling.User", "Message": "Request was denied due to user flow control."}`
		default:
			return http.StatusOK, `{"Code": "Success", "Data": {"Items": [
				{"BillingDate": "2024-03-03", "ProductCode": "ecs", "ProductName": "Elastic Compute Service", "PretaxAmount": -1, "Currency": "CNY"}]}}`
		}
	})
	defer server.Close()

	records, err := newTestProvider(t, server, testAccount()).
		FetchCostRecords(context.Background(), billing.DateRange{Start: "2024-03-01", End: "2024-03-03"})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"2024-03-01": 2, "2024-03-02": 1, "2024-03-03": 1}, seen)
	require.Len(t, records, 3)
	assert.Equal(t, "Elastic Compute Service", records[0].Service)
	assert.Equal(t, "oss", records[1].Service)
	assert.Equal(t, "CNY", records[1].Currency)
	assert.Equal(t, "2.5", records[1].Amount.String())
	assert.Equal(t, "2024-03-03", records[2].Date)
	assert.Equal(t, "-1", records[2].Amount.String())
}

func TestFetchCostRecordsAuthErrorAborts(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := bssServer(t, func(map[string]string) (int, string) {
		mu.Lock()
		calls++
		mu.Unlock()
		return http.StatusBadRequest, `{"Code": "InvalidAccessKeyId.NotFound", "Message": "Specified access key is not found."}`
	})
	defer server.Close()

	_, err := newTestProvider(t, server, testAccount()).
		FetchCostRecords(context.Background(), billing.DateRange{Start: "2024-03-01", End: "2024-03-05"})

	var authErr *billing.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "InvalidAccessKeyId.NotFound", authErr.Code)
	assert.Equal(t, 1, calls)
}

func TestFetchCostRecordsCancelled(t *testing.T) {
	server := bssServer(t, func(map[string]string) (int, string) {
		return http.StatusOK, `{"Code": "Success", "Data": {"Items": []}}`
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProvider(t, server, testAccount()).
		FetchCostRecords(ctx, billing.DateRange{Start: "2024-03-01", End: "2024-03-05"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchCostRecordsInvalidRange(t *testing.T) {
	server := bssServer(t, func(map[string]string) (int, string) {
		t.Error("no request expected")
		return http.StatusOK, `{}`
	})
	defer server.Close()

	_, err := newTestProvider(t, server, testAccount()).
		FetchCostRecords(context.Background(), billing.DateRange{Start: "2024-03-05", End: "2024-03-01"})
	assert.True(t, billing.IsConfig(err))
}

func TestFetchDailyTrend(t *testing.T) {
	server := bssServer(t, func(params map[string]string) (int, string) {
		switch params["BillingDate"] {
		case "2024-03-13":
			return http.StatusOK, `{"Code": "Success", "Data": {"Items": [
				{"BillingDate": "2024-03-13", "ProductCode": "ecs", "PretaxAmount": 5},
				{"BillingDate": "2024-03-13", "ProductCode": "oss", "PretaxAmount": 1.25}]}}`
		case "2024-03-14":
			return http.StatusInternalServerError, `busy`
		default:
			return http.StatusOK, `{"Code": "Success", "Data": {"Items": []}}`
		}
	})
	defer server.Close()

	trend, err := newTestProvider(t, server, testAccount()).
		FetchDailyTrend(context.Background(), billing.DateRange{Start: "2024-03-13", End: "2024-03-15"})
	require.NoError(t, err)

	assert.Equal(t, "cn-main", trend.AccountID)
	assert.Equal(t, "CNY", trend.Currency)
	require.Len(t, trend.DailyCosts, 1)
	assert.Equal(t, "2024-03-13", trend.DailyCosts[0].Date)
	assert.Equal(t, "6.25", trend.DailyCosts[0].Amount.String())
	assert.Equal(t, []string{"2024-03-14"}, trend.SkippedDates)
}

func TestFetchDailyTrendRefetchesFailedDay(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	server := bssServer(t, func(params map[string]string) (int, string) {
		date := params["BillingDate"]
		mu.Lock()
		calls[date]++
		n := calls[date]
		mu.Unlock()

		if date == "2024-03-14" {
			if n == 1 {
				return http.StatusInternalServerError, `busy`
			}
			return http.StatusOK, `{"Code": "Success", "Data": {"Items": [
				{"BillingDate": "2024-03-14", "ProductCode": "ecs", "PretaxAmount": 4}]}}`
		}
		return http.StatusOK, `{"Code": "Success", "Data": {"Items": []}}`
	})
	defer server.Close()

	clk := clock.NewFake(testNow)
	c := cache.New(cache.NewMemoryBackend(), cache.WithClock(clk))
	p := newTestProvider(t, server, testAccount())
	r := billing.DateRange{Start: "2024-03-13", End: "2024-03-15"}

	refresh := func() *billing.CostTrend {
		if cached, ok := c.GetTrend("cn-main", r); ok {
			return cached
		}
		trend, err := p.FetchDailyTrend(context.Background(), r)
		require.NoError(t, err)
		require.NoError(t, c.PutTrend(trend, r))
		return trend
	}

	first := refresh()
	assert.Empty(t, first.DailyCosts)
	assert.Equal(t, []string{"2024-03-14"}, first.SkippedDates)

	clk.Advance(time.Hour)
	second := refresh()
	require.Len(t, second.DailyCosts, 1)
	assert.Equal(t, "2024-03-14", second.DailyCosts[0].Date)
	assert.Equal(t, "4", second.DailyCosts[0].Amount.String())
	assert.Empty(t, second.SkippedDates)

	third := refresh()
	assert.Equal(t, "4", third.Total().String())

	assert.Equal(t, map[string]int{"2024-03-13": 2, "2024-03-14": 2, "2024-03-15": 2}, calls)
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		valid  bool
	}{
		{"valid", http.StatusOK, `{"Code": "Success", "Data": {"AvailableAmount": "1,000.00", "Currency": "CNY"}}`, true},
		{"bad signature", http.StatusBadRequest, `{"Code": "SignatureDoesNotMatch", "Message": "nope"}`, false},
		{"forbidden", http.StatusForbidden, `denied`, false},
		{"server error", http.StatusBadGateway, ``, false},
		{"not json", http.StatusOK, `<html>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := bssServer(t, func(params map[string]string) (int, string) {
				assert.Equal(t, "QueryAccountBalance", params["Action"])
				return tt.status, tt.body
			})
			defer server.Close()

			valid, err := newTestProvider(t, server, testAccount()).ValidateCredentials(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"auth code", http.StatusNotFound, `{"Code": "InvalidAccessKeyId.NotFound"}`, billing.IsAuth},
		{"401 without body", http.StatusUnauthorized, ``, billing.IsAuth},
		{"throttled status", http.StatusTooManyRequests, ``, billing.IsTransport},
		{"business error", http.StatusOK, `{"Code": "InvalidParameter", "Message": "BillingCycle"}`, func(err error) bool {
			var apiErr *billing.APIError
			return assert.ErrorAs(t, err, &apiErr) && apiErr.Code == "InvalidParameter"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := bssServer(t, func(map[string]string) (int, string) {
				return tt.status, tt.body
			})
			defer server.Close()

			_, err := newTestProvider(t, server, testAccount()).FetchCostSummary(context.Background())
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestNewRequiresKeys(t *testing.T) {
	account := testAccount()
	account.Credential.AccessKeyID = ""
	_, err := New(account)
	assert.True(t, billing.IsConfig(err))
}

func TestRegistered(t *testing.T) {
	provider, err := billing.DefaultRegistry.New(testAccount())
	require.NoError(t, err)
	assert.IsType(t, &Provider{}, provider)
}
