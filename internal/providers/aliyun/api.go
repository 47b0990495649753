package aliyun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/signer"
)

const (
	apiVersion      = "2017-12-14"
	successCode     = "Success"
	defaultCurrency = "CNY"
	pageSize        = "300"
	// maxPages bounds NextToken paging for a single billing day
	maxPages = 100
)

var authErrorCodes = map[string]struct{}{
	"InvalidAccessKeyId":           {},
	"InvalidAccessKeyId.NotFound":  {},
	"InvalidAccessKeyId.Inactive":  {},
	"SignatureDoesNotMatch":        {},
	"IncompleteSignature":          {},
	"Forbidden.RAM":                {},
	"Forbidden.AccessKeyDisabled":  {},
	"NoPermission":                 {},
	"InvalidSecurityToken.Expired": {},
}

// envelope carries the fields every BSS response has
type envelope struct {
	RequestID string `json:"RequestId"`
	Success   *bool  `json:"Success"`
	Code      string `json:"Code"`
	Message   string `json:"Message"`
}

type billOverviewItem struct {
	ProductCode  string          `json:"ProductCode"`
	ProductName  string          `json:"ProductName"`
	PretaxAmount decimal.Decimal `json:"PretaxAmount"`
	Currency     string          `json:"Currency"`
}

type billOverviewResponse struct {
	envelope
	Data struct {
		BillingCycle string `json:"BillingCycle"`
		Items        struct {
			Item []billOverviewItem `json:"Item"`
		} `json:"Items"`
	} `json:"Data"`
}

type instanceBillItem struct {
	BillingDate  string          `json:"BillingDate"`
	ProductCode  string          `json:"ProductCode"`
	ProductName  string          `json:"ProductName"`
	InstanceID   string          `json:"InstanceID"`
	PretaxAmount decimal.Decimal `json:"PretaxAmount"`
	Currency     string          `json:"Currency"`
}

type instanceBillResponse struct {
	envelope
	Data struct {
		BillingCycle string             `json:"BillingCycle"`
		NextToken    string             `json:"NextToken"`
		TotalCount   int                `json:"TotalCount"`
		Items        []instanceBillItem `json:"Items"`
	} `json:"Data"`
}

type accountBalanceResponse struct {
	envelope
	Data struct {
		AvailableAmount string `json:"AvailableAmount"`
		Currency        string `json:"Currency"`
	} `json:"Data"`
}

// call signs and sends one RPC-style GET and decodes the JSON body into out
func (p *Provider) call(ctx context.Context, action string, extra map[string]string, out interface{}) error {
	params := p.signer.CommonParams(action, apiVersion, p.clock.Now(), p.nonce())
	for k, v := range extra {
		params[k] = v
	}
	signed := p.signer.Sign(params)

	u := *p.endpoint
	u.RawQuery = signer.EncodeQuery(signed)
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", action, err)
	}

	resp, err := httpclient.Do(ctx, p.client, req, billing.ProviderAliyun, action)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body, &env)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return &billing.TransportError{
			Provider: billing.ProviderAliyun,
			Op:       action,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, httpclient.Snippet(resp.Body)),
		}
	case decodeErr == nil && env.Code != "" && env.Code != successCode:
		return businessError(resp.StatusCode, env)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &billing.AuthError{Provider: billing.ProviderAliyun, Code: http.StatusText(resp.StatusCode), Message: httpclient.Snippet(resp.Body)}
	case !resp.OK():
		return &billing.APIError{Provider: billing.ProviderAliyun, StatusCode: resp.StatusCode, Message: httpclient.Snippet(resp.Body)}
	case decodeErr != nil:
		return &billing.ParseError{Provider: billing.ProviderAliyun, Op: action, Err: decodeErr}
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &billing.ParseError{Provider: billing.ProviderAliyun, Op: action, Err: err}
	}
	return nil
}

func businessError(status int, env envelope) error {
	if _, ok := authErrorCodes[env.Code]; ok {
		return &billing.AuthError{Provider: billing.ProviderAliyun, Code: env.Code, Message: env.Message}
	}
	return &billing.APIError{Provider: billing.ProviderAliyun, StatusCode: status, Code: env.Code, Message: env.Message}
}

func (p *Provider) queryAccountBalance(ctx context.Context) (*accountBalanceResponse, error) {
	var out accountBalanceResponse
	if err := p.call(ctx, "QueryAccountBalance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) queryBillOverview(ctx context.Context, cycle string) (*billOverviewResponse, error) {
	var out billOverviewResponse
	if err := p.call(ctx, "QueryBillOverview", map[string]string{"BillingCycle": cycle}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// describeDay returns every instance bill item of one day, following NextToken
func (p *Provider) describeDay(ctx context.Context, date string) ([]instanceBillItem, error) {
	params := map[string]string{
		"BillingCycle": date[:7],
		"BillingDate":  date,
		"Granularity":  "DAILY",
		"MaxResults":   pageSize,
	}

	var items []instanceBillItem
	for page := 0; page < maxPages; page++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var out instanceBillResponse
		if err := p.call(ctx, "DescribeInstanceBill", params, &out); err != nil {
			p.limiter.OnFailure()
			return nil, err
		}
		p.limiter.OnSuccess()

		items = append(items, out.Data.Items...)
		if out.Data.NextToken == "" {
			return items, nil
		}
		params["NextToken"] = out.Data.NextToken
	}
	return nil, &billing.ParseError{Provider: billing.ProviderAliyun, Op: "DescribeInstanceBill", Err: fmt.Errorf("more than %d pages for %s", maxPages, date)}
}

func productName(name, code string) string {
	if name != "" {
		return name
	}
	if code != "" {
		return code
	}
	return "Unknown"
}

func currencyOr(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return c
}
