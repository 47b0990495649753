package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/costexplorer"
	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/signer"
)

const (
	getCostAndUsageTarget = "AWSInsightsIndexService.GetCostAndUsage"
	amzJSONContentType    = "application/x-amz-json-1.1"
	unblendedCost         = "UnblendedCost"
	granularityDaily      = "DAILY"
	granularityMonthly    = "MONTHLY"
	// maxPages stops a misbehaving endpoint from paging forever
	maxPages = 50
)

type timePeriod struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type groupDefinition struct {
	Type string `json:"Type"`
	Key  string `json:"Key"`
}

type getCostAndUsageRequest struct {
	TimePeriod    timePeriod        `json:"TimePeriod"`
	Granularity   string            `json:"Granularity"`
	Metrics       []string          `json:"Metrics"`
	GroupBy       []groupDefinition `json:"GroupBy,omitempty"`
	NextPageToken string            `json:"NextPageToken,omitempty"`
}

// awsErrorBody is the JSON error shape of AWS JSON-protocol services
type awsErrorBody struct {
	Type         string `json:"__type"`
	Message      string `json:"message"`
	MessageUpper string `json:"Message"`
}

var authErrorCodes = map[string]struct{}{
	"UnrecognizedClientException": {},
	"InvalidSignatureException":   {},
	"AccessDeniedException":       {},
	"ExpiredTokenException":       {},
	"IncompleteSignature":         {},
	"MissingAuthenticationToken":  {},
	"InvalidClientTokenId":        {},
	"SignatureDoesNotMatch":       {},
}

// getCostAndUsage runs one Cost Explorer query over r, following NextPageToken.
// r.End is inclusive here; the API's end bound is exclusive.
func (p *Provider) getCostAndUsage(ctx context.Context, r billing.DateRange, granularity string, byService bool) (*costexplorer.GetCostAndUsageOutput, error) {
	req := getCostAndUsageRequest{
		TimePeriod:  timePeriod{Start: r.Start, End: r.ExclusiveEnd()},
		Granularity: granularity,
		Metrics:     []string{unblendedCost},
	}
	if byService {
		req.GroupBy = []groupDefinition{{Type: "DIMENSION", Key: "SERVICE"}}
	}

	merged := &costexplorer.GetCostAndUsageOutput{}
	for page := 0; page < maxPages; page++ {
		out, err := p.costAndUsagePage(ctx, req)
		if err != nil {
			return nil, err
		}
		merged.ResultsByTime = append(merged.ResultsByTime, out.ResultsByTime...)

		token := sdkaws.StringValue(out.NextPageToken)
		if token == "" {
			return merged, nil
		}
		req.NextPageToken = token
	}
	return nil, &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCostAndUsage", Err: fmt.Errorf("more than %d result pages", maxPages)}
}

func (p *Provider) costAndUsagePage(ctx context.Context, body getCostAndUsageRequest) (*costexplorer.GetCostAndUsageOutput, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Cost Explorer request: %w", err)
	}

	signed := p.signer.Sign(signer.AWSRequest{
		Method:  http.MethodPost,
		Service: costExplorerService,
		Region:  costExplorerRegion,
		Host:    p.ceEndpoint.Host,
		Path:    p.ceEndpoint.EscapedPath(),
		Headers: map[string]string{
			"content-type": amzJSONContentType,
			"x-amz-target": getCostAndUsageTarget,
		},
		Body: payload,
	}, p.now())

	req, err := http.NewRequest(http.MethodPost, p.ceEndpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build Cost Explorer request: %w", err)
	}
	applyHeaders(req, signed.Headers)

	resp, err := httpclient.Do(ctx, p.client, req, billing.ProviderAWS, "GetCostAndUsage")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, jsonAPIError(resp)
	}

	var out costexplorer.GetCostAndUsageOutput
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCostAndUsage", Err: err}
	}
	return &out, nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		if k == "host" {
			continue
		}
		req.Header.Set(k, v)
	}
}

// retryable reports statuses that mean the service, not the request, failed
func retryable(resp *httpclient.Response) bool {
	return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
}

func statusTransportError(op string, resp *httpclient.Response) error {
	return &billing.TransportError{
		Provider: billing.ProviderAWS,
		Op:       op,
		Err:      fmt.Errorf("status %d: %s", resp.StatusCode, httpclient.Snippet(resp.Body)),
	}
}

func jsonAPIError(resp *httpclient.Response) error {
	if retryable(resp) {
		return statusTransportError("GetCostAndUsage", resp)
	}
	var body awsErrorBody
	_ = json.Unmarshal(resp.Body, &body)

	code := body.Type
	if i := strings.LastIndex(code, "#"); i >= 0 {
		code = code[i+1:]
	}
	msg := body.Message
	if msg == "" {
		msg = body.MessageUpper
	}
	if msg == "" {
		msg = httpclient.Snippet(resp.Body)
	}

	if _, ok := authErrorCodes[code]; ok || resp.StatusCode == http.StatusUnauthorized {
		return &billing.AuthError{Provider: billing.ProviderAWS, Code: code, Message: msg}
	}
	if resp.StatusCode == http.StatusForbidden && code == "" {
		return &billing.AuthError{Provider: billing.ProviderAWS, Code: "Forbidden", Message: msg}
	}
	return &billing.APIError{Provider: billing.ProviderAWS, StatusCode: resp.StatusCode, Code: code, Message: msg}
}

func parseAmount(mv *costexplorer.MetricValue) (decimal.Decimal, string, error) {
	if mv == nil {
		return decimal.Zero, "", nil
	}
	raw := sdkaws.StringValue(mv.Amount)
	if raw == "" {
		return decimal.Zero, sdkaws.StringValue(mv.Unit), nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, sdkaws.StringValue(mv.Unit), nil
}

// groupedRecords flattens service-grouped results into records.
// Zero amounts carry no information and are skipped; credits are kept.
func (p *Provider) groupedRecords(out *costexplorer.GetCostAndUsageOutput) ([]billing.CostRecord, error) {
	var records []billing.CostRecord
	for _, result := range out.ResultsByTime {
		if result == nil || result.TimePeriod == nil {
			continue
		}
		date := sdkaws.StringValue(result.TimePeriod.Start)

		for _, group := range result.Groups {
			if group == nil {
				continue
			}
			service := "Unknown"
			if len(group.Keys) > 0 && sdkaws.StringValue(group.Keys[0]) != "" {
				service = sdkaws.StringValue(group.Keys[0])
			}

			amount, unit, err := parseAmount(group.Metrics[unblendedCost])
			if err != nil {
				return nil, &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCostAndUsage", Err: err}
			}
			amount = p.policy.Apply(amount)
			if amount.IsZero() {
				continue
			}
			if unit == "" {
				unit = defaultCurrency
			}

			records = append(records, billing.CostRecord{
				AccountID: p.account.ID,
				Date:      date,
				Service:   service,
				Amount:    amount,
				Currency:  unit,
			})
		}
	}
	return records, nil
}

// dailyTotals reads ungrouped totals. Every day the API returns is kept.
func (p *Provider) dailyTotals(out *costexplorer.GetCostAndUsageOutput, r billing.DateRange) ([]billing.DailyCost, string, error) {
	currency := defaultCurrency
	days := []billing.DailyCost{}
	for _, result := range out.ResultsByTime {
		if result == nil || result.TimePeriod == nil {
			continue
		}
		date := sdkaws.StringValue(result.TimePeriod.Start)
		if !r.Contains(date) {
			continue
		}

		amount, unit, err := parseAmount(result.Total[unblendedCost])
		if err != nil {
			return nil, "", &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCostAndUsage", Err: err}
		}
		if unit != "" {
			currency = unit
		}
		days = append(days, billing.DailyCost{Date: date, Amount: p.policy.Apply(amount)})
	}
	return days, currency, nil
}
