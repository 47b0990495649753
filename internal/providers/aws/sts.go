package aws

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/httpclient"
	"cloudbridge/internal/signer"
)

const getCallerIdentityQuery = "Action=GetCallerIdentity&Version=2011-06-15"

// Identity is the caller identity behind a key pair
type Identity struct {
	Account string `xml:"Account"`
	Arn     string `xml:"Arn"`
	UserID  string `xml:"UserId"`
}

type stsError struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// stsResponse decodes both GetCallerIdentityResponse and ErrorResponse documents
type stsResponse struct {
	Result *Identity `xml:"GetCallerIdentityResult"`
	Error  *stsError `xml:"Error"`
}

// CallerIdentity calls STS GetCallerIdentity in the account's region
func (p *Provider) CallerIdentity(ctx context.Context) (*Identity, error) {
	signed := p.signer.Sign(signer.AWSRequest{
		Method:  http.MethodGet,
		Service: stsService,
		Region:  p.account.Credential.Region,
		Host:    p.stsEndpoint.Host,
		Path:    p.stsEndpoint.EscapedPath(),
		Query:   getCallerIdentityQuery,
	}, p.now())

	u := *p.stsEndpoint
	u.RawQuery = getCallerIdentityQuery
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build STS request: %w", err)
	}
	applyHeaders(req, signed.Headers)

	resp, err := httpclient.Do(ctx, p.client, req, billing.ProviderAWS, "GetCallerIdentity")
	if err != nil {
		return nil, err
	}

	if retryable(resp) {
		return nil, statusTransportError("GetCallerIdentity", resp)
	}

	var parsed stsResponse
	if err := xml.Unmarshal(resp.Body, &parsed); err != nil {
		if !resp.OK() {
			return nil, &billing.APIError{Provider: billing.ProviderAWS, StatusCode: resp.StatusCode, Message: httpclient.Snippet(resp.Body)}
		}
		return nil, &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCallerIdentity", Err: err}
	}

	if parsed.Error != nil && parsed.Error.Code != "" {
		if _, ok := authErrorCodes[parsed.Error.Code]; ok || resp.StatusCode == http.StatusForbidden {
			return nil, &billing.AuthError{Provider: billing.ProviderAWS, Code: parsed.Error.Code, Message: parsed.Error.Message}
		}
		return nil, &billing.APIError{Provider: billing.ProviderAWS, StatusCode: resp.StatusCode, Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if !resp.OK() {
		return nil, &billing.APIError{Provider: billing.ProviderAWS, StatusCode: resp.StatusCode, Message: httpclient.Snippet(resp.Body)}
	}
	if parsed.Result == nil {
		return nil, &billing.ParseError{Provider: billing.ProviderAWS, Op: "GetCallerIdentity", Err: fmt.Errorf("missing GetCallerIdentityResult")}
	}
	return parsed.Result, nil
}
