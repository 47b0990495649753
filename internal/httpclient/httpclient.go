// Package httpclient is the small shared layer provider adapters use to talk HTTP.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/version"
)

// DefaultTimeout bounds a single provider request
const DefaultTimeout = 30 * time.Second

// maxBodyBytes guards against unbounded responses
const maxBodyBytes = 16 << 20

// New returns an http.Client with the default timeout
func New() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do sends req and reads the whole body. Network failures and timeouts become
// billing.TransportError tagged with provider and op; HTTP error statuses are
// returned as a normal Response for the caller to interpret.
func Do(ctx context.Context, client *http.Client, req *http.Request, provider billing.ProviderType, op string) (*Response, error) {
	if client == nil {
		client = New()
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "cloudbridge/"+version.ShortString())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &billing.TransportError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &billing.TransportError{Provider: provider, Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Snippet trims a response body for inclusion in error messages
func Snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
