package signer

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	sigV4Algorithm  = "AWS4-HMAC-SHA256"
	sigV4Terminator = "aws4_request"

	// AmzDateFormat is the x-amz-date timestamp layout
	AmzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"
)

// AWSRequest is the part of an HTTP request covered by a SigV4 signature
type AWSRequest struct {
	Method  string
	Service string
	// Region is the signing region. It may differ from the account's home region.
	Region  string
	Host    string
	Path    string
	Query   string
	Headers map[string]string
	Body    []byte
}

// SignedRequest carries the headers to send along with intermediate signing values
type SignedRequest struct {
	Headers          map[string]string
	Authorization    string
	SignedHeaders    string
	Signature        string
	CanonicalRequest string
	StringToSign     string
}

// SigV4 signs requests with the AWS Signature Version 4 scheme
type SigV4 struct {
	accessKeyID     string
	secretAccessKey string
}

// NewSigV4 creates a signer for the given key pair
func NewSigV4(accessKeyID, secretAccessKey string) *SigV4 {
	return &SigV4{accessKeyID: accessKeyID, secretAccessKey: secretAccessKey}
}

// Sign produces the Authorization header for req at time t.
// host, x-amz-date and x-amz-content-sha256 are always signed.
func (s *SigV4) Sign(req AWSRequest, t time.Time) SignedRequest {
	t = t.UTC()
	amzDate := t.Format(AmzDateFormat)
	date := t.Format(shortDateFormat)
	payloadHash := hashHex(req.Body)

	headers := make(map[string]string, len(req.Headers)+3)
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = strings.Join(strings.Fields(v), " ")
	}
	headers["host"] = req.Host
	headers["x-amz-date"] = amzDate
	headers["x-amz-content-sha256"] = payloadHash

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	path := req.Path
	if path == "" {
		path = "/"
	}

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(req.Method),
		path,
		canonicalQuery(req.Query),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{date, req.Region, req.Service, sigV4Terminator}, "/")
	stringToSign := strings.Join([]string{
		sigV4Algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := s.signingKey(date, req.Region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, s.accessKeyID, scope, signedHeaders, signature)
	headers["authorization"] = authorization

	return SignedRequest{
		Headers:          headers,
		Authorization:    authorization,
		SignedHeaders:    signedHeaders,
		Signature:        signature,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
	}
}

func (s *SigV4) signingKey(date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretAccessKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, sigV4Terminator)
}

// canonicalQuery re-encodes the query with RFC 3986 escaping, sorted by key then value
func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			pairs = append(pairs, PercentEncode(k)+"="+PercentEncode(v))
		}
	}
	return strings.Join(pairs, "&")
}
