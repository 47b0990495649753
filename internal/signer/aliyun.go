package signer

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

const (
	aliyunSignatureMethod  = "HMAC-SHA1"
	aliyunSignatureVersion = "1.0"
	aliyunTimestampFormat  = "2006-01-02T15:04:05Z"

	// AliyunSignatureParam is the query parameter carrying the signature
	AliyunSignatureParam = "Signature"
)

// Aliyun signs RPC-style requests with Signature Version 1.0
type Aliyun struct {
	accessKeyID     string
	accessKeySecret string
}

// NewAliyun creates a signer for the given key pair
func NewAliyun(accessKeyID, accessKeySecret string) *Aliyun {
	return &Aliyun{accessKeyID: accessKeyID, accessKeySecret: accessKeySecret}
}

// CommonParams returns the parameters every signed call carries
func (a *Aliyun) CommonParams(action, version string, t time.Time, nonce string) map[string]string {
	return map[string]string{
		"Format":           "JSON",
		"Version":          version,
		"AccessKeyId":      a.accessKeyID,
		"SignatureMethod":  aliyunSignatureMethod,
		"Timestamp":        t.UTC().Format(aliyunTimestampFormat),
		"SignatureVersion": aliyunSignatureVersion,
		"SignatureNonce":   nonce,
		"Action":           action,
	}
}

// NewNonce returns a random SignatureNonce
func NewNonce() string {
	return uuid.NewString()
}

// StringToSign builds GET&%2F&<encoded canonical query>, ignoring any existing Signature
func (a *Aliyun) StringToSign(params map[string]string) string {
	unsigned := make(map[string]string, len(params))
	for k, v := range params {
		if k == AliyunSignatureParam {
			continue
		}
		unsigned[k] = v
	}
	return "GET&" + PercentEncode("/") + "&" + PercentEncode(EncodeQuery(unsigned))
}

// Signature is Base64(HMAC-SHA1(secret+"&", StringToSign(params)))
func (a *Aliyun) Signature(params map[string]string) string {
	mac := hmacSHA1([]byte(a.accessKeySecret+"&"), a.StringToSign(params))
	return base64.StdEncoding.EncodeToString(mac)
}

// Sign returns a copy of params with the Signature field added
func (a *Aliyun) Sign(params map[string]string) map[string]string {
	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed[AliyunSignatureParam] = a.Signature(params)
	return signed
}
