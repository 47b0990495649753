package billing

import (
	"errors"
	"fmt"
)

// TransportError is a network failure or timeout talking to a provider
type TransportError struct {
	Provider ProviderType
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport error: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the provider rejected the signature or the credential
type AuthError struct {
	Provider ProviderType
	Code     string
	Message  string
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: credentials rejected: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: credentials rejected (%s): %s", e.Provider, e.Code, e.Message)
}

// APIError is a provider-side rejection that is neither transport nor auth related
type APIError struct {
	Provider   ProviderType
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// ParseError means a response did not have the expected shape
type ParseError struct {
	Provider ProviderType
	Op       string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %s: unexpected response: %v", e.Provider, e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedProviderError is returned for a provider tag with no registered constructor
type UnsupportedProviderError struct {
	Provider ProviderType
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// ConfigError is bad local input, surfaced before any network call
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsAuth reports whether err is, or wraps, an AuthError
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsTransport reports whether err is, or wraps, a TransportError
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsConfig reports whether err is, or wraps, a ConfigError
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsUnsupported reports whether err is, or wraps, an UnsupportedProviderError
func IsUnsupported(err error) bool {
	var target *UnsupportedProviderError
	return errors.As(err, &target)
}

// Describe turns err into a short message that tells wrong keys apart from network trouble
func Describe(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAuth(err):
		return "credentials rejected"
	case IsTransport(err):
		return "provider unreachable"
	case IsConfig(err):
		return "invalid configuration"
	case IsUnsupported(err):
		return "unsupported provider"
	default:
		return "request failed"
	}
}
