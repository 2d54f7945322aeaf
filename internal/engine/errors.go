package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind tags a fetch failure for retry classification and reporting.
type FailureKind string

// Failure taxonomy. Parse and sink failures are never retried; blocked means
// a captcha or hard-block signature and is surfaced for operator attention.
const (
	FailTimeout      FailureKind = "network-timeout"
	FailConnRefused  FailureKind = "connection-refused"
	FailDNS          FailureKind = "dns-failure"
	FailNetwork      FailureKind = "network"
	FailProxy        FailureKind = "proxy"
	FailHTTP4xx      FailureKind = "http-4xx"
	FailHTTP5xx      FailureKind = "http-5xx"
	FailRateLimited  FailureKind = "rate-limited"
	FailBlocked      FailureKind = "blocked"
	FailParse        FailureKind = "parse-failure"
	FailSink         FailureKind = "sink"
	FailCanceled     FailureKind = "canceled"
	FailMalformedURL FailureKind = "malformed-url"
)

// FetchError is the typed failure a Fetcher returns for transport-level
// problems.
type FetchError struct {
	Kind FailureKind
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the failure kind is transient.
func (e *FetchError) Retriable() bool {
	switch e.Kind {
	case FailTimeout, FailConnRefused, FailDNS, FailNetwork, FailProxy, FailHTTP5xx, FailRateLimited:
		return true
	}
	return false
}

// NewFetchError wraps err with a failure kind.
func NewFetchError(kind FailureKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// ClassifyError maps a raw transport error onto the failure taxonomy. Fetcher
// implementations use it so the retry policy never sees an untyped error.
func ClassifyError(err error, viaProxy bool) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, context.DeadlineExceeded) {
			return &FetchError{Kind: FailTimeout, Err: err}
		}
		return &FetchError{Kind: FailCanceled, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{Kind: FailDNS, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FailTimeout, Err: err}
	}
	if strings.Contains(err.Error(), "connection refused") {
		kind := FailConnRefused
		if viaProxy {
			kind = FailProxy
		}
		return &FetchError{Kind: kind, Err: err}
	}
	if viaProxy && strings.Contains(strings.ToLower(err.Error()), "proxy") {
		return &FetchError{Kind: FailProxy, Err: err}
	}
	return &FetchError{Kind: FailNetwork, Err: err}
}
