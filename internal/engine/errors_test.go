package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		viaProxy bool
		want     FailureKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, false, FailTimeout},
		{"canceled", context.Canceled, false, FailCanceled},
		{"wrapped deadline", fmt.Errorf("visit: %w", context.DeadlineExceeded), false, FailTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.example"}, false, FailDNS},
		{"conn refused direct", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), false, FailConnRefused},
		{"conn refused via proxy", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), true, FailProxy},
		{"proxy handshake", errors.New("proxyconnect tcp: EOF"), true, FailProxy},
		{"unknown", errors.New("something odd"), false, FailNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := ClassifyError(tt.err, tt.viaProxy)
			require.Equal(t, tt.want, fe.Kind)
			require.ErrorIs(t, fe, tt.err)
		})
	}
}

func TestClassifyErrorPassesThroughTyped(t *testing.T) {
	orig := NewFetchError(FailRateLimited, errors.New("429"))
	got := ClassifyError(fmt.Errorf("fetch: %w", orig), false)
	require.Same(t, orig, got)
}

func TestFetchErrorRetriable(t *testing.T) {
	retriable := []FailureKind{FailTimeout, FailConnRefused, FailDNS, FailNetwork, FailProxy, FailHTTP5xx, FailRateLimited}
	for _, kind := range retriable {
		require.True(t, (&FetchError{Kind: kind}).Retriable(), "kind %s", kind)
	}
	terminal := []FailureKind{FailHTTP4xx, FailBlocked, FailParse, FailSink, FailCanceled, FailMalformedURL}
	for _, kind := range terminal {
		require.False(t, (&FetchError{Kind: kind}).Retriable(), "kind %s", kind)
	}
}
