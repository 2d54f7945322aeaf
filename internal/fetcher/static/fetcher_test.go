package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), engine.FetchRequest{
		URL:      srv.URL + "/page",
		Strategy: engine.StrategyStatic,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Contains(t, resp.Headers.Get("Content-Type"), "text/html")
	require.Equal(t, engine.StrategyStatic, resp.Strategy)
	require.Greater(t, resp.Elapsed, time.Duration(0))
}

func TestFetchAppliesIdentityUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), engine.FetchRequest{
		URL:      srv.URL,
		Identity: engine.Identity{UserAgent: "test-agent/1.0"},
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "test-agent/1.0", gotUA)
}

func TestFetchAppliesExtraHeaders(t *testing.T) {
	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	f := New(Config{ExtraHeaders: http.Header{"Accept": []string{"application/json"}}})
	_, err := f.Fetch(context.Background(), engine.FetchRequest{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "application/json", gotAccept)
}

// HTTP error statuses are responses for the retry policy, not fetch errors.
func TestFetchErrorStatusIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance")) //nolint:errcheck
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), engine.FetchRequest{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 503, resp.StatusCode)
	require.Contains(t, string(resp.Body), "maintenance")
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), engine.FetchRequest{URL: target, Timeout: 2 * time.Second})
	require.Error(t, err)

	var fe *engine.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, engine.FailConnRefused, fe.Kind)
	require.True(t, fe.Retriable())
}

func TestFetchBadProxyConfig(t *testing.T) {
	f := New(Config{})
	_, err := f.Fetch(context.Background(), engine.FetchRequest{
		URL:      "http://example.com",
		Identity: engine.Identity{Proxy: "http://bad proxy"},
		Timeout:  time.Second,
	})
	var fe *engine.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, engine.FailProxy, fe.Kind)
}

func TestFetchContextCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	f := New(Config{})
	_, err := f.Fetch(ctx, engine.FetchRequest{URL: srv.URL, Timeout: 10 * time.Second})
	require.Error(t, err)
	var fe *engine.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, engine.FailCanceled, fe.Kind)
}
