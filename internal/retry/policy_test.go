package retry

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

func TestClassifyStatusTable(t *testing.T) {
	p := New(3, time.Millisecond, time.Second, rand.New(rand.NewSource(1)))

	tests := []struct {
		name    string
		status  int
		body    string
		attempt int
		want    Disposition
		kind    engine.FailureKind
	}{
		{"200 succeeds", 200, "", 1, Succeed, ""},
		{"500 retries", 500, "", 1, Again, engine.FailHTTP5xx},
		{"503 retries", 503, "", 2, Again, engine.FailHTTP5xx},
		{"500 exhausted", 500, "", 4, Fail, engine.FailHTTP5xx},
		{"429 plain retries", 429, "slow down", 1, Again, engine.FailRateLimited},
		{"429 captcha blocks", 429, "<html>please solve this CAPTCHA</html>", 1, Block, engine.FailBlocked},
		{"403 plain fails", 403, "forbidden", 1, Fail, engine.FailHTTP4xx},
		{"403 captcha blocks", 403, "cf-chl-widget", 1, Block, engine.FailBlocked},
		{"403 cloudflare challenge blocks", 403, "challenge-platform/h/b", 1, Block, engine.FailBlocked},
		{"404 fails", 404, "", 1, Fail, engine.FailHTTP4xx},
		{"410 fails", 410, "", 1, Fail, engine.FailHTTP4xx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := engine.FetchResponse{StatusCode: tt.status, Body: []byte(tt.body)}
			d := p.Classify(resp, nil, tt.attempt)
			require.Equal(t, tt.want, d.Disposition)
			if tt.kind != "" {
				require.Equal(t, tt.kind, d.Kind)
			}
			if d.Disposition == Again {
				require.Greater(t, d.RetryAfter, time.Duration(0))
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	p := New(2, time.Millisecond, time.Second, rand.New(rand.NewSource(1)))

	timeout := engine.NewFetchError(engine.FailTimeout, errors.New("deadline"))
	d := p.Classify(engine.FetchResponse{}, timeout, 1)
	require.Equal(t, Again, d.Disposition)
	require.Equal(t, engine.FailTimeout, d.Kind)

	canceled := engine.NewFetchError(engine.FailCanceled, errors.New("canceled"))
	d = p.Classify(engine.FetchResponse{}, canceled, 1)
	require.Equal(t, Fail, d.Disposition)

	// Untyped errors are classified before deciding.
	d = p.Classify(engine.FetchResponse{}, errors.New("connection refused"), 1)
	require.Equal(t, Again, d.Disposition)
	require.Equal(t, engine.FailConnRefused, d.Kind)
}

// A permanently failing item gets exactly maxRetries+1 attempts: the initial
// fetch plus maxRetries retries.
func TestTotalAttemptBound(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3, 5} {
		p := New(maxRetries, time.Millisecond, time.Second, rand.New(rand.NewSource(9)))
		resp := engine.FetchResponse{StatusCode: 500}

		attempts := 0
		for attempt := 1; ; attempt++ {
			attempts++
			d := p.Classify(resp, nil, attempt)
			if d.Terminal() {
				require.Equal(t, Fail, d.Disposition)
				break
			}
		}
		require.Equal(t, maxRetries+1, attempts, "maxRetries=%d", maxRetries)
	}
}

func TestBackoffMonotonicUnderJitter(t *testing.T) {
	p := New(10, 100*time.Millisecond, time.Hour, rand.New(rand.NewSource(3)))
	for i := 0; i < 50; i++ {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 8; attempt++ {
			d := p.Backoff(attempt)
			require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
			prev = d
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	p := New(5, base, time.Hour, rand.New(rand.NewSource(4)))
	for i := 0; i < 200; i++ {
		d := p.Backoff(1)
		require.GreaterOrEqual(t, d, time.Duration(0.8*float64(base)))
		require.LessOrEqual(t, d, time.Duration(1.2*float64(base)))
	}
}

func TestBackoffCap(t *testing.T) {
	p := New(10, time.Second, 3*time.Second, rand.New(rand.NewSource(5)))
	for attempt := 3; attempt <= 10; attempt++ {
		require.Equal(t, 3*time.Second, p.Backoff(attempt))
	}
}

func TestNewDefaults(t *testing.T) {
	p := New(-1, 0, 0, nil)
	require.Equal(t, 0, p.MaxRetries())
	d := p.Backoff(1)
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 5*time.Second)
}
