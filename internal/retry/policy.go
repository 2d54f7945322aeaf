// Package retry classifies fetch outcomes and computes jittered exponential
// backoff for the retriable ones.
package retry

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Disposition says what happens to a work item after an attempt.
type Disposition int

// Terminal means no further retry will occur.
const (
	Succeed Disposition = iota
	Again
	Fail
	Block
)

// Decision is the outcome of classifying one fetch attempt.
type Decision struct {
	Disposition Disposition
	RetryAfter  time.Duration
	Kind        engine.FailureKind
	Err         error
}

// Terminal reports whether the item is done, one way or the other.
func (d Decision) Terminal() bool {
	return d.Disposition != Again
}

// Lowercased substrings that mark a captcha or hard-block interstitial on a
// 429/403 response.
var captchaMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("recaptcha"),
	[]byte("cf-chl"),
	[]byte("challenge-platform"),
	[]byte("are you a robot"),
}

// Policy implements the retry contract: classify, then backoff with
// base * 2^(attempt-1) * jitter(0.8..1.2), capped at maxDelay.
type Policy struct {
	maxRetries int
	base       time.Duration
	maxDelay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Policy. rng may be nil; passing a seeded source makes jitter
// deterministic in tests.
func New(maxRetries int, base, maxDelay time.Duration, rng *rand.Rand) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{
		maxRetries: maxRetries,
		base:       base,
		maxDelay:   maxDelay,
		rng:        rng,
	}
}

// MaxRetries exposes the configured retry cap.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Classify maps one attempt's result onto a decision. attempt counts attempts
// made so far, starting at 1 for the initial fetch; a permanently failing
// item therefore gets exactly maxRetries+1 attempts.
func (p *Policy) Classify(resp engine.FetchResponse, fetchErr error, attempt int) Decision {
	if fetchErr != nil {
		return p.classifyError(fetchErr, attempt)
	}

	status := resp.StatusCode
	switch {
	case status == 429:
		if hasCaptchaSignature(resp.Body) {
			return Decision{Disposition: Block, Kind: engine.FailBlocked}
		}
		return p.retryOrFail(engine.FailRateLimited, nil, attempt)
	case status == 403:
		if hasCaptchaSignature(resp.Body) {
			return Decision{Disposition: Block, Kind: engine.FailBlocked}
		}
		return Decision{Disposition: Fail, Kind: engine.FailHTTP4xx}
	case status >= 500:
		return p.retryOrFail(engine.FailHTTP5xx, nil, attempt)
	case status >= 400:
		return Decision{Disposition: Fail, Kind: engine.FailHTTP4xx}
	case status == 0:
		return Decision{Disposition: Fail, Kind: engine.FailNetwork}
	default:
		return Decision{Disposition: Succeed}
	}
}

// Backoff returns the delay before retry number attempt (1-based). For every
// jitter draw the delay is non-decreasing in attempt up to the cap.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.base) * math.Pow(2, float64(attempt-1))
	delay *= p.jitter()
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

func (p *Policy) classifyError(fetchErr error, attempt int) Decision {
	var fe *engine.FetchError
	if !errors.As(fetchErr, &fe) {
		fe = engine.ClassifyError(fetchErr, false)
	}
	if fe.Kind == engine.FailCanceled {
		return Decision{Disposition: Fail, Kind: fe.Kind, Err: fetchErr}
	}
	if !fe.Retriable() {
		return Decision{Disposition: Fail, Kind: fe.Kind, Err: fetchErr}
	}
	return p.retryOrFail(fe.Kind, fetchErr, attempt)
}

func (p *Policy) retryOrFail(kind engine.FailureKind, err error, attempt int) Decision {
	if attempt > p.maxRetries {
		return Decision{Disposition: Fail, Kind: kind, Err: err}
	}
	return Decision{
		Disposition: Again,
		RetryAfter:  p.Backoff(attempt),
		Kind:        kind,
		Err:         err,
	}
}

func (p *Policy) jitter() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 0.8 + 0.4*p.rng.Float64()
}

func hasCaptchaSignature(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
