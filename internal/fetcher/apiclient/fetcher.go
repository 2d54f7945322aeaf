// Package apiclient implements the Fetcher for JSON/XML endpoints. It rides
// the static fetcher with API-appropriate headers; the difference between
// the two strategies is in extraction, not transport.
package apiclient

import (
	"context"
	"net/http"

	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/fetcher/static"
)

// Fetcher fetches API endpoints.
type Fetcher struct {
	inner *static.Fetcher
}

// New builds an API fetcher.
func New(cfg static.Config) *Fetcher {
	headers := http.Header{}
	for k, values := range cfg.ExtraHeaders {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	headers.Set("Accept", "application/json")
	cfg.ExtraHeaders = headers
	return &Fetcher{inner: static.New(cfg)}
}

// Fetch performs the request through the static transport.
func (f *Fetcher) Fetch(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
	resp, err := f.inner.Fetch(ctx, req)
	if err != nil {
		return engine.FetchResponse{}, err
	}
	resp.Strategy = engine.StrategyAPI
	return resp, nil
}
