package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/ratelimit"
)

func TestHealthz(t *testing.T) {
	report := engine.NewRunReport("run-1", time.Now())
	s := New(0, "run-1", report, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	report := engine.NewRunReport("run-1", time.Now())
	report.AddSuccess()
	report.AddBlocked("https://guarded.example/x")

	adaptive, err := ratelimit.NewAdaptive(ratelimit.AdaptiveConfig{InitialRPS: 2, MinRPS: 1, MaxRPS: 4})
	require.NoError(t, err)

	s := New(0, "run-1", report, adaptive, zap.NewNop())
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body reportBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body.RunID)
	require.Equal(t, 1, body.Report.Succeeded)
	require.Equal(t, []string{"https://guarded.example/x"}, body.Report.Blocked)
	require.NotNil(t, body.Adaptive)
	require.Equal(t, 2.0, body.Adaptive.CurrentRPS)
}

func TestReportWithoutAdaptive(t *testing.T) {
	report := engine.NewRunReport("run-2", time.Now())
	s := New(0, "run-2", report, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body reportBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body.Adaptive)
}

func TestMetricsEndpoint(t *testing.T) {
	report := engine.NewRunReport("run-3", time.Now())
	s := New(0, "run-3", report, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
