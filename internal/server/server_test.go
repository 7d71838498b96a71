package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/match"
	"github.com/spigell/jobmatch/internal/metrics"
	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
)

type fakeAnalyzer struct {
	err      error
	lastUser string
	lastApp  string
}

func (f *fakeAnalyzer) AnalyzeJobMatch(_ context.Context, userID, applicationID string) (*scoring.MatchAnalysis, error) {
	f.lastUser = userID
	f.lastApp = applicationID
	if f.err != nil {
		return nil, f.err
	}
	return &scoring.MatchAnalysis{ID: "a1", ApplicationID: applicationID, BaseScore: 84, AdjustedScore: 87, Adjustment: 3}, nil
}

func do(t *testing.T, s *Server, method, path, user string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func TestAnalyzeReturnsAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := New(analyzer, quota.New(), nil, nil)

	resp, body := do(t, s, http.MethodPost, "/api/applications/app-9/analyze", "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analysis scoring.MatchAnalysis
	require.NoError(t, json.Unmarshal(body, &analysis))
	assert.Equal(t, 87, analysis.AdjustedScore)
	assert.Equal(t, "user-1", analyzer.lastUser)
	assert.Equal(t, "app-9", analyzer.lastApp)
}

func TestAnalyzeRequiresUser(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := New(analyzer, quota.New(), nil, nil)

	resp, _ := do(t, s, http.MethodPost, "/api/applications/app-9/analyze", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, analyzer.lastApp)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &match.ValidationError{Field: "skills", Message: "Add skills."}, http.StatusBadRequest, "validation"},
		{"not found", match.ErrNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", &quota.RateLimitError{Operation: quota.OperationJobAnalysis, Limit: 10, RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "rate_limited"},
		{"provider quota", &ai.QuotaExceededError{Provider: "gemini"}, http.StatusTooManyRequests, "provider_quota_exceeded"},
		{"upstream", &ai.APIError{Provider: "gemini", Kind: ai.KindTimeout}, http.StatusBadGateway, "upstream_error"},
		{"persistence", &match.PersistenceError{Op: "save analysis", Err: errors.New("boom")}, http.StatusInternalServerError, "persistence_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(&fakeAnalyzer{err: tc.err}, quota.New(), nil, nil)

			resp, body := do(t, s, http.MethodPost, "/api/applications/app-1/analyze", "user-1")
			assert.Equal(t, tc.status, resp.StatusCode)

			var payload struct {
				Error match.Description `json:"error"`
			}
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, tc.code, payload.Error.Code)
			assert.NotEmpty(t, payload.Error.Reason)
			assert.NotContains(t, payload.Error.Reason, "boom", "internal details stay out of reasons")

			if tc.code == "rate_limited" {
				assert.Equal(t, "90", resp.Header.Get("Retry-After"))
			} else {
				assert.Empty(t, resp.Header.Get("Retry-After"))
			}
		})
	}
}

func TestQuotaStatus(t *testing.T) {
	tracker := quota.New()
	_, err := tracker.TryAdmit("user-1", quota.OperationJobAnalysis)
	require.NoError(t, err)

	s := New(&fakeAnalyzer{}, tracker, nil, nil)

	resp, body := do(t, s, http.MethodGet, "/api/quota", "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Quotas []quota.Status `json:"quotas"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Quotas, 3)

	byOp := map[quota.Operation]quota.Status{}
	for _, st := range payload.Quotas {
		byOp[st.Operation] = st
	}
	assert.Equal(t, 1, byOp[quota.OperationJobAnalysis].Count)
	assert.Equal(t, 9, byOp[quota.OperationJobAnalysis].Remaining)
	assert.Equal(t, 50, byOp[quota.OperationSummarizeNotes].Remaining)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Outcome("ok")

	s := New(&fakeAnalyzer{}, quota.New(), reg, nil)

	resp, _ := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `jobmatch_analyses_total{outcome="ok"} 1`), string(body))
}

type blockingAnalyzer struct {
	started chan struct{}
	ctxErr  chan error
}

func (b *blockingAnalyzer) AnalyzeJobMatch(ctx context.Context, _, _ string) (*scoring.MatchAnalysis, error) {
	close(b.started)
	<-ctx.Done()
	b.ctxErr <- ctx.Err()
	return nil, &ai.APIError{Provider: "fake", Kind: ai.KindCanceled, Err: ctx.Err()}
}

func TestShutdownCancelsInFlightAnalyses(t *testing.T) {
	analyzer := &blockingAnalyzer{started: make(chan struct{}), ctxErr: make(chan error, 1)}
	s := New(analyzer, quota.New(), nil, nil)

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/applications/app-1/analyze", nil)
		req.Header.Set(HeaderUserID, "user-1")
		resp, err := s.App().Test(req, -1)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-analyzer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not start")
	}

	s.stop()

	select {
	case status := <-done:
		assert.Equal(t, http.StatusBadGateway, status)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight analysis was not cancelled")
	}
	assert.ErrorIs(t, <-analyzer.ctxErr, context.Canceled)
}
