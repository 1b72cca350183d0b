package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
	"github.com/alanyoungcy/modelarena/internal/odds"
	"github.com/alanyoungcy/modelarena/internal/server/handler"
	"github.com/alanyoungcy/modelarena/internal/store/memory"
)

var t0 = time.Date(2025, 6, 18, 10, 30, 0, 0, time.UTC)

type fakeSettler struct {
	settled map[string]decimal.Decimal
	err     error
}

func (f *fakeSettler) RunCycle(context.Context) (domain.CycleReport, error) {
	if f.err != nil {
		return domain.CycleReport{}, f.err
	}
	return domain.CycleReport{
		Round:    domain.Round{ID: "r2"},
		Failures: []domain.UnitFailure{{Unit: "jamba", Kind: domain.FailureExternal, Error: "throttled"}},
	}, nil
}

func (f *fakeSettler) SettleRound(_ context.Context, id string, actual decimal.Decimal) (domain.SettlementReport, error) {
	if id == "missing" {
		return domain.SettlementReport{}, fmt.Errorf("service: resolve: %w", domain.ErrNotFound)
	}
	if f.settled == nil {
		f.settled = map[string]decimal.Decimal{}
	}
	f.settled[id] = actual
	return domain.SettlementReport{RoundID: id}, nil
}

func (f *fakeSettler) RetryPayouts(_ context.Context, id string) (domain.DispatchReport, error) {
	return domain.DispatchReport{RoundID: id, Paid: []string{"u1"}}, nil
}

type fakeReports struct{}

func (fakeReports) Load(_ context.Context, id string) (domain.SettlementReport, error) {
	if id != "r1" {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: load: %w", domain.ErrNotFound)
	}
	return domain.SettlementReport{RoundID: "r1", TargetTimestamp: t0}, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func (f *fakeLimiter) Wait(context.Context, string) error { return nil }

type testEnv struct {
	srv     *Server
	settler *fakeSettler
	metrics *metrics.Manager
}

func newEnv(t *testing.T, apiKey string) *testEnv {
	return newEnvWithLimiter(t, apiKey, nil)
}

func newEnvWithLimiter(t *testing.T, apiKey string, limiter domain.RateLimiter) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rounds := memory.NewRoundStore()
	preds := memory.NewPredictionStore()
	bids := memory.NewBidStore()
	disb := memory.NewDisbursementStore()

	r1, _, err := rounds.CreateOrGet(ctx, domain.Round{ID: "r1", TargetTimestamp: t0})
	require.NoError(t, err)
	_, _, err = rounds.CreateOrGet(ctx, domain.Round{ID: "r2", TargetTimestamp: t0.Add(5 * time.Minute)})
	require.NoError(t, err)

	_, err = preds.InsertIfAbsent(ctx, domain.PredictionRecord{
		RoundID: r1.ID, ModelName: "A", TargetTimestamp: t0,
		PredictedClose:   decimal.NewNullDecimal(decimal.RequireFromString("100.05")),
		PayoutMultiplier: decimal.NewFromInt(5),
		Outcome:          domain.OutcomeUnknown,
	})
	require.NoError(t, err)
	_, err = preds.Resolve(ctx, r1.ID, "A", domain.Grade{
		ActualClose: decimal.NewFromInt(100),
		Accuracy:    decimal.NewNullDecimal(decimal.RequireFromString("0.9995")),
		Outcome:     domain.OutcomeWin,
	}, t0)
	require.NoError(t, err)
	require.NoError(t, bids.Place(domain.Bid{RoundID: r1.ID, UserID: "u1", ModelName: "A", Stake: decimal.NewFromInt(10)}))

	tracker := odds.NewTracker(preds, 10)
	pricer := odds.NewPricer(tracker, odds.NewCalculator(decimal.RequireFromString("0.01"), decimal.NewFromInt(5)))

	m := metrics.New()
	settler := &fakeSettler{}
	handlers := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"store": func(context.Context) error { return nil },
		}, logger),
		Rounds:   handler.NewRoundHandler(rounds, preds, bids, disb, fakeReports{}, logger),
		Models:   handler.NewModelHandler(preds, pricer, logger),
		Operator: handler.NewOperatorHandler(settler, logger),
	}
	srv := NewServer(Config{APIKey: apiKey, RateLimitPerMin: 2}, handlers, nil, limiter, m, logger)
	return &testEnv{srv: srv, settler: settler, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	env := newEnv(t, "secret")
	rec, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"store": "ok"}, body["dependencies"])
}

func TestHealthDegraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return fmt.Errorf("dial tcp: refused") },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestAuth(t *testing.T) {
	env := newEnv(t, "secret")

	rec, _ := env.do(t, http.MethodGet, "/api/rounds", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/rounds", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/rounds", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/rounds", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/rounds?api_key=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndGetRound(t *testing.T) {
	env := newEnv(t, "")

	rec, body := env.do(t, http.MethodGet, "/api/rounds?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rounds := body["rounds"].([]any)
	require.Len(t, rounds, 1)
	assert.Equal(t, "r2", rounds[0].(map[string]any)["id"])
	assert.EqualValues(t, 1, body["limit"])

	rec, body = env.do(t, http.MethodGet, "/api/rounds/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", body["round"].(map[string]any)["id"])
	preds := body["predictions"].([]any)
	require.Len(t, preds, 1)
	assert.Equal(t, "win", preds[0].(map[string]any)["outcome"])
	assert.Len(t, body["bids"].([]any), 1)

	rec, _ = env.do(t, http.MethodGet, "/api/rounds/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	env := newEnv(t, "")

	rec, body := env.do(t, http.MethodGet, "/api/rounds/r1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", body["round_id"])

	rec, _ = env.do(t, http.MethodGet, "/api/rounds/r2/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelHistory(t *testing.T) {
	env := newEnv(t, "")

	rec, body := env.do(t, http.MethodGet, "/api/models/A/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", body["model"])
	assert.Len(t, body["records"].([]any), 1)
	quote := body["quote"].(map[string]any)
	assert.Equal(t, "1", quote["win_rate"])
	assert.Equal(t, "1.01", quote["multiplier"])

	rec, body = env.do(t, http.MethodGet, "/api/models/B/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["records"])
	assert.Equal(t, "5", body["quote"].(map[string]any)["multiplier"])
}

func TestOperatorTriggers(t *testing.T) {
	env := newEnv(t, "")

	rec, body := env.do(t, http.MethodPost, "/api/cycles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["ok"])

	rec, _ = env.do(t, http.MethodPost, "/api/rounds/r1/resolve", `{"actual_close":"100.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", env.settler.settled["r1"].String())

	rec, _ = env.do(t, http.MethodPost, "/api/rounds/r1/resolve", `{"actual_close":100.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100.5", env.settler.settled["r1"].String())

	rec, _ = env.do(t, http.MethodPost, "/api/rounds/r1/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/rounds/r1/resolve", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/rounds/missing/resolve", `{"actual_close":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/rounds/r1/disbursements/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"u1"}, body["paid"])
}

func TestCycleErrorMapping(t *testing.T) {
	env := newEnv(t, "")
	env.settler.err = fmt.Errorf("predictor: fetch: %w", domain.ErrExternal)

	rec, body := env.do(t, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "predictor: fetch: external dependency failed", body["error"])

	env.settler.err = fmt.Errorf("postgres: connection refused")
	rec, body = env.do(t, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "cycle failed", body["error"])
}

func TestMetricsAndCORS(t *testing.T) {
	env := newEnv(t, "secret")

	rec, _ := env.do(t, http.MethodOptions, "/api/rounds", "", "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	env.do(t, http.MethodGet, "/api/health", "")
	rec, _ = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/health"`)
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	env := newEnvWithLimiter(t, "", limiter)

	rec, _ := env.do(t, http.MethodGet, "/api/rounds", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Len(t, limiter.keys, 1)
	assert.True(t, strings.HasPrefix(limiter.keys[0], "api:"))

	limiter.allow = true
	rec, _ = env.do(t, http.MethodGet, "/api/rounds", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	limiter.allow = false
	limiter.err = fmt.Errorf("redis: down")
	rec, _ = env.do(t, http.MethodGet, "/api/rounds", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
