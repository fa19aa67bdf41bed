package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weedtrack/internal/types"
)

func TestWeedTrend(t *testing.T) {
	svc := &mockTrendService{dailyFn: func(context.Context) ([]types.DailyCount, error) {
		return []types.DailyCount{{Date: "2024-01-01", Count: 1}, {Date: "2024-01-02", Count: 1}}, nil
	}}
	rec := doJSON(t, routerWith(NewTrendHandler(svc).RegisterRoutes), http.MethodGet, "/v1/weed-trend", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"date":"2024-01-01","count":1},{"date":"2024-01-02","count":1}],"meta":{"count":2}}`, rec.Body.String())
}

func TestWeedTrend_StoreError(t *testing.T) {
	svc := &mockTrendService{dailyFn: func(context.Context) ([]types.DailyCount, error) {
		return nil, errors.New("connection reset")
	}}
	rec := doJSON(t, routerWith(NewTrendHandler(svc).RegisterRoutes), http.MethodGet, "/v1/weed-trend", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestMitigationHistory(t *testing.T) {
	at := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	svc := &mockTrendService{historyFn: func(context.Context) ([]types.HistoryEntry, error) {
		return []types.HistoryEntry{{ID: "A", Latitude: 10, Longitude: 20, Method: "spray", AppliedBy: "op", MitigationTime: at}}, nil
	}}
	rec := doJSON(t, routerWith(NewTrendHandler(svc).RegisterRoutes), http.MethodGet, "/v1/mitigation-history", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mitigation_time":"2024-01-03T08:00:00Z"`)
	assert.Equal(t, 1, decodeEnvelope(t, rec).Meta.Count)
}

func TestMitigationHistory_Empty(t *testing.T) {
	svc := &mockTrendService{historyFn: func(context.Context) ([]types.HistoryEntry, error) { return nil, nil }}
	rec := doJSON(t, routerWith(NewTrendHandler(svc).RegisterRoutes), http.MethodGet, "/v1/mitigation-history", nil)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, rec.Body.String())
}
