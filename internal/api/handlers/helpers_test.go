package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"weedtrack/internal/core"
	"weedtrack/internal/mitigation"
	"weedtrack/internal/treatment"
	"weedtrack/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockDetectionService struct {
	ingestFn  func(ctx context.Context, inputs []types.DetectionInput) (int, error)
	getFn     func(ctx context.Context, id string) (*types.Detection, error)
	queryFn   func(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error)
	regionFn  func(ctx context.Context, b types.Bounds) ([]*types.Detection, error)
	inferFn   func(ctx context.Context, image io.Reader, filename string, lat, lng float64) ([]*types.Detection, error)
	lastQuery types.DetectionFilter
}

func (m *mockDetectionService) Ingest(ctx context.Context, inputs []types.DetectionInput) (int, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, inputs)
	}
	return len(inputs), nil
}

func (m *mockDetectionService) Get(ctx context.Context, id string) (*types.Detection, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &types.Detection{ID: id, MitigationStatus: types.MitigationPending}, nil
}

func (m *mockDetectionService) Query(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error) {
	m.lastQuery = filter
	if m.queryFn != nil {
		return m.queryFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockDetectionService) FindInRegion(ctx context.Context, b types.Bounds) ([]*types.Detection, error) {
	if m.regionFn != nil {
		return m.regionFn(ctx, b)
	}
	return nil, nil
}

func (m *mockDetectionService) InferAndIngest(ctx context.Context, image io.Reader, filename string, lat, lng float64) ([]*types.Detection, error) {
	if m.inferFn != nil {
		return m.inferFn(ctx, image, filename, lat, lng)
	}
	return nil, nil
}

type mockMitigationService struct {
	individualFn func(ctx context.Context, req mitigation.IndividualRequest) (*mitigation.Result, error)
	broadcastFn  func(ctx context.Context, req mitigation.BroadcastRequest) (*mitigation.Result, error)
}

func (m *mockMitigationService) ApplyIndividual(ctx context.Context, req mitigation.IndividualRequest) (*mitigation.Result, error) {
	return m.individualFn(ctx, req)
}

func (m *mockMitigationService) ApplyBroadcast(ctx context.Context, req mitigation.BroadcastRequest) (*mitigation.Result, error) {
	return m.broadcastFn(ctx, req)
}

type mockTrendService struct {
	dailyFn   func(ctx context.Context) ([]types.DailyCount, error)
	historyFn func(ctx context.Context) ([]types.HistoryEntry, error)
}

func (m *mockTrendService) DailyCounts(ctx context.Context) ([]types.DailyCount, error) {
	return m.dailyFn(ctx)
}

func (m *mockTrendService) MitigationHistory(ctx context.Context) ([]types.HistoryEntry, error) {
	return m.historyFn(ctx)
}

type mockPlanService struct {
	createFn       func(ctx context.Context, req treatment.CreateRequest) (*types.TreatmentPlan, error)
	listFn         func(ctx context.Context) ([]*types.TreatmentPlan, error)
	getFn          func(ctx context.Context, id string) (*types.TreatmentPlan, error)
	updateStatusFn func(ctx context.Context, id string, status types.PlanStatus) (*types.TreatmentPlan, error)
	previewFn      func(ctx context.Context, method types.TreatmentMethod, bounds *types.Bounds) (*treatment.Preview, error)
}

func (m *mockPlanService) Create(ctx context.Context, req treatment.CreateRequest) (*types.TreatmentPlan, error) {
	return m.createFn(ctx, req)
}

func (m *mockPlanService) List(ctx context.Context) ([]*types.TreatmentPlan, error) {
	return m.listFn(ctx)
}

func (m *mockPlanService) Get(ctx context.Context, id string) (*types.TreatmentPlan, error) {
	return m.getFn(ctx, id)
}

func (m *mockPlanService) UpdateStatus(ctx context.Context, id string, status types.PlanStatus) (*types.TreatmentPlan, error) {
	return m.updateStatusFn(ctx, id, status)
}

func (m *mockPlanService) Preview(ctx context.Context, method types.TreatmentMethod, bounds *types.Bounds) (*treatment.Preview, error) {
	return m.previewFn(ctx, method, bounds)
}

// =============================================================================
// Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

// routerWith mounts a registrar on a fresh chi router so URL params resolve.
func routerWith(register func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", register)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		Count int `json:"count"`
	} `json:"meta"`
	Error *core.ErrorDetail `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}
