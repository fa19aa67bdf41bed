package treatment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weedtrack/internal/memstore"
	"weedtrack/internal/types"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func intPtr(n int) *int { return &n }

func validArea() types.TreatmentArea {
	return types.TreatmentArea{
		Type:   types.AreaZone,
		Points: []types.Point{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 2, Lng: 2}},
	}
}

func newTestManager(store *memstore.Store) *Manager {
	return NewManager(ManagerConfig{
		Plans:      store.TreatmentPlans(),
		Detections: store.Detections(),
		Clock:      &stepClock{t: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	})
}

func TestManager_CreateAndList(t *testing.T) {
	store := memstore.New()
	m := newTestManager(store)
	ctx := context.Background()

	first, err := m.Create(ctx, CreateRequest{Method: types.MethodZone, Areas: []types.TreatmentArea{validArea()}, TotalWeeds: intPtr(12)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ID, "plan_"))
	assert.Equal(t, types.PlanStatusPending, first.Status)
	assert.Equal(t, 12, first.TotalWeeds)

	second, err := m.Create(ctx, CreateRequest{Method: types.MethodPrecision, Areas: []types.TreatmentArea{validArea()}, TotalWeeds: intPtr(0)})
	require.NoError(t, err)

	plans, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, second.ID, plans[0].ID, "newest first")
	assert.Equal(t, first.ID, plans[1].ID)

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Areas, got.Areas)
}

func TestManager_CreateValidation(t *testing.T) {
	m := newTestManager(memstore.New())
	ctx := context.Background()
	areas := []types.TreatmentArea{validArea()}

	tests := []struct {
		name string
		req  CreateRequest
		code types.ErrorCode
	}{
		{"missing method", CreateRequest{Areas: areas, TotalWeeds: intPtr(1)}, types.ErrCodeValidationMissingField},
		{"unknown method", CreateRequest{Method: "airstrike", Areas: areas, TotalWeeds: intPtr(1)}, types.ErrCodeValidationInvalidMethod},
		{"missing total", CreateRequest{Method: types.MethodZone, Areas: areas}, types.ErrCodeValidationMissingField},
		{"negative total", CreateRequest{Method: types.MethodZone, Areas: areas, TotalWeeds: intPtr(-1)}, types.ErrCodeValidationInvalidField},
		{"no areas", CreateRequest{Method: types.MethodZone, TotalWeeds: intPtr(1)}, types.ErrCodeValidationInvalidArea},
		{"area without type", CreateRequest{Method: types.MethodZone, TotalWeeds: intPtr(1), Areas: []types.TreatmentArea{
			{Points: validArea().Points},
		}}, types.ErrCodeValidationInvalidArea},
		{"two-point polygon", CreateRequest{Method: types.MethodZone, TotalWeeds: intPtr(1), Areas: []types.TreatmentArea{
			{Type: types.AreaZone, Points: []types.Point{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}},
		}}, types.ErrCodeValidationInvalidArea},
		{"zero radius", CreateRequest{Method: types.MethodPrecision, TotalWeeds: intPtr(1), Areas: []types.TreatmentArea{
			{Type: types.AreaSpot, Center: &types.Point{Lat: 1, Lng: 1}},
		}}, types.ErrCodeValidationInvalidArea},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(ctx, tt.req)
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
		})
	}

	plans, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestManager_CreateValidationReportsAreaIndex(t *testing.T) {
	m := newTestManager(memstore.New())
	_, err := m.Create(context.Background(), CreateRequest{
		Method:     types.MethodZone,
		TotalWeeds: intPtr(1),
		Areas:      []types.TreatmentArea{validArea(), {Type: types.AreaZone}},
	})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "got %v", err)
	assert.Equal(t, types.ErrCodeValidationInvalidArea, appErr.Code)
	assert.Equal(t, 1, appErr.Details["area_index"])
}

func TestManager_UpdateStatus(t *testing.T) {
	store := memstore.New()
	m := newTestManager(store)
	ctx := context.Background()

	plan, err := m.Create(ctx, CreateRequest{Method: types.MethodZone, Areas: []types.TreatmentArea{validArea()}, TotalWeeds: intPtr(3)})
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, plan.ID, types.PlanStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, types.PlanStatusInProgress, updated.Status)
	assert.True(t, updated.UpdatedAt.After(plan.UpdatedAt))

	// Any-to-any, including back to pending.
	updated, err = m.UpdateStatus(ctx, plan.ID, types.PlanStatusPending)
	require.NoError(t, err)
	assert.Equal(t, types.PlanStatusPending, updated.Status)

	_, err = m.UpdateStatus(ctx, plan.ID, "bogus")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidStatus))
	got, err := m.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanStatusPending, got.Status, "invalid status must not change the plan")

	_, err = m.UpdateStatus(ctx, "plan_missing", types.PlanStatusCompleted)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundTreatmentPlan))
}

func TestManager_Preview(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Detections().CreateBatch(ctx, []*types.Detection{
		{ID: "a", Latitude: 10, Longitude: 20, Timestamp: ts, Confidence: 0.95},
		{ID: "b", Latitude: 10.5, Longitude: 20.5, Timestamp: ts, Confidence: 0.8},
		{ID: "c", Latitude: 50, Longitude: 50, Timestamp: ts, Confidence: 0.7},
	})
	require.NoError(t, err)
	_, err = store.Detections().TryComplete(ctx, "b", ts.Add(time.Hour))
	require.NoError(t, err)

	m := newTestManager(store)

	all, err := m.Preview(ctx, types.MethodPrecision, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Plan.TotalWeeds, "completed detections are excluded")
	assert.Len(t, all.Plan.Areas, 2)
	assert.Empty(t, all.Plan.ID, "previews are not persisted")
	assert.Equal(t, 2, all.Stats.TotalWeeds)

	region, err := m.Preview(ctx, types.MethodBroadcast, &types.Bounds{
		SouthWest: types.Point{Lat: 9, Lng: 19},
		NorthEast: types.Point{Lat: 11, Lng: 21},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, region.Plan.TotalWeeds)
	require.Len(t, region.Plan.Areas, 1)
	assert.Equal(t, types.AreaBroadcast, region.Plan.Areas[0].Type)

	empty, err := m.Preview(ctx, types.MethodZone, &types.Bounds{
		SouthWest: types.Point{Lat: -1, Lng: -1},
		NorthEast: types.Point{Lat: 0, Lng: 0},
	})
	require.NoError(t, err)
	assert.NotNil(t, empty.Plan.Areas)
	assert.Empty(t, empty.Plan.Areas)

	_, err = m.Preview(ctx, "spray-everything", nil)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidMethod))

	plans, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}
