// Package treatment manages treatment plans and derives proposed plans and
// resource estimates from pending detections.
package treatment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"weedtrack/internal/types"
)

// CreateRequest is the caller's plan definition. TotalWeeds is a pointer so
// an omitted count is distinguishable from zero.
type CreateRequest struct {
	Method     types.TreatmentMethod `json:"method"`
	Areas      []types.TreatmentArea `json:"areas"`
	TotalWeeds *int                  `json:"total_weeds"`
}

// Preview is a generated, unsaved plan with its estimates.
type Preview struct {
	Plan  *types.TreatmentPlan `json:"plan"`
	Stats types.TreatmentStats `json:"stats"`
}

// Manager implements the treatment plan lifecycle.
type Manager struct {
	plans      types.TreatmentPlanRepository
	detections types.DetectionRepository
	clock      types.Clock
	logger     *slog.Logger
}

// ManagerConfig holds the dependencies for creating a Manager.
type ManagerConfig struct {
	Plans      types.TreatmentPlanRepository
	Detections types.DetectionRepository // used by Preview only
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewManager creates a Manager with defaults for nil fields.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		plans:      cfg.Plans,
		detections: cfg.Detections,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if m.clock == nil {
		m.clock = types.RealClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Create validates and stores a new plan in the pending state.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.TreatmentPlan, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	plan := &types.TreatmentPlan{
		ID:         "plan_" + uuid.New().String(),
		Method:     req.Method,
		Areas:      types.TreatmentAreas(req.Areas),
		TotalWeeds: *req.TotalWeeds,
		Status:     types.PlanStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.plans.Create(ctx, plan); err != nil {
		m.logger.ErrorContext(ctx, "failed to create treatment plan", "error", err)
		return nil, err
	}
	m.logger.InfoContext(ctx, "treatment plan created",
		"plan_id", plan.ID, "method", plan.Method, "areas", len(plan.Areas))
	return plan, nil
}

func validateCreate(req CreateRequest) error {
	if strings.TrimSpace(string(req.Method)) == "" {
		return missing("method")
	}
	if !req.Method.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidMethod,
			fmt.Sprintf("unknown treatment method %q", req.Method), nil,
			map[string]any{"allowed": []types.TreatmentMethod{types.MethodPrecision, types.MethodZone, types.MethodBroadcast}})
	}
	if req.TotalWeeds == nil {
		return missing("total_weeds")
	}
	if *req.TotalWeeds < 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"total_weeds must not be negative", nil, map[string]any{"field": "total_weeds"})
	}
	if len(req.Areas) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidArea, "at least one treatment area is required", nil)
	}
	for i, a := range req.Areas {
		if err := a.Validate(); err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) {
				return appErr.WithDetails(map[string]any{"area_index": i})
			}
			return err
		}
	}
	return nil
}

// List returns every plan, newest first.
func (m *Manager) List(ctx context.Context) ([]*types.TreatmentPlan, error) {
	return m.plans.List(ctx)
}

// Get returns one plan or ErrCodeNotFoundTreatmentPlan.
func (m *Manager) Get(ctx context.Context, id string) (*types.TreatmentPlan, error) {
	return m.plans.GetByID(ctx, strings.TrimSpace(id))
}

// UpdateStatus overwrites the plan status. Any transition between the
// enumerated statuses is accepted; an unknown status leaves the plan as is.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status types.PlanStatus) (*types.TreatmentPlan, error) {
	id = strings.TrimSpace(id)
	if !status.Valid() {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidStatus,
			fmt.Sprintf("invalid plan status %q", status), nil,
			map[string]any{"allowed": types.PlanStatuses})
	}
	if err := m.plans.UpdateStatus(ctx, id, status, m.clock.Now().UTC()); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "treatment plan status updated", "plan_id", id, "status", status)
	return m.plans.GetByID(ctx, id)
}

// Preview generates an unsaved plan over the pending detections, optionally
// restricted to bounds, with its resource estimates.
func (m *Manager) Preview(ctx context.Context, method types.TreatmentMethod, bounds *types.Bounds) (*Preview, error) {
	if !method.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidMethod,
			fmt.Sprintf("unknown treatment method %q", method), nil)
	}
	if m.detections == nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "plan preview is not configured", nil)
	}

	var (
		candidates []*types.Detection
		err        error
	)
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
		candidates, err = m.detections.FindInRegion(ctx, *bounds)
	} else {
		candidates, err = m.detections.List(ctx, types.DetectionFilter{Status: types.MitigationPending, SortByDate: true})
	}
	if err != nil {
		return nil, err
	}

	pending := make([]*types.Detection, 0, len(candidates))
	for _, d := range candidates {
		if !d.IsCompleted() {
			pending = append(pending, d)
		}
	}

	now := m.clock.Now().UTC()
	areas := Generate(method, pending)
	if areas == nil {
		areas = []types.TreatmentArea{}
	}
	return &Preview{
		Plan: &types.TreatmentPlan{
			Method:     method,
			Areas:      types.TreatmentAreas(areas),
			TotalWeeds: len(pending),
			Status:     types.PlanStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		Stats: Stats(method, pending),
	}, nil
}

func missing(field string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		fmt.Sprintf("%s is required", field), nil, map[string]any{"field": field})
}
