package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weedtrack/internal/core"
	"weedtrack/internal/treatment"
	"weedtrack/internal/types"
)

// PlanService is the treatment plan surface used by the handler.
type PlanService interface {
	Create(ctx context.Context, req treatment.CreateRequest) (*types.TreatmentPlan, error)
	List(ctx context.Context) ([]*types.TreatmentPlan, error)
	Get(ctx context.Context, id string) (*types.TreatmentPlan, error)
	UpdateStatus(ctx context.Context, id string, status types.PlanStatus) (*types.TreatmentPlan, error)
	Preview(ctx context.Context, method types.TreatmentMethod, bounds *types.Bounds) (*treatment.Preview, error)
}

// UpdateStatusRequest is the body of PUT /v1/treatment-plans/{id}/status.
type UpdateStatusRequest struct {
	Status types.PlanStatus `json:"status"`
}

// PreviewRequest is the body of POST /v1/treatment-plans/preview.
type PreviewRequest struct {
	Method types.TreatmentMethod `json:"method" validate:"required,treatment_method"`
	Bounds *types.Bounds         `json:"bounds,omitempty"`
}

// PlanHandler serves the treatment plan routes.
type PlanHandler struct {
	svc       PlanService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(svc PlanService, v *core.Validator, l *slog.Logger) *PlanHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &PlanHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the treatment plan routes on r.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Route("/treatment-plans", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Post("/preview", h.Preview)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/status", h.UpdateStatus)
		})
	})
}

// Create handles POST /v1/treatment-plans. Field validation lives in the
// manager so the same rules apply to every caller.
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req treatment.CreateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, err := h.svc.Create(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusCreated, plan)
}

// List handles GET /v1/treatment-plans.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, nonNil(plans), len(plans))
}

// Get handles GET /v1/treatment-plans/{id}.
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, plan)
}

// UpdateStatus handles PUT /v1/treatment-plans/{id}/status.
func (h *PlanHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, plan)
}

// Preview handles POST /v1/treatment-plans/preview. The generated plan is
// returned with its estimates and is not saved.
func (h *PlanHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	preview, err := h.svc.Preview(r.Context(), req.Method, req.Bounds)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.DebugContext(r.Context(), "treatment plan preview generated",
		"method", string(req.Method),
		"areas", len(preview.Plan.Areas),
		"total_weeds", preview.Plan.TotalWeeds,
	)
	core.Data(w, r, http.StatusOK, preview)
}
