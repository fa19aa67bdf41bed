package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"weedtrack/internal/core"
	"weedtrack/internal/mitigation"
	"weedtrack/internal/types"
)

// MitigationService is the tracker surface used by the handler.
type MitigationService interface {
	ApplyIndividual(ctx context.Context, req mitigation.IndividualRequest) (*mitigation.Result, error)
	ApplyBroadcast(ctx context.Context, req mitigation.BroadcastRequest) (*mitigation.Result, error)
}

// ApplyMitigationRequest is the body of POST /v1/mitigations. Exactly one of
// DetectionID and Bounds selects individual or broadcast mode.
type ApplyMitigationRequest struct {
	DetectionID types.DetectionID `json:"detection_id,omitempty"`
	Bounds      *types.Bounds     `json:"bounds,omitempty"`
	Method      string            `json:"method" validate:"required,max=100"`
	AppliedBy   string            `json:"applied_by" validate:"required,max=200"`
	Herbicide   string            `json:"herbicide,omitempty" validate:"max=200"`
	Notes       string            `json:"notes,omitempty" validate:"max=2000"`
}

// MitigationResponse wraps the tracker result with the mode that ran.
type MitigationResponse struct {
	Mode string `json:"mode"`
	*mitigation.Result
}

// MitigationHandler serves POST /v1/mitigations.
type MitigationHandler struct {
	svc       MitigationService
	validator *core.Validator
	logger    *slog.Logger
}

// NewMitigationHandler creates a MitigationHandler.
func NewMitigationHandler(svc MitigationService, v *core.Validator, l *slog.Logger) *MitigationHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &MitigationHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the mitigation routes on r.
func (h *MitigationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/mitigations", h.Apply)
}

// Apply handles POST /v1/mitigations.
//
// A broadcast, or an individual request that transitioned its detection,
// returns 201. An individual request against an already completed
// detection returns 200 with applied=false.
func (h *MitigationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyMitigationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := strings.TrimSpace(req.DetectionID.String())
	switch {
	case id != "" && req.Bounds != nil:
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"provide either detection_id or bounds, not both", nil,
			map[string]any{"fields": []string{"detection_id", "bounds"}}))
		return
	case id == "" && req.Bounds == nil:
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"detection_id or bounds is required", nil,
			map[string]any{"fields": []string{"detection_id", "bounds"}}))
		return
	}

	if req.Bounds != nil {
		res, err := h.svc.ApplyBroadcast(r.Context(), mitigation.BroadcastRequest{
			Bounds:    req.Bounds,
			Method:    req.Method,
			AppliedBy: req.AppliedBy,
			Herbicide: req.Herbicide,
			Notes:     req.Notes,
		})
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.Data(w, r, http.StatusCreated, MitigationResponse{Mode: mitigation.ModeBroadcast, Result: res})
		return
	}

	res, err := h.svc.ApplyIndividual(r.Context(), mitigation.IndividualRequest{
		DetectionID: id,
		Method:      req.Method,
		AppliedBy:   req.AppliedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Applied {
		status = http.StatusOK
	}
	core.Data(w, r, status, MitigationResponse{Mode: mitigation.ModeIndividual, Result: res})
}
