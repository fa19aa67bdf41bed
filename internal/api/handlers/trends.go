package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weedtrack/internal/core"
	"weedtrack/internal/types"
)

// TrendService is the aggregation surface used by the handler.
type TrendService interface {
	DailyCounts(ctx context.Context) ([]types.DailyCount, error)
	MitigationHistory(ctx context.Context) ([]types.HistoryEntry, error)
}

// TrendHandler serves the read-only reporting routes.
type TrendHandler struct {
	svc TrendService
}

// NewTrendHandler creates a TrendHandler.
func NewTrendHandler(svc TrendService) *TrendHandler {
	return &TrendHandler{svc: svc}
}

// RegisterRoutes mounts the reporting routes on r.
func (h *TrendHandler) RegisterRoutes(r chi.Router) {
	r.Get("/weed-trend", h.WeedTrend)
	r.Get("/mitigation-history", h.MitigationHistory)
}

// WeedTrend handles GET /v1/weed-trend.
func (h *TrendHandler) WeedTrend(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.DailyCounts(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, nonNil(counts), len(counts))
}

// MitigationHistory handles GET /v1/mitigation-history.
func (h *TrendHandler) MitigationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.MitigationHistory(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, nonNil(history), len(history))
}
