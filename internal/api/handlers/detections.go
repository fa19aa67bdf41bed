// Package handlers contains the HTTP handlers mounted under /v1.
//
// Each handler depends on a small local interface rather than a concrete
// service so tests can inject func-field mocks.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"weedtrack/internal/core"
	"weedtrack/internal/detection"
	"weedtrack/internal/types"
)

// multipartOverhead is added to the image limit for form fields and
// boundaries when parsing /detections/infer.
const multipartOverhead = 1 << 20

// DetectionService is the detection store surface used by the handler.
type DetectionService interface {
	Ingest(ctx context.Context, inputs []types.DetectionInput) (int, error)
	Get(ctx context.Context, id string) (*types.Detection, error)
	Query(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error)
	FindInRegion(ctx context.Context, b types.Bounds) ([]*types.Detection, error)
	InferAndIngest(ctx context.Context, image io.Reader, filename string, lat, lng float64) ([]*types.Detection, error)
}

// IngestResponse is the body of a successful POST /v1/detections.
type IngestResponse struct {
	Stored int `json:"stored"`
}

// regionQuery holds the four corners of GET /v1/detections/region.
type regionQuery struct {
	SWLat *float64 `json:"sw_lat" validate:"required,latitude"`
	SWLng *float64 `json:"sw_lng" validate:"required,longitude"`
	NELat *float64 `json:"ne_lat" validate:"required,latitude"`
	NELng *float64 `json:"ne_lng" validate:"required,longitude"`
}

// inferForm holds the non-file fields of POST /v1/detections/infer.
type inferForm struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// DetectionHandler serves the detection routes.
type DetectionHandler struct {
	svc           DetectionService
	validator     *core.Validator
	logger        *slog.Logger
	maxImageBytes int64
}

// NewDetectionHandler creates a DetectionHandler. maxImageBytes bounds
// uploads to /detections/infer.
func NewDetectionHandler(svc DetectionService, v *core.Validator, l *slog.Logger, maxImageBytes int64) *DetectionHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	if maxImageBytes <= 0 {
		maxImageBytes = 10 << 20
	}
	return &DetectionHandler{svc: svc, validator: v, logger: l, maxImageBytes: maxImageBytes}
}

// RegisterRoutes mounts the detection routes on r.
func (h *DetectionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/detections", func(r chi.Router) {
		r.Post("/", h.Ingest)
		r.Get("/", h.List)
		r.Get("/region", h.Region)
		r.Post("/infer", h.Infer)
		r.Get("/{id}", h.Get)
	})
}

// Ingest handles POST /v1/detections. The body is either a JSON array of
// detections or an object {"detections": [...]}.
func (h *DetectionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := core.DecodeJSON(w, r, &raw); err != nil {
		core.Error(w, r, err)
		return
	}

	inputs, err := decodeIngestBody(raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	n, err := h.svc.Ingest(r.Context(), inputs)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusCreated, IngestResponse{Stored: n})
}

func decodeIngestBody(raw json.RawMessage) ([]types.DetectionInput, error) {
	trimmed := bytes.TrimSpace(raw)
	var inputs []types.DetectionInput
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := strictUnmarshal(trimmed, &inputs); err != nil {
			return nil, err
		}
		return inputs, nil
	}
	var wrapped struct {
		Detections []types.DetectionInput `json:"detections"`
	}
	if err := strictUnmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Detections, nil
}

func strictUnmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid detection payload: "+err.Error(), err)
	}
	return nil
}

// List handles GET /v1/detections.
//
// Query parameters: status (pending|completed), from and to (RFC 3339),
// sort=date for ascending timestamp order, fields=comma,separated projection.
func (h *DetectionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.DetectionFilter{
		Status: types.MitigationStatus(strings.TrimSpace(q.Get("status"))),
	}

	switch sort := strings.TrimSpace(q.Get("sort")); sort {
	case "":
	case "date", "timestamp":
		filter.SortByDate = true
	default:
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"sort must be \"date\"", nil, map[string]any{"field": "sort", "value": sort}))
		return
	}

	if v := q.Get("from"); v != "" {
		t, err := types.ParseTimestamp(v)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := types.ParseTimestamp(v)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		filter.To = &t
	}

	detections, err := h.svc.Query(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	fields := splitFields(q.Get("fields"))
	if len(fields) == 0 {
		core.List(w, r, nonNil(detections), len(detections))
		return
	}
	projected, err := detection.Project(detections, fields)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, projected, len(projected))
}

// Region handles GET /v1/detections/region.
func (h *DetectionHandler) Region(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var rq regionQuery
	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"sw_lat", &rq.SWLat},
		{"sw_lng", &rq.SWLng},
		{"ne_lat", &rq.NELat},
		{"ne_lng", &rq.NELng},
	} {
		v, err := parseOptionalFloat(q.Get(p.name), p.name)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		*p.dst = v
	}
	if err := h.validator.ValidateStruct(rq); err != nil {
		core.Error(w, r, err)
		return
	}

	b := types.Bounds{
		SouthWest: types.Point{Lat: *rq.SWLat, Lng: *rq.SWLng},
		NorthEast: types.Point{Lat: *rq.NELat, Lng: *rq.NELng},
	}
	detections, err := h.svc.FindInRegion(r.Context(), b)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, nonNil(detections), len(detections))
}

// Get handles GET /v1/detections/{id}.
func (h *DetectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, d)
}

// Infer handles POST /v1/detections/infer, a multipart form with an "image"
// file plus "latitude" and "longitude" fields locating the photo.
func (h *DetectionHandler) Infer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidImage,
			"request must be multipart/form-data with an image no larger than "+strconv.FormatInt(h.maxImageBytes, 10)+" bytes", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	var form inferForm
	var err error
	if form.Latitude, err = parseOptionalFloat(r.FormValue("latitude"), "latitude"); err != nil {
		core.Error(w, r, err)
		return
	}
	if form.Longitude, err = parseOptionalFloat(r.FormValue("longitude"), "longitude"); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(form); err != nil {
		core.Error(w, r, err)
		return
	}

	file, hdr, err := r.FormFile("image")
	if err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"image is required", err, map[string]any{"field": "image"}))
		return
	}
	defer file.Close()

	stored, err := h.svc.InferAndIngest(r.Context(), file, hdr.Filename, *form.Latitude, *form.Longitude)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "image inference ingested", "filename", hdr.Filename, "stored", len(stored))
	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: nonNil(stored),
		Meta: &core.ResponseMeta{Count: intPtr(len(stored))},
	})
}
