// Package detection owns ingestion and retrieval of weed detections. It
// validates caller input at the boundary, normalises identifiers, and hands
// persisted work to a types.DetectionRepository.
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"weedtrack/internal/types"
)

// DefaultMaxBatch bounds a single ingestion request when no limit is configured.
const DefaultMaxBatch = 1000

// DefaultMinConfidence is the inference score below which boxes are dropped.
const DefaultMinConfidence = 0.5

// Inferrer runs weed detection on an uploaded image.
type Inferrer interface {
	Detect(ctx context.Context, image io.Reader, filename string) ([]types.RawDetection, error)
}

// Metrics receives ingestion counters. Optional.
type Metrics interface {
	RecordDetectionsIngested(source types.DetectionSource, n int)
}

// Service implements the detection store operations.
type Service struct {
	detections    types.DetectionRepository
	inferrer      Inferrer
	metrics       Metrics
	maxBatch      int
	minConfidence float64
	clock         types.Clock
	logger        *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Detections    types.DetectionRepository
	Inferrer      Inferrer // nil disables InferAndIngest
	Metrics       Metrics
	MaxBatch      int
	MinConfidence float64 // 0 keeps every weed box; negative uses DefaultMinConfidence
	Clock         types.Clock
	Logger        *slog.Logger
}

// NewService creates a Service. A non-positive MaxBatch and a negative
// MinConfidence fall back to the package defaults; a nil Clock uses RealClock
// and a nil Logger uses slog.Default().
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		detections:    cfg.Detections,
		inferrer:      cfg.Inferrer,
		metrics:       cfg.Metrics,
		maxBatch:      cfg.MaxBatch,
		minConfidence: cfg.MinConfidence,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatch
	}
	if s.minConfidence < 0 {
		s.minConfidence = DefaultMinConfidence
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Ingest validates every input and, only if all are valid, persists the
// batch with mitigation_status = pending. It returns the number stored.
func (s *Service) Ingest(ctx context.Context, inputs []types.DetectionInput) (int, error) {
	if len(inputs) == 0 {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "at least one detection is required", nil)
	}
	if len(inputs) > s.maxBatch {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch of %d exceeds the maximum of %d detections", len(inputs), s.maxBatch),
			nil, map[string]any{"max_batch": s.maxBatch})
	}

	seen := make(map[string]int, len(inputs))
	batch := make([]*types.Detection, 0, len(inputs))
	for i, in := range inputs {
		d, err := validateInput(in)
		if err != nil {
			return 0, withIndex(err, i)
		}
		if prev, dup := seen[d.ID]; dup {
			return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationDuplicateID,
				fmt.Sprintf("detection id %q appears more than once in the batch", d.ID),
				nil, map[string]any{"index": i, "first_index": prev, "id": d.ID})
		}
		seen[d.ID] = i
		d.Source = types.SourceAPI
		batch = append(batch, d)
	}

	n, err := s.detections.CreateBatch(ctx, batch)
	if err != nil {
		s.logger.ErrorContext(ctx, "detection ingest failed", "batch_size", len(batch), "stored", n, "error", err)
		return n, err
	}
	if s.metrics != nil {
		s.metrics.RecordDetectionsIngested(types.SourceAPI, n)
	}
	s.logger.InfoContext(ctx, "detections ingested", "count", n)
	return n, nil
}

// validateInput checks presence and range of every required field and
// returns the normalised detection.
func validateInput(in types.DetectionInput) (*types.Detection, error) {
	id := strings.TrimSpace(in.ID.String())
	if id == "" {
		return nil, missing("id")
	}
	if in.Latitude == nil {
		return nil, missing("latitude")
	}
	if in.Longitude == nil {
		return nil, missing("longitude")
	}
	if in.Timestamp == nil || strings.TrimSpace(*in.Timestamp) == "" {
		return nil, missing("timestamp")
	}
	if in.Confidence == nil {
		return nil, missing("confidence")
	}

	if err := (types.Point{Lat: *in.Latitude, Lng: *in.Longitude}).Validate(); err != nil {
		return nil, err
	}
	if *in.Confidence < types.MinConfidence || *in.Confidence > types.MaxConfidence {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidConfidence,
			fmt.Sprintf("confidence %v out of range [0, 1]", *in.Confidence), nil)
	}
	ts, err := types.ParseTimestamp(*in.Timestamp)
	if err != nil {
		return nil, err
	}

	class := strings.TrimSpace(in.Class)
	if class == "" {
		class = types.DefaultDetectionClass
	}

	return &types.Detection{
		ID:               id,
		Latitude:         *in.Latitude,
		Longitude:        *in.Longitude,
		Timestamp:        ts,
		Confidence:       *in.Confidence,
		Class:            class,
		MitigationStatus: types.MitigationPending,
	}, nil
}

func missing(field string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		fmt.Sprintf("%s is required", field), nil, map[string]any{"field": field})
}

// withIndex annotates a validation error with the offending batch position.
func withIndex(err error, i int) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"index": i})
	}
	return err
}

// Get returns one detection or ErrCodeNotFoundDetection.
func (s *Service) Get(ctx context.Context, id string) (*types.Detection, error) {
	return s.detections.GetByID(ctx, id)
}

// Query lists detections matching the filter.
func (s *Service) Query(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidStatus,
			fmt.Sprintf("unknown mitigation status %q", filter.Status), nil)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimestamp, "to must not be before from", nil)
	}
	return s.detections.List(ctx, filter)
}

// FindInRegion returns detections inside the inclusive box. An empty
// result is valid.
func (s *Service) FindInRegion(ctx context.Context, b types.Bounds) ([]*types.Detection, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return s.detections.FindInRegion(ctx, b)
}

// InferAndIngest runs the image through the inference service and stores
// every weed box at or above the minimum confidence as a detection located
// at (lat, lng). It returns the stored detections, possibly none.
func (s *Service) InferAndIngest(ctx context.Context, image io.Reader, filename string, lat, lng float64) ([]*types.Detection, error) {
	if s.inferrer == nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamInference, "inference service is not configured", nil)
	}
	if err := (types.Point{Lat: lat, Lng: lng}).Validate(); err != nil {
		return nil, err
	}

	raw, err := s.inferrer.Detect(ctx, image, filename)
	if err != nil {
		s.logger.WarnContext(ctx, "inference failed", "filename", filename, "error", err)
		return nil, err
	}

	now := s.clock.Now()
	batch := make([]*types.Detection, 0, len(raw))
	for _, r := range raw {
		if r.Class != types.DefaultDetectionClass || r.Confidence < s.minConfidence {
			continue
		}
		batch = append(batch, &types.Detection{
			ID:               "det_" + uuid.New().String(),
			Latitude:         lat,
			Longitude:        lng,
			Timestamp:        now,
			Confidence:       r.Confidence,
			Class:            r.Class,
			Source:           types.SourceInference,
			MitigationStatus: types.MitigationPending,
		})
	}
	if len(batch) == 0 {
		s.logger.InfoContext(ctx, "inference produced no weed detections", "boxes", len(raw))
		return batch, nil
	}

	n, err := s.detections.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDetectionsIngested(types.SourceInference, n)
	}
	s.logger.InfoContext(ctx, "inferred detections ingested", "count", n, "boxes", len(raw))
	return batch, nil
}

// projectableFields are the JSON keys a caller may select with Project.
var projectableFields = map[string]bool{
	"id":                   true,
	"latitude":             true,
	"longitude":            true,
	"timestamp":            true,
	"confidence":           true,
	"class":                true,
	"source":               true,
	"mitigation_status":    true,
	"mitigation_timestamp": true,
	"created_at":           true,
}

// Project reduces each detection to the requested JSON fields. An empty
// field list keeps every field.
func Project(detections []*types.Detection, fields []string) ([]map[string]any, error) {
	for _, f := range fields {
		if !projectableFields[f] {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				fmt.Sprintf("unknown field %q", f), nil, map[string]any{"field": f})
		}
	}

	out := make([]map[string]any, 0, len(detections))
	for _, d := range detections {
		data, err := json.Marshal(d)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode detection", err)
		}
		var full map[string]any
		if err := json.Unmarshal(data, &full); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode detection", err)
		}
		if len(fields) == 0 {
			out = append(out, full)
			continue
		}
		picked := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := full[f]; ok {
				picked[f] = v
			}
		}
		out = append(out, picked)
	}
	return out, nil
}
