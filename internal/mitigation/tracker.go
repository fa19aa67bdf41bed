// Package mitigation applies treatment actions to detections. Every
// pending -> completed transition goes through the store's compare-and-set
// and is recorded in the same transaction, so a detection is mitigated at
// most once no matter how individual and broadcast requests interleave.
package mitigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"weedtrack/internal/types"
)

// DefaultConcurrency bounds parallel per-detection transactions in a broadcast.
const DefaultConcurrency = 8

const (
	ModeIndividual = "individual"
	ModeBroadcast  = "broadcast"
)

// Metrics receives mitigation counters. Optional.
type Metrics interface {
	RecordMitigationsApplied(mode string, n int)
}

// IndividualRequest mitigates a single detection.
type IndividualRequest struct {
	DetectionID string
	Method      string
	AppliedBy   string
	Notes       string
}

// BroadcastRequest mitigates every detection inside Bounds.
type BroadcastRequest struct {
	Bounds    *types.Bounds
	Method    string
	AppliedBy string
	Herbicide string
	Notes     string
}

// Result reports what a mitigation request changed.
type Result struct {
	// Applied is true when at least one detection transitioned.
	Applied bool `json:"applied"`
	// AppliedCount is the number of detections this request transitioned.
	AppliedCount int `json:"applied_count"`
	// MatchedCount is the number of detections the request targeted.
	MatchedCount int      `json:"matched_count"`
	DetectionIDs []string `json:"detection_ids,omitempty"`
	// MitigatedAt is the timestamp written to every transitioned detection
	// and its mitigation record.
	MitigatedAt time.Time `json:"mitigated_at"`
}

// Tracker implements individual and broadcast mitigation.
type Tracker struct {
	store       types.Store
	publisher   types.MitigationPublisher
	metrics     Metrics
	concurrency int
	clock       types.Clock
	logger      *slog.Logger
}

// TrackerConfig holds the dependencies for creating a Tracker.
type TrackerConfig struct {
	Store       types.Store
	Publisher   types.MitigationPublisher // nil disables event publishing
	Metrics     Metrics
	Concurrency int
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewTracker creates a Tracker with defaults for zero-valued fields.
func NewTracker(cfg TrackerConfig) *Tracker {
	t := &Tracker{
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if t.concurrency <= 0 {
		t.concurrency = DefaultConcurrency
	}
	if t.clock == nil {
		t.clock = types.RealClock{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// ApplyIndividual mitigates one detection. An unknown id is
// ErrCodeNotFoundDetection. A detection that is already completed is
// acknowledged with Applied = false and no record is written.
func (t *Tracker) ApplyIndividual(ctx context.Context, req IndividualRequest) (*Result, error) {
	req.DetectionID = strings.TrimSpace(req.DetectionID)
	if req.DetectionID == "" {
		return nil, missing("detection_id")
	}
	if err := requireActor(req.Method, req.AppliedBy); err != nil {
		return nil, err
	}

	if _, err := t.store.Detections().GetByID(ctx, req.DetectionID); err != nil {
		return nil, err
	}

	at := t.clock.Now()
	applied, err := t.applyOne(ctx, req.DetectionID, at, func(id string) *types.Mitigation {
		return &types.Mitigation{DetectionID: id, Method: req.Method, AppliedBy: req.AppliedBy, Notes: req.Notes}
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "individual mitigation failed", "detection_id", req.DetectionID, "error", err)
		return nil, err
	}

	res := &Result{Applied: applied, MatchedCount: 1, MitigatedAt: at}
	if !applied {
		t.logger.InfoContext(ctx, "detection already mitigated", "detection_id", req.DetectionID)
		return res, nil
	}
	res.AppliedCount = 1
	res.DetectionIDs = []string{req.DetectionID}

	t.afterApply(ctx, ModeIndividual, res, types.MitigationEvent{
		Method:    req.Method,
		AppliedBy: req.AppliedBy,
	})
	return res, nil
}

// ApplyBroadcast mitigates every pending detection inside the bounds. A
// region with no detections at all is ErrCodeNotFoundRegionMatch; a region
// whose detections were all completed already succeeds with AppliedCount 0.
//
// Per-detection transactions run on a bounded pool. If one fails the
// request fails and the error details carry applied_count.
func (t *Tracker) ApplyBroadcast(ctx context.Context, req BroadcastRequest) (*Result, error) {
	if req.Bounds == nil {
		return nil, missing("bounds")
	}
	if err := req.Bounds.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(req.Method, req.AppliedBy); err != nil {
		return nil, err
	}

	matched, err := t.store.Detections().FindInRegion(ctx, *req.Bounds)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundRegionMatch, "no detections found in the specified area", nil)
	}

	at := t.clock.Now()
	build := func(id string) *types.Mitigation {
		return &types.Mitigation{
			DetectionID: id,
			Method:      req.Method,
			AppliedBy:   req.AppliedBy,
			Notes:       req.Notes,
			Herbicide:   req.Herbicide,
		}
	}

	var (
		appliedCount atomic.Int64
		mu           sync.Mutex
		appliedIDs   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, d := range matched {
		if d.IsCompleted() {
			continue
		}
		id := d.ID
		g.Go(func() error {
			ok, err := t.applyOne(gctx, id, at, build)
			if err != nil {
				return fmt.Errorf("detection %s: %w", id, err)
			}
			if ok {
				appliedCount.Add(1)
				mu.Lock()
				appliedIDs = append(appliedIDs, id)
				mu.Unlock()
			}
			return nil
		})
	}
	waitErr := g.Wait()
	n := int(appliedCount.Load())

	if waitErr != nil {
		t.logger.ErrorContext(ctx, "broadcast mitigation failed",
			"matched", len(matched), "applied", n, "error", waitErr)
		details := map[string]any{"applied_count": n, "matched_count": len(matched)}
		var appErr *types.AppError
		if errors.As(waitErr, &appErr) {
			return nil, appErr.WithDetails(details)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
			"broadcast mitigation interrupted", waitErr, details)
	}

	sort.Strings(appliedIDs)
	res := &Result{
		Applied:      n > 0,
		AppliedCount: n,
		MatchedCount: len(matched),
		DetectionIDs: appliedIDs,
		MitigatedAt:  at,
	}
	t.logger.InfoContext(ctx, "broadcast mitigation applied", "matched", len(matched), "applied", n)
	if n > 0 {
		t.afterApply(ctx, ModeBroadcast, res, types.MitigationEvent{
			Method:    req.Method,
			AppliedBy: req.AppliedBy,
			Herbicide: req.Herbicide,
			Bounds:    req.Bounds,
		})
	}
	return res, nil
}

// applyOne runs the compare-and-set and, only if it succeeded, appends the
// mitigation record in the same transaction.
func (t *Tracker) applyOne(ctx context.Context, id string, at time.Time, build func(id string) *types.Mitigation) (bool, error) {
	applied := false
	err := t.store.RunInTx(ctx, func(ctx context.Context, repos types.RepositoryRegistry) error {
		ok, err := repos.Detections().TryComplete(ctx, id, at)
		if err != nil || !ok {
			return err
		}
		m := build(id)
		m.ID = "mit_" + uuid.New().String()
		m.Timestamp = at
		if err := repos.Mitigations().Create(ctx, m); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// afterApply records metrics and publishes the event. Both are soft
// dependencies: failures are logged and never reach the caller.
func (t *Tracker) afterApply(ctx context.Context, mode string, res *Result, evt types.MitigationEvent) {
	if t.metrics != nil {
		t.metrics.RecordMitigationsApplied(mode, res.AppliedCount)
	}
	if t.publisher == nil {
		return
	}
	evt.EventType = types.MitigationEventType
	evt.Mode = mode
	evt.DetectionIDs = res.DetectionIDs
	evt.AppliedCount = res.AppliedCount
	evt.OccurredAt = res.MitigatedAt
	evt.RequestID = types.GetRequestID(ctx)
	if err := t.publisher.PublishMitigation(ctx, evt); err != nil {
		t.logger.WarnContext(ctx, "failed to publish mitigation event", "mode", mode, "error", err)
	}
}

func requireActor(method, appliedBy string) error {
	if strings.TrimSpace(method) == "" {
		return missing("method")
	}
	if strings.TrimSpace(appliedBy) == "" {
		return missing("applied_by")
	}
	return nil
}

func missing(field string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		fmt.Sprintf("%s is required", field), nil, map[string]any{"field": field})
}
