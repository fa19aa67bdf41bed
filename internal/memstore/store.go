// Package memstore is an in-memory implementation of types.Store used for
// local development and tests. A single RWMutex guards all state; RunInTx
// holds the write lock for the whole callback and undoes its writes on
// error, so transactions are serializable and never observed half-applied.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"weedtrack/internal/types"
)

var _ types.Store = (*Store)(nil)

// Store holds detections, mitigations and treatment plans in memory.
type Store struct {
	mu sync.RWMutex

	detections     map[string]*types.Detection
	detectionOrder []string
	mitigations    []*types.Mitigation
	plans          map[string]*types.TreatmentPlan
	planOrder      []string

	root *view
}

// New returns an empty Store.
func New() *Store {
	s := &Store{
		detections: make(map[string]*types.Detection),
		plans:      make(map[string]*types.TreatmentPlan),
	}
	s.root = &view{s: s}
	return s
}

func (s *Store) Detections() types.DetectionRepository         { return detectionRepo{s.root} }
func (s *Store) Mitigations() types.MitigationRepository       { return mitigationRepo{s.root} }
func (s *Store) TreatmentPlans() types.TreatmentPlanRepository { return planRepo{s.root} }

// RunInTx runs fn with exclusive access to the store. Writes made through
// the registry passed to fn are reverted if fn returns an error.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &view{s: s, inTx: true}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// view is either the root (locks per call) or a transaction (lock already
// held by RunInTx).
type view struct {
	s    *Store
	inTx bool
	undo []func()
}

func (v *view) Detections() types.DetectionRepository         { return detectionRepo{v} }
func (v *view) Mitigations() types.MitigationRepository       { return mitigationRepo{v} }
func (v *view) TreatmentPlans() types.TreatmentPlanRepository { return planRepo{v} }

func (v *view) read(fn func()) {
	if !v.inTx {
		v.s.mu.RLock()
		defer v.s.mu.RUnlock()
	}
	fn()
}

func (v *view) write(fn func()) {
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	fn()
}

func (v *view) onRollback(fn func()) {
	if v.inTx {
		v.undo = append(v.undo, fn)
	}
}

// --- detections ---

type detectionRepo struct{ v *view }

func cloneDetection(d *types.Detection) *types.Detection {
	c := *d
	if d.MitigationTimestamp != nil {
		ts := *d.MitigationTimestamp
		c.MitigationTimestamp = &ts
	}
	return &c
}

func (r detectionRepo) CreateBatch(ctx context.Context, detections []*types.Detection) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var err error
	r.v.write(func() {
		s := r.v.s
		for _, d := range detections {
			if _, exists := s.detections[d.ID]; exists {
				err = types.NewAppErrorWithDetails(types.ErrCodeConflictDetectionExists,
					"a detection with this id already exists", nil, map[string]any{"id": d.ID})
				return
			}
		}
		now := time.Now().UTC()
		prevOrder := len(s.detectionOrder)
		for _, d := range detections {
			c := cloneDetection(d)
			c.MitigationStatus = types.MitigationPending
			c.MitigationTimestamp = nil
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			s.detections[c.ID] = c
			s.detectionOrder = append(s.detectionOrder, c.ID)
		}
		r.v.onRollback(func() {
			for _, id := range s.detectionOrder[prevOrder:] {
				delete(s.detections, id)
			}
			s.detectionOrder = s.detectionOrder[:prevOrder]
		})
	})
	if err != nil {
		return 0, err
	}
	return len(detections), nil
}

func (r detectionRepo) GetByID(ctx context.Context, id string) (*types.Detection, error) {
	var out *types.Detection
	r.v.read(func() {
		if d, ok := r.v.s.detections[id]; ok {
			out = cloneDetection(d)
		}
	})
	if out == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundDetection, "detection not found", nil)
	}
	return out, nil
}

func (r detectionRepo) List(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error) {
	out := []*types.Detection{}
	r.v.read(func() {
		for _, id := range r.v.s.detectionOrder {
			d := r.v.s.detections[id]
			if filter.Status != "" && d.MitigationStatus != filter.Status {
				continue
			}
			if filter.From != nil && d.Timestamp.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !d.Timestamp.Before(*filter.To) {
				continue
			}
			out = append(out, cloneDetection(d))
		}
	})
	if filter.SortByDate {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	}
	return out, nil
}

func (r detectionRepo) FindInRegion(ctx context.Context, b types.Bounds) ([]*types.Detection, error) {
	out := []*types.Detection{}
	r.v.read(func() {
		for _, id := range r.v.s.detectionOrder {
			d := r.v.s.detections[id]
			if b.Contains(d.Latitude, d.Longitude) {
				out = append(out, cloneDetection(d))
			}
		}
	})
	return out, nil
}

func (r detectionRepo) TryComplete(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	r.v.write(func() {
		d, exists := r.v.s.detections[id]
		if !exists || d.MitigationStatus != types.MitigationPending {
			return
		}
		ts := at
		d.MitigationStatus = types.MitigationCompleted
		d.MitigationTimestamp = &ts
		ok = true
		r.v.onRollback(func() {
			d.MitigationStatus = types.MitigationPending
			d.MitigationTimestamp = nil
		})
	})
	return ok, nil
}

// --- mitigations ---

type mitigationRepo struct{ v *view }

func (r mitigationRepo) Create(ctx context.Context, m *types.Mitigation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *m
	r.v.write(func() {
		s := r.v.s
		s.mitigations = append(s.mitigations, &c)
		n := len(s.mitigations)
		r.v.onRollback(func() { s.mitigations = s.mitigations[:n-1] })
	})
	return nil
}

func (r mitigationRepo) List(ctx context.Context) ([]*types.Mitigation, error) {
	out := []*types.Mitigation{}
	r.v.read(func() {
		for _, m := range r.v.s.mitigations {
			c := *m
			out = append(out, &c)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- treatment plans ---

type planRepo struct{ v *view }

func clonePlan(p *types.TreatmentPlan) *types.TreatmentPlan {
	c := *p
	c.Areas = append(types.TreatmentAreas(nil), p.Areas...)
	return &c
}

func (r planRepo) Create(ctx context.Context, p *types.TreatmentPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := clonePlan(p)
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	r.v.write(func() {
		s := r.v.s
		s.plans[c.ID] = c
		s.planOrder = append(s.planOrder, c.ID)
		n := len(s.planOrder)
		r.v.onRollback(func() {
			delete(s.plans, c.ID)
			s.planOrder = s.planOrder[:n-1]
		})
	})
	return nil
}

func (r planRepo) GetByID(ctx context.Context, id string) (*types.TreatmentPlan, error) {
	var out *types.TreatmentPlan
	r.v.read(func() {
		if p, ok := r.v.s.plans[id]; ok {
			out = clonePlan(p)
		}
	})
	if out == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundTreatmentPlan, "treatment plan not found", nil)
	}
	return out, nil
}

func (r planRepo) List(ctx context.Context) ([]*types.TreatmentPlan, error) {
	out := []*types.TreatmentPlan{}
	r.v.read(func() {
		// Reverse insertion order is newest first for equal timestamps.
		for i := len(r.v.s.planOrder) - 1; i >= 0; i-- {
			out = append(out, clonePlan(r.v.s.plans[r.v.s.planOrder[i]]))
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r planRepo) UpdateStatus(ctx context.Context, id string, status types.PlanStatus, at time.Time) error {
	var found bool
	r.v.write(func() {
		p, ok := r.v.s.plans[id]
		if !ok {
			return
		}
		found = true
		prevStatus, prevUpdated := p.Status, p.UpdatedAt
		p.Status = status
		p.UpdatedAt = at
		r.v.onRollback(func() {
			p.Status = prevStatus
			p.UpdatedAt = prevUpdated
		})
	})
	if !found {
		return types.NewAppError(types.ErrCodeNotFoundTreatmentPlan, "treatment plan not found", nil)
	}
	return nil
}
