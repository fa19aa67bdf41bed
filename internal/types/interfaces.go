package types

import (
	"context"
	"time"
)

// DetectionRepository is the durable record of detections and the sole
// authority for their mitigation status.
type DetectionRepository interface {
	// CreateBatch persists already-validated detections and returns the
	// number stored.
	CreateBatch(ctx context.Context, detections []*Detection) (int, error)
	GetByID(ctx context.Context, id string) (*Detection, error)
	List(ctx context.Context, filter DetectionFilter) ([]*Detection, error)
	// FindInRegion returns detections inside b, edges inclusive. An empty
	// result is not an error.
	FindInRegion(ctx context.Context, b Bounds) ([]*Detection, error)
	// TryComplete moves the detection from pending to completed with
	// mitigation_timestamp = at. It reports false, without error, when the
	// detection was already completed or does not exist.
	TryComplete(ctx context.Context, id string, at time.Time) (bool, error)
}

// MitigationRepository is the append-only mitigation log.
type MitigationRepository interface {
	Create(ctx context.Context, m *Mitigation) error
	List(ctx context.Context) ([]*Mitigation, error)
}

// TreatmentPlanRepository stores treatment plans.
type TreatmentPlanRepository interface {
	Create(ctx context.Context, p *TreatmentPlan) error
	GetByID(ctx context.Context, id string) (*TreatmentPlan, error)
	List(ctx context.Context) ([]*TreatmentPlan, error)
	UpdateStatus(ctx context.Context, id string, status PlanStatus, at time.Time) error
}

// RepositoryRegistry provides access to all repository instances.
type RepositoryRegistry interface {
	Detections() DetectionRepository
	Mitigations() MitigationRepository
	TreatmentPlans() TreatmentPlanRepository
}

// TransactionManager provides transactional execution across repositories.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryRegistry) error) error
}

// Store is a RepositoryRegistry that can also run work in a transaction.
// Both the Postgres and in-memory backends implement it.
type Store interface {
	RepositoryRegistry
	TransactionManager
}

// MitigationPublisher announces applied mitigations to downstream consumers.
type MitigationPublisher interface {
	PublishMitigation(ctx context.Context, evt MitigationEvent) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
