// Package db provides PostgreSQL-backed repository implementations for the
// detection and mitigation lifecycle. All repositories accept a DBTX interface
// that is satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"weedtrack/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts a transaction. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolOptions holds pgxpool tuning parameters.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPool parses the connection URL, applies pool tuning, and verifies
// connectivity with a ping before returning.
func NewPool(ctx context.Context, url string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to parse database url", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "database not reachable", err)
	}
	return pool, nil
}

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent
// (CREATE ... IF NOT EXISTS) so it is safe to run on each startup.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}

// Store implements types.Store over a Postgres connection. Outside a
// transaction the repositories share the pool; inside RunInTx they are
// rebound to the pgx.Tx.
type Store struct {
	db    DBTX
	begin TxBeginner
	close func()

	detections  *DetectionRepository
	mitigations *MitigationRepository
	plans       *TreatmentPlanRepository
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	s := newStore(pool, pool)
	s.close = pool.Close
	return s
}

// Close releases the underlying pool. It is safe to call more than once.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
		s.close = nil
	}
	return nil
}

func newStore(db DBTX, begin TxBeginner) *Store {
	return &Store{
		db:          db,
		begin:       begin,
		detections:  NewDetectionRepository(db),
		mitigations: NewMitigationRepository(db),
		plans:       NewTreatmentPlanRepository(db),
	}
}

func (s *Store) Detections() types.DetectionRepository         { return s.detections }
func (s *Store) Mitigations() types.MitigationRepository       { return s.mitigations }
func (s *Store) TreatmentPlans() types.TreatmentPlanRepository { return s.plans }

// RunInTx executes fn inside a single transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	tx, err := s.begin.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRegistry{
		detections:  NewDetectionRepository(tx),
		mitigations: NewMitigationRepository(tx),
		plans:       NewTreatmentPlanRepository(tx),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// txRegistry exposes repositories bound to an open transaction.
type txRegistry struct {
	detections  *DetectionRepository
	mitigations *MitigationRepository
	plans       *TreatmentPlanRepository
}

func (r *txRegistry) Detections() types.DetectionRepository         { return r.detections }
func (r *txRegistry) Mitigations() types.MitigationRepository       { return r.mitigations }
func (r *txRegistry) TreatmentPlans() types.TreatmentPlanRepository { return r.plans }

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolProbe reports database reachability for the health endpoint.
type PoolProbe struct {
	Pool Pinger
}

// Name implements core.HealthProbe.
func (p PoolProbe) Name() string { return "database" }

// Check implements core.HealthProbe.
func (p PoolProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// nilIfEmpty returns nil for an empty string so the column stores NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime returns nil if the time is zero, otherwise returns a pointer
// to the time. Used to let the DB default (NOW()) apply when no time is set.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
