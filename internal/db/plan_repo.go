package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"weedtrack/internal/types"
)

// TreatmentPlanRepository provides data access for the treatment_plans table.
type TreatmentPlanRepository struct {
	db DBTX
}

// NewTreatmentPlanRepository creates a new TreatmentPlanRepository backed by
// the given database connection (pool or transaction).
func NewTreatmentPlanRepository(db DBTX) *TreatmentPlanRepository {
	return &TreatmentPlanRepository{db: db}
}

const planColumns = `p.id, p.method, p.areas, p.total_weeds, p.status, p.created_at, p.updated_at`

func scanPlan(row pgx.Row) (*types.TreatmentPlan, error) {
	var p types.TreatmentPlan
	if err := row.Scan(
		&p.ID,
		&p.Method,
		&p.Areas,
		&p.TotalWeeds,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new plan. The caller sets ID and Status.
func (r *TreatmentPlanRepository) Create(ctx context.Context, p *types.TreatmentPlan) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO treatment_plans (
			id, method, areas, total_weeds, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), COALESCE($7, NOW()))`,
		p.ID,
		p.Method,
		p.Areas,
		p.TotalWeeds,
		p.Status,
		nilIfZeroTime(p.CreatedAt),
		nilIfZeroTime(p.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create treatment plan", err)
	}
	return nil
}

// GetByID retrieves a plan. Returns ErrCodeNotFoundTreatmentPlan if missing.
func (r *TreatmentPlanRepository) GetByID(ctx context.Context, id string) (*types.TreatmentPlan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM treatment_plans p WHERE p.id = $1`,
		id,
	)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTreatmentPlan, "treatment plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve treatment plan", err)
	}
	return p, nil
}

// List returns all plans, newest first.
func (r *TreatmentPlanRepository) List(ctx context.Context) ([]*types.TreatmentPlan, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+planColumns+`
		 FROM treatment_plans p
		 ORDER BY p.created_at DESC, p.id DESC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list treatment plans", err)
	}
	defer rows.Close()

	results := []*types.TreatmentPlan{}
	for rows.Next() {
		p, scanErr := scanPlan(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan treatment plan row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating treatment plan rows", err)
	}
	return results, nil
}

// UpdateStatus overwrites the plan status. Any-to-any transitions are
// allowed; the caller validates that status is enumerated.
func (r *TreatmentPlanRepository) UpdateStatus(ctx context.Context, id string, status types.PlanStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE treatment_plans SET status = $1, updated_at = $2 WHERE id = $3`,
		status, at, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update treatment plan status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTreatmentPlan, "treatment plan not found", nil)
	}
	return nil
}
