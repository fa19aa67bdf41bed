package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"weedtrack/internal/types"
)

// MitigationRepository provides data access for the append-only
// mitigations table. There is deliberately no Update or Delete.
type MitigationRepository struct {
	db DBTX
}

// NewMitigationRepository creates a new MitigationRepository backed by the
// given database connection (pool or transaction).
func NewMitigationRepository(db DBTX) *MitigationRepository {
	return &MitigationRepository{db: db}
}

const mitigationColumns = `m.id, m.detection_id, m.method, m.applied_by, m.notes, m.herbicide, m.applied_at`

func scanMitigation(row pgx.Row) (*types.Mitigation, error) {
	var (
		m         types.Mitigation
		notes     *string
		herbicide *string
	)
	if err := row.Scan(
		&m.ID,
		&m.DetectionID,
		&m.Method,
		&m.AppliedBy,
		&notes,
		&herbicide,
		&m.Timestamp,
	); err != nil {
		return nil, err
	}
	if notes != nil {
		m.Notes = *notes
	}
	if herbicide != nil {
		m.Herbicide = *herbicide
	}
	return &m, nil
}

// Create appends one mitigation record.
func (r *MitigationRepository) Create(ctx context.Context, m *types.Mitigation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO mitigations (
			id, detection_id, method, applied_by, notes, herbicide, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID,
		m.DetectionID,
		m.Method,
		m.AppliedBy,
		nilIfEmpty(m.Notes),
		nilIfEmpty(m.Herbicide),
		m.Timestamp,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create mitigation", err)
	}
	return nil
}

// List returns every mitigation record ordered by application time.
func (r *MitigationRepository) List(ctx context.Context) ([]*types.Mitigation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+mitigationColumns+`
		 FROM mitigations m
		 ORDER BY m.applied_at ASC, m.id ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list mitigations", err)
	}
	defer rows.Close()

	results := []*types.Mitigation{}
	for rows.Next() {
		m, scanErr := scanMitigation(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan mitigation row", scanErr)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating mitigation rows", err)
	}
	return results, nil
}
