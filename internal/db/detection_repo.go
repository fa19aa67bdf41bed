package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"weedtrack/internal/types"
)

// detectionInsertChunk caps rows per INSERT statement so that a maximal
// batch stays well below the 65535 bind-parameter limit.
const detectionInsertChunk = 1000

// DetectionRepository provides data access for the detections table.
type DetectionRepository struct {
	db DBTX
}

// NewDetectionRepository creates a new DetectionRepository backed by the
// given database connection (pool or transaction).
func NewDetectionRepository(db DBTX) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// detectionColumns defines the standard set of columns selected for
// detection queries. Order must match scanDetection.
const detectionColumns = `d.id, d.latitude, d.longitude, d.detected_at, d.confidence,
	d.class, d.source, d.mitigation_status, d.mitigation_timestamp, d.created_at`

// scanDetection scans a single detection row. Works for both pgx.Row and
// pgx.Rows since both expose Scan.
func scanDetection(row pgx.Row) (*types.Detection, error) {
	var (
		d      types.Detection
		source *string
	)
	err := row.Scan(
		&d.ID,
		&d.Latitude,
		&d.Longitude,
		&d.Timestamp,
		&d.Confidence,
		&d.Class,
		&source,
		&d.MitigationStatus,
		&d.MitigationTimestamp,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if source != nil {
		d.Source = types.DetectionSource(*source)
	}
	return &d, nil
}

// CreateBatch inserts the detections with multi-row INSERT statements. A
// batch that fits in one chunk is atomic. When a later chunk fails, the rows
// of earlier chunks stay stored and the returned error carries stored_count.
//
// An id that already exists is reported as ErrCodeConflictDetectionExists.
func (r *DetectionRepository) CreateBatch(ctx context.Context, detections []*types.Detection) (int, error) {
	stored := 0
	for start := 0; start < len(detections); start += detectionInsertChunk {
		end := min(start+detectionInsertChunk, len(detections))
		n, err := r.insertChunk(ctx, detections[start:end])
		if err != nil {
			var appErr *types.AppError
			if stored > 0 && errors.As(err, &appErr) {
				return stored, appErr.WithDetails(map[string]any{"stored_count": stored})
			}
			return stored, err
		}
		stored += n
	}
	return stored, nil
}

func (r *DetectionRepository) insertChunk(ctx context.Context, chunk []*types.Detection) (int, error) {
	const colCount = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO detections (
		id, latitude, longitude, detected_at, confidence,
		class, source, mitigation_status, created_at
	) VALUES `)

	args := make([]any, 0, len(chunk)*colCount)
	for i, d := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * colCount
		sb.WriteString("(")
		for j := 0; j < colCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			if j == colCount-1 { // created_at
				sb.WriteString(fmt.Sprintf("COALESCE($%d, NOW())", base+j+1))
			} else {
				sb.WriteString(fmt.Sprintf("$%d", base+j+1))
			}
		}
		sb.WriteString(")")

		args = append(args,
			d.ID,
			d.Latitude,
			d.Longitude,
			d.Timestamp,
			d.Confidence,
			d.Class,
			nilIfEmpty(string(d.Source)),
			types.MitigationPending,
			nilIfZeroTime(d.CreatedAt),
		)
	}

	tag, err := r.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, types.NewAppError(types.ErrCodeConflictDetectionExists, "a detection with this id already exists", err)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to batch create detections", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetByID retrieves a detection by id. Returns ErrCodeNotFoundDetection if
// no row exists.
func (r *DetectionRepository) GetByID(ctx context.Context, id string) (*types.Detection, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+detectionColumns+`
		 FROM detections d
		 WHERE d.id = $1`,
		id,
	)

	d, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDetection, "detection not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve detection", err)
	}
	return d, nil
}

// List returns detections matching the filter. Without SortByDate the
// order is whatever Postgres produces.
func (r *DetectionRepository) List(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error) {
	var (
		conditions []string
		args       []any
		argIdx     = 1
	)

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("d.mitigation_status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("d.detected_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("d.detected_at < $%d", argIdx))
		args = append(args, *filter.To)
		argIdx++
	}

	query := `SELECT ` + detectionColumns + ` FROM detections d`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if filter.SortByDate {
		query += " ORDER BY d.detected_at ASC, d.id ASC"
	}

	return r.queryDetections(ctx, "failed to list detections", query, args...)
}

// FindInRegion returns detections inside the inclusive bounding box.
func (r *DetectionRepository) FindInRegion(ctx context.Context, b types.Bounds) ([]*types.Detection, error) {
	return r.queryDetections(ctx, "failed to query detections in region",
		`SELECT `+detectionColumns+`
		 FROM detections d
		 WHERE d.latitude BETWEEN $1 AND $2
		   AND d.longitude BETWEEN $3 AND $4`,
		b.SouthWest.Lat, b.NorthEast.Lat, b.SouthWest.Lng, b.NorthEast.Lng,
	)
}

// TryComplete performs the pending -> completed compare-and-set. The status
// predicate is re-evaluated under the row lock, so of two concurrent callers
// exactly one sees RowsAffected() == 1.
func (r *DetectionRepository) TryComplete(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE detections SET
			mitigation_status = 'completed',
			mitigation_timestamp = $2
		 WHERE id = $1 AND mitigation_status = 'pending'`,
		id, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to complete detection", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DetectionRepository) queryDetections(ctx context.Context, failMsg string, query string, args ...any) ([]*types.Detection, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	defer rows.Close()

	results := []*types.Detection{}
	for rows.Next() {
		d, scanErr := scanDetection(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan detection row", scanErr)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating detection rows", err)
	}
	return results, nil
}
