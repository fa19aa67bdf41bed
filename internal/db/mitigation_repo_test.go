package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"weedtrack/internal/types"
)

func TestMitigationRepository_Create_NullableColumns(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMitigationRepository(db)
	ctx := context.Background()

	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	m := &types.Mitigation{
		ID:          "mit_1",
		DetectionID: "a",
		Method:      "manual",
		AppliedBy:   "operator-1",
		Timestamp:   at,
	}

	db.On("Exec", ctx, sqlContains("INSERT INTO mitigations"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 7 &&
			args[0] == "mit_1" &&
			args[4] == (*string)(nil) &&
			args[5] == (*string)(nil) &&
			args[6] == at
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Create(ctx, m))
	db.AssertExpectations(t)
}

func TestMitigationRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMitigationRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("fk violation"))

	err := repo.Create(ctx, &types.Mitigation{ID: "mit_1"})
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestMitigationRepository_List(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMitigationRepository(db)
	ctx := context.Background()

	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	notes := "north edge"
	herbicide := "Glyphosate"
	rows := newMockRows([][]any{
		{"mit_1", "a", "broadcast", "op", &notes, &herbicide, at},
		{"mit_2", "b", "manual", "op", nil, nil, at.Add(time.Minute)},
	})
	db.On("Query", ctx, sqlContains("FROM mitigations"), []any(nil)).Return(rows, nil)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "north edge", got[0].Notes)
	assert.Equal(t, "Glyphosate", got[0].Herbicide)
	assert.Equal(t, "", got[1].Notes)
	assert.Equal(t, at.Add(time.Minute), got[1].Timestamp)
}

func TestMitigationRepository_List_ScanError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMitigationRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{{}})
	rows.scanErr = errors.New("bad column")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.List(ctx)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}
