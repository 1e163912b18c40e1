package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rawItemInsert = InsertConfig{
	Table:        "raw_items",
	Columns:      []string{"natural_key", "source", "text"},
	ConflictKeys: []string{"natural_key"},
	Returning:    "id",
}

func TestInsertIfAbsent_Inserted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO "raw_items" .* ON CONFLICT \("natural_key"\) DO NOTHING RETURNING "id"`).
		WithArgs("post_abc123", "r/smallbusiness", "invoicing is painful").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, inserted, err := InsertIfAbsent(context.Background(), mock, rawItemInsert,
		[]any{"post_abc123", "r/smallbusiness", "invoicing is painful"})

	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_AlreadyPresent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO "raw_items" .* ON CONFLICT \("natural_key"\) DO NOTHING RETURNING "id"`).
		WithArgs("post_abc123", "r/smallbusiness", "invoicing is painful").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT "id" FROM "raw_items" WHERE "natural_key" = \$1`).
		WithArgs("post_abc123").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, inserted, err := InsertIfAbsent(context.Background(), mock, rawItemInsert,
		[]any{"post_abc123", "r/smallbusiness", "invoicing is painful"})

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_NoReturning(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := InsertConfig{
		Table:        "filter_decisions",
		Columns:      []string{"content_kind", "content_id"},
		ConflictKeys: []string{"content_kind", "content_id"},
	}

	mock.ExpectExec(`INSERT INTO "filter_decisions"`).
		WithArgs("post", int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, inserted, err := InsertIfAbsent(context.Background(), mock, cfg, []any{"post", int64(1)})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_Validation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    InsertConfig
		values []any
		errMsg string
	}{
		{"no columns", InsertConfig{Table: "t", ConflictKeys: []string{"id"}}, nil, "no columns specified"},
		{"no conflict keys", InsertConfig{Table: "t", Columns: []string{"id"}}, []any{1}, "no conflict keys specified"},
		{"value count", InsertConfig{Table: "t", Columns: []string{"id", "name"}, ConflictKeys: []string{"id"}}, []any{1}, "1 values for 2 columns"},
		{"unknown key", InsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"key"}}, []any{1}, "not an inserted column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := InsertIfAbsent(context.Background(), nil, tt.cfg, tt.values)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.raw_items", `"public"."raw_items"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
