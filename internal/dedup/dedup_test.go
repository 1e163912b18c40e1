package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/painpoint-radar/internal/model"
)

func newMockLayer(t *testing.T) (*Layer, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return New(mock), mock
}

func TestKey(t *testing.T) {
	assert.Equal(t, "post_abc123", Key(OriginIngest, model.KindPost, "abc123"))
	assert.Equal(t, "comment_xyz", Key(OriginIngest, model.KindComment, " xyz "))
	assert.Equal(t, "bv_post_abc123", Key(OriginBackval, model.KindPost, "abc123"))
	assert.NotEqual(t,
		Key(OriginIngest, model.KindPost, "abc123"),
		Key(OriginBackval, model.KindPost, "abc123"))
}

func testItem() model.RawItem {
	return model.RawItem{
		Source:     "smallbusiness",
		Kind:       model.KindPost,
		ExternalID: "abc123",
		Text:       "Invoicing takes me hours every week",
		Author:     "u1",
		Engagement: 12,
		CreatedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertIfAbsent_SecondAttemptAlreadyPresent(t *testing.T) {
	l, mock := newMockLayer(t)
	ctx := context.Background()
	item := testItem()

	mock.ExpectQuery(`INSERT INTO "raw_items" .* ON CONFLICT \("natural_key"\) DO NOTHING RETURNING "id"`).
		WithArgs("post_abc123", "smallbusiness", "post", "abc123", "", item.Text, "u1", 12, item.CreatedAt, "ingested").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(41)))

	outcome, id, err := l.InsertIfAbsent(ctx, "post_abc123", item)
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)
	assert.Equal(t, int64(41), id)

	// Conflict: DO NOTHING returns no row, the existing id is looked up.
	mock.ExpectQuery(`INSERT INTO "raw_items"`).
		WithArgs("post_abc123", "smallbusiness", "post", "abc123", "", item.Text, "u1", 12, item.CreatedAt, "ingested").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT "id" FROM "raw_items" WHERE "natural_key" = \$1`).
		WithArgs("post_abc123").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(41)))

	outcome, id, err = l.InsertIfAbsent(ctx, "post_abc123", item)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)
	assert.Equal(t, int64(41), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_KeepsExplicitState(t *testing.T) {
	l, mock := newMockLayer(t)
	item := testItem()
	item.State = model.StateBackvalidated

	mock.ExpectQuery(`INSERT INTO "raw_items"`).
		WithArgs("bv_post_abc123", "smallbusiness", "post", "abc123", "", item.Text, "u1", 12, item.CreatedAt, "backvalidated").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(99)))

	outcome, id, err := l.InsertIfAbsent(context.Background(), "bv_post_abc123", item)
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)
	assert.Equal(t, int64(99), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_EmptyKey(t *testing.T) {
	l, _ := newMockLayer(t)
	_, _, err := l.InsertIfAbsent(context.Background(), "", testItem())
	assert.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "already_present", AlreadyPresent.String())
}
