// Package store is the Postgres persistence for raw items, pain records,
// clusters and alerts. Every stage reads its ready rows here and writes its
// results back through insert-if-absent and conditional state updates.
package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// PostgresStore implements the pipeline, back-validation and alert stores.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit")
	}
	return nil
}

// transition moves a raw item from one state to another. Zero rows affected
// means another invocation already moved it.
func transition(ctx context.Context, q db.Pool, id int64, from, to model.ItemState) error {
	if err := model.CheckTransition(from, to); err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE raw_items SET state = $1, processed = $2 WHERE id = $3 AND state = $4`,
		string(to), to.IsTerminal(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "store: transition item %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrIllegalTransition, "item %d is no longer %s", id, from)
	}
	return nil
}

const rawItemColumns = `id, natural_key, source, kind, external_id, parent_id, text, author,
	engagement, created_at, fetched_at, processed, state`

func scanRawItem(row pgx.Row) (model.RawItem, error) {
	var (
		it          model.RawItem
		kind, state string
	)
	err := row.Scan(&it.ID, &it.NaturalKey, &it.Source, &kind, &it.ExternalID, &it.ParentID,
		&it.Text, &it.Author, &it.Engagement, &it.CreatedAt, &it.FetchedAt, &it.Processed, &state)
	it.Kind = model.ContentKind(kind)
	it.State = model.ItemState(state)
	return it, err
}

const clusterColumns = `id, signature, member_count, unique_author_count, unique_source_count,
	region_match_count, brief, scores, total_score, qualified_at, members_changed_at,
	synthesized_at, scored_at, last_backvalidation_at, created_at`

func scanCluster(row pgx.Row) (model.Cluster, error) {
	var (
		c             model.Cluster
		brief, scores []byte
	)
	err := row.Scan(&c.ID, &c.Signature, &c.MemberCount, &c.UniqueAuthorCount, &c.UniqueSourceCount,
		&c.RegionMatchCount, &brief, &scores, &c.TotalScore, &c.QualifiedAt, &c.MembersChangedAt,
		&c.SynthesizedAt, &c.ScoredAt, &c.LastBackvalidationAt, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if len(brief) > 0 {
		c.Brief = &model.Brief{}
		if err := json.Unmarshal(brief, c.Brief); err != nil {
			return c, eris.Wrapf(err, "store: decode brief of cluster %d", c.ID)
		}
	}
	if len(scores) > 0 {
		c.Scores = &model.SubScores{}
		if err := json.Unmarshal(scores, c.Scores); err != nil {
			return c, eris.Wrapf(err, "store: decode scores of cluster %d", c.ID)
		}
	}
	return c, nil
}

func (s *PostgresStore) queryClusters(ctx context.Context, what, sql string, args ...any) ([]model.Cluster, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: %s", what)
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "store: scan %s", what)
		}
		out = append(out, c)
	}
	return out, eris.Wrapf(rows.Err(), "store: iterate %s", what)
}
