package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
)

var filterDecisionInsert = db.InsertConfig{
	Table: "filter_decisions",
	Columns: []string{
		"content_kind", "content_id", "english", "pain_point", "confidence",
		"category", "passes", "reason",
	},
	ConflictKeys: []string{"content_kind", "content_id"},
}

var painRecordInsert = db.InsertConfig{
	Table: "pain_records",
	Columns: []string{
		"raw_item_id", "problem", "persona", "severity", "tags", "keywords",
		"product", "gap_phrase", "region",
	},
	ConflictKeys: []string{"raw_item_id"},
	Returning:    "id",
}

// ItemsInState returns up to limit raw items in state that have no pain
// record yet, newest first.
func (s *PostgresStore) ItemsInState(ctx context.Context, state model.ItemState, limit int) ([]model.RawItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rawItemColumns+` FROM raw_items
		WHERE state = $1
		  AND NOT EXISTS (SELECT 1 FROM pain_records p WHERE p.raw_item_id = raw_items.id)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: items in state %s", state)
	}
	defer rows.Close()

	var items []model.RawItem
	for rows.Next() {
		it, err := scanRawItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan raw item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "store: iterate raw items")
}

// RecordFilterDecision appends the decision for item and moves it to
// filter_passed or filter_rejected in one transaction. A decision already on
// file for the item is kept.
func (s *PostgresStore) RecordFilterDecision(ctx context.Context, item model.RawItem, d model.FilterDecision) error {
	to := model.StateFilterRejected
	if d.Passes {
		to = model.StateFilterPassed
	}
	if err := model.CheckTransition(item.State, to); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, err := dedup.New(tx).Insert(ctx, filterDecisionInsert, []any{
			string(item.Kind), item.ID, d.English, d.PainPoint, d.Confidence,
			d.Category, d.Passes, d.Reason,
		}); err != nil {
			return eris.Wrapf(err, "store: record filter decision for item %d", item.ID)
		}
		return transition(ctx, tx, item.ID, item.State, to)
	})
}

// SaveExtraction stores the pain record extracted from item and marks the
// item extracted. It returns the pain record id, which is the existing one
// when the item was extracted before.
func (s *PostgresStore) SaveExtraction(ctx context.Context, item model.RawItem, rec model.PainRecord) (int64, error) {
	if err := model.CheckTransition(item.State, model.StateExtracted); err != nil {
		return 0, err
	}

	var id int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if id, err = insertPainRecord(ctx, tx, item.ID, rec); err != nil {
			return err
		}
		return transition(ctx, tx, item.ID, item.State, model.StateExtracted)
	})
	return id, err
}

func insertPainRecord(ctx context.Context, q db.Pool, rawItemID int64, rec model.PainRecord) (int64, error) {
	tags, keywords := rec.Tags, rec.Keywords
	if tags == nil {
		tags = []string{}
	}
	if keywords == nil {
		keywords = []string{}
	}
	_, id, err := dedup.New(q).Insert(ctx, painRecordInsert, []any{
		rawItemID, rec.Problem, rec.Persona, string(rec.Severity), tags, keywords,
		rec.Product, rec.GapPhrase, rec.Region,
	})
	if err != nil {
		return 0, eris.Wrapf(err, "store: save pain record for item %d", rawItemID)
	}
	return id, nil
}

const painRecordColumns = `p.id, p.raw_item_id, p.problem, p.persona, p.severity, p.tags, p.keywords,
	p.product, p.gap_phrase, p.region, r.author, r.source, p.created_at`

func scanPainRecord(row pgx.Row) (model.PainRecord, error) {
	var (
		rec      model.PainRecord
		severity string
	)
	err := row.Scan(&rec.ID, &rec.RawItemID, &rec.Problem, &rec.Persona, &severity, &rec.Tags,
		&rec.Keywords, &rec.Product, &rec.GapPhrase, &rec.Region, &rec.Author, &rec.Source, &rec.CreatedAt)
	rec.Severity = model.Severity(severity)
	return rec, err
}

func (s *PostgresStore) queryPainRecords(ctx context.Context, what, sql string, args ...any) ([]model.PainRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: %s", what)
	}
	defer rows.Close()

	var out []model.PainRecord
	for rows.Next() {
		rec, err := scanPainRecord(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "store: scan %s", what)
		}
		out = append(out, rec)
	}
	return out, eris.Wrapf(rows.Err(), "store: iterate %s", what)
}

// UnclusteredRecords returns up to limit pain records without a cluster
// membership, newest first.
func (s *PostgresStore) UnclusteredRecords(ctx context.Context, limit int) ([]model.PainRecord, error) {
	return s.queryPainRecords(ctx, "unclustered records",
		`SELECT `+painRecordColumns+`
		FROM pain_records p
		JOIN raw_items r ON r.id = p.raw_item_id
		LEFT JOIN cluster_members m ON m.pain_record_id = p.id
		WHERE m.pain_record_id IS NULL
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1`,
		limit,
	)
}

// ClusterRecords returns up to limit member records of a cluster, originally
// clustered evidence first.
func (s *PostgresStore) ClusterRecords(ctx context.Context, clusterID int64, limit int) ([]model.PainRecord, error) {
	return s.queryPainRecords(ctx, "cluster records",
		`SELECT `+painRecordColumns+`
		FROM cluster_members m
		JOIN pain_records p ON p.id = m.pain_record_id
		JOIN raw_items r ON r.id = p.raw_item_id
		WHERE m.cluster_id = $1
		ORDER BY m.weight DESC, p.created_at DESC
		LIMIT $2`,
		clusterID, limit,
	)
}
