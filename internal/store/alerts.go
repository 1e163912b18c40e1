package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// TagVolume counts pain records carrying a tag in the current window and in
// the baseline windows before it.
type TagVolume struct {
	Tag      string
	Current  int
	Baseline int
}

// GapMention is one product gap phrase as extracted.
type GapMention struct {
	Product   string
	GapPhrase string
}

// SeverityMix counts a cluster's recent members and how many of them are
// critical or high.
type SeverityMix struct {
	ClusterID int64
	Total     int
	Severe    int
}

// TagVolumes counts tag mentions in the trailing window and in the
// baselineWindows windows before it.
func (s *PostgresStore) TagVolumes(ctx context.Context, window time.Duration, baselineWindows int) ([]TagVolume, error) {
	lookback := window * time.Duration(baselineWindows+1)
	rows, err := s.pool.Query(ctx,
		`SELECT lower(t.tag) AS tag,
			count(*) FILTER (WHERE p.created_at >= now() - make_interval(secs => $1)) AS current,
			count(*) FILTER (WHERE p.created_at < now() - make_interval(secs => $1)) AS baseline
		FROM pain_records p
		CROSS JOIN LATERAL unnest(p.tags) AS t(tag)
		WHERE p.created_at >= now() - make_interval(secs => $2)
		GROUP BY lower(t.tag)`,
		window.Seconds(), lookback.Seconds(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: tag volumes")
	}
	defer rows.Close()

	var out []TagVolume
	for rows.Next() {
		var v TagVolume
		if err := rows.Scan(&v.Tag, &v.Current, &v.Baseline); err != nil {
			return nil, eris.Wrap(err, "store: scan tag volume")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate tag volumes")
}

// GapMentions returns the product gap phrases extracted within the trailing
// window.
func (s *PostgresStore) GapMentions(ctx context.Context, window time.Duration) ([]GapMention, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product, gap_phrase FROM pain_records
		WHERE product <> '' AND gap_phrase <> ''
		  AND created_at >= now() - make_interval(secs => $1)`,
		window.Seconds(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: gap mentions")
	}
	defer rows.Close()

	var out []GapMention
	for rows.Next() {
		var g GapMention
		if err := rows.Scan(&g.Product, &g.GapPhrase); err != nil {
			return nil, eris.Wrap(err, "store: scan gap mention")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate gap mentions")
}

// SeverityMixes returns per-cluster severity counts over members extracted
// within the trailing window.
func (s *PostgresStore) SeverityMixes(ctx context.Context, window time.Duration) ([]SeverityMix, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.cluster_id,
			count(*) AS total,
			count(*) FILTER (WHERE p.severity = ANY($2::text[])) AS severe
		FROM cluster_members m
		JOIN pain_records p ON p.id = m.pain_record_id
		WHERE p.created_at >= now() - make_interval(secs => $1)
		GROUP BY m.cluster_id`,
		window.Seconds(), model.SevereLevels(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: severity mixes")
	}
	defer rows.Close()

	var out []SeverityMix
	for rows.Next() {
		var m SeverityMix
		if err := rows.Scan(&m.ClusterID, &m.Total, &m.Severe); err != nil {
			return nil, eris.Wrap(err, "store: scan severity mix")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate severity mixes")
}

// InsertAlert stores a unless an alert with the same type and entity key was
// created within the suppression window. A transaction-scoped advisory lock
// on (type, entity key) serializes concurrent inserts of the same alert. It
// returns the new id and whether a row was written.
func (s *PostgresStore) InsertAlert(ctx context.Context, a model.Alert, suppression time.Duration) (int64, bool, error) {
	var details []byte
	if len(a.Details) > 0 {
		var err error
		if details, err = json.Marshal(a.Details); err != nil {
			return 0, false, eris.Wrapf(err, "store: encode alert %s/%s", a.Type, a.EntityKey)
		}
	}

	var (
		id      int64
		created bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1 || '|' || $2))`,
			string(a.Type), a.EntityKey,
		); err != nil {
			return eris.Wrapf(err, "store: lock alert %s/%s", a.Type, a.EntityKey)
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO alerts (type, entity_key, severity, message, details)
			SELECT $1::text, $2::text, $3::text, $4::text, $5::jsonb
			WHERE NOT EXISTS (
				SELECT 1 FROM alerts
				WHERE type = $1 AND entity_key = $2
				  AND created_at >= now() - make_interval(secs => $6)
			)
			RETURNING id`,
			string(a.Type), a.EntityKey, string(a.Severity), a.Message, details, suppression.Seconds(),
		).Scan(&id)
		switch {
		case db.IsNoRows(err):
			return nil
		case err != nil:
			return eris.Wrapf(err, "store: insert alert %s/%s", a.Type, a.EntityKey)
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// ListAlerts returns alerts newest first, optionally only unread ones.
func (s *PostgresStore) ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, entity_key, severity, message, details, created_at, read_at
		FROM alerts
		WHERE NOT $1 OR read_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		unreadOnly, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a             model.Alert
			typ, severity string
			details       []byte
		)
		if err := rows.Scan(&a.ID, &typ, &a.EntityKey, &severity, &a.Message, &details, &a.CreatedAt, &a.ReadAt); err != nil {
			return nil, eris.Wrap(err, "store: scan alert")
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, eris.Wrapf(err, "store: decode alert %d details", a.ID)
			}
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate alerts")
}

// MarkAlertRead marks an alert read. It reports false when the alert does
// not exist or was already read.
func (s *PostgresStore) MarkAlertRead(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET read_at = now() WHERE id = $1 AND read_at IS NULL`, id)
	if err != nil {
		return false, eris.Wrapf(err, "store: mark alert %d read", id)
	}
	return tag.RowsAffected() > 0, nil
}

// SweepAlerts deletes read alerts created before the retention horizon.
func (s *PostgresStore) SweepAlerts(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alerts
		WHERE read_at IS NOT NULL
		  AND created_at < now() - make_interval(secs => $1)`,
		retention.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: sweep alerts")
	}
	return tag.RowsAffected(), nil
}
