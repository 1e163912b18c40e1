package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig describes an insert-if-absent against a natural key.
type InsertConfig struct {
	Table        string   // target table (e.g., "raw_items")
	Columns      []string // columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	Returning    string   // column returned for both new and existing rows; "" = none
}

// InsertIfAbsent inserts one row with ON CONFLICT DO NOTHING. It returns the
// Returning column of the inserted row, or of the existing row when the
// natural key was already present, and whether a new row was written.
func InsertIfAbsent(ctx context.Context, pool Pool, cfg InsertConfig, values []any) (int64, bool, error) {
	if len(cfg.Columns) == 0 {
		return 0, false, eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, false, eris.New("db: insert: no conflict keys specified")
	}
	if len(values) != len(cfg.Columns) {
		return 0, false, eris.Errorf("db: insert: %d values for %d columns", len(values), len(cfg.Columns))
	}
	for _, key := range cfg.ConflictKeys {
		if indexOf(cfg.Columns, key) < 0 {
			return 0, false, eris.Errorf("db: insert: conflict key %q is not an inserted column", key)
		}
	}

	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)

	if cfg.Returning == "" {
		tag, err := pool.Exec(ctx, insertSQL, values...)
		if err != nil {
			return 0, false, eris.Wrapf(err, "db: insert into %s", cfg.Table)
		}
		return 0, tag.RowsAffected() > 0, nil
	}

	var id int64
	err := pool.QueryRow(ctx, insertSQL+" RETURNING "+pgx.Identifier{cfg.Returning}.Sanitize(), values...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !IsNoRows(err) {
		return 0, false, eris.Wrapf(err, "db: insert into %s", cfg.Table)
	}

	// Conflict: look the existing row up by its natural key.
	conds := make([]string, len(cfg.ConflictKeys))
	args := make([]any, len(cfg.ConflictKeys))
	for i, key := range cfg.ConflictKeys {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{key}.Sanitize(), i+1)
		args[i] = values[indexOf(cfg.Columns, key)]
	}
	lookupSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		pgx.Identifier{cfg.Returning}.Sanitize(),
		sanitizeTable(cfg.Table),
		strings.Join(conds, " AND "),
	)
	if err := pool.QueryRow(ctx, lookupSQL, args...).Scan(&id); err != nil {
		return 0, false, eris.Wrapf(err, "db: lookup existing row in %s", cfg.Table)
	}
	return id, false, nil
}

func indexOf(cols []string, col string) int {
	for i, c := range cols {
		if c == col {
			return i
		}
	}
	return -1
}

// sanitizeTable handles schema-qualified table names like "public.raw_items".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
