// Package cursor persists rotation positions and the invocation log they
// fall back to.
package cursor

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
)

// WatermarkOwner is the cursor owner holding the newest ingested timestamp
// (unix seconds) for a source.
func WatermarkOwner(source string) string {
	return "watermark:" + source
}

// Store reads and advances rotation_cursors rows.
type Store struct {
	pool db.Pool
	log  *Log
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool, log: NewLog(pool)}
}

// Log returns the invocation log sharing this store's pool.
func (s *Store) Log() *Log { return s.log }

// Get returns the persisted position for owner. A missing row is position 0.
func (s *Store) Get(ctx context.Context, owner string) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM rotation_cursors WHERE owner = $1`,
		owner,
	).Scan(&pos)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "cursor: get %s", owner)
	}
	return pos, nil
}

// Position returns the rotation position for owner: the explicit cursor, or
// the count of completed invocations when that is ahead (a lost or reset
// cursor row recomputes from the log).
func (s *Store) Position(ctx context.Context, owner string) (int64, error) {
	pos, err := s.Get(ctx, owner)
	if err != nil {
		return 0, err
	}
	runs, err := s.log.CountComplete(ctx, owner)
	if err != nil {
		return 0, err
	}
	if runs > pos {
		return runs, nil
	}
	return pos, nil
}

// Advance moves owner's cursor to pos. The write is monotonic: a position at
// or behind the stored one is a no-op, so racing invocations cannot regress
// it. Reports whether the stored position changed.
func (s *Store) Advance(ctx context.Context, owner string, pos int64) (bool, error) {
	if pos < 0 {
		return false, eris.Errorf("cursor: negative position %d for %s", pos, owner)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO rotation_cursors (owner, position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (owner) DO UPDATE
		 SET position = EXCLUDED.position, updated_at = now()
		 WHERE rotation_cursors.position < EXCLUDED.position`,
		owner, pos,
	)
	if err != nil {
		return false, eris.Wrapf(err, "cursor: advance %s to %d", owner, pos)
	}
	return tag.RowsAffected() > 0, nil
}
