package cursor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
)

// Invocation statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Invocation represents a row in invocation_log.
type Invocation struct {
	ID          string     `json:"id" yaml:"id"`
	Owner       string     `json:"owner" yaml:"owner"`
	Trigger     string     `json:"trigger" yaml:"trigger"`
	Status      string     `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Attempted   int        `json:"attempted" yaml:"attempted"`
	Succeeded   int        `json:"succeeded" yaml:"succeeded"`
	Failed      int        `json:"failed" yaml:"failed"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Counts is the outcome recorded by Complete.
type Counts struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Log provides read/write access to invocation_log.
type Log struct {
	pool db.Pool
}

// NewLog creates a Log backed by the given pool.
func NewLog(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of an invocation and returns its ID.
func (l *Log) Start(ctx context.Context, owner, trigger string) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO invocation_log (id, owner, trigger, status, started_at)
		 VALUES ($1, $2, $3, 'running', now())`,
		id, owner, trigger,
	)
	if err != nil {
		return "", eris.Wrapf(err, "cursor: start invocation of %s", owner)
	}
	return id, nil
}

// Complete marks an invocation as finished with its aggregate counts.
func (l *Log) Complete(ctx context.Context, id string, c Counts) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE invocation_log
		 SET status = 'complete', completed_at = now(), attempted = $1, succeeded = $2, failed = $3
		 WHERE id = $4`,
		c.Attempted, c.Succeeded, c.Failed, id,
	)
	if err != nil {
		return eris.Wrapf(err, "cursor: complete invocation %s", id)
	}
	return nil
}

// Fail marks an invocation as aborted.
func (l *Log) Fail(ctx context.Context, id, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE invocation_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "cursor: fail invocation %s", id)
	}
	return nil
}

// CountComplete returns how many invocations of owner completed.
func (l *Log) CountComplete(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM invocation_log WHERE owner = $1 AND status = 'complete'`,
		owner,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "cursor: count invocations of %s", owner)
	}
	return n, nil
}

// ListRecent returns the most recent invocations, newest first.
func (l *Log) ListRecent(ctx context.Context, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, owner, trigger, status, started_at, completed_at, attempted, succeeded, failed, error
		 FROM invocation_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cursor: list invocations")
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var (
			inv    Invocation
			errMsg *string
		)
		if err := rows.Scan(&inv.ID, &inv.Owner, &inv.Trigger, &inv.Status, &inv.StartedAt,
			&inv.CompletedAt, &inv.Attempted, &inv.Succeeded, &inv.Failed, &errMsg); err != nil {
			return nil, eris.Wrap(err, "cursor: scan invocation")
		}
		if errMsg != nil {
			inv.Error = *errMsg
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "cursor: iterate invocations")
}
