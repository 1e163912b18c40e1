package scheduler

import (
	"context"

	"github.com/rotisserie/eris"
)

// CursorStore is the subset of cursor.Store a rotation needs.
type CursorStore interface {
	Position(ctx context.Context, owner string) (int64, error)
	Advance(ctx context.Context, owner string, pos int64) (bool, error)
}

// Rotation cycles through a fixed list, one entry per invocation of owner.
// The position is the owner's run count, so a full cycle of len(list)
// invocations visits every entry exactly once.
type Rotation struct {
	owner   string
	list    []string
	cursors CursorStore
}

// NewRotation creates a list rotation for owner.
func NewRotation(owner string, list []string, cursors CursorStore) *Rotation {
	return &Rotation{owner: owner, list: list, cursors: cursors}
}

// Pick returns the entry due for this invocation and the run count it was
// derived from.
func (r *Rotation) Pick(ctx context.Context) (string, int64, error) {
	if len(r.list) == 0 {
		return "", 0, eris.Errorf("scheduler: rotation %s has no entries", r.owner)
	}
	runs, err := r.cursors.Position(ctx, r.owner)
	if err != nil {
		return "", 0, eris.Wrapf(err, "scheduler: read rotation %s", r.owner)
	}
	return r.list[runs%int64(len(r.list))], runs, nil
}

// Done advances the rotation past runs. Call it only after the batch the
// pick gated has completed.
func (r *Rotation) Done(ctx context.Context, runs int64) error {
	if _, err := r.cursors.Advance(ctx, r.owner, runs+1); err != nil {
		return eris.Wrapf(err, "scheduler: advance rotation %s", r.owner)
	}
	return nil
}

// Each picks the due entry, runs fn on it, and advances the rotation when fn
// returns without error.
func (r *Rotation) Each(ctx context.Context, fn func(ctx context.Context, entry string) error) error {
	entry, runs, err := r.Pick(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, entry); err != nil {
		return err
	}
	return r.Done(ctx, runs)
}
