// Package stage runs one bounded batch of a pipeline stage: select ready
// rows, transform them (optionally in parallel), then commit results one at
// a time so persisted writes are never concurrent.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/metrics"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// ErrSkip may be returned by Transform or Commit to leave an item untouched
// without counting it as a failure. It stays ready for the next batch.
var ErrSkip = eris.New("stage: skip item")

// Spec describes one stage.
type Spec[T, R any] struct {
	Name string
	// Limit is the batch ceiling.
	Limit int
	// Concurrency bounds parallel transforms. Values < 1 mean sequential.
	Concurrency int
	// Ready returns up to limit eligible rows, newest first.
	Ready func(ctx context.Context, limit int) ([]T, error)
	// ID identifies an item in logs.
	ID func(T) string
	// Transform computes the result for one item. It may call collaborators.
	Transform func(ctx context.Context, item T) (R, error)
	// Commit persists one result and advances the item's state.
	Commit func(ctx context.Context, item T, result R) error
}

// Result is the aggregate outcome of a stage batch.
type Result struct {
	Stage     string        `json:"stage" yaml:"stage"`
	Attempted int           `json:"attempted" yaml:"attempted"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Add folds another result into r, keeping r's stage name.
func (r *Result) Add(o Result) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Duration += o.Duration
}

type outcome[R any] struct {
	result R
	err    error
}

// Run executes one batch of spec. Per-item failures are logged and counted;
// the returned error is non-nil only when the store is unavailable, in which
// case the partial counts are still returned.
func Run[T, R any](ctx context.Context, spec Spec[T, R]) (Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stage", spec.Name))
	res := Result{Stage: spec.Name}

	defer func() {
		res.Duration = time.Since(start)
		metrics.ObserveStage(spec.Name, res.Succeeded, res.Failed, res.Skipped, res.Duration)
	}()

	if spec.Limit <= 0 {
		return res, nil
	}

	items, err := spec.Ready(ctx, spec.Limit)
	if err != nil {
		return res, eris.Wrapf(err, "stage: %s: select ready", spec.Name)
	}
	if len(items) > spec.Limit {
		items = items[:spec.Limit]
	}
	if len(items) == 0 {
		log.Debug("nothing ready")
		return res, nil
	}

	outs := transformAll(ctx, spec, items)

	for i, item := range items {
		if ctx.Err() != nil {
			return res, eris.Wrapf(ctx.Err(), "stage: %s: interrupted", spec.Name)
		}
		res.Attempted++
		id := spec.ID(item)

		if err := outs[i].err; err != nil {
			if errors.Is(err, ErrSkip) {
				res.Skipped++
				continue
			}
			res.Failed++
			log.Warn("stage: transform failed", zap.String("item_id", id), zap.Error(err))
			continue
		}

		if err := spec.Commit(ctx, item, outs[i].result); err != nil {
			if errors.Is(err, ErrSkip) {
				res.Skipped++
				continue
			}
			if !IsItemError(err) {
				return res, eris.Wrapf(err, "stage: %s: commit %s", spec.Name, id)
			}
			res.Failed++
			log.Warn("stage: commit failed", zap.String("item_id", id), zap.Error(err))
			continue
		}
		res.Succeeded++
	}

	log.Info("stage complete",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// transformAll runs Transform for every item, preserving batch order in the
// returned slice. Item errors are captured, not propagated.
func transformAll[T, R any](ctx context.Context, spec Spec[T, R], items []T) []outcome[R] {
	outs := make([]outcome[R], len(items))

	conc := spec.Concurrency
	if conc < 1 {
		conc = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for i, item := range items {
		g.Go(func() error {
			r, err := spec.Transform(gctx, item)
			outs[i] = outcome[R]{result: r, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

// IsItemError reports whether a commit error belongs to the single item
// being written (bad data, illegal state change) rather than the store.
func IsItemError(err error) bool {
	return errors.Is(err, model.ErrIllegalTransition) || db.IsDataError(err)
}
