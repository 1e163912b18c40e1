package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/acquire"
	"github.com/sells-group/painpoint-radar/internal/cursor"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

// Ingest pulls new content from the source whose turn it is in the list
// rotation and stores it as raw items.
func (p *Pipeline) Ingest(ctx context.Context) (stage.Result, error) {
	res := stage.Result{Stage: StageIngest}
	rot := scheduler.NewRotation(StageIngest, p.sources, p.Cursors)
	err := rot.Each(ctx, func(ctx context.Context, source string) error {
		r, err := p.ingestSource(ctx, source)
		res.Add(r)
		return err
	})
	return res, err
}

// ingestSource fetches source since its watermark and inserts every usable
// candidate, oldest first, so the watermark only ever covers stored items.
// A failed fetch counts as one failure; the source is retried on its next
// turn.
func (p *Pipeline) ingestSource(ctx context.Context, source string) (stage.Result, error) {
	log := zap.L().With(zap.String("stage", StageIngest), zap.String("source", source))
	owner := cursor.WatermarkOwner(source)

	mark, err := p.Cursors.Get(ctx, owner)
	if err != nil {
		return stage.Result{Stage: StageIngest}, eris.Wrapf(err, "pipeline: read watermark of %s", source)
	}
	var since time.Time
	if mark > 0 {
		// One second of overlap; dedup absorbs the repeats.
		since = time.Unix(mark-1, 0)
	}

	candidates, err := p.Source.Fetch(ctx, source, since)
	if err != nil {
		log.Warn("pipeline: fetch failed", zap.Error(err))
		return stage.Result{Stage: StageIngest, Attempted: 1, Failed: 1}, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	newest := mark
	res, err := stage.Run(ctx, stage.Spec[acquire.Candidate, string]{
		Name:  StageIngest,
		Limit: p.cfg.IngestBatch,
		Ready: func(context.Context, int) ([]acquire.Candidate, error) {
			return candidates, nil
		},
		ID: func(c acquire.Candidate) string { return c.Key(dedup.OriginIngest) },
		Transform: func(_ context.Context, c acquire.Candidate) (string, error) {
			if !c.Usable() {
				return "", eris.Wrap(stage.ErrSkip, "incomplete candidate")
			}
			return c.Key(dedup.OriginIngest), nil
		},
		Commit: func(ctx context.Context, c acquire.Candidate, key string) error {
			outcome, _, err := p.Items.InsertIfAbsent(ctx, key, c.RawItem(model.StateIngested))
			if err != nil {
				return err
			}
			if ts := c.CreatedAt.Unix(); ts > newest {
				newest = ts
			}
			if outcome == dedup.AlreadyPresent {
				return stage.ErrSkip
			}
			return nil
		},
	})
	if err != nil {
		return res, err
	}

	if newest > mark {
		if _, err := p.Cursors.Advance(ctx, owner, newest); err != nil {
			return res, eris.Wrapf(err, "pipeline: advance watermark of %s", source)
		}
	}
	log.Info("pipeline: source ingested",
		zap.Int("fetched", len(candidates)),
		zap.Int("inserted", res.Succeeded),
		zap.Time("watermark", time.Unix(newest, 0)),
	)
	return res, nil
}
