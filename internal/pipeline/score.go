package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/scoring"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

type scored struct {
	subs  model.SubScores
	total int
}

// Score recomputes the composite score of every synthesized cluster whose
// score is older than its brief or its membership.
func (p *Pipeline) Score(ctx context.Context) (stage.Result, error) {
	return stage.Run(ctx, stage.Spec[model.Cluster, scored]{
		Name:  StageScore,
		Limit: p.cfg.ScoreBatch,
		Ready: p.Store.ClustersNeedingScore,
		ID:    clusterID,
		Transform: func(_ context.Context, c model.Cluster) (scored, error) {
			if c.Brief == nil {
				return scored{}, eris.Errorf("pipeline: cluster %d has no brief", c.ID)
			}
			subs, total := scoring.Compute(scoring.InputFor(&c), p.scoring)
			return scored{subs: subs, total: total}, nil
		},
		Commit: func(ctx context.Context, c model.Cluster, s scored) error {
			return staleAsSkip(p.Store.SaveScore(ctx, c, s.subs, s.total))
		},
	})
}
