package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/cluster"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/stage"
	"github.com/sells-group/painpoint-radar/internal/store"
)

// Cluster places unclustered pain records, opening new clusters where no
// existing one is similar enough.
func (p *Pipeline) Cluster(ctx context.Context) (stage.Result, error) {
	opened := 0
	return stage.Run(ctx, stage.Spec[model.PainRecord, cluster.Assignment]{
		Name:  StageCluster,
		Limit: p.cfg.ClusterBatch,
		Ready: p.Store.UnclusteredRecords,
		ID:    recordID,
		Transform: func(ctx context.Context, rec model.PainRecord) (cluster.Assignment, error) {
			return p.Assigner.Assign(ctx, rec)
		},
		Commit: func(ctx context.Context, rec model.PainRecord, a cluster.Assignment) error {
			// Assignments were computed before this batch opened any
			// cluster; ask again so similar records land together.
			if a.IsNew() && opened > 0 {
				again, err := p.Assigner.Assign(ctx, rec)
				if err != nil {
					return eris.Wrapf(err, "pipeline: reassign record %d", rec.ID)
				}
				a = again
			}

			_, added, err := p.Store.Join(ctx, store.Membership{
				PainRecordID: rec.ID,
				ClusterID:    a.ClusterID,
				Signature:    a.Signature,
				Weight:       a.Similarity,
				Similarity:   a.Similarity,
				Origin:       model.OriginClustered,
			}, p.aggregates())
			if err != nil {
				return err
			}
			if !added {
				return stage.ErrSkip
			}
			if a.IsNew() {
				opened++
			}
			return nil
		},
	})
}
