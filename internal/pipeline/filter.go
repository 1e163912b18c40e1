package pipeline

import (
	"context"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

// Filter classifies ingested items and records a pass or reject decision
// for each.
func (p *Pipeline) Filter(ctx context.Context) (stage.Result, error) {
	ctx = oracle.WithStage(ctx, StageFilter)
	return stage.Run(ctx, stage.Spec[model.RawItem, model.FilterDecision]{
		Name:        StageFilter,
		Limit:       p.cfg.FilterBatch,
		Concurrency: p.cfg.Concurrency,
		Ready: func(ctx context.Context, limit int) ([]model.RawItem, error) {
			return p.Store.ItemsInState(ctx, model.StateIngested, limit)
		},
		ID:        itemID,
		Transform: p.judge,
		Commit:    p.Store.RecordFilterDecision,
	})
}

func (p *Pipeline) judge(ctx context.Context, it model.RawItem) (model.FilterDecision, error) {
	var j oracle.FilterJudgment
	if err := p.Oracle.Classify(ctx, it.Text, oracle.FilterInstructions, &j); err != nil {
		return model.FilterDecision{}, err
	}
	return model.FilterDecision{
		ContentKind: it.Kind,
		ContentID:   it.ID,
		English:     j.English,
		PainPoint:   j.PainPoint,
		Confidence:  j.Confidence,
		Category:    j.Category,
		Passes:      j.English && j.PainPoint && j.Confidence >= p.cfg.MinFilterConfidence,
		Reason:      j.Reason,
	}, nil
}
