package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

// briefEvidence bounds the member records sent to the oracle per brief.
const briefEvidence = 25

// Synthesize writes a brief for every qualifying cluster whose membership
// changed since its last brief.
func (p *Pipeline) Synthesize(ctx context.Context) (stage.Result, error) {
	ctx = oracle.WithStage(ctx, StageSynthesize)
	return stage.Run(ctx, stage.Spec[model.Cluster, model.Brief]{
		Name:        StageSynthesize,
		Limit:       p.cfg.SynthesizeBatch,
		Concurrency: p.cfg.Concurrency,
		Ready: func(ctx context.Context, limit int) ([]model.Cluster, error) {
			return p.Store.ClustersNeedingSynthesis(ctx, p.cfg.MinClusterMembers, limit)
		},
		ID:        clusterID,
		Transform: p.synthesize,
		Commit: func(ctx context.Context, c model.Cluster, b model.Brief) error {
			return staleAsSkip(p.Store.SaveBrief(ctx, c, b))
		},
	})
}

func (p *Pipeline) synthesize(ctx context.Context, c model.Cluster) (model.Brief, error) {
	recs, err := p.Store.ClusterRecords(ctx, c.ID, briefEvidence)
	if err != nil {
		return model.Brief{}, eris.Wrapf(err, "pipeline: load members of cluster %d", c.ID)
	}
	if len(recs) == 0 {
		return model.Brief{}, eris.Errorf("pipeline: cluster %d has no members", c.ID)
	}

	var draft oracle.BriefDraft
	if err := p.Oracle.Generate(ctx, evidenceText(c, recs), oracle.SynthesizeInstructions, &draft); err != nil {
		return model.Brief{}, err
	}
	b := draft.Brief()
	if len(b.Keywords) == 0 {
		b.Keywords = c.Signature
	}
	return b, nil
}

// evidenceText renders a cluster's member records as the oracle's input.
func evidenceText(c model.Cluster, recs []model.PainRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(c.Signature, ", "))
	fmt.Fprintf(&sb, "Members: %d from %d authors across %d sources\n\n",
		c.MemberCount, c.UniqueAuthorCount, c.UniqueSourceCount)
	for _, r := range recs {
		fmt.Fprintf(&sb, "- [%s] %s", r.Severity, r.Problem)
		if r.Persona != "" {
			fmt.Fprintf(&sb, " (%s)", r.Persona)
		}
		if r.Product != "" && r.GapPhrase != "" {
			fmt.Fprintf(&sb, " missing in %s: %s", r.Product, r.GapPhrase)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
