package pipeline

import (
	"context"
	"strings"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/stage"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

// Extract turns items that passed the filter into pain records.
func (p *Pipeline) Extract(ctx context.Context) (stage.Result, error) {
	ctx = oracle.WithStage(ctx, StageExtract)
	return stage.Run(ctx, stage.Spec[model.RawItem, model.PainRecord]{
		Name:        StageExtract,
		Limit:       p.cfg.ExtractBatch,
		Concurrency: p.cfg.Concurrency,
		Ready: func(ctx context.Context, limit int) ([]model.RawItem, error) {
			return p.Store.ItemsInState(ctx, model.StateFilterPassed, limit)
		},
		ID:        itemID,
		Transform: p.extract,
		Commit: func(ctx context.Context, it model.RawItem, rec model.PainRecord) error {
			_, err := p.Store.SaveExtraction(ctx, it, rec)
			return err
		},
	})
}

func (p *Pipeline) extract(ctx context.Context, it model.RawItem) (model.PainRecord, error) {
	var e oracle.Extraction
	if err := p.Oracle.Generate(ctx, it.Text, oracle.ExtractInstructions, &e); err != nil {
		return model.PainRecord{}, err
	}
	return model.PainRecord{
		RawItemID: it.ID,
		Problem:   strings.TrimSpace(e.Problem),
		Persona:   strings.TrimSpace(e.Persona),
		Severity:  e.Severity,
		Tags:      textnorm.Set(e.Tags),
		Keywords:  textnorm.Set(e.Keywords),
		Product:   strings.TrimSpace(e.Product),
		GapPhrase: strings.TrimSpace(e.GapPhrase),
		Region:    strings.ToUpper(strings.TrimSpace(e.Region)),
		Author:    it.Author,
		Source:    it.Source,
	}, nil
}
