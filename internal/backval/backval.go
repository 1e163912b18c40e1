// Package backval searches for more evidence on established clusters. New
// evidence joins the cluster as back-validated members, which makes its
// score stale; every visited cluster then sits out a cooldown.
package backval

import (
	"context"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/painpoint-radar/internal/acquire"
	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/stage"
	"github.com/sells-group/painpoint-radar/internal/store"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

// StageName is the scheduler name of the back-validation stage.
const StageName = "backvalidate"

// maxProblemLen bounds the problem text stored for back-validated evidence.
const maxProblemLen = 280

// Store is the persistence back-validation needs.
type Store interface {
	ClustersForBackvalidation(ctx context.Context, threshold int, cooldown time.Duration, limit int) ([]model.Cluster, error)
	AddEvidence(ctx context.Context, clusterID int64, key string, item model.RawItem, rec model.PainRecord, agg store.Aggregates) (bool, error)
	MarkBackvalidated(ctx context.Context, clusterID int64) error
}

// Evidence is a search hit the oracle judged relevant to a cluster.
type Evidence struct {
	Candidate acquire.Candidate
	Directive string
	Relevance oracle.Relevance
}

// Validator runs back-validation batches.
type Validator struct {
	store       Store
	source      acquire.Source
	oracle      oracle.Oracle
	cfg         config.BackvalConfig
	agg         store.Aggregates
	concurrency int
}

// New creates a Validator.
func New(s Store, src acquire.Source, o oracle.Oracle, cfg *config.Config) *Validator {
	conc := cfg.Pipeline.Concurrency
	if conc < 1 {
		conc = 1
	}
	return &Validator{
		store:  s,
		source: src,
		oracle: o,
		cfg:    cfg.Backval,
		agg: store.Aggregates{
			TargetRegion: cfg.Scoring.TargetRegion,
			QualifyAt:    cfg.Pipeline.MinClusterMembers,
		},
		concurrency: conc,
	}
}

// Run back-validates the clusters that are due, most members first.
func (v *Validator) Run(ctx context.Context) (stage.Result, error) {
	ctx = oracle.WithStage(ctx, StageName)
	cooldown := time.Duration(v.cfg.CooldownHours) * time.Hour
	return stage.Run(ctx, stage.Spec[model.Cluster, []Evidence]{
		Name:  StageName,
		Limit: v.cfg.Batch,
		Ready: func(ctx context.Context, limit int) ([]model.Cluster, error) {
			return v.store.ClustersForBackvalidation(ctx, v.cfg.Threshold, cooldown, limit)
		},
		ID:        func(c model.Cluster) string { return strconv.FormatInt(c.ID, 10) },
		Transform: v.gather,
		Commit:    v.commit,
	})
}

// Directives derives up to max search queries from what is stored on the
// cluster: brief keywords first, then the signature.
func Directives(c model.Cluster, max int) []string {
	var pool []string
	if c.Brief != nil {
		pool = append(pool, c.Brief.Keywords...)
	}
	pool = append(pool, c.Signature...)

	seen := make(map[string]bool, len(pool))
	var out []string
	for _, k := range pool {
		k = textnorm.Phrase(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// gather searches every directive concurrently and asks the oracle about
// each distinct hit. Search and oracle failures only shrink the evidence.
func (v *Validator) gather(ctx context.Context, c model.Cluster) ([]Evidence, error) {
	log := zap.L().With(zap.String("stage", StageName), zap.Int64("cluster_id", c.ID))
	directives := Directives(c, v.cfg.MaxDirectives)
	if len(directives) == 0 {
		return nil, nil
	}

	hits := make([][]acquire.Candidate, len(directives))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range directives {
		g.Go(func() error {
			found, err := v.source.Search(gctx, d, v.cfg.ResultsPerQuery)
			if err != nil {
				log.Warn("backval: search failed", zap.String("directive", d), zap.Error(err))
				return nil
			}
			hits[i] = found
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type hit struct {
		cand      acquire.Candidate
		directive string
	}
	var unique []hit
	seen := map[string]bool{}
	for i, found := range hits {
		for _, cand := range found {
			key := cand.Key(dedup.OriginBackval)
			if !cand.Usable() || seen[key] {
				continue
			}
			seen[key] = true
			unique = append(unique, hit{cand: cand, directive: directives[i]})
		}
	}
	if v.cfg.MaxCandidates > 0 && len(unique) > v.cfg.MaxCandidates {
		unique = unique[:v.cfg.MaxCandidates]
	}

	title, summary := "", ""
	if c.Brief != nil {
		title, summary = c.Brief.Title, c.Brief.Summary
	}
	instructions := oracle.RelevanceInstructions(title, summary)

	var (
		mu       sync.Mutex
		accepted = make([]*Evidence, len(unique))
	)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, h := range unique {
		g.Go(func() error {
			var rel oracle.Relevance
			if err := v.oracle.Classify(gctx, h.cand.Text, instructions, &rel); err != nil {
				log.Warn("backval: relevance check failed",
					zap.String("candidate", h.cand.ExternalID), zap.Error(err))
				return nil
			}
			if !rel.Match {
				return nil
			}
			mu.Lock()
			accepted[i] = &Evidence{Candidate: h.cand, Directive: h.directive, Relevance: rel}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Evidence
	for _, e := range accepted {
		if e != nil {
			out = append(out, *e)
		}
	}
	log.Debug("backval: evidence gathered",
		zap.Int("directives", len(directives)),
		zap.Int("candidates", len(unique)),
		zap.Int("accepted", len(out)),
	)
	return out, nil
}

// commit writes accepted evidence one item at a time, then starts the
// cluster's cooldown whether or not anything was added.
func (v *Validator) commit(ctx context.Context, c model.Cluster, evidence []Evidence) error {
	log := zap.L().With(zap.String("stage", StageName), zap.Int64("cluster_id", c.ID))

	added := 0
	for _, e := range evidence {
		ok, err := v.store.AddEvidence(ctx, c.ID,
			e.Candidate.Key(dedup.OriginBackval),
			e.Candidate.RawItem(model.StateBackvalidated),
			evidenceRecord(e),
			v.agg,
		)
		if err != nil {
			if !stage.IsItemError(err) {
				return err
			}
			log.Warn("backval: evidence rejected", zap.String("candidate", e.Candidate.ExternalID), zap.Error(err))
			continue
		}
		if ok {
			added++
		}
	}

	if err := v.store.MarkBackvalidated(ctx, c.ID); err != nil {
		return err
	}
	log.Info("backval: cluster visited", zap.Int("accepted", len(evidence)), zap.Int("added", added))
	return nil
}

// evidenceRecord is the pain record stored for a back-validated hit.
func evidenceRecord(e Evidence) model.PainRecord {
	return model.PainRecord{
		Problem:  truncate(e.Candidate.Text, maxProblemLen),
		Severity: e.Relevance.Severity,
		Keywords: []string{e.Directive},
		Author:   e.Candidate.Author,
		Source:   e.Candidate.Source,
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
