// Package pipeline implements the scheduled stages that carry content from
// ingestion to a scored cluster: ingest, filter, extract, cluster,
// synthesize and score.
package pipeline

import (
	"context"
	"errors"
	"strconv"

	"github.com/sells-group/painpoint-radar/internal/acquire"
	"github.com/sells-group/painpoint-radar/internal/cluster"
	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
	"github.com/sells-group/painpoint-radar/internal/stage"
	"github.com/sells-group/painpoint-radar/internal/store"
)

// Stage names.
const (
	StageIngest     = "ingest"
	StageFilter     = "filter"
	StageExtract    = "extract"
	StageCluster    = "cluster"
	StageSynthesize = "synthesize"
	StageScore      = "score"
)

// Store is the persistence the stages read ready rows from and commit to.
type Store interface {
	ItemsInState(ctx context.Context, state model.ItemState, limit int) ([]model.RawItem, error)
	RecordFilterDecision(ctx context.Context, item model.RawItem, d model.FilterDecision) error
	SaveExtraction(ctx context.Context, item model.RawItem, rec model.PainRecord) (int64, error)
	UnclusteredRecords(ctx context.Context, limit int) ([]model.PainRecord, error)
	Join(ctx context.Context, m store.Membership, agg store.Aggregates) (int64, bool, error)
	ClustersNeedingSynthesis(ctx context.Context, minMembers, limit int) ([]model.Cluster, error)
	ClusterRecords(ctx context.Context, clusterID int64, limit int) ([]model.PainRecord, error)
	SaveBrief(ctx context.Context, c model.Cluster, brief model.Brief) error
	ClustersNeedingScore(ctx context.Context, limit int) ([]model.Cluster, error)
	SaveScore(ctx context.Context, c model.Cluster, subs model.SubScores, total int) error
}

// Inserter writes raw items through the dedup layer.
type Inserter interface {
	InsertIfAbsent(ctx context.Context, key string, item model.RawItem) (dedup.Outcome, int64, error)
}

// Cursors reads and advances rotation cursors and watermarks.
type Cursors interface {
	scheduler.CursorStore
	Get(ctx context.Context, owner string) (int64, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store    Store
	Items    Inserter
	Cursors  Cursors
	Source   acquire.Source
	Oracle   oracle.Oracle
	Assigner cluster.Assigner
}

// Pipeline runs the content stages.
type Pipeline struct {
	Deps
	cfg     config.PipelineConfig
	scoring config.ScoringConfig
	sources []string
}

// New creates a Pipeline.
func New(d Deps, cfg *config.Config) *Pipeline {
	return &Pipeline{
		Deps:    d,
		cfg:     cfg.Pipeline,
		scoring: cfg.Scoring,
		sources: cfg.Acquire.Sources,
	}
}

// Register adds every content stage to s.
func (p *Pipeline) Register(s *scheduler.Scheduler) {
	s.Register(StageIngest, p.Ingest)
	s.Register(StageFilter, p.Filter)
	s.Register(StageExtract, p.Extract)
	s.Register(StageCluster, p.Cluster)
	s.Register(StageSynthesize, p.Synthesize)
	s.Register(StageScore, p.Score)
}

func (p *Pipeline) aggregates() store.Aggregates {
	return store.Aggregates{
		TargetRegion: p.scoring.TargetRegion,
		QualifyAt:    p.cfg.MinClusterMembers,
	}
}

func itemID(it model.RawItem) string     { return strconv.FormatInt(it.ID, 10) }
func recordID(r model.PainRecord) string { return strconv.FormatInt(r.ID, 10) }
func clusterID(c model.Cluster) string   { return strconv.FormatInt(c.ID, 10) }

// staleAsSkip leaves a cluster that changed under a commit for the next
// batch instead of counting it as failed.
func staleAsSkip(err error) error {
	if errors.Is(err, model.ErrStale) {
		return stage.ErrSkip
	}
	return err
}
