package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/acquire"
	"github.com/sells-group/painpoint-radar/internal/alerts"
	"github.com/sells-group/painpoint-radar/internal/backval"
	"github.com/sells-group/painpoint-radar/internal/cluster"
	"github.com/sells-group/painpoint-radar/internal/cursor"
	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/metrics"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/pipeline"
	"github.com/sells-group/painpoint-radar/internal/resilience"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
	"github.com/sells-group/painpoint-radar/internal/store"
	anthropicpkg "github.com/sells-group/painpoint-radar/pkg/anthropic"
)

// storeEnv holds the database handles every command needs.
type storeEnv struct {
	Pool    *pgxpool.Pool
	Store   *store.PostgresStore
	Cursors *cursor.Store
}

// Close releases the pool.
func (e *storeEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// pipelineEnv adds the scheduler with every stage registered.
type pipelineEnv struct {
	*storeEnv
	Scheduler *scheduler.Scheduler
	Breakers  *resilience.Registry
}

// initStore validates cfg for mode, connects and applies pending
// migrations. Callers should defer env.Close().
func initStore(ctx context.Context, mode string) (*storeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return &storeEnv{
		Pool:    pool,
		Store:   store.NewPostgresStore(pool),
		Cursors: cursor.NewStore(pool),
	}, nil
}

// initPipeline builds the collaborators and registers all stages on a
// scheduler. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	se, err := initStore(ctx, mode)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilience.FromSettings(cfg.Oracle.FailureThreshold, cfg.Oracle.ResetTimeoutSecs)
	breakerCfg.OnChange = func(name string, from, to resilience.State) {
		metrics.SetBreakerOpen(name, to == resilience.Open)
		zap.L().Warn("breaker state changed",
			zap.String("collaborator", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	breakers := resilience.NewRegistry(breakerCfg)

	claude := oracle.NewClaude(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic, cfg.Oracle, breakers.Get("oracle"))
	source := acquire.NewReddit(cfg.Acquire, breakers.Get("acquire"))

	p := pipeline.New(pipeline.Deps{
		Store:    se.Store,
		Items:    dedup.New(se.Pool),
		Cursors:  se.Cursors,
		Source:   source,
		Oracle:   claude,
		Assigner: cluster.NewKeywordAssigner(se.Store, cfg.Pipeline.ClusterSimilarity),
	}, cfg)

	var notifier alerts.Notifier
	if w := alerts.NewWebhook(cfg.Alerts.WebhookURL); w != nil {
		notifier = w
		zap.L().Info("alert webhook enabled")
	}

	slot := time.Duration(cfg.Pipeline.SlotWidthMinutes) * time.Minute
	sched := scheduler.New(cfg.Pipeline.Stages, slot, se.Cursors.Log())
	p.Register(sched)
	sched.Register(backval.StageName, backval.New(se.Store, source, claude, cfg).Run)
	sched.Register(alerts.StageName, alerts.New(se.Store, cfg, notifier).Run)

	zap.L().Info("pipeline initialized",
		zap.Strings("stages", sched.Stages()),
		zap.Strings("sources", cfg.Acquire.Sources),
		zap.Duration("slot_width", slot),
	)

	return &pipelineEnv{storeEnv: se, Scheduler: sched, Breakers: breakers}, nil
}
