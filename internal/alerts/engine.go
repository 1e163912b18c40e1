// Package alerts detects notable changes in pipeline output and records
// them as deduplicated alerts.
package alerts

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/metrics"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/stage"
	"github.com/sells-group/painpoint-radar/internal/store"
)

// StageName is the scheduler name of the alert stage.
const StageName = "alerts"

// maxPerRun caps the alerts one run can write.
const maxPerRun = 500

// Store is the persistence the detector needs.
type Store interface {
	QualifiedSince(ctx context.Context, window time.Duration) ([]model.Cluster, error)
	TagVolumes(ctx context.Context, window time.Duration, baselineWindows int) ([]store.TagVolume, error)
	GapMentions(ctx context.Context, window time.Duration) ([]store.GapMention, error)
	SeverityMixes(ctx context.Context, window time.Duration) ([]store.SeverityMix, error)
	InsertAlert(ctx context.Context, a model.Alert, suppression time.Duration) (int64, bool, error)
	SweepAlerts(ctx context.Context, retention time.Duration) (int64, error)
}

// Notifier delivers newly created alerts and reports how many it sent.
type Notifier interface {
	Notify(ctx context.Context, alerts []model.Alert) int
}

// Engine evaluates the detection rules.
type Engine struct {
	store      Store
	cfg        config.AlertsConfig
	minMembers int
	notifier   Notifier
}

// New creates an Engine. notifier may be nil.
func New(s Store, cfg *config.Config, notifier Notifier) *Engine {
	return &Engine{
		store:      s,
		cfg:        cfg.Alerts,
		minMembers: cfg.Pipeline.MinClusterMembers,
		notifier:   notifier,
	}
}

func hours(h int) time.Duration { return time.Duration(h) * time.Hour }

// Detect evaluates every rule against current data without writing.
func (e *Engine) Detect(ctx context.Context) ([]model.Alert, error) {
	var fresh, spikes, gaps, severe []model.Alert

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clusters, err := e.store.QualifiedSince(gctx, hours(e.cfg.NewClusterWindowHours))
		if err != nil {
			return err
		}
		fresh = NewClusters(clusters, e.minMembers)
		return nil
	})
	g.Go(func() error {
		vols, err := e.store.TagVolumes(gctx, hours(e.cfg.SpikeWindowHours), e.cfg.SpikeBaselineWindows)
		if err != nil {
			return err
		}
		spikes = TrendSpikes(vols, e.cfg)
		return nil
	})
	g.Go(func() error {
		mentions, err := e.store.GapMentions(gctx, hours(e.cfg.GapWindowHours))
		if err != nil {
			return err
		}
		gaps = FeatureGaps(mentions, e.cfg.GapMinOccurrences)
		return nil
	})
	g.Go(func() error {
		mixes, err := e.store.SeverityMixes(gctx, hours(e.cfg.SeverityWindowHours))
		if err != nil {
			return err
		}
		severe = SeverityConcentrations(mixes, e.cfg)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "alerts: detect")
	}

	out := make([]model.Alert, 0, len(fresh)+len(spikes)+len(gaps)+len(severe))
	out = append(out, fresh...)
	out = append(out, spikes...)
	out = append(out, gaps...)
	return append(out, severe...), nil
}

// Run detects, stores the alerts that are not suppressed, sweeps old read
// alerts and notifies. Suppressed alerts count as skipped.
func (e *Engine) Run(ctx context.Context) (stage.Result, error) {
	suppression := hours(e.cfg.SuppressionHours)
	var created []model.Alert

	res, err := stage.Run(ctx, stage.Spec[model.Alert, model.Alert]{
		Name:  StageName,
		Limit: maxPerRun,
		Ready: func(ctx context.Context, _ int) ([]model.Alert, error) {
			return e.Detect(ctx)
		},
		ID:        func(a model.Alert) string { return string(a.Type) + "/" + a.EntityKey },
		Transform: func(_ context.Context, a model.Alert) (model.Alert, error) { return a, nil },
		Commit: func(ctx context.Context, a model.Alert, _ model.Alert) error {
			id, ok, err := e.store.InsertAlert(ctx, a, suppression)
			if err != nil {
				return err
			}
			if !ok {
				return eris.Wrapf(stage.ErrSkip, "alerts: %s/%s suppressed", a.Type, a.EntityKey)
			}
			a.ID = id
			created = append(created, a)
			metrics.AlertCreated(string(a.Type))
			return nil
		},
	})
	if err != nil {
		return res, err
	}

	if _, err := e.Sweep(ctx); err != nil {
		return res, err
	}

	if e.notifier != nil && len(created) > 0 {
		sent := e.notifier.Notify(ctx, created)
		zap.L().Info("alerts: notified", zap.Int("created", len(created)), zap.Int("sent", sent))
	}
	return res, nil
}

// Sweep deletes read alerts older than the retention horizon.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	n, err := e.store.SweepAlerts(ctx, hours(24*e.cfg.RetentionDays))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("alerts: swept read alerts", zap.Int64("deleted", n))
	}
	return n, nil
}
