package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/painpoint-radar/internal/cursor"
	"github.com/sells-group/painpoint-radar/internal/pipeline"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
)

// statusReport is printed by the status command.
type statusReport struct {
	SlotStage     string              `yaml:"slot_stage"`
	NextSource    string              `yaml:"next_source,omitempty"`
	IngestRuns    int64               `yaml:"ingest_runs"`
	CompletedRuns map[string]int64    `yaml:"completed_runs"`
	RecentRuns    []cursor.Invocation `yaml:"recent_runs"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler position and recent invocations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		report, err := buildStatus(ctx, env.Cursors, time.Now(), limit)
		if err != nil {
			return err
		}
		return writeStatus(os.Stdout, report)
	},
}

func buildStatus(ctx context.Context, cursors *cursor.Store, now time.Time, limit int) (*statusReport, error) {
	stages := cfg.Pipeline.Stages
	slot := time.Duration(cfg.Pipeline.SlotWidthMinutes) * time.Minute

	report := &statusReport{CompletedRuns: make(map[string]int64, len(stages))}
	if len(stages) > 0 {
		report.SlotStage = stages[scheduler.SlotIndex(now, slot, len(stages))]
	}

	if len(cfg.Acquire.Sources) > 0 {
		next, runs, err := scheduler.NewRotation(pipeline.StageIngest, cfg.Acquire.Sources, cursors).Pick(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "status: ingest rotation")
		}
		report.NextSource, report.IngestRuns = next, runs
	}

	for _, name := range stages {
		n, err := cursors.Log().CountComplete(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "status: count %s", name)
		}
		report.CompletedRuns[name] = n
	}

	recent, err := cursors.Log().ListRecent(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "status: recent invocations")
	}
	report.RecentRuns = recent
	return report, nil
}

func writeStatus(w io.Writer, report *statusReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return eris.Wrap(err, "status: encode")
	}
	return enc.Close()
}

func init() {
	statusCmd.Flags().Int("limit", 20, "recent invocations to show")
	rootCmd.AddCommand(statusCmd)
}
