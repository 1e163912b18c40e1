package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/painpoint-radar/internal/pipeline"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run the stage owning the current time slot",
	Long:  "Runs one bounded batch of whichever stage the wall-clock time slot selects. Meant to be called by cron.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Scheduler.Tick(ctx, time.Now())
		if err != nil {
			return err
		}
		return printResult(os.Stdout, res)
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Run one batch of a named stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNamedStage(cmd, args[0])
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest from the next source in the rotation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runNamedStage(cmd, pipeline.StageIngest)
	},
}

func runNamedStage(cmd *cobra.Command, name string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initPipeline(ctx, "pipeline")
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Scheduler.RunStage(ctx, name, scheduler.TriggerManual)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res)
}

func printResult(w io.Writer, res stage.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	rootCmd.AddCommand(tickCmd, stageCmd, ingestCmd)
}
