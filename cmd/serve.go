package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/metrics"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/scheduler"
	"github.com/sells-group/painpoint-radar/internal/stage"
)

var (
	servePort     int
	serveSchedule bool
)

// stageRunner triggers stages. *scheduler.Scheduler implements it.
type stageRunner interface {
	RunStage(ctx context.Context, name, trigger string) (stage.Result, error)
	Tick(ctx context.Context, now time.Time) (stage.Result, error)
}

// readStore serves the read and acknowledge endpoints.
// *store.PostgresStore implements it.
type readStore interface {
	ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id int64) (bool, error)
	TopClusters(ctx context.Context, limit int) ([]model.Cluster, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long:  "Serves stage triggers, alerts, clusters and Prometheus metrics. With --schedule it also ticks the rotation in-process.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return eris.Wrap(err, "register metrics")
		}

		if serveSchedule {
			go env.Scheduler.Run(ctx, 0)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Scheduler, env.Store, reg, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("schedule", serveSchedule))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(runner stageRunner, st readStore, gatherer prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/tick", func(w http.ResponseWriter, req *http.Request) {
		res, err := runner.Tick(req.Context(), time.Now())
		writeStageResult(w, res, err)
	})
	r.Post("/stages/{stage}", func(w http.ResponseWriter, req *http.Request) {
		res, err := runner.RunStage(req.Context(), chi.URLParam(req, "stage"), scheduler.TriggerManual)
		writeStageResult(w, res, err)
	})

	r.Get("/alerts", func(w http.ResponseWriter, req *http.Request) {
		unread := req.URL.Query().Get("unread") == "true"
		list, err := st.ListAlerts(req.Context(), unread, queryInt(req, "limit", 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"alerts": orEmpty(list)})
	})
	r.Post("/alerts/{id}/read", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid alert id"))
			return
		}
		ok, err := st.MarkAlertRead(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, eris.Errorf("alert %d not found or already read", id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "read": true})
	})

	r.Get("/clusters", func(w http.ResponseWriter, req *http.Request) {
		list, err := st.TopClusters(req.Context(), queryInt(req, "limit", 20))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"clusters": orEmpty(list)})
	})

	return r
}

func writeStageResult(w http.ResponseWriter, res stage.Result, err error) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownStage):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"result": res, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"result": res})
	}
}

func queryInt(req *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(req.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func orEmpty[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", true, "tick the stage rotation in-process")
	rootCmd.AddCommand(serveCmd)
}
