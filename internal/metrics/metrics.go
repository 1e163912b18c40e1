// Package metrics exposes Prometheus collectors for stage invocations,
// oracle calls and alerts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "painpoint"

// Item outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	stageItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Items processed by a stage, partitioned by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_invocations_total",
			Help:      "Stage invocations, partitioned by trigger and whether the invocation aborted.",
		},
		[]string{"stage", "trigger", "aborted"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Stage batch latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls, partitioned by call kind and result.",
		},
		[]string{"kind", "result"},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts persisted, partitioned by rule.",
		},
		[]string{"type"},
	)

	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 when the collaborator's breaker is open.",
		},
		[]string{"collaborator"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		stageItemsTotal,
		stageInvocationsTotal,
		stageDurationSeconds,
		oracleCallsTotal,
		alertsCreatedTotal,
		breakerOpen,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveStage records the item counts and latency of one stage batch.
func ObserveStage(stage string, succeeded, failed, skipped int, duration time.Duration) {
	stageItemsTotal.WithLabelValues(stage, OutcomeSucceeded).Add(float64(succeeded))
	stageItemsTotal.WithLabelValues(stage, OutcomeFailed).Add(float64(failed))
	stageItemsTotal.WithLabelValues(stage, OutcomeSkipped).Add(float64(skipped))
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveInvocation counts one scheduler invocation.
func ObserveInvocation(stage, trigger string, aborted bool) {
	label := "false"
	if aborted {
		label = "true"
	}
	stageInvocationsTotal.WithLabelValues(stage, trigger, label).Inc()
}

// ObserveOracle counts one oracle call. result is "ok", "malformed" or "error".
func ObserveOracle(kind, result string) {
	oracleCallsTotal.WithLabelValues(kind, result).Inc()
}

// AlertCreated counts one persisted alert.
func AlertCreated(alertType string) {
	alertsCreatedTotal.WithLabelValues(alertType).Inc()
}

// SetBreakerOpen publishes a collaborator's breaker state.
func SetBreakerOpen(collaborator string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerOpen.WithLabelValues(collaborator).Set(v)
}
