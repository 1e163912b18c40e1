package model

import "time"

// AlertType identifies the detection rule that raised an alert.
type AlertType string

const (
	AlertNewCluster  AlertType = "new_cluster"
	AlertTrendSpike  AlertType = "trend_spike"
	AlertFeatureGap  AlertType = "feature_gap"
	AlertSeverityMix AlertType = "severity_concentration"
)

// Alert is a typed notification about a cluster, topic or product key.
type Alert struct {
	ID        int64          `json:"id"`
	Type      AlertType      `json:"type"`
	EntityKey string         `json:"entity_key"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}
