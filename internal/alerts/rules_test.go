package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/store"
)

func rulesConfig() config.AlertsConfig {
	return config.AlertsConfig{
		SpikeWindowHours:     6,
		SpikeBaselineWindows: 4,
		SpikeMultiple:        3,
		SpikeMinVolume:       5,
		GapMinOccurrences:    3,
		SeverityRatio:        0.5,
		SeverityMinCount:     3,
	}
}

func TestNewClusters_SeverityLadder(t *testing.T) {
	got := NewClusters([]model.Cluster{
		{ID: 1, MemberCount: 3},
		{ID: 2, MemberCount: 6, Brief: &model.Brief{Title: "Payroll errors"}},
		{ID: 3, MemberCount: 12},
	}, 3)

	require.Len(t, got, 3)
	assert.Equal(t, "cluster:1", got[0].EntityKey)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, model.SeverityHigh, got[1].Severity)
	assert.Contains(t, got[1].Message, `"Payroll errors"`)
	assert.Equal(t, model.SeverityCritical, got[2].Severity)
	for _, a := range got {
		assert.Equal(t, model.AlertNewCluster, a.Type)
	}
}

func TestTrendSpikes(t *testing.T) {
	got := TrendSpikes([]store.TagVolume{
		{Tag: "invoicing", Current: 12, Baseline: 16}, // 12 / 4 = 3x
		{Tag: "payroll", Current: 30, Baseline: 20},   // 30 / 5 = 6x
		{Tag: "hiring", Current: 10, Baseline: 20},    // 2x, below multiple
		{Tag: "taxes", Current: 4, Baseline: 0},       // below min volume
		{Tag: "crm", Current: 5, Baseline: 0},         // no history: baseline 1
	}, rulesConfig())

	require.Len(t, got, 3)
	byKey := map[string]model.Alert{}
	for _, a := range got {
		assert.Equal(t, model.AlertTrendSpike, a.Type)
		byKey[a.EntityKey] = a
	}
	assert.Equal(t, model.SeverityMedium, byKey["tag:invoicing"].Severity)
	assert.Equal(t, model.SeverityCritical, byKey["tag:payroll"].Severity)
	assert.Equal(t, model.SeverityHigh, byKey["tag:crm"].Severity)
	assert.NotContains(t, byKey, "tag:hiring")
}

func TestFeatureGaps_GroupsNormalizedPhrases(t *testing.T) {
	mentions := []store.GapMention{
		{Product: "QuickBooks", GapPhrase: "Auto-export to CSV!"},
		{Product: "quickbooks", GapPhrase: "auto-export to csv"},
		{Product: "QUICKBOOKS", GapPhrase: "  auto-export   to CSV"},
		{Product: "Gusto", GapPhrase: "multi-state payroll"},
		{Product: "Gusto", GapPhrase: "multi-state payroll"},
		{Product: "", GapPhrase: "anything"},
	}

	got := FeatureGaps(mentions, 3)
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertFeatureGap, got[0].Type)
	assert.Equal(t, "gap:quickbooks|auto-export to csv", got[0].EntityKey)
	assert.Equal(t, 3, got[0].Details["count"])
	assert.Equal(t, model.SeverityMedium, got[0].Severity)

	for range 6 {
		mentions = append(mentions, store.GapMention{Product: "quickbooks", GapPhrase: "auto-export to csv"})
	}
	got = FeatureGaps(mentions, 3)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
}

func TestSeverityConcentrations(t *testing.T) {
	got := SeverityConcentrations([]store.SeverityMix{
		{ClusterID: 1, Total: 10, Severe: 5},  // 0.5
		{ClusterID: 2, Total: 4, Severe: 3},   // 0.75
		{ClusterID: 3, Total: 10, Severe: 10}, // 1.0
		{ClusterID: 4, Total: 4, Severe: 2},   // below min count
		{ClusterID: 5, Total: 20, Severe: 6},  // below ratio
		{ClusterID: 6, Total: 0, Severe: 0},
	}, rulesConfig())

	require.Len(t, got, 3)
	assert.Equal(t, "cluster:1", got[0].EntityKey)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, model.SeverityHigh, got[1].Severity)
	assert.Equal(t, model.SeverityCritical, got[2].Severity)
}
