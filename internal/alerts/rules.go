package alerts

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/store"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

// ladder maps how far an observation is past its trigger to a severity.
func ladder(v, critical, high float64) model.Severity {
	switch {
	case v >= critical:
		return model.SeverityCritical
	case v >= high:
		return model.SeverityHigh
	default:
		return model.SeverityMedium
	}
}

func clusterKey(id int64) string { return "cluster:" + strconv.FormatInt(id, 10) }

// NewClusters raises one alert per cluster that recently reached the
// qualifying member count.
func NewClusters(clusters []model.Cluster, minMembers int) []model.Alert {
	if minMembers < 1 {
		minMembers = 1
	}
	out := make([]model.Alert, 0, len(clusters))
	for _, c := range clusters {
		label := fmt.Sprintf("cluster %d", c.ID)
		if c.Brief != nil && c.Brief.Title != "" {
			label = fmt.Sprintf("%q", c.Brief.Title)
		}
		out = append(out, model.Alert{
			Type:      model.AlertNewCluster,
			EntityKey: clusterKey(c.ID),
			Severity:  ladder(float64(c.MemberCount)/float64(minMembers), 4, 2),
			Message:   fmt.Sprintf("New opportunity %s with %d members", label, c.MemberCount),
			Details: map[string]any{
				"cluster_id":     c.ID,
				"member_count":   c.MemberCount,
				"unique_authors": c.UniqueAuthorCount,
			},
		})
	}
	return out
}

// TrendSpikes raises an alert for every tag whose volume in the current
// window is at least SpikeMultiple times its average over the baseline
// windows. A tag with no history counts as a baseline of one.
func TrendSpikes(vols []store.TagVolume, cfg config.AlertsConfig) []model.Alert {
	windows := cfg.SpikeBaselineWindows
	if windows < 1 {
		windows = 1
	}
	var out []model.Alert
	for _, v := range vols {
		if v.Current < cfg.SpikeMinVolume {
			continue
		}
		baseline := float64(v.Baseline) / float64(windows)
		if baseline < 1 {
			baseline = 1
		}
		ratio := float64(v.Current) / baseline
		if ratio < cfg.SpikeMultiple {
			continue
		}
		out = append(out, model.Alert{
			Type:      model.AlertTrendSpike,
			EntityKey: "tag:" + v.Tag,
			Severity:  ladder(ratio, 2*cfg.SpikeMultiple, 1.5*cfg.SpikeMultiple),
			Message: fmt.Sprintf("Tag %q spiked to %d mentions in %dh (%.1fx baseline)",
				v.Tag, v.Current, cfg.SpikeWindowHours, ratio),
			Details: map[string]any{
				"tag":      v.Tag,
				"current":  v.Current,
				"baseline": baseline,
				"ratio":    ratio,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityKey < out[j].EntityKey })
	return out
}

// FeatureGaps groups gap mentions by normalized product and phrase and
// raises an alert for each group seen at least minOccurrences times.
func FeatureGaps(mentions []store.GapMention, minOccurrences int) []model.Alert {
	type group struct {
		product, phrase string
		count           int
	}
	groups := map[string]*group{}
	var order []string
	for _, m := range mentions {
		product, phrase := textnorm.Phrase(m.Product), textnorm.Phrase(m.GapPhrase)
		if product == "" || phrase == "" {
			continue
		}
		key := "gap:" + product + "|" + phrase
		g, ok := groups[key]
		if !ok {
			g = &group{product: m.Product, phrase: m.GapPhrase}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}
	sort.Strings(order)

	var out []model.Alert
	for _, key := range order {
		g := groups[key]
		if g.count < minOccurrences {
			continue
		}
		n := float64(minOccurrences)
		out = append(out, model.Alert{
			Type:      model.AlertFeatureGap,
			EntityKey: key,
			Severity:  ladder(float64(g.count), 3*n, 2*n),
			Message:   fmt.Sprintf("%s users keep asking for %q (%d mentions)", g.product, g.phrase, g.count),
			Details: map[string]any{
				"product":    g.product,
				"gap_phrase": g.phrase,
				"count":      g.count,
			},
		})
	}
	return out
}

// SeverityConcentrations raises an alert for every cluster whose recent
// members are mostly critical or high severity.
func SeverityConcentrations(mixes []store.SeverityMix, cfg config.AlertsConfig) []model.Alert {
	var out []model.Alert
	for _, m := range mixes {
		if m.Total == 0 || m.Severe < cfg.SeverityMinCount {
			continue
		}
		ratio := float64(m.Severe) / float64(m.Total)
		if ratio < cfg.SeverityRatio {
			continue
		}
		out = append(out, model.Alert{
			Type:      model.AlertSeverityMix,
			EntityKey: clusterKey(m.ClusterID),
			Severity:  ladder(ratio, 0.9, 0.7),
			Message: fmt.Sprintf("Cluster %d: %d of %d recent reports are high severity",
				m.ClusterID, m.Severe, m.Total),
			Details: map[string]any{
				"cluster_id": m.ClusterID,
				"severe":     m.Severe,
				"total":      m.Total,
				"ratio":      ratio,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityKey < out[j].EntityKey })
	return out
}
