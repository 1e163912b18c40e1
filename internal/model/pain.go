package model

import "time"

// Severity is the tier assigned to a pain statement or an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is one of the known tiers.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// IsSevere reports whether s counts toward high-severity concentration.
func (s Severity) IsSevere() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// SevereLevels returns the tiers for which IsSevere holds, as stored strings.
func SevereLevels() []string {
	var out []string
	for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if s.IsSevere() {
			out = append(out, string(s))
		}
	}
	return out
}

// FilterDecision is the append-only verdict of the filter stage for one
// piece of content.
type FilterDecision struct {
	ContentKind ContentKind `json:"content_kind"`
	ContentID   int64       `json:"content_id"`
	English     bool        `json:"english"`
	PainPoint   bool        `json:"pain_point"`
	Confidence  float64     `json:"confidence"`
	Category    string      `json:"category"`
	Passes      bool        `json:"passes"`
	Reason      string      `json:"reason"`
	DecidedAt   time.Time   `json:"decided_at"`
}

// PainRecord is a structured pain statement extracted from a passing item.
type PainRecord struct {
	ID         int64     `json:"id"`
	RawItemID  int64     `json:"raw_item_id"`
	Problem    string    `json:"problem"`
	Persona    string    `json:"persona"`
	Severity   Severity  `json:"severity"`
	Tags       []string  `json:"tags"`
	Keywords   []string  `json:"keywords"`
	Product    string    `json:"product,omitempty"`
	GapPhrase  string    `json:"gap_phrase,omitempty"`
	Region     string    `json:"region,omitempty"`
	Author     string    `json:"author"`
	Source     string    `json:"source"`
	ClusterID  *int64    `json:"cluster_id,omitempty"`
	Similarity *float64  `json:"similarity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
