package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// MembershipOrigin tags how a pain record joined a cluster.
type MembershipOrigin string

const (
	OriginClustered     MembershipOrigin = "clustered"
	OriginBackvalidated MembershipOrigin = "backvalidated"
)

// ErrStale is returned when a cluster changed between the read a result was
// computed from and the write that would store it.
var ErrStale = eris.New("model: cluster changed since read")

// BackvalidatedWeight is the fixed membership weight of back-validated evidence.
const BackvalidatedWeight = 0.5

// ClusterMembership joins a PainRecord to its single active Cluster.
type ClusterMembership struct {
	ClusterID    int64            `json:"cluster_id"`
	PainRecordID int64            `json:"pain_record_id"`
	Weight       float64          `json:"weight"`
	Similarity   float64          `json:"similarity"`
	Origin       MembershipOrigin `json:"origin"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SubScores holds the six components of the composite score, each in [0,100].
type SubScores struct {
	Frequency   int `json:"frequency"`
	Severity    int `json:"severity"`
	Economic    int `json:"economic"`
	Solvability int `json:"solvability"`
	Competitive int `json:"competitive"`
	Regional    int `json:"regional"`
}

// Brief is the synthesized description of a cluster, including the
// oracle-estimated base sub-scores.
type Brief struct {
	Version  int       `json:"version"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Keywords []string  `json:"keywords"`
	Base     SubScores `json:"base"`
}

// BriefVersion is the schema version written by the synthesize stage.
const BriefVersion = 1

// Cluster is an opportunity: an aggregate of related pain records.
type Cluster struct {
	ID                   int64      `json:"id"`
	Signature            []string   `json:"signature"`
	MemberCount          int        `json:"member_count"`
	UniqueAuthorCount    int        `json:"unique_author_count"`
	UniqueSourceCount    int        `json:"unique_source_count"`
	RegionMatchCount     int        `json:"region_match_count"`
	Brief                *Brief     `json:"brief,omitempty"`
	Scores               *SubScores `json:"scores,omitempty"`
	TotalScore           *int       `json:"total_score,omitempty"`
	QualifiedAt          *time.Time `json:"qualified_at,omitempty"`
	MembersChangedAt     time.Time  `json:"members_changed_at"`
	SynthesizedAt        *time.Time `json:"synthesized_at,omitempty"`
	ScoredAt             *time.Time `json:"scored_at,omitempty"`
	LastBackvalidationAt *time.Time `json:"last_backvalidation_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// FreshnessMarker is the newest input time a score must cover: the later of
// the last synthesis and the last membership change.
func (c *Cluster) FreshnessMarker() time.Time {
	if c.SynthesizedAt != nil && c.SynthesizedAt.After(c.MembersChangedAt) {
		return *c.SynthesizedAt
	}
	return c.MembersChangedAt
}

// ScoreIsFresh reports whether the stored score can be trusted.
func (c *Cluster) ScoreIsFresh() bool {
	if c.ScoredAt == nil || c.SynthesizedAt == nil {
		return false
	}
	return !c.ScoredAt.Before(c.FreshnessMarker())
}

// NeedsSynthesis reports whether the brief is missing or older than the
// membership it describes.
func (c *Cluster) NeedsSynthesis(minMembers int) bool {
	if c.MemberCount < minMembers {
		return false
	}
	return c.SynthesizedAt == nil || c.MembersChangedAt.After(*c.SynthesizedAt)
}

// BackvalidationDue reports whether the cooldown since the last
// back-validation has elapsed at now.
func (c *Cluster) BackvalidationDue(now time.Time, cooldown time.Duration) bool {
	return c.LastBackvalidationAt == nil || !c.LastBackvalidationAt.After(now.Add(-cooldown))
}
