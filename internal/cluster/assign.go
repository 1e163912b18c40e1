// Package cluster assigns pain records to opportunity clusters. The pipeline
// consumes an Assignment as a fact; how it was reached is the assigner's
// business.
package cluster

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

// Assignment is where a record belongs. ClusterID 0 means a new cluster
// with Signature should be created.
type Assignment struct {
	ClusterID  int64
	Similarity float64
	Signature  []string
}

// IsNew reports whether the assignment proposes a new cluster.
func (a Assignment) IsNew() bool { return a.ClusterID == 0 }

// Assigner places one pain record.
type Assigner interface {
	Assign(ctx context.Context, rec model.PainRecord) (Assignment, error)
}

// Candidates looks up clusters whose signature overlaps keywords.
type Candidates interface {
	ClustersByKeywords(ctx context.Context, keywords []string, limit int) ([]model.Cluster, error)
}

// maxSignature bounds the keywords kept on a new cluster.
const maxSignature = 12

// KeywordAssigner joins a record to the candidate cluster with the highest
// keyword Jaccard similarity at or above Threshold.
type KeywordAssigner struct {
	store     Candidates
	threshold float64
	limit     int
}

// NewKeywordAssigner creates a KeywordAssigner.
func NewKeywordAssigner(store Candidates, threshold float64) *KeywordAssigner {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &KeywordAssigner{store: store, threshold: threshold, limit: 50}
}

// Assign implements Assigner. It only reads; a proposed new cluster is
// created by the caller when it commits.
func (k *KeywordAssigner) Assign(ctx context.Context, rec model.PainRecord) (Assignment, error) {
	keywords := textnorm.Set(append(append([]string{}, rec.Keywords...), rec.Tags...))
	if len(keywords) == 0 {
		return Assignment{}, eris.Errorf("cluster: pain record %d has no keywords", rec.ID)
	}

	candidates, err := k.store.ClustersByKeywords(ctx, keywords, k.limit)
	if err != nil {
		return Assignment{}, eris.Wrap(err, "cluster: candidate lookup")
	}

	// Ties go to the larger cluster.
	var (
		best        Assignment
		bestMembers int
	)
	for _, c := range candidates {
		sim := textnorm.Jaccard(keywords, c.Signature)
		if sim > best.Similarity || (sim == best.Similarity && sim > 0 && c.MemberCount > bestMembers) {
			best = Assignment{ClusterID: c.ID, Similarity: sim, Signature: c.Signature}
			bestMembers = c.MemberCount
		}
	}
	if best.ClusterID != 0 && best.Similarity >= k.threshold {
		return best, nil
	}

	if len(keywords) > maxSignature {
		keywords = keywords[:maxSignature]
	}
	return Assignment{Similarity: 1, Signature: keywords}, nil
}
