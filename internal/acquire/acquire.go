// Package acquire pulls candidate content from external sources.
package acquire

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// Candidate is one piece of content as the source reports it.
type Candidate struct {
	Source     string
	Kind       model.ContentKind
	ExternalID string
	ParentID   string
	Text       string
	Author     string
	Engagement int
	CreatedAt  time.Time
}

// Source is the content acquisition collaborator. Pagination and rate
// limits are its own concern.
type Source interface {
	// Fetch returns content from sourceID newer than since.
	Fetch(ctx context.Context, sourceID string, since time.Time) ([]Candidate, error)
	// Search returns up to limit items matching query across all sources.
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// Key returns the candidate's natural key under origin.
func (c Candidate) Key(origin dedup.Origin) string {
	return dedup.Key(origin, c.Kind, c.ExternalID)
}

// RawItem converts the candidate into the row written by the dedup layer.
func (c Candidate) RawItem(state model.ItemState) model.RawItem {
	return model.RawItem{
		Source:     c.Source,
		Kind:       c.Kind,
		ExternalID: c.ExternalID,
		ParentID:   c.ParentID,
		Text:       c.Text,
		Author:     c.Author,
		Engagement: c.Engagement,
		CreatedAt:  c.CreatedAt,
		State:      state,
	}
}

// Usable reports whether the candidate carries the fields the core needs.
func (c Candidate) Usable() bool {
	return c.ExternalID != "" && strings.TrimSpace(c.Text) != "" && !c.CreatedAt.IsZero()
}
