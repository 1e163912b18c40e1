// Package model defines the persisted entities shared by every pipeline stage.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ContentKind distinguishes top-level posts from replies.
type ContentKind string

const (
	KindPost    ContentKind = "post"
	KindComment ContentKind = "comment"
)

// ItemState is the explicit processing state of a RawItem.
type ItemState string

const (
	StateIngested       ItemState = "ingested"
	StateFilterPassed   ItemState = "filter_passed"
	StateFilterRejected ItemState = "filter_rejected"
	StateExtracted      ItemState = "extracted"
	StateBackvalidated  ItemState = "backvalidated"
)

// ErrIllegalTransition is returned when a state change is not in the transition table.
var ErrIllegalTransition = eris.New("model: illegal state transition")

// transitions lists the legal next states for each ItemState.
// Terminal states have no entry.
var transitions = map[ItemState][]ItemState{
	StateIngested:     {StateFilterPassed, StateFilterRejected},
	StateFilterPassed: {StateExtracted},
}

// CheckTransition reports whether moving from one state to another is legal.
func CheckTransition(from, to ItemState) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return eris.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
}

// IsTerminal reports whether no further transition is possible from s.
func (s ItemState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// RawItem is one unit of harvested content. The core only flips its
// processing state; rows are never deleted.
type RawItem struct {
	ID         int64       `json:"id"`
	NaturalKey string      `json:"natural_key"`
	Source     string      `json:"source"`
	Kind       ContentKind `json:"kind"`
	ExternalID string      `json:"external_id"`
	ParentID   string      `json:"parent_id,omitempty"`
	Text       string      `json:"text"`
	Author     string      `json:"author"`
	Engagement int         `json:"engagement"`
	CreatedAt  time.Time   `json:"created_at"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Processed  bool        `json:"processed"`
	State      ItemState   `json:"state"`
}
