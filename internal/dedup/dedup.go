// Package dedup makes every write idempotent: rows are inserted against an
// origin-namespaced natural key and a repeated key is a successful no-op.
package dedup

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// Origin namespaces natural keys by provenance.
type Origin string

const (
	// OriginIngest is content pulled by the scheduled ingest stage.
	OriginIngest Origin = "ingest"
	// OriginBackval is content found by back-validation search.
	OriginBackval Origin = "backval"
)

// Outcome of an insert-if-absent.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyPresent
)

func (o Outcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "already_present"
}

// Key builds the natural key for content of the given kind and external id.
// Ingested content yields "post_abc123"; back-validated content with the same
// id yields "bv_post_abc123" so the two provenances never collide.
func Key(origin Origin, kind model.ContentKind, externalID string) string {
	k := string(kind) + "_" + strings.TrimSpace(externalID)
	if origin == OriginBackval {
		return "bv_" + k
	}
	return k
}

var rawItemInsert = db.InsertConfig{
	Table: "raw_items",
	Columns: []string{
		"natural_key", "source", "kind", "external_id", "parent_id",
		"text", "author", "engagement", "created_at", "state",
	},
	ConflictKeys: []string{"natural_key"},
	Returning:    "id",
}

// Layer writes through insert-if-absent.
type Layer struct {
	pool db.Pool
}

// New creates a Layer backed by pool.
func New(pool db.Pool) *Layer {
	return &Layer{pool: pool}
}

// InsertIfAbsent stores item under key. A key that already exists returns
// AlreadyPresent with the existing row's id and no error.
func (l *Layer) InsertIfAbsent(ctx context.Context, key string, item model.RawItem) (Outcome, int64, error) {
	if key == "" {
		return 0, 0, eris.New("dedup: empty natural key")
	}
	state := item.State
	if state == "" {
		state = model.StateIngested
	}
	return l.Insert(ctx, rawItemInsert, []any{
		key, item.Source, string(item.Kind), item.ExternalID, item.ParentID,
		item.Text, item.Author, item.Engagement, item.CreatedAt, string(state),
	})
}

// Insert is InsertIfAbsent for any table with a unique constraint, used for
// decisions, extractions and memberships keyed by their source row.
func (l *Layer) Insert(ctx context.Context, cfg db.InsertConfig, values []any) (Outcome, int64, error) {
	id, inserted, err := db.InsertIfAbsent(ctx, l.pool, cfg, values)
	if err != nil {
		return 0, 0, eris.Wrap(err, "dedup: insert")
	}
	if inserted {
		return Inserted, id, nil
	}
	return AlreadyPresent, id, nil
}
