package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/db"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
)

var membershipInsert = db.InsertConfig{
	Table:        "cluster_members",
	Columns:      []string{"pain_record_id", "cluster_id", "weight", "origin", "similarity"},
	ConflictKeys: []string{"pain_record_id"},
	Returning:    "cluster_id",
}

// Membership asks to place a pain record in a cluster. ClusterID 0 creates
// a new cluster with Signature.
type Membership struct {
	PainRecordID int64
	ClusterID    int64
	Signature    []string
	Weight       float64
	Similarity   float64
	Origin       model.MembershipOrigin
}

// Aggregates configures how cluster aggregates are recomputed after a
// membership change.
type Aggregates struct {
	TargetRegion string
	// QualifyAt is the member count at which qualified_at is first set.
	QualifyAt int
}

// errAlreadyMember unwinds a transaction that created a cluster for a record
// another invocation has already placed.
var errAlreadyMember = eris.New("store: record already has a cluster")

// ClustersByKeywords returns clusters whose signature shares at least one
// keyword, largest first.
func (s *PostgresStore) ClustersByKeywords(ctx context.Context, keywords []string, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "clusters by keywords",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE signature && $1::text[]
		ORDER BY member_count DESC, id
		LIMIT $2`,
		keywords, limit,
	)
}

// GetCluster loads one cluster.
func (s *PostgresStore) GetCluster(ctx context.Context, id int64) (model.Cluster, error) {
	c, err := scanCluster(s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id))
	if err != nil {
		return c, eris.Wrapf(err, "store: get cluster %d", id)
	}
	return c, nil
}

// Join places a pain record in a cluster and recomputes the cluster's
// aggregates. A record that already has a cluster is left where it is; the
// returned id is then its existing cluster and added is false.
func (s *PostgresStore) Join(ctx context.Context, m Membership, agg Aggregates) (clusterID int64, added bool, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		clusterID, added, err = join(ctx, tx, m, agg)
		return err
	})
	if errors.Is(err, errAlreadyMember) {
		return clusterID, false, nil
	}
	return clusterID, added, err
}

func join(ctx context.Context, tx pgx.Tx, m Membership, agg Aggregates) (int64, bool, error) {
	id := m.ClusterID
	if id == 0 {
		if len(m.Signature) == 0 {
			return 0, false, eris.Errorf("store: new cluster for record %d has no signature", m.PainRecordID)
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO clusters (signature) VALUES ($1) RETURNING id`,
			m.Signature,
		).Scan(&id); err != nil {
			return 0, false, eris.Wrap(err, "store: create cluster")
		}
	}

	outcome, existing, err := dedup.New(tx).Insert(ctx, membershipInsert, []any{
		m.PainRecordID, id, m.Weight, string(m.Origin), m.Similarity,
	})
	if err != nil {
		return 0, false, eris.Wrapf(err, "store: add record %d to cluster %d", m.PainRecordID, id)
	}
	if outcome == dedup.AlreadyPresent {
		if m.ClusterID == 0 {
			return existing, false, errAlreadyMember
		}
		return existing, false, nil
	}

	if err := refreshAggregates(ctx, tx, id, agg); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// refreshAggregates recounts a cluster's members and bumps
// members_changed_at, which makes any stored brief and score stale.
func refreshAggregates(ctx context.Context, tx pgx.Tx, clusterID int64, agg Aggregates) error {
	_, err := tx.Exec(ctx,
		`UPDATE clusters c SET
			member_count = a.members,
			unique_author_count = a.authors,
			unique_source_count = a.sources,
			region_match_count = a.regional,
			members_changed_at = now(),
			qualified_at = COALESCE(c.qualified_at, CASE WHEN a.members >= $3 THEN now() END)
		FROM (
			SELECT count(*) AS members,
				count(DISTINCT NULLIF(r.author, '')) AS authors,
				count(DISTINCT r.source) AS sources,
				count(*) FILTER (WHERE $2 <> '' AND lower(p.region) = lower($2)) AS regional
			FROM cluster_members m
			JOIN pain_records p ON p.id = m.pain_record_id
			JOIN raw_items r ON r.id = p.raw_item_id
			WHERE m.cluster_id = $1
		) a
		WHERE c.id = $1`,
		clusterID, agg.TargetRegion, agg.QualifyAt,
	)
	if err != nil {
		return eris.Wrapf(err, "store: refresh aggregates of cluster %d", clusterID)
	}
	return nil
}

// AddEvidence stores a back-validated item, its pain record and its
// membership in clusterID in one transaction. Every write is insert-if-absent
// so a repeated call is a no-op; added reports whether a new member joined.
func (s *PostgresStore) AddEvidence(ctx context.Context, clusterID int64, key string, item model.RawItem, rec model.PainRecord, agg Aggregates) (bool, error) {
	item.State = model.StateBackvalidated

	var added bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, rawID, err := dedup.New(tx).InsertIfAbsent(ctx, key, item)
		if err != nil {
			return eris.Wrapf(err, "store: store evidence %s", key)
		}
		recID, err := insertPainRecord(ctx, tx, rawID, rec)
		if err != nil {
			return err
		}
		_, added, err = join(ctx, tx, Membership{
			PainRecordID: recID,
			ClusterID:    clusterID,
			Weight:       model.BackvalidatedWeight,
			Similarity:   model.BackvalidatedWeight,
			Origin:       model.OriginBackvalidated,
		}, agg)
		return err
	})
	return added, err
}

// ClustersNeedingSynthesis returns clusters with at least minMembers members
// whose brief is missing or older than their membership.
func (s *PostgresStore) ClustersNeedingSynthesis(ctx context.Context, minMembers, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "clusters needing synthesis",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE member_count >= $1
		  AND (synthesized_at IS NULL OR members_changed_at > synthesized_at)
		ORDER BY members_changed_at DESC, id
		LIMIT $2`,
		minMembers, limit,
	)
}

// SaveBrief stores a brief synthesized from c. It returns model.ErrStale
// when members joined after c was read.
func (s *PostgresStore) SaveBrief(ctx context.Context, c model.Cluster, brief model.Brief) error {
	data, err := json.Marshal(brief)
	if err != nil {
		return eris.Wrapf(err, "store: encode brief of cluster %d", c.ID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET brief = $2, synthesized_at = now()
		WHERE id = $1 AND members_changed_at = $3`,
		c.ID, data, c.MembersChangedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "store: save brief of cluster %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrStale, "cluster %d", c.ID)
	}
	return nil
}

// ClustersNeedingScore returns synthesized clusters whose score is missing or
// older than the later of their synthesis and last membership change.
func (s *PostgresStore) ClustersNeedingScore(ctx context.Context, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "clusters needing score",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE synthesized_at IS NOT NULL
		  AND (scored_at IS NULL OR scored_at < GREATEST(synthesized_at, members_changed_at))
		ORDER BY GREATEST(synthesized_at, members_changed_at) DESC, id
		LIMIT $1`,
		limit,
	)
}

// SaveScore stores the sub-scores and total computed from c. It returns
// model.ErrStale when c was re-synthesized or gained members since it was
// read.
func (s *PostgresStore) SaveScore(ctx context.Context, c model.Cluster, subs model.SubScores, total int) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return eris.Wrapf(err, "store: encode scores of cluster %d", c.ID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET scores = $2, total_score = $3, scored_at = now()
		WHERE id = $1 AND members_changed_at = $4 AND synthesized_at = $5`,
		c.ID, data, total, c.MembersChangedAt, c.SynthesizedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "store: save score of cluster %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrStale, "cluster %d", c.ID)
	}
	return nil
}

// ClustersForBackvalidation returns clusters with at least threshold members
// whose cooldown has elapsed, most members first.
func (s *PostgresStore) ClustersForBackvalidation(ctx context.Context, threshold int, cooldown time.Duration, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "clusters for back-validation",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE member_count >= $1
		  AND (last_backvalidation_at IS NULL
		       OR last_backvalidation_at <= now() - make_interval(secs => $2))
		ORDER BY member_count DESC, id
		LIMIT $3`,
		threshold, cooldown.Seconds(), limit,
	)
}

// MarkBackvalidated starts the cooldown of a cluster.
func (s *PostgresStore) MarkBackvalidated(ctx context.Context, clusterID int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE clusters SET last_backvalidation_at = now() WHERE id = $1`,
		clusterID,
	); err != nil {
		return eris.Wrapf(err, "store: mark cluster %d back-validated", clusterID)
	}
	return nil
}

// TopClusters returns scored clusters ranked by total score.
func (s *PostgresStore) TopClusters(ctx context.Context, limit int) ([]model.Cluster, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryClusters(ctx, "top clusters",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE total_score IS NOT NULL
		ORDER BY total_score DESC, member_count DESC, id
		LIMIT $1`,
		limit,
	)
}

// QualifiedSince returns clusters that first reached the qualifying member
// count within the trailing window.
func (s *PostgresStore) QualifiedSince(ctx context.Context, window time.Duration) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "qualified clusters",
		`SELECT `+clusterColumns+` FROM clusters
		WHERE qualified_at >= now() - make_interval(secs => $1)
		ORDER BY qualified_at DESC, id`,
		window.Seconds(),
	)
}
