package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/painpoint-radar/internal/model"
)

type fakeCandidates struct {
	clusters []model.Cluster
	err      error
	asked    []string
}

func (f *fakeCandidates) ClustersByKeywords(_ context.Context, keywords []string, _ int) ([]model.Cluster, error) {
	f.asked = keywords
	return f.clusters, f.err
}

func TestKeywordAssigner_JoinsBestMatch(t *testing.T) {
	store := &fakeCandidates{clusters: []model.Cluster{
		{ID: 1, Signature: []string{"invoice", "reminder", "late payment", "freelance"}, MemberCount: 4},
		{ID: 2, Signature: []string{"invoice", "reminder"}, MemberCount: 2},
		{ID: 3, Signature: []string{"crm", "sales"}, MemberCount: 9},
	}}
	a := NewKeywordAssigner(store, 0.3)

	got, err := a.Assign(context.Background(), model.PainRecord{
		ID:       10,
		Keywords: []string{"Invoice", "Reminder"},
		Tags:     []string{"billing"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ClusterID)
	assert.InDelta(t, 2.0/3.0, got.Similarity, 0.001)
	assert.False(t, got.IsNew())
	assert.Equal(t, []string{"billing", "invoice", "reminder"}, store.asked)
}

func TestKeywordAssigner_TieGoesToLargerCluster(t *testing.T) {
	store := &fakeCandidates{clusters: []model.Cluster{
		{ID: 1, Signature: []string{"a", "b"}, MemberCount: 2},
		{ID: 2, Signature: []string{"a", "b"}, MemberCount: 7},
	}}
	got, err := NewKeywordAssigner(store, 0.3).Assign(context.Background(), model.PainRecord{Keywords: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ClusterID)
}

func TestKeywordAssigner_BelowThresholdProposesNew(t *testing.T) {
	store := &fakeCandidates{clusters: []model.Cluster{
		{ID: 1, Signature: []string{"invoice", "a", "b", "c", "d"}},
	}}
	got, err := NewKeywordAssigner(store, 0.5).Assign(context.Background(), model.PainRecord{
		Keywords: []string{"invoice", "z"},
	})
	require.NoError(t, err)
	assert.True(t, got.IsNew())
	assert.Equal(t, []string{"invoice", "z"}, got.Signature)
}

func TestKeywordAssigner_NoCandidates(t *testing.T) {
	got, err := NewKeywordAssigner(&fakeCandidates{}, 0).Assign(context.Background(), model.PainRecord{
		Keywords: []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9", "k10", "k11", "k12", "k13"},
	})
	require.NoError(t, err)
	assert.True(t, got.IsNew())
	assert.Len(t, got.Signature, maxSignature)
}

func TestKeywordAssigner_NoKeywords(t *testing.T) {
	_, err := NewKeywordAssigner(&fakeCandidates{}, 0).Assign(context.Background(), model.PainRecord{ID: 4})
	assert.Error(t, err)
}

func TestKeywordAssigner_LookupError(t *testing.T) {
	store := &fakeCandidates{err: errors.New("connection refused")}
	_, err := NewKeywordAssigner(store, 0).Assign(context.Background(), model.PainRecord{Keywords: []string{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candidate lookup")
}
