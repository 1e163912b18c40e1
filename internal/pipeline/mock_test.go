package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/acquire"
	"github.com/sells-group/painpoint-radar/internal/dedup"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/oracle"
	"github.com/sells-group/painpoint-radar/internal/store"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory Store that keeps the same readiness rules as the
// SQL in internal/store.
type memStore struct {
	mu        sync.Mutex
	clock     int
	nextID    int64
	items     map[int64]*model.RawItem
	decisions []model.FilterDecision
	records   []model.PainRecord
	members   map[int64]int64
	clusters  map[int64]*model.Cluster

	readyErr  error
	commitErr error
	stale     bool
}

func newMemStore() *memStore {
	return &memStore{
		items:    map[int64]*model.RawItem{},
		members:  map[int64]int64{},
		clusters: map[int64]*model.Cluster{},
	}
}

func (m *memStore) now() time.Time {
	m.clock++
	return base.Add(time.Duration(m.clock) * time.Second)
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addItem(it model.RawItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = m.id()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = m.now()
	}
	m.items[it.ID] = &it
	return it.ID
}

func (m *memStore) addRecord(rec model.PainRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	rec.CreatedAt = m.now()
	m.records = append(m.records, rec)
	return rec.ID
}

func (m *memStore) hasRecord(itemID int64) bool {
	for _, r := range m.records {
		if r.RawItemID == itemID {
			return true
		}
	}
	return false
}

func (m *memStore) ItemsInState(_ context.Context, state model.ItemState, limit int) ([]model.RawItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readyErr != nil {
		return nil, m.readyErr
	}
	var out []model.RawItem
	for _, it := range m.items {
		if it.State == state && !m.hasRecord(it.ID) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) move(id int64, from, to model.ItemState) error {
	if err := model.CheckTransition(from, to); err != nil {
		return err
	}
	cur := m.items[id]
	if cur == nil || cur.State != from {
		return eris.Wrapf(model.ErrIllegalTransition, "item %d is no longer %s", id, from)
	}
	cur.State = to
	cur.Processed = to.IsTerminal()
	return nil
}

func (m *memStore) RecordFilterDecision(_ context.Context, it model.RawItem, d model.FilterDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	to := model.StateFilterRejected
	if d.Passes {
		to = model.StateFilterPassed
	}
	if err := m.move(it.ID, it.State, to); err != nil {
		return err
	}
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *memStore) SaveExtraction(_ context.Context, it model.RawItem, rec model.PainRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.move(it.ID, it.State, model.StateExtracted); err != nil {
		return 0, err
	}
	rec.ID = m.id()
	rec.CreatedAt = m.now()
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *memStore) UnclusteredRecords(_ context.Context, limit int) ([]model.PainRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PainRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if _, ok := m.members[m.records[i].ID]; !ok {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) ClustersByKeywords(_ context.Context, keywords []string, limit int) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if textnorm.Jaccard(keywords, c.Signature) > 0 {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Join(_ context.Context, ms store.Membership, _ store.Aggregates) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.members[ms.PainRecordID]; ok {
		return existing, false, nil
	}
	id := ms.ClusterID
	if id == 0 {
		id = m.id()
		m.clusters[id] = &model.Cluster{ID: id, Signature: ms.Signature, CreatedAt: m.now()}
	}
	c := m.clusters[id]
	if c == nil {
		return 0, false, errors.New("connection reset")
	}
	m.members[ms.PainRecordID] = id
	c.MemberCount++
	c.MembersChangedAt = m.now()
	return id, true, nil
}

func (m *memStore) ClustersNeedingSynthesis(_ context.Context, minMembers, limit int) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if c.NeedsSynthesis(minMembers) && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ClusterRecords(_ context.Context, clusterID int64, limit int) ([]model.PainRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PainRecord
	for _, r := range m.records {
		if m.members[r.ID] == clusterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SaveBrief(_ context.Context, c model.Cluster, b model.Brief) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.clusters[c.ID]
	if m.stale || !cur.MembersChangedAt.Equal(c.MembersChangedAt) {
		return eris.Wrapf(model.ErrStale, "cluster %d", c.ID)
	}
	now := m.now()
	cur.Brief = &b
	cur.SynthesizedAt = &now
	return nil
}

func (m *memStore) ClustersNeedingScore(_ context.Context, limit int) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if c.SynthesizedAt != nil && !c.ScoreIsFresh() && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) SaveScore(_ context.Context, c model.Cluster, subs model.SubScores, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.clusters[c.ID]
	if !cur.MembersChangedAt.Equal(c.MembersChangedAt) {
		return eris.Wrapf(model.ErrStale, "cluster %d", c.ID)
	}
	now := m.now()
	cur.Scores = &subs
	cur.TotalScore = &total
	cur.ScoredAt = &now
	return nil
}

// stubOracle answers with canned JSON keyed by input text, falling back to
// def. A missing answer behaves like an unavailable oracle.
type stubOracle struct {
	mu      sync.Mutex
	answers map[string]string
	def     string
	calls   int
}

func (s *stubOracle) Classify(_ context.Context, text, _ string, out oracle.Schema) error {
	return s.answer(text, out)
}

func (s *stubOracle) Generate(_ context.Context, text, _ string, out oracle.Schema) error {
	return s.answer(text, out)
}

func (s *stubOracle) answer(text string, out oracle.Schema) error {
	s.mu.Lock()
	s.calls++
	raw, ok := s.answers[text]
	if !ok {
		raw = s.def
	}
	s.mu.Unlock()
	if raw == "" {
		return errors.New("oracle: timeout")
	}
	return oracle.Decode(raw, out)
}

type memCursors struct {
	pos map[string]int64
}

func newMemCursors() *memCursors { return &memCursors{pos: map[string]int64{}} }

func (c *memCursors) Get(_ context.Context, owner string) (int64, error) {
	return c.pos[owner], nil
}

func (c *memCursors) Position(ctx context.Context, owner string) (int64, error) {
	return c.Get(ctx, owner)
}

func (c *memCursors) Advance(_ context.Context, owner string, pos int64) (bool, error) {
	if pos <= c.pos[owner] {
		return false, nil
	}
	c.pos[owner] = pos
	return true, nil
}

type memItems struct {
	keys map[string]int64
	rows []model.RawItem
}

func newMemItems() *memItems { return &memItems{keys: map[string]int64{}} }

func (m *memItems) InsertIfAbsent(_ context.Context, key string, item model.RawItem) (dedup.Outcome, int64, error) {
	if id, ok := m.keys[key]; ok {
		return dedup.AlreadyPresent, id, nil
	}
	id := int64(len(m.rows) + 1)
	m.keys[key] = id
	m.rows = append(m.rows, item)
	return dedup.Inserted, id, nil
}

type stubSource struct {
	feeds  map[string][]acquire.Candidate
	errs   map[string]error
	since  map[string]time.Time
	search []acquire.Candidate
}

func (s *stubSource) Fetch(_ context.Context, sourceID string, since time.Time) ([]acquire.Candidate, error) {
	if s.since == nil {
		s.since = map[string]time.Time{}
	}
	s.since[sourceID] = since
	if err := s.errs[sourceID]; err != nil {
		return nil, err
	}
	var out []acquire.Candidate
	for _, c := range s.feeds[sourceID] {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubSource) Search(context.Context, string, int) ([]acquire.Candidate, error) {
	return s.search, nil
}
