package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/postreview/internal/domain"
)

type memRecords struct {
	mu    sync.Mutex
	saved []*domain.Record
	edits []domain.EditEntry
	err   error
}

func (m *memRecords) UpdateRecord(_ context.Context, rec *domain.Record, edit domain.EditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec.Clone())
	m.edits = append(m.edits, edit)
	return nil
}

type memSnapshots struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{sessions: make(map[string]*domain.Session)}
}

func (m *memSnapshots) SaveSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memSnapshots) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *memSnapshots) DeleteIdleSessions(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.LastActivity.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(opts Options) (*Manager, *clock) {
	clk := &clock{now: time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)}
	m := NewManager(opts)
	m.now = clk.Now
	return m, clk
}

func change(id, field string, items ...string) domain.PendingChange {
	return domain.PendingChange{ID: id, Field: field, Value: domain.ListValue(items...), Confidence: 0.8, Provenance: domain.ProvenanceUser}
}

func TestGetOrCreate(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, domain.StageInitializing, s.Stage)

	again, err := m.GetOrCreate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
	assert.Equal(t, 1, m.Len())
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	m, clk := newTestManager(Options{IdleTimeout: time.Hour})
	ctx := context.Background()

	require.True(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldLocations, "Raipur")))
	clk.Advance(2 * time.Hour)

	s, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, s.Pending)
	assert.Equal(t, domain.StageInitializing, s.Stage)
}

func TestApproveChangeMutatesRecord(t *testing.T) {
	records := &memRecords{}
	m, _ := newTestManager(Options{Records: records})
	ctx := context.Background()

	require.NoError(t, m.Do(ctx, "s1", func(tx *Tx) error {
		tx.AttachRecord(&domain.Record{ID: "r1", Locations: []string{"Durg"}})
		require.True(t, tx.AddPendingChange(change("c1", domain.FieldLocations, "Durg", "रायपुर")))
		return nil
	}))

	require.True(t, m.ApproveChange(ctx, "s1", "c1", "asha"))

	s, ok := m.Get(ctx, "s1")
	require.True(t, ok)
	assert.Empty(t, s.Pending)
	require.Len(t, s.Approved, 1)
	assert.Equal(t, "asha", s.Approved[0].ApprovedBy)
	assert.Equal(t, []string{"Durg", "रायपुर"}, s.Record.Locations)
	require.Len(t, s.Record.EditHistory, 1)
	edit := s.Record.EditHistory[0]
	assert.Equal(t, []string{"Durg"}, edit.OldValue.Items)
	assert.Equal(t, "asha", edit.EditedBy)
	assert.Equal(t, domain.ReviewInReview, s.Record.ReviewStatus)

	require.Len(t, records.saved, 1)
	assert.Equal(t, "r1", records.saved[0].ID)
}

func TestApproveUnknownIDIsNoop(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()
	require.True(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldSchemes, "PM Kisan")))

	before, _ := m.Get(ctx, "s1")
	assert.False(t, m.ApproveChange(ctx, "s1", "missing", "asha"))
	assert.False(t, m.RejectChange(ctx, "s1", "missing", "nope"))
	after, _ := m.Get(ctx, "s1")

	assert.Equal(t, before.Pending, after.Pending)
	assert.Empty(t, after.Approved)
	assert.Empty(t, after.Rejected)
}

func TestResolveTwiceIsNoop(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()
	require.True(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldSchemes, "PM Kisan")))
	require.True(t, m.AddPendingChange(ctx, "s1", change("c2", domain.FieldPeople, "Ramesh Kumar")))

	assert.True(t, m.ApproveChange(ctx, "s1", "c1", "asha"))
	assert.False(t, m.ApproveChange(ctx, "s1", "c1", "asha"))
	assert.False(t, m.RejectChange(ctx, "s1", "c1", "changed my mind"))

	assert.False(t, m.RejectChange(ctx, "s1", "c2", ""), "reason is mandatory")
	assert.True(t, m.RejectChange(ctx, "s1", "c2", "wrong person"))
	assert.False(t, m.ApproveChange(ctx, "s1", "c2", "asha"))

	s, _ := m.Get(ctx, "s1")
	assert.Empty(t, s.Pending)
	assert.Len(t, s.Approved, 1)
	require.Len(t, s.Rejected, 1)
	assert.Equal(t, "wrong person", s.Rejected[0].RejectReason)
}

func TestDuplicateChangeIDRefused(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()
	require.True(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldSchemes, "PM Kisan")))
	require.True(t, m.ApproveChange(ctx, "s1", "c1", "asha"))
	assert.False(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldSchemes, "PM Kisan")))
	assert.False(t, m.AddPendingChange(ctx, "s1", domain.PendingChange{ID: "c9"}))
}

func TestApproveWriteFailureLeavesListsUnchanged(t *testing.T) {
	m, _ := newTestManager(Options{Records: &memRecords{err: errors.New("disk full")}})
	ctx := context.Background()
	require.NoError(t, m.Do(ctx, "s1", func(tx *Tx) error {
		tx.AttachRecord(&domain.Record{ID: "r1"})
		tx.AddPendingChange(change("c1", domain.FieldLocations, "Raipur"))
		return nil
	}))

	assert.False(t, m.ApproveChange(ctx, "s1", "c1", "asha"))
	s, _ := m.Get(ctx, "s1")
	assert.Len(t, s.Pending, 1)
	assert.Empty(t, s.Approved)
	assert.Empty(t, s.Record.Locations)
}

func TestApproveInlineRecordSkipsStore(t *testing.T) {
	records := &memRecords{err: errors.New("update record: missing id")}
	m, _ := newTestManager(Options{Records: records})
	ctx := context.Background()
	require.NoError(t, m.Do(ctx, "s1", func(tx *Tx) error {
		tx.AttachRecord(&domain.Record{EventType: "meeting"})
		tx.AddPendingChange(change("c1", domain.FieldLocations, "रायपुर"))
		return nil
	}))

	require.True(t, m.ApproveChange(ctx, "s1", "c1", "asha"))
	s, _ := m.Get(ctx, "s1")
	assert.Empty(t, s.Pending)
	require.Len(t, s.Approved, 1)
	assert.Equal(t, []string{"रायपुर"}, s.Record.Locations)
	require.Len(t, s.Record.EditHistory, 1)
	assert.Empty(t, records.saved)
}

func TestRejectBlankReasonRefused(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()
	require.True(t, m.AddPendingChange(ctx, "s1", change("c1", domain.FieldPeople, "Ramesh Kumar")))

	assert.False(t, m.RejectChange(ctx, "s1", "c1", "  \t\n"))
	assert.True(t, m.RejectChange(ctx, "s1", "c1", "  wrong person "))

	s, _ := m.Get(ctx, "s1")
	require.Len(t, s.Rejected, 1)
	assert.Equal(t, "wrong person", s.Rejected[0].RejectReason)
}

func TestGetGivesUpWhenSessionBusy(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = m.Do(ctx, "busy", func(*Tx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered
	defer close(hold)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	s, ok := m.Get(waitCtx, "busy")
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestChangeCountNeverDecreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	// Each op is encoded as kind*10 + target: kind 0 adds, 1 approves,
	// 2 rejects; target picks one of ten change ids.
	properties.Property("pending+approved+rejected is monotonic", prop.ForAll(
		func(ops []int) bool {
			m, _ := newTestManager(Options{})
			ctx := context.Background()
			last := 0
			for _, op := range ops {
				id := fmt.Sprintf("c%d", op%10)
				switch op / 10 {
				case 0:
					m.AddPendingChange(ctx, "s", change(id, domain.FieldLocations, "Raipur"))
				case 1:
					m.ApproveChange(ctx, "s", id, "asha")
				default:
					m.RejectChange(ctx, "s", id, "no")
				}
				s, _ := m.Get(ctx, "s")
				if s.ChangeCount() < last {
					return false
				}
				last = s.ChangeCount()
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 29)),
	))

	properties.TestingRun(t)
}

func TestCleanupExpired(t *testing.T) {
	snaps := newMemSnapshots()
	m, clk := newTestManager(Options{IdleTimeout: time.Hour, Snapshots: snaps})
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	clk.Advance(90 * time.Minute)
	_, err = m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)

	removed, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := m.Get(ctx, "old")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "fresh")
	assert.True(t, ok)

	gone, err := snaps.LoadSession(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := snaps.LoadSession(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestResumeFromSnapshot(t *testing.T) {
	snaps := newMemSnapshots()
	ctx := context.Background()

	first, _ := newTestManager(Options{Snapshots: snaps})
	require.True(t, first.AddPendingChange(ctx, "s1", change("c1", domain.FieldSchemes, "PM Kisan")))

	second, _ := newTestManager(Options{Snapshots: snaps})
	s, err := second.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, "c1", s.Pending[0].ID)
}

func TestTransition(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()

	require.NoError(t, m.Do(ctx, "s1", func(tx *Tx) error {
		assert.True(t, tx.Transition(""))
		assert.Equal(t, domain.StageInitializing, tx.Stage())

		assert.False(t, tx.Transition(domain.StageCompleted))
		assert.Equal(t, domain.StageInitializing, tx.Stage())

		tx.BeginTurn()
		assert.Equal(t, domain.StageAnalyzing, tx.Stage())
		assert.True(t, tx.Transition(domain.StageEditing))
		assert.True(t, tx.Transition(domain.StageApproving))
		assert.True(t, tx.Transition(domain.StageSuggesting), "routed through analyzing")
		assert.Equal(t, domain.StageSuggesting, tx.Stage())

		tx.Fail()
		assert.Equal(t, domain.StageError, tx.Stage())
		tx.BeginTurn()
		assert.Equal(t, domain.StageAnalyzing, tx.Stage())
		return nil
	}))
}

func TestSameSessionIsSerialized(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(ctx, "s1", func(tx *Tx) error {
				ids := tx.PendingIDs()
				tx.AddPendingChange(change(fmt.Sprintf("c%d-%d", i, len(ids)), domain.FieldPeople, "x"))
				return nil
			})
		}()
	}
	wg.Wait()

	s, _ := m.Get(ctx, "s1")
	assert.Len(t, s.Pending, 50)
}

func TestOtherSessionsDoNotBlock(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = m.Do(ctx, "busy", func(*Tx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_, _ = m.GetOrCreate(ctx, "other")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated session blocked")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := m.Do(waitCtx, "busy", func(*Tx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}

func TestTurnHistoryBounded(t *testing.T) {
	m, _ := newTestManager(Options{})
	ctx := context.Background()
	require.NoError(t, m.Do(ctx, "s1", func(tx *Tx) error {
		for i := range domain.MaxTurns + 10 {
			tx.AppendTurn(domain.Turn{Message: fmt.Sprintf("m%d", i)}, domain.CategoryHelp, nil)
		}
		return nil
	}))
	s, _ := m.Get(ctx, "s1")
	require.Len(t, s.Turns, domain.MaxTurns)
	assert.Equal(t, "m10", s.Turns[0].Message)
	assert.NotEmpty(t, s.Turns[0].ID)
}

func TestRelevantContextIsBounded(t *testing.T) {
	s := domain.NewSession("s1", time.Now())
	s.Stage = domain.StageEditing
	s.Focus = domain.FieldLocations
	for i := range 10 {
		s.AppendTurn(domain.Turn{Message: fmt.Sprintf("turn %d", i), Response: strings.Repeat("x", 500)})
		s.Approved = append(s.Approved, domain.ApprovedChange{PendingChange: change(fmt.Sprintf("a%d", i), domain.FieldLocations, fmt.Sprintf("loc%d", i))})
		s.Rejected = append(s.Rejected, domain.RejectedChange{PendingChange: change(fmt.Sprintf("r%d", i), domain.FieldPeople, fmt.Sprintf("p%d", i)), RejectReason: "no"})
	}

	out := RelevantContext(s)
	assert.Contains(t, out, "stage: editing")
	assert.Contains(t, out, "focus: locations")
	assert.Contains(t, out, "turn 9")
	assert.NotContains(t, out, "turn 6")
	assert.Contains(t, out, "loc5")
	assert.NotContains(t, out, "loc4")
	assert.Contains(t, out, "p7")
	assert.NotContains(t, out, "p6")
	assert.Contains(t, out, "language=english")
	assert.Less(t, len([]rune(out)), 3000)
}
