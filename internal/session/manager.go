// Package session owns the conversational state of review sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/postreview/internal/domain"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 24 * time.Hour

// RecordStore persists approved edits to the stored record.
type RecordStore interface {
	UpdateRecord(ctx context.Context, rec *domain.Record, edit domain.EditEntry) error
}

// SessionStore persists session snapshots so a live session can be resumed
// after a restart. LoadSession returns nil, nil for an unknown id.
type SessionStore interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

// Options configures a Manager. Every field is optional.
type Options struct {
	IdleTimeout time.Duration
	Records     RecordStore
	Snapshots   SessionStore
	Logger      *slog.Logger
}

// Manager is the single owner of session state. Every mutation of a session
// happens under that session's lock; different sessions never block each
// other.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	idle      time.Duration
	records   RecordStore
	snapshots SessionStore
	logger    *slog.Logger
	now       func() time.Time
}

// entry guards one session. lock is a one-slot semaphore so waiters can
// give up when their context ends. last and dead are guarded by Manager.mu.
type entry struct {
	lock    chan struct{}
	session *domain.Session
	last    time.Time
	dead    bool
}

func newEntry(s *domain.Session) *entry {
	return &entry{lock: make(chan struct{}, 1), session: s, last: s.LastActivity}
}

func (e *entry) expired(now time.Time, idle time.Duration) bool {
	return now.Sub(e.last) > idle
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *entry) release() { <-e.lock }

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*entry),
		idle:      opts.IdleTimeout,
		records:   opts.Records,
		snapshots: opts.Snapshots,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// IdleTimeout returns the configured idle threshold.
func (m *Manager) IdleTimeout() time.Duration { return m.idle }

// lookup returns the live entry for id, creating, resuming or replacing it
// as needed. An empty id gets a fresh uuid.
func (m *Manager) lookup(ctx context.Context, id string) *entry {
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now()

	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok && !e.expired(now, m.idle) {
		m.mu.Unlock()
		return e
	}
	m.mu.Unlock()

	// The snapshot read happens outside the map lock; a racing creator is
	// resolved below by keeping whichever entry landed first.
	var s *domain.Session
	if ok {
		s = domain.NewSession(id, now)
	} else {
		s = m.resume(ctx, id, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, found := m.sessions[id]; found {
		if !cur.expired(now, m.idle) {
			return cur
		}
		cur.dead = true
		m.logger.Info("session expired, starting fresh", "session_id", id)
	}
	fresh := newEntry(s)
	m.sessions[id] = fresh
	return fresh
}

func (m *Manager) resume(ctx context.Context, id string, now time.Time) *domain.Session {
	if m.snapshots != nil {
		s, err := m.snapshots.LoadSession(ctx, id)
		switch {
		case err == nil && s != nil && !s.Expired(now, m.idle):
			m.logger.Debug("session resumed from snapshot", "session_id", id)
			return s
		case err != nil:
			m.logger.Warn("failed to load session snapshot", "session_id", id, "error", err)
		}
	}
	return domain.NewSession(id, now)
}

// Do runs fn with exclusive access to the session, creating it first when
// needed. Calls for one session are serialized in arrival order of lock
// acquisition. The session is snapshotted after fn returns.
func (m *Manager) Do(ctx context.Context, id string, fn func(tx *Tx) error) error {
	for {
		e := m.lookup(ctx, id)
		if err := e.acquire(ctx); err != nil {
			return fmt.Errorf("wait for session: %w", err)
		}
		if m.isDead(e) {
			e.release()
			continue
		}

		tx := &Tx{m: m, s: e.session, ctx: ctx}
		err := fn(tx)
		now := m.now()
		e.session.LastActivity = now
		m.mu.Lock()
		e.last = now
		m.mu.Unlock()
		m.snapshot(ctx, e.session)
		e.release()
		return err
	}
}

func (m *Manager) isDead(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.dead
}

func (m *Manager) snapshot(ctx context.Context, s *domain.Session) {
	if m.snapshots == nil {
		return
	}
	// A canceled request still leaves the in-memory session authoritative.
	if err := m.snapshots.SaveSession(context.WithoutCancel(ctx), s.Clone()); err != nil {
		m.logger.Warn("failed to snapshot session", "session_id", s.ID, "error", err)
	}
}

// GetOrCreate returns a copy of the live session for id. An expired session
// is replaced, never resumed.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	var out *domain.Session
	err := m.Do(ctx, id, func(tx *Tx) error {
		out = tx.Session()
		return nil
	})
	return out, err
}

// Get returns a copy of a live session without creating one. It reports
// false when the session is unknown, expired, or ctx ends while the session
// is busy.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	live := ok && !e.expired(m.now(), m.idle)
	m.mu.Unlock()
	if !live {
		return nil, false
	}
	if err := e.acquire(ctx); err != nil {
		return nil, false
	}
	defer e.release()
	if m.isDead(e) {
		return nil, false
	}
	return e.session.Clone(), true
}

// AddPendingChange appends a change to the session's pending list.
func (m *Manager) AddPendingChange(ctx context.Context, sessionID string, c domain.PendingChange) bool {
	var ok bool
	_ = m.Do(ctx, sessionID, func(tx *Tx) error {
		ok = tx.AddPendingChange(c)
		return nil
	})
	return ok
}

// ApproveChange resolves a pending change as approved.
func (m *Manager) ApproveChange(ctx context.Context, sessionID, changeID, approver string) bool {
	var ok bool
	_ = m.Do(ctx, sessionID, func(tx *Tx) error {
		ok = tx.ApproveChange(changeID, approver)
		return nil
	})
	return ok
}

// RejectChange resolves a pending change as rejected. reason is required.
func (m *Manager) RejectChange(ctx context.Context, sessionID, changeID, reason string) bool {
	var ok bool
	_ = m.Do(ctx, sessionID, func(tx *Tx) error {
		ok = tx.RejectChange(changeID, reason)
		return nil
	})
	return ok
}

// CleanupExpired removes sessions idle beyond the threshold, in memory and
// in the snapshot store. Sessions busy with a request are skipped.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for id, e := range m.sessions {
		if !e.expired(now, m.idle) || !e.tryAcquire() {
			continue
		}
		e.dead = true
		delete(m.sessions, id)
		removed++
		e.release()
	}
	live := len(m.sessions)
	m.mu.Unlock()

	if m.snapshots != nil {
		n, err := m.snapshots.DeleteIdleSessions(ctx, now.Add(-m.idle))
		if err != nil {
			return removed, fmt.Errorf("delete idle snapshots: %w", err)
		}
		m.logger.Debug("idle snapshots deleted", "count", n)
	}
	if removed > 0 {
		m.logger.Info("expired sessions removed", "count", removed, "live", live)
	}
	return removed, nil
}

// Len is the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Tx is exclusive access to one session for the duration of a Do callback.
// It must not be retained after the callback returns.
type Tx struct {
	m   *Manager
	s   *domain.Session
	ctx context.Context
}

// ID returns the session id.
func (tx *Tx) ID() string { return tx.s.ID }

// Session returns a copy of the current state.
func (tx *Tx) Session() *domain.Session { return tx.s.Clone() }

// Stage returns the current stage.
func (tx *Tx) Stage() domain.Stage { return tx.s.Stage }

// Language returns the reviewer's preferred language.
func (tx *Tx) Language() domain.Language { return tx.s.Preferences.Language }

// Record returns a copy of the attached record, or nil.
func (tx *Tx) Record() *domain.Record { return tx.s.Record.Clone() }

// AttachRecord replaces the session's record with a copy of rec.
func (tx *Tx) AttachRecord(rec *domain.Record) {
	if rec != nil {
		tx.s.Record = rec.Clone()
	}
}

// SetLanguage records the language the reviewer writes in.
func (tx *Tx) SetLanguage(lang domain.Language) {
	if lang != "" {
		tx.s.Preferences.Language = lang
	}
}

// Transition moves the session to stage. An empty stage is a no-op. A move
// the table does not allow is routed through analyzing when that makes it
// legal; otherwise it is refused.
func (tx *Tx) Transition(stage domain.Stage) bool {
	if stage == "" {
		return true
	}
	from := tx.s.Stage
	switch {
	case domain.CanTransition(from, stage):
	case domain.CanTransition(from, domain.StageAnalyzing) && domain.CanTransition(domain.StageAnalyzing, stage):
		tx.m.logger.Debug("stage routed through analyzing", "session_id", tx.s.ID, "from", from, "to", stage)
	default:
		tx.m.logger.Warn("stage transition refused", "session_id", tx.s.ID, "from", from, "to", stage)
		return false
	}
	tx.s.Stage = stage
	return true
}

// BeginTurn moves an idle, completed or failed session back to analyzing.
func (tx *Tx) BeginTurn() {
	switch tx.s.Stage {
	case domain.StageInitializing, domain.StageError, domain.StageCompleted:
		tx.s.Stage = domain.StageAnalyzing
	}
}

// Fail moves the session to the error stage.
func (tx *Tx) Fail() { tx.s.Stage = domain.StageError }

// Focus sets the field the conversation is currently about.
func (tx *Tx) Focus(field string) { tx.s.Focus = field }

// AppendTurn records a finished exchange along with its actions.
func (tx *Tx) AppendTurn(t domain.Turn, intent domain.Category, actions []domain.ActionRecord) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = tx.m.now()
	}
	tx.s.AppendTurn(t)
	tx.s.LastIntent = intent
	tx.s.Actions = append(tx.s.Actions, actions...)
}

// AddPendingChange appends a change. Changes without an id or field, and
// ids already tracked in any list, are refused.
func (tx *Tx) AddPendingChange(c domain.PendingChange) bool {
	if c.ID == "" || c.Field == "" || tx.tracked(c.ID) {
		return false
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = tx.m.now()
	}
	tx.s.Pending = append(tx.s.Pending, c)
	return true
}

func (tx *Tx) tracked(id string) bool {
	return tx.s.PendingIndex(id) >= 0 ||
		slices.ContainsFunc(tx.s.Approved, func(a domain.ApprovedChange) bool { return a.ID == id }) ||
		slices.ContainsFunc(tx.s.Rejected, func(r domain.RejectedChange) bool { return r.ID == id })
}

// ApproveChange applies a pending change to the attached record, writes the
// record through the record store and moves the change to approved. A record
// without an id was supplied inline and is only updated in the session. It
// returns false, leaving every list unchanged, when the id is not pending or
// the write fails.
func (tx *Tx) ApproveChange(changeID, approver string) bool {
	i := tx.s.PendingIndex(changeID)
	if i < 0 {
		return false
	}
	c := tx.s.Pending[i]
	now := tx.m.now()

	if tx.s.Record != nil {
		updated := tx.s.Record.Clone()
		old, _ := updated.Field(c.Field)
		if !updated.SetField(c.Field, c.Value) {
			tx.m.logger.Warn("pending change targets unknown field", "session_id", tx.s.ID, "change_id", c.ID, "field", c.Field)
			return false
		}
		edit := domain.EditEntry{Field: c.Field, OldValue: old, NewValue: c.Value, EditedBy: approver, EditedAt: now}
		updated.EditHistory = append(updated.EditHistory, edit)
		updated.UpdatedAt = now
		if updated.ReviewStatus == "" || updated.ReviewStatus == domain.ReviewPending {
			updated.ReviewStatus = domain.ReviewInReview
		}
		if tx.m.records != nil && updated.ID != "" {
			if err := tx.m.records.UpdateRecord(tx.ctx, updated, edit); err != nil {
				tx.m.logger.Warn("failed to write approved change", "session_id", tx.s.ID, "change_id", c.ID, "error", err)
				return false
			}
		}
		tx.s.Record = updated
	}

	tx.s.Pending = slices.Delete(tx.s.Pending, i, i+1)
	tx.s.Approved = append(tx.s.Approved, domain.ApprovedChange{PendingChange: c, ApprovedBy: approver, ApprovedAt: now})
	tx.s.Focus = c.Field
	return true
}

// RejectChange moves a pending change to rejected. A blank reason is
// refused.
func (tx *Tx) RejectChange(changeID, reason string) bool {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false
	}
	i := tx.s.PendingIndex(changeID)
	if i < 0 {
		return false
	}
	c := tx.s.Pending[i]
	tx.s.Pending = slices.Delete(tx.s.Pending, i, i+1)
	tx.s.Rejected = append(tx.s.Rejected, domain.RejectedChange{PendingChange: c, RejectReason: reason, RejectedAt: tx.m.now()})
	return true
}

// PendingIDs lists pending change ids in order.
func (tx *Tx) PendingIDs() []string {
	ids := make([]string, len(tx.s.Pending))
	for i, c := range tx.s.Pending {
		ids[i] = c.ID
	}
	return ids
}

// Context renders the relevant context for a backend prompt.
func (tx *Tx) Context() string { return RelevantContext(tx.s) }
