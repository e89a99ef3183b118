package review

import (
	"time"

	"github.com/ashureev/postreview/internal/domain"
)

// ChatRequest is one reviewer message.
type ChatRequest struct {
	Message   string         `json:"message"`
	Record    *domain.Record `json:"current_record,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	DualMode  bool           `json:"dual_mode,omitempty"`
	Reviewer  string         `json:"-"`
}

// ChatResponse is the reply to a reviewer message.
type ChatResponse struct {
	Message         string                 `json:"message"`
	Action          domain.Action          `json:"action"`
	Confidence      float64                `json:"confidence"`
	Suggestions     []string               `json:"suggestions"`
	ProposedChanges []domain.PendingChange `json:"proposed_changes"`
	Advisories      []domain.PendingChange `json:"advisories,omitempty"`
	SessionID       string                 `json:"session_id"`
	BackendUsed     string                 `json:"backend_used"`
	Stage           domain.Stage           `json:"stage"`
	NextActions     []domain.Action        `json:"next_actions"`
	Learned         []string               `json:"learned,omitempty"`
	Intent          *domain.Intent         `json:"intent,omitempty"`
}

// SessionView is the externally visible state of a session.
type SessionView struct {
	ID           string                  `json:"session_id"`
	Stage        domain.Stage            `json:"stage"`
	Focus        string                  `json:"focus,omitempty"`
	Pending      []domain.PendingChange  `json:"pending"`
	Approved     []domain.ApprovedChange `json:"approved"`
	Rejected     []domain.RejectedChange `json:"rejected"`
	Record       *domain.Record          `json:"record,omitempty"`
	Turns        int                     `json:"turns"`
	Preferences  domain.Preferences      `json:"preferences"`
	NextActions  []domain.Action         `json:"next_actions"`
	LastActivity time.Time               `json:"last_activity"`
}

func newView(s *domain.Session) *SessionView {
	return &SessionView{
		ID:           s.ID,
		Stage:        s.Stage,
		Focus:        s.Focus,
		Pending:      s.Pending,
		Approved:     s.Approved,
		Rejected:     s.Rejected,
		Record:       s.Record,
		Turns:        len(s.Turns),
		Preferences:  s.Preferences,
		NextActions:  domain.NextActions(s.Stage),
		LastActivity: s.LastActivity,
	}
}

// Resolution is the outcome of approving or rejecting one change.
type Resolution struct {
	Resolved bool         `json:"resolved"`
	Session  *SessionView `json:"session,omitempty"`
}
