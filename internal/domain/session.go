package domain

import (
	"slices"
	"time"
)

// MaxTurns caps a session's turn history; older turns are trimmed.
const MaxTurns = 50

// Stage is the phase of a review conversation.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageAnalyzing    Stage = "analyzing"
	StageSuggesting   Stage = "suggesting"
	StageEditing      Stage = "editing"
	StageValidating   Stage = "validating"
	StageApproving    Stage = "approving"
	StageCompleted    Stage = "completed"
	StageError        Stage = "error"
)

var stageTransitions = map[Stage][]Stage{
	StageInitializing: {StageAnalyzing},
	StageAnalyzing:    {StageSuggesting, StageEditing, StageValidating, StageApproving},
	StageSuggesting:   {StageAnalyzing, StageEditing, StageValidating, StageApproving},
	StageEditing:      {StageAnalyzing, StageSuggesting, StageValidating, StageApproving},
	StageValidating:   {StageAnalyzing, StageEditing, StageSuggesting, StageApproving},
	StageApproving:    {StageAnalyzing, StageEditing, StageValidating, StageCompleted},
	StageCompleted:    {StageAnalyzing},
	StageError:        {StageAnalyzing},
}

// CanTransition reports whether a session may move from one stage to another.
// Every stage may move to error and to itself.
func CanTransition(from, to Stage) bool {
	if from == to || to == StageError {
		_, known := stageTransitions[from]
		return known
	}
	return slices.Contains(stageTransitions[from], to)
}

// NextActions suggests what the reviewer can do from a stage.
func NextActions(stage Stage) []Action {
	switch stage {
	case StageInitializing, StageAnalyzing:
		return []Action{ActionGenerateSuggestions, ActionAddLocation, ActionSuggestEventType}
	case StageSuggesting:
		return []Action{ActionAddLocation, ActionChangeEventType, ActionAddScheme, ActionValidateData}
	case StageEditing:
		return []Action{ActionValidateData, ActionGenerateSuggestions, ActionApproveChanges}
	case StageValidating:
		return []Action{ActionApproveChanges, ActionRejectChanges}
	case StageApproving:
		return []Action{ActionApproveChanges, ActionRejectChanges, ActionValidateData}
	case StageCompleted:
		return []Action{ActionGenerateSuggestions}
	case StageError:
		return []Action{ActionShowHelp, ActionGenerateSuggestions}
	}
	return nil
}

// Verbosity controls how chatty responses are.
type Verbosity string

const (
	VerbosityConcise  Verbosity = "concise"
	VerbosityDetailed Verbosity = "detailed"
)

// Strictness controls how aggressively validation flags issues.
type Strictness string

const (
	StrictnessLenient Strictness = "lenient"
	StrictnessNormal  Strictness = "normal"
	StrictnessStrict  Strictness = "strict"
)

// Preferences are per-session reviewer settings.
type Preferences struct {
	Language    Language   `json:"language"`
	Verbosity   Verbosity  `json:"verbosity"`
	AutoSuggest bool       `json:"auto_suggest"`
	Strictness  Strictness `json:"strictness"`
}

// DefaultPreferences returns the settings for a fresh session.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:    LanguageEnglish,
		Verbosity:   VerbosityConcise,
		AutoSuggest: true,
		Strictness:  StrictnessNormal,
	}
}

// Turn is one reviewer message and the assistant's reply.
type Turn struct {
	ID         string                  `json:"id"`
	Message    string                  `json:"message"`
	Response   string                  `json:"response"`
	Timestamp  time.Time               `json:"timestamp"`
	Actions    []Action                `json:"actions"`
	Entities   map[EntityType][]Entity `json:"entities,omitempty"`
	Confidence float64                 `json:"confidence"`
}

// Session is the conversational state of one review.
type Session struct {
	ID           string           `json:"id"`
	Stage        Stage            `json:"stage"`
	Focus        string           `json:"focus,omitempty"`
	LastIntent   Category         `json:"last_intent,omitempty"`
	Turns        []Turn           `json:"turns"`
	Pending      []PendingChange  `json:"pending"`
	Approved     []ApprovedChange `json:"approved"`
	Rejected     []RejectedChange `json:"rejected"`
	Actions      []ActionRecord   `json:"actions"`
	Preferences  Preferences      `json:"preferences"`
	Record       *Record          `json:"record,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
}

// NewSession builds an empty session in the initializing stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Stage:        StageInitializing,
		Preferences:  DefaultPreferences(),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Expired reports whether the session has been idle longer than idle.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity) > idle
}

// AppendTurn adds a turn and trims the oldest beyond MaxTurns.
func (s *Session) AppendTurn(t Turn) {
	s.Turns = append(s.Turns, t)
	if over := len(s.Turns) - MaxTurns; over > 0 {
		s.Turns = slices.Clone(s.Turns[over:])
	}
}

// RecentTurns returns the last n turns.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// ChangeCount is the number of changes ever tracked by the session.
func (s *Session) ChangeCount() int {
	return len(s.Pending) + len(s.Approved) + len(s.Rejected)
}

// PendingIndex returns the index of a pending change, or -1.
func (s *Session) PendingIndex(id string) int {
	return slices.IndexFunc(s.Pending, func(c PendingChange) bool { return c.ID == id })
}

// Clone returns a deep copy safe to hand out of the owning manager.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = slices.Clone(s.Turns)
	c.Pending = slices.Clone(s.Pending)
	c.Approved = slices.Clone(s.Approved)
	c.Rejected = slices.Clone(s.Rejected)
	c.Actions = slices.Clone(s.Actions)
	c.Record = s.Record.Clone()
	return &c
}
