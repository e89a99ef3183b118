// Package review implements the reviewer conversation: it ties the intent
// parser, the tool executor and the session manager into one call surface.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/session"
	"github.com/ashureev/postreview/internal/tools"
	"github.com/ashureev/postreview/internal/transcript"
)

// DefaultTimeout bounds one chat turn.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when a turn runs past its deadline.
var ErrTimeout = errors.New("review request timed out")

// IntentParser classifies reviewer messages.
type IntentParser interface {
	ParseWithRoute(ctx context.Context, message string, dual bool) *domain.Intent
}

// ToolExecutor runs intent actions against a record.
type ToolExecutor interface {
	Execute(ctx context.Context, in *domain.Intent, rec *domain.Record, src tools.Suggester, reviewer string) *tools.Result
}

// RecordLoader fetches a stored record by id.
type RecordLoader interface {
	GetRecord(ctx context.Context, id string) (*domain.Record, error)
}

// BackendStatus reports model gateway state.
type BackendStatus interface {
	Status() gateway.Status
	Probe(ctx context.Context) map[string]gateway.ProbeResult
}

// TranscriptLog receives conversation events.
type TranscriptLog interface {
	Log(e transcript.Event)
}

// Deps are the collaborators of a Service. Records, Backends and Transcript
// may be nil.
type Deps struct {
	Parser     IntentParser
	Executor   ToolExecutor
	Suggester  tools.Suggester
	Sessions   *session.Manager
	Records    RecordLoader
	Backends   BackendStatus
	Transcript TranscriptLog
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Service handles reviewer turns.
type Service struct {
	parser    IntentParser
	executor  ToolExecutor
	suggester tools.Suggester
	sessions  *session.Manager
	records   RecordLoader
	backends  BackendStatus
	log       TranscriptLog
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a review service.
func NewService(d Deps) *Service {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		parser:    d.Parser,
		executor:  d.Executor,
		suggester: d.Suggester,
		sessions:  d.Sessions,
		records:   d.Records,
		backends:  d.Backends,
		log:       d.Transcript,
		timeout:   d.Timeout,
		logger:    d.Logger,
	}
}

// Chat handles one reviewer message. Turns for the same session are
// serialized.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.SessionID == "" {
		// Resolve the id up front so the caller learns it.
		view, err := s.sessions.GetOrCreate(ctx, "")
		if err != nil {
			return nil, s.classify(err)
		}
		req.SessionID = view.ID
	}

	var resp *ChatResponse
	err := s.sessions.Do(ctx, req.SessionID, func(tx *session.Tx) error {
		var err error
		resp, err = s.turn(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, s.classify(err)
	}
	s.record(transcript.Event{
		SessionID: resp.SessionID,
		Reviewer:  req.Reviewer,
		RecordID:  req.RecordID,
		Direction: transcript.DirectionInbound,
		EventType: "chat_message",
		Content:   req.Message,
	})
	s.record(transcript.Event{
		SessionID:  resp.SessionID,
		Direction:  transcript.DirectionOutbound,
		EventType:  "chat_response",
		Content:    resp.Message,
		Stage:      string(resp.Stage),
		Backend:    resp.BackendUsed,
		Changes:    len(resp.ProposedChanges),
		Confidence: resp.Confidence,
	})
	return resp, nil
}

func (s *Service) record(e transcript.Event) {
	if s.log != nil {
		s.log.Log(e)
	}
}

func (s *Service) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}
	return err
}

func (s *Service) turn(ctx context.Context, tx *session.Tx, req ChatRequest) (*ChatResponse, error) {
	tx.BeginTurn()
	if err := s.attachRecord(ctx, tx, req); err != nil {
		return nil, err
	}
	rec := tx.Record()
	if rec == nil {
		rec = &domain.Record{}
	}

	in := s.parser.ParseWithRoute(ctx, req.Message, req.DualMode)
	tx.SetLanguage(in.Language)

	execCtx := tools.WithPromptContext(ctx, tx.Context())
	if req.DualMode {
		execCtx = tools.WithRouteMode(execCtx, gateway.ModeDual)
	}
	res := s.executor.Execute(execCtx, in, rec, s.suggester, req.Reviewer)
	if ctx.Err() != nil {
		tx.Fail()
		s.logger.Warn("review turn timed out", "session_id", tx.ID(), "error", ctx.Err())
		return nil, ErrTimeout
	}

	// Approve and reject act on what was pending before this turn.
	prior := tx.PendingIDs()
	for _, c := range res.Changes {
		if !tx.AddPendingChange(c) {
			s.logger.Warn("pending change refused", "session_id", tx.ID(), "change_id", c.ID)
		}
	}
	resolved := s.resolve(tx, in, prior, req)

	tx.Transition(res.Stage)
	if resolved > 0 && len(tx.PendingIDs()) == 0 && in.HasAction(domain.ActionApproveChanges) {
		tx.Transition(domain.StageCompleted)
	}
	if len(res.Changes) > 0 {
		tx.Focus(res.Changes[0].Field)
	}

	backendUsed := res.Backend
	if backendUsed == "" {
		backendUsed = in.Backend
	}
	if backendUsed == "" {
		backendUsed = "rules"
	}

	tx.AppendTurn(domain.Turn{
		Message:    req.Message,
		Response:   res.Message,
		Actions:    in.Actions,
		Entities:   in.Entities,
		Confidence: res.Confidence,
	}, in.Category, res.Actions)

	view := tx.Session()
	s.logger.Info("review turn handled",
		"session_id", view.ID,
		"category", in.Category,
		"changes", len(res.Changes),
		"resolved", resolved,
		"backend", backendUsed,
		"stage", view.Stage)

	return &ChatResponse{
		Message:         res.Message,
		Action:          res.PrimaryAction,
		Confidence:      res.Confidence,
		Suggestions:     res.Suggestions,
		ProposedChanges: nonNil(res.Changes),
		Advisories:      res.Advisories,
		SessionID:       view.ID,
		BackendUsed:     backendUsed,
		Stage:           view.Stage,
		NextActions:     domain.NextActions(view.Stage),
		Learned:         res.Learned,
		Intent:          in,
	}, nil
}

func nonNil(c []domain.PendingChange) []domain.PendingChange {
	if c == nil {
		return []domain.PendingChange{}
	}
	return c
}

// attachRecord binds the request's record to the session: an inline record
// wins, then a stored record by id.
func (s *Service) attachRecord(ctx context.Context, tx *session.Tx, req ChatRequest) error {
	if req.Record != nil {
		tx.AttachRecord(req.Record)
		return nil
	}
	if req.RecordID == "" || s.records == nil {
		return nil
	}
	if cur := tx.Record(); cur != nil && cur.ID == req.RecordID {
		return nil
	}
	rec, err := s.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", req.RecordID, err)
	}
	tx.AttachRecord(rec)
	return nil
}

func (s *Service) resolve(tx *session.Tx, in *domain.Intent, prior []string, req ChatRequest) int {
	n := 0
	switch {
	case in.HasAction(domain.ActionApproveChanges):
		for _, id := range prior {
			if tx.ApproveChange(id, req.Reviewer) {
				n++
			}
		}
	case in.HasAction(domain.ActionRejectChanges):
		reason := strings.TrimSpace(req.Message)
		if reason == "" {
			reason = "rejected by reviewer"
		}
		for _, id := range prior {
			if tx.RejectChange(id, reason) {
				n++
			}
		}
	}
	return n
}

// Approve resolves one pending change as approved.
func (s *Service) Approve(ctx context.Context, sessionID, changeID, reviewer string) (*Resolution, error) {
	ev := transcript.Event{EventType: "change_approved", Reviewer: reviewer, Content: changeID}
	return s.settle(ctx, sessionID, ev, func(tx *session.Tx) bool {
		return tx.ApproveChange(changeID, reviewer)
	})
}

// Reject resolves one pending change as rejected. reason must not be blank.
func (s *Service) Reject(ctx context.Context, sessionID, changeID, reason string) (*Resolution, error) {
	reason = strings.TrimSpace(reason)
	ev := transcript.Event{EventType: "change_rejected", Content: changeID + ": " + reason}
	return s.settle(ctx, sessionID, ev, func(tx *session.Tx) bool {
		return tx.RejectChange(changeID, reason)
	})
}

func (s *Service) settle(ctx context.Context, sessionID string, ev transcript.Event, op func(tx *session.Tx) bool) (*Resolution, error) {
	if _, ok := s.sessions.Get(ctx, sessionID); !ok {
		return &Resolution{Resolved: false}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := &Resolution{}
	err := s.sessions.Do(ctx, sessionID, func(tx *session.Tx) error {
		tx.BeginTurn()
		out.Resolved = op(tx)
		if out.Resolved {
			tx.Transition(domain.StageApproving)
			if len(tx.PendingIDs()) == 0 {
				tx.Transition(domain.StageCompleted)
			}
		}
		out.Session = newView(tx.Session())
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}
	if out.Resolved {
		ev.SessionID = sessionID
		ev.Direction = transcript.DirectionInbound
		ev.Stage = string(out.Session.Stage)
		s.record(ev)
	}
	return out, nil
}

// Session returns a live session without creating one.
func (s *Service) Session(ctx context.Context, id string) (*SessionView, bool) {
	sess, ok := s.sessions.Get(ctx, id)
	if !ok {
		return nil, false
	}
	return newView(sess), true
}

// Status reports model gateway state.
func (s *Service) Status() gateway.Status {
	if s.backends == nil {
		return gateway.Status{Backends: map[string]gateway.BackendStatus{}}
	}
	return s.backends.Status()
}

// Probe runs backend availability checks.
func (s *Service) Probe(ctx context.Context) map[string]gateway.ProbeResult {
	if s.backends == nil {
		return map[string]gateway.ProbeResult{}
	}
	return s.backends.Probe(ctx)
}

// CleanupExpired sweeps idle sessions.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.sessions.CleanupExpired(ctx)
}
