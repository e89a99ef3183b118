package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/identity"
	"github.com/ashureev/postreview/internal/review"
)

// Frame types accepted and emitted on the review socket.
const (
	frameChat    = "chat"
	frameApprove = "approve"
	frameReject  = "reject"
	framePing    = "ping"
	framePong    = "pong"
	frameError   = "error"
)

// socketFrame is one inbound message.
type socketFrame struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Record    *domain.Record `json:"current_record,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	DualMode  bool           `json:"dual_mode,omitempty"`
	ChangeID  string         `json:"change_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// socketReply is one outbound message. Data carries the same payload the HTTP
// endpoint for Type would return.
type socketReply struct {
	Type   string      `json:"type"`
	Status int         `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ReviewSocket serves the reviewer conversation over a WebSocket.
type ReviewSocket struct {
	svc            ReviewService
	originPatterns []string
	logger         *slog.Logger
}

// NewReviewSocket creates a socket handler. originPatterns follow
// websocket.AcceptOptions; empty allows only same-origin requests.
func NewReviewSocket(svc ReviewService, originPatterns []string, logger *slog.Logger) *ReviewSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewSocket{svc: svc, originPatterns: originPatterns, logger: logger}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *ReviewSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reviewer := identity.ReviewerFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	h.logger.Info("Review socket connection request", "reviewer", reviewer, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "reviewer", reviewer)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "reviewer", reviewer)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &socketConn{h: h, ws: ws, reviewer: reviewer, sessionID: sessionID}
	conn.loop(ctx)
}

type socketConn struct {
	h         *ReviewSocket
	ws        *websocket.Conn
	reviewer  string
	sessionID string
}

func (c *socketConn) loop(ctx context.Context) {
	for {
		_, message, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.h.logger.Debug("WebSocket closed by client", "reviewer", c.reviewer)
			} else {
				c.h.logger.Warn("WebSocket read error", "error", err, "reviewer", c.reviewer)
			}
			return
		}

		var reply socketReply
		var frame socketFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			reply = socketReply{Type: frameError, Status: http.StatusBadRequest, Error: "invalid frame"}
		} else {
			reply = c.dispatch(ctx, frame)
		}

		if err := wsjson.Write(ctx, c.ws, reply); err != nil {
			c.h.logger.Debug("WebSocket write error", "error", err, "reviewer", c.reviewer)
			return
		}
	}
}

func (c *socketConn) dispatch(ctx context.Context, f socketFrame) socketReply {
	if f.SessionID != "" {
		c.sessionID = f.SessionID
	}
	switch f.Type {
	case framePing:
		return socketReply{Type: framePong, Status: http.StatusOK}
	case frameChat:
		resp, err := c.h.svc.Chat(ctx, review.ChatRequest{
			Message:   f.Message,
			Record:    f.Record,
			RecordID:  f.RecordID,
			SessionID: c.sessionID,
			DualMode:  f.DualMode,
			Reviewer:  c.reviewer,
		})
		if err != nil {
			return c.failure(ctx, f.Type, err)
		}
		c.sessionID = resp.SessionID
		return socketReply{Type: frameChat, Status: http.StatusOK, Data: resp}
	case frameApprove:
		res, err := c.h.svc.Approve(ctx, c.sessionID, f.ChangeID, c.reviewer)
		return c.resolution(ctx, f.Type, res, err)
	case frameReject:
		if strings.TrimSpace(f.Reason) == "" {
			return socketReply{Type: frameReject, Status: http.StatusBadRequest, Error: "reason is required"}
		}
		res, err := c.h.svc.Reject(ctx, c.sessionID, f.ChangeID, f.Reason)
		return c.resolution(ctx, f.Type, res, err)
	default:
		return socketReply{Type: frameError, Status: http.StatusBadRequest, Error: "unknown frame type"}
	}
}

func (c *socketConn) resolution(ctx context.Context, typ string, res *review.Resolution, err error) socketReply {
	switch {
	case err != nil:
		return c.failure(ctx, typ, err)
	case res.Session == nil:
		return socketReply{Type: typ, Status: http.StatusNotFound, Error: "session not found"}
	case !res.Resolved:
		return socketReply{Type: typ, Status: http.StatusConflict, Data: res}
	default:
		return socketReply{Type: typ, Status: http.StatusOK, Data: res}
	}
}

func (c *socketConn) failure(ctx context.Context, typ string, err error) socketReply {
	status, msg := chatErrorStatus(err, sessionLanguage(ctx, c.h.svc, c.sessionID))
	if status >= http.StatusInternalServerError {
		c.h.logger.Error("review socket request failed", "type", typ, "session_id", c.sessionID, "error", err)
	}
	return socketReply{Type: typ, Status: status, Error: msg}
}

