package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/identity"
	"github.com/ashureev/postreview/internal/review"
	"github.com/ashureev/postreview/internal/store"
	"github.com/ashureev/postreview/internal/tools"
)

// ReviewHandler serves the reviewer conversation endpoints.
type ReviewHandler struct {
	svc    ReviewService
	logger *slog.Logger
}

// NewReviewHandler creates a review handler.
func NewReviewHandler(svc ReviewService, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers review and backend routes.
func (h *ReviewHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/review", func(r chi.Router) {
			r.Post("/chat", h.Chat)
			r.Get("/sessions/{id}", h.GetSession)
			r.Post("/sessions/{id}/changes/{changeID}/approve", h.Approve)
			r.Post("/sessions/{id}/changes/{changeID}/reject", h.Reject)
		})
		r.Get("/backends/status", h.BackendStatus)
		r.Get("/backends/probe", h.BackendProbe)
	})
}

// Chat handles one reviewer message.
func (h *ReviewHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req review.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	req.Reviewer = identity.ReviewerFromContext(r.Context())

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		h.chatError(r.Context(), w, req.SessionID, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *ReviewHandler) chatError(ctx context.Context, w http.ResponseWriter, sessionID string, err error) {
	status, msg := chatErrorStatus(err, sessionLanguage(ctx, h.svc, sessionID))
	if status >= http.StatusInternalServerError {
		h.logger.Error("review chat failed", "session_id", sessionID, "error", err)
	}
	Error(w, status, msg)
}

// chatErrorStatus maps a service error to an HTTP status and reviewer-facing text.
func chatErrorStatus(err error, lang domain.Language) (int, string) {
	switch {
	case errors.Is(err, review.ErrTimeout):
		return http.StatusGatewayTimeout, tools.UnavailableMessage(lang)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "record not found"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, tools.UnavailableMessage(lang)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// sessionLanguage is the reviewer's language for sessionID, English when unknown.
func sessionLanguage(ctx context.Context, svc ReviewService, sessionID string) domain.Language {
	if sessionID == "" {
		return domain.LanguageEnglish
	}
	if view, ok := svc.Session(ctx, sessionID); ok && view.Preferences.Language != "" {
		return view.Preferences.Language
	}
	return domain.LanguageEnglish
}

// GetSession returns the visible state of a session.
func (h *ReviewHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, ok := h.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, view)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

// Approve resolves one pending change as approved.
func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "changeID"),
		identity.ReviewerFromContext(r.Context()))
	h.writeResolution(w, r, res, err)
}

// Reject resolves one pending change as rejected. A reason is required.
func (h *ReviewHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if err := decodeJSON(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		Error(w, http.StatusBadRequest, "reason is required")
		return
	}
	res, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "changeID"), body.Reason)
	h.writeResolution(w, r, res, err)
}

func (h *ReviewHandler) writeResolution(w http.ResponseWriter, r *http.Request, res *review.Resolution, err error) {
	sessionID := chi.URLParam(r, "id")
	switch {
	case err != nil:
		h.chatError(r.Context(), w, sessionID, err)
	case res.Session == nil:
		Error(w, http.StatusNotFound, "session not found")
	case !res.Resolved:
		JSON(w, http.StatusConflict, res)
	default:
		JSON(w, http.StatusOK, res)
	}
}

// BackendStatus reports model gateway state.
func (h *ReviewHandler) BackendStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.svc.Status())
}

// BackendProbe runs availability checks against every configured backend.
func (h *ReviewHandler) BackendProbe(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.Probe(r.Context()))
}
