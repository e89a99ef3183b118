// Package identity extracts reviewer and review-session identity from requests.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	ReviewerHeaderName     = "X-Reviewer"
	SessionHeaderName      = "X-Review-Session"
	DefaultReviewerValue   = "reviewer"
	sessionIDQueryParamKey = "session_id"
)

type contextKey int

const (
	reviewerKey contextKey = iota
	sessionIDKey
)

var (
	reviewerPattern  = regexp.MustCompile(`^[\p{L}\p{N}._@ -]{1,64}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ReviewerFromContext extracts the reviewer name from the request context.
func ReviewerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(reviewerKey).(string); ok {
		return v
	}
	return DefaultReviewerValue
}

// SessionIDFromContext extracts the review session id. Empty means a new
// session should be started.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithReviewer returns ctx carrying reviewer.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, reviewerKey, sanitizeReviewer(reviewer))
}

func sanitizeReviewer(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !reviewerPattern.MatchString(name) {
		return DefaultReviewerValue
	}
	return name
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(sessionIDQueryParamKey)
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the reviewer and review session id into the request context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithReviewer(r.Context(), r.Header.Get(ReviewerHeaderName))
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
