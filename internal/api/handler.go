// Package api provides HTTP and WebSocket handlers for the review API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/review"
)

const maxBodyBytes = 1 << 20

// ReviewService is the review surface the handlers call.
type ReviewService interface {
	Chat(ctx context.Context, req review.ChatRequest) (*review.ChatResponse, error)
	Approve(ctx context.Context, sessionID, changeID, reviewer string) (*review.Resolution, error)
	Reject(ctx context.Context, sessionID, changeID, reason string) (*review.Resolution, error)
	Session(ctx context.Context, id string) (*review.SessionView, bool)
	Status() gateway.Status
	Probe(ctx context.Context) map[string]gateway.ProbeResult
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
