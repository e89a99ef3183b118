// Package backend wraps the hosted and local model providers behind one
// generation contract with per-backend health tracking.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names.
const (
	Hosted = "hosted"
	Local  = "local"
)

// Default confidences assigned when a provider reports no score of its own.
const (
	HostedConfidence = 0.85
	LocalConfidence  = 0.75
)

// ErrMalformed marks a response that carried no usable content.
var ErrMalformed = errors.New("malformed response")

// Backend is a model provider able to generate text.
type Backend interface {
	// Name returns the stable backend name used for routing and rate limits.
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	// Available runs a lightweight capability probe. It returns nil when the
	// provider is reachable.
	Available(ctx context.Context) error
	Health() HealthSnapshot
}

// Request is a single generation call.
type Request struct {
	Prompt    string
	Context   string
	System    string
	MaxTokens int
}

// Response is the uniform result of a generation call.
type Response struct {
	Backend    string        `json:"backend"`
	Content    string        `json:"content"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	TokensUsed int           `json:"tokens_used"`
}

// Error is a failed call to a backend. StatusCode is zero when the failure
// happened before an HTTP response was received.
type Error struct {
	Backend    string
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Backend, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Timeout {
		msg += " timed out"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// userContent joins the optional context block with the prompt.
func userContent(req Request) string {
	if req.Context == "" {
		return req.Prompt
	}
	return "Context:\n" + req.Context + "\n\n" + req.Prompt
}
