package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Completion is what a provider call returns before it is wrapped.
type Completion struct {
	Content    string
	TokensUsed int
	// Confidence is the provider's own score, or zero when it reports none.
	Confidence float64
}

// CallFunc performs one provider request.
type CallFunc func(ctx context.Context, req Request) (Completion, error)

// ProbeFunc performs a provider availability check.
type ProbeFunc func(ctx context.Context) error

// Options configures an adapter.
type Options struct {
	Model     string
	MaxTokens int
	// Timeout bounds each call. Zero leaves the caller's deadline in charge.
	Timeout time.Duration
	Health  HealthPolicy
	Logger  *slog.Logger
}

// Adapter turns a provider call into a Backend with health tracking.
type Adapter struct {
	name       string
	confidence float64
	opts       Options
	call       CallFunc
	probe      ProbeFunc
	health     *Health
	logger     *slog.Logger
}

var _ Backend = (*Adapter)(nil)

// NewAdapter builds a backend named name from a call and probe function.
func NewAdapter(name string, confidence float64, call CallFunc, probe ProbeFunc, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Adapter{
		name:       name,
		confidence: confidence,
		opts:       opts,
		call:       call,
		probe:      probe,
		health:     NewHealth(opts.Health),
		logger:     logger.With("backend", name),
	}
}

// Name returns the backend name.
func (a *Adapter) Name() string { return a.name }

// Health returns the adapter's counters.
func (a *Adapter) Health() HealthSnapshot { return a.health.Snapshot() }

// Generate calls the provider and records the outcome.
func (a *Adapter) Generate(ctx context.Context, req Request) (*Response, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.opts.MaxTokens
	}

	start := time.Now()
	out, err := a.call(ctx, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(out.Content) == "" {
		err = ErrMalformed
	}
	if err != nil {
		berr := a.wrap(ctx, "generate", err)
		a.health.RecordFailure(berr)
		a.logger.Warn("backend call failed", "latency", latency, "error", berr)
		return nil, berr
	}

	a.health.RecordSuccess(latency)
	confidence := out.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = a.confidence
	}
	a.logger.Debug("backend call succeeded", "latency", latency, "tokens", out.TokensUsed)
	return &Response{
		Backend:    a.name,
		Content:    out.Content,
		Confidence: confidence,
		Latency:    latency,
		TokensUsed: out.TokensUsed,
	}, nil
}

// Available runs the provider probe. Probes do not affect health counters.
func (a *Adapter) Available(ctx context.Context) error {
	if a.probe == nil {
		return nil
	}
	if err := a.probe(ctx); err != nil {
		return a.wrap(ctx, "probe", err)
	}
	return nil
}

func (a *Adapter) wrap(ctx context.Context, op string, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		be.Backend = a.name
		be.Op = op
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			be.Timeout = true
		}
		return be
	}
	return &Error{
		Backend: a.name,
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded,
		Err:     err,
	}
}
