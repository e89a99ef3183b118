// Package gateway routes generation requests across the hosted and local
// backends with rate limiting, health-based fallback and a dual mode.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/ratelimit"
)

// ErrUnavailable is returned when no backend could serve a request.
var ErrUnavailable = errors.New("no backend available")

var errNotConfigured = errors.New("backend not configured")

// Request is a gateway call.
type Request struct {
	backend.Request
	Mode Mode
	// Prefer forces the primary backend in primary mode.
	Prefer string
}

// Gateway is the single entry point for model calls. Either backend may be
// nil when it is not configured.
type Gateway struct {
	hosted  backend.Backend
	local   backend.Backend
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger

	mu    sync.Mutex
	state string
}

// New creates a gateway. limiter may be shared with other components.
func New(hosted, local backend.Backend, limiter *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Budget{}, logger)
	}
	return &Gateway{
		hosted:  hosted,
		local:   local,
		limiter: limiter,
		tracer:  otel.Tracer("github.com/ashureev/postreview/internal/gateway"),
		logger:  logger,
	}
}

// Configured reports whether at least one backend is wired.
func (g *Gateway) Configured() bool {
	return g != nil && (g.hosted != nil || g.local != nil)
}

func (g *Gateway) byName(name string) backend.Backend {
	switch name {
	case backend.Hosted:
		return g.hosted
	case backend.Local:
		return g.local
	}
	return nil
}

// order returns the primary and fallback backends for a request. The
// fallback is nil when only one backend is configured.
func (g *Gateway) order(prefer string) (backend.Backend, backend.Backend) {
	if g.hosted == nil {
		return g.local, nil
	}
	if g.local == nil {
		return g.hosted, nil
	}

	primary := prefer
	if g.byName(primary) == nil {
		primary = SelectPrimary(g.hosted.Health(), g.local.Health())
	}
	fallback := backend.Local
	if primary == backend.Local {
		fallback = backend.Hosted
	}
	if g.limiter.Exhausted(primary) && !g.limiter.Exhausted(fallback) {
		primary, fallback = fallback, primary
	}
	return g.byName(primary), g.byName(fallback)
}

// Generate serves req in the requested mode.
func (g *Gateway) Generate(ctx context.Context, req Request) (Result, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errNotConfigured)
	}
	if req.Mode == ModeDual {
		return g.dual(ctx, req.Request)
	}

	primary, fallback := g.order(req.Prefer)
	resp, err := g.call(ctx, primary, req.Request)
	if err == nil {
		g.setState(primary.Name())
		return Single{Response: *resp}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s: %w", primary.Name(), ctxErr)
	}
	if fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	g.logger.Warn("primary backend failed, falling back",
		"primary", primary.Name(), "fallback", fallback.Name(), "error", err)
	resp, err = g.call(ctx, fallback, req.Request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", fallback.Name(), ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	g.setState(fallback.Name())
	return Single{Response: *resp, FellBack: true}, nil
}

// dual calls both backends concurrently. Neither call affects the other.
func (g *Gateway) dual(ctx context.Context, req backend.Request) (Result, error) {
	var (
		wg     sync.WaitGroup
		result Dual
	)
	run := func(b backend.Backend, out *Outcome) {
		defer wg.Done()
		if b == nil {
			out.Err = errNotConfigured
			return
		}
		out.Response, out.Err = g.call(ctx, b, req)
	}
	wg.Add(2)
	go run(g.hosted, &result.Hosted)
	go run(g.local, &result.Local)
	wg.Wait()

	g.setState(BackendBoth)
	if !result.Hosted.OK() && !result.Local.OK() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("dual: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(result.Hosted.Err, result.Local.Err))
	}
	return result, nil
}

// call acquires a rate-limit slot and invokes one backend, feeding the
// outcome back into the limiter.
func (g *Gateway) call(ctx context.Context, b backend.Backend, req backend.Request) (*backend.Response, error) {
	name := b.Name()
	ctx, span := g.tracer.Start(ctx, "gateway.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("gateway.backend", name)),
	)
	defer span.End()

	if err := g.limiter.Acquire(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit")
		return nil, err
	}
	resp, err := b.Generate(ctx, req)
	if err != nil {
		g.limiter.RecordFailure(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend call failed")
		return nil, err
	}
	g.limiter.RecordSuccess(name)
	span.SetAttributes(
		attribute.Int("gateway.tokens", resp.TokensUsed),
		attribute.Int64("gateway.latency_ms", resp.Latency.Milliseconds()),
	)
	return resp, nil
}

func (g *Gateway) setState(s string) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// BackendStatus describes one backend.
type BackendStatus struct {
	Configured bool                   `json:"configured"`
	Health     backend.HealthSnapshot `json:"health"`
	Limiter    ratelimit.Snapshot     `json:"limiter"`
}

// Status is a point-in-time view of the gateway.
type Status struct {
	Primary  string                   `json:"primary"`
	Fallback string                   `json:"fallback,omitempty"`
	State    string                   `json:"state"`
	Backends map[string]BackendStatus `json:"backends"`
}

// Status reports routing and per-backend state. State is "dual" after a dual
// call, otherwise the name of the backend that last served a request.
func (g *Gateway) Status() Status {
	st := Status{Backends: make(map[string]BackendStatus, 2)}
	for _, name := range []string{backend.Hosted, backend.Local} {
		bs := BackendStatus{Limiter: g.limiter.Snapshot(name)}
		if b := g.byName(name); b != nil {
			bs.Configured = true
			bs.Health = b.Health()
		}
		st.Backends[name] = bs
	}
	if primary, fallback := g.order(""); primary != nil {
		st.Primary = primary.Name()
		if fallback != nil {
			st.Fallback = fallback.Name()
		}
	}

	g.mu.Lock()
	st.State = g.state
	g.mu.Unlock()
	if st.State == BackendBoth {
		st.State = string(ModeDual)
	}
	if st.State == "" {
		st.State = st.Primary
	}
	return st
}

// ProbeResult is the outcome of one availability check.
type ProbeResult struct {
	Available bool          `json:"available"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// Probe checks every configured backend concurrently.
func (g *Gateway) Probe(ctx context.Context) map[string]ProbeResult {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]ProbeResult, 2)
	)
	for _, b := range []backend.Backend{g.hosted, g.local} {
		if b == nil {
			continue
		}
		wg.Add(1)
		go func(b backend.Backend) {
			defer wg.Done()
			start := time.Now()
			err := b.Available(ctx)
			res := ProbeResult{Available: err == nil, Latency: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				g.logger.Warn("backend probe failed", "backend", b.Name(), "error", err)
			}
			mu.Lock()
			out[b.Name()] = res
			mu.Unlock()
		}(b)
	}
	wg.Wait()
	return out
}
