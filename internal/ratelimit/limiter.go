// Package ratelimit enforces per-backend request budgets with backoff.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrExhausted is returned when a backend has failed MaxRetries times in a row.
var ErrExhausted = errors.New("rate limit exhausted")

// Budget configures one backend's request allowance.
type Budget struct {
	RequestsPerMinute int
	MaxRetries        int
	InitialBackoff    time.Duration
	Multiplier        float64
	// Window is the sliding window length. Zero means one minute.
	Window time.Duration
}

func (b Budget) withDefaults() Budget {
	if b.RequestsPerMinute <= 0 {
		b.RequestsPerMinute = 10
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = 3
	}
	if b.InitialBackoff <= 0 {
		b.InitialBackoff = time.Second
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.Window <= 0 {
		b.Window = time.Minute
	}
	return b
}

// Snapshot is a point-in-time view of one backend's limiter state.
type Snapshot struct {
	InWindow     int           `json:"in_window"`
	Limit        int           `json:"limit"`
	Failures     int           `json:"consecutive_failures"`
	Backoff      time.Duration `json:"backoff"`
	Exhausted    bool          `json:"exhausted"`
	NextSlotWait time.Duration `json:"next_slot_wait"`
}

type backendState struct {
	budget       Budget
	requests     []time.Time
	failures     int
	lastFailure  time.Time
	backoffUntil time.Time
}

// Limiter tracks sliding-window budgets for a set of named backends.
// Each backend's state is independent.
type Limiter struct {
	mu       sync.Mutex
	backends map[string]*backendState
	fallback Budget
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a limiter. Backends without an explicit budget use fallback.
func New(fallback Budget, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		backends: make(map[string]*backendState),
		fallback: fallback.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
}

// Configure sets the budget for a backend, keeping any in-flight window.
func (l *Limiter) Configure(name string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(name)
	st.budget = b.withDefaults()
}

func (l *Limiter) stateLocked(name string) *backendState {
	st, ok := l.backends[name]
	if !ok {
		st = &backendState{budget: l.fallback}
		l.backends[name] = st
	}
	return st
}

// prune drops timestamps outside the window.
func (st *backendState) prune(now time.Time) {
	cutoff := now.Add(-st.budget.Window)
	var recent []time.Time
	for _, t := range st.requests {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	st.requests = recent
}

// exhaustedLocked reports exhaustion, resetting it once a full window has
// passed since the last failure.
func (st *backendState) exhaustedLocked(now time.Time) bool {
	if st.failures < st.budget.MaxRetries {
		return false
	}
	if now.Sub(st.lastFailure) >= st.budget.Window {
		st.failures = 0
		st.backoffUntil = time.Time{}
		return false
	}
	return true
}

// Acquire blocks until a request slot is available for the backend. The slot
// is consumed as soon as it is granted, whatever the outcome of the call.
func (l *Limiter) Acquire(ctx context.Context, name string) error {
	for {
		l.mu.Lock()
		st := l.stateLocked(name)
		now := l.now()
		if st.exhaustedLocked(now) {
			l.mu.Unlock()
			return fmt.Errorf("%s: %w", name, ErrExhausted)
		}
		st.prune(now)

		var wait time.Duration
		if now.Before(st.backoffUntil) {
			wait = st.backoffUntil.Sub(now)
		} else if len(st.requests) >= st.budget.RequestsPerMinute {
			wait = st.requests[0].Add(st.budget.Window).Sub(now)
		}
		if wait <= 0 {
			st.requests = append(st.requests, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		l.logger.Debug("rate limiter waiting for slot", "backend", name, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordFailure registers a failed call and arms exponential backoff:
// InitialBackoff × Multiplier^(attempt). It reports whether the backend is
// now exhausted.
func (l *Limiter) RecordFailure(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(name)
	now := l.now()
	attempt := st.failures
	st.failures++
	st.lastFailure = now
	if st.failures > st.budget.MaxRetries {
		st.failures = st.budget.MaxRetries
	}

	backoff := backoffFor(st.budget, attempt)
	st.backoffUntil = now.Add(backoff)

	exhausted := st.failures >= st.budget.MaxRetries
	if exhausted {
		l.logger.Warn("backend exhausted after consecutive failures", "backend", name, "failures", st.failures)
	} else {
		l.logger.Debug("backend backoff armed", "backend", name, "attempt", attempt, "backoff", backoff)
	}
	return exhausted
}

// RecordSuccess clears the failure streak for a backend.
func (l *Limiter) RecordSuccess(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(name)
	st.failures = 0
	st.backoffUntil = time.Time{}
}

// Exhausted reports whether the caller should fail over to another backend.
func (l *Limiter) Exhausted(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(name).exhaustedLocked(l.now())
}

// Snapshot reports the current state for a backend.
func (l *Limiter) Snapshot(name string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(name)
	now := l.now()
	st.prune(now)

	snap := Snapshot{
		InWindow:  len(st.requests),
		Limit:     st.budget.RequestsPerMinute,
		Failures:  st.failures,
		Exhausted: st.exhaustedLocked(now),
	}
	if now.Before(st.backoffUntil) {
		snap.Backoff = st.backoffUntil.Sub(now)
	}
	if len(st.requests) >= st.budget.RequestsPerMinute {
		snap.NextSlotWait = st.requests[0].Add(st.budget.Window).Sub(now)
	}
	return snap
}

func backoffFor(b Budget, attempt int) time.Duration {
	d := float64(b.InitialBackoff) * math.Pow(b.Multiplier, float64(attempt))
	// Never back off for longer than a full window.
	if d > float64(b.Window) {
		return b.Window
	}
	return time.Duration(d)
}
