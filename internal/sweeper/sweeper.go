// Package sweeper runs idle review session cleanup on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cleaner removes expired sessions and reports how many were dropped.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Sweeper periodically calls a Cleaner.
type Sweeper struct {
	cleaner  Cleaner
	schedule cron.Schedule
	logger   *slog.Logger
	cron     *cron.Cron
}

// New validates expr and returns a stopped sweeper.
func New(expr string, cleaner Cleaner, logger *slog.Logger) (*Sweeper, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cleaner: cleaner, schedule: sched, logger: logger}, nil
}

// Next returns the next fire time after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// SweepOnce runs a single cleanup pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return n, err
	}
	if n > 0 {
		s.logger.Info("session sweep completed", "removed", n)
	}
	return n, nil
}

// Start runs the sweeper in the background until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron = cron.New(cron.WithParser(cronParser))
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.SweepOnce(ctx)
	}))
	s.cron.Start()
	s.logger.Info("session sweeper started", "next", s.Next(time.Now()))

	go func() {
		<-ctx.Done()
		stopped := s.cron.Stop()
		<-stopped.Done()
		s.logger.Info("session sweeper shutting down", "reason", ctx.Err())
	}()
}
