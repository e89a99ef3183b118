// Package app assembles the review engine from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/config"
	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/intent"
	"github.com/ashureev/postreview/internal/ratelimit"
	"github.com/ashureev/postreview/internal/reference"
	"github.com/ashureev/postreview/internal/review"
	"github.com/ashureev/postreview/internal/session"
	"github.com/ashureev/postreview/internal/store"
	"github.com/ashureev/postreview/internal/tools"
	"github.com/ashureev/postreview/internal/transcript"
)

// App holds the wired components.
type App struct {
	Repo     *store.SQLiteStore
	Catalog  *reference.Catalog
	Limiter  *ratelimit.Limiter
	Gateway  *gateway.Gateway
	Parser   *intent.Parser
	Sessions *session.Manager
	Review   *review.Service

	// Transcript is nil when transcripts are disabled.
	Transcript *transcript.Logger
}

// NewLogger returns a JSON logger at the named level (debug, info, warn, error).
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// LoadCatalog reads the reference catalog from path, or the embedded default
// when path is empty.
func LoadCatalog(path string) (*reference.Catalog, error) {
	if path == "" {
		return reference.Default(), nil
	}
	c, err := reference.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	return c, nil
}

// NewGateway builds the configured backends and the gateway over them.
// Backends without credentials or an address are left out.
func NewGateway(cfg *config.Config, logger *slog.Logger) (*gateway.Gateway, *ratelimit.Limiter) {
	limiter := ratelimit.New(ratelimit.Budget{}, logger)
	limiter.Configure(backend.Hosted, cfg.Hosted.Budget())
	limiter.Configure(backend.Local, cfg.Local.Budget())

	opts := func(model string) backend.Options {
		return backend.Options{
			Model:   model,
			Timeout: cfg.BackendTimeout,
			Health:  cfg.HealthPolicy(),
			Logger:  logger,
		}
	}

	var hosted, local backend.Backend
	if cfg.Hosted.APIKey != "" {
		a, err := backend.NewHostedFromAPIKey(cfg.Hosted.APIKey, opts(cfg.Hosted.Model))
		if err != nil {
			logger.Warn("hosted backend disabled", "error", err)
		} else {
			hosted = a
		}
	}
	if cfg.Local.BaseURL != "" {
		a, err := backend.NewLocalFromURL(cfg.Local.BaseURL, cfg.Local.APIKey, opts(cfg.Local.Model))
		if err != nil {
			logger.Warn("local backend disabled", "error", err)
		} else {
			local = a
		}
	}

	logger.Info("model backends configured", "hosted", hosted != nil, "local", local != nil)
	return gateway.New(hosted, local, limiter, logger), limiter
}

// NewParser builds the intent parser. useBackends enables backend enhancement
// when the gateway has a backend.
func NewParser(catalog *reference.Catalog, gw *gateway.Gateway, useBackends bool, logger *slog.Logger) *intent.Parser {
	var gen intent.Generator
	if useBackends && gw.Configured() {
		gen = gw
	}
	return intent.New(catalog, gen, logger)
}

// New opens the store and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	catalog, err := LoadCatalog(cfg.ReferenceDataPath)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	gw, limiter := NewGateway(cfg, logger)
	parser := NewParser(catalog, gw, true, logger)

	var sugGen tools.Generator
	if gw.Configured() {
		sugGen = gw
	}
	suggester := tools.NewGatewaySuggester(sugGen, tools.NewRuleSuggester(parser), logger)

	sessions := session.NewManager(session.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		Records:     repo,
		Snapshots:   repo,
		Logger:      logger,
	})

	tl, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	var tlog review.TranscriptLog
	if tl != nil {
		tlog = tl
	}

	svc := review.NewService(review.Deps{
		Parser:     parser,
		Executor:   tools.New(catalog, repo, logger),
		Suggester:  suggester,
		Sessions:   sessions,
		Records:    repo,
		Backends:   gw,
		Transcript: tlog,
		Timeout:    cfg.RequestTimeout,
		Logger:     logger,
	})

	return &App{
		Repo:       repo,
		Catalog:    catalog,
		Limiter:    limiter,
		Gateway:    gw,
		Parser:     parser,
		Sessions:   sessions,
		Review:     svc,
		Transcript: tl,
	}, nil
}

// Close flushes transcripts and releases the store.
func (a *App) Close() error {
	if err := a.Transcript.Close(); err != nil {
		return err
	}
	return a.Repo.Close()
}
