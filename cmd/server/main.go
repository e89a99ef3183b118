// Post review server: reviewer chat over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/postreview/internal/api"
	"github.com/ashureev/postreview/internal/app"
	"github.com/ashureev/postreview/internal/config"
	"github.com/ashureev/postreview/internal/healthsvc"
	"github.com/ashureev/postreview/internal/identity"
	"github.com/ashureev/postreview/internal/middleware"
	"github.com/ashureev/postreview/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize review engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize handlers.
	reviewHandler := api.NewReviewHandler(a.Review, logger)
	healthHandler := api.NewHealthHandler(a.Repo, a.Review)
	socket := api.NewReviewSocket(a.Review, cfg.AllowedOrigins(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware())

	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(cfg.ReviewerRateLimit, cfg.ReviewerRateBurst))
		reviewHandler.RegisterRoutes(r)
		r.Get("/ws/review", socket.ServeHTTP)
	})

	// No WriteTimeout: review sockets are long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Background work.
	sw, err := sweeper.New(cfg.SessionCleanupSchedule, a.Review, logger)
	if err != nil {
		slog.Error("Invalid session cleanup schedule", "error", err)
		os.Exit(1)
	}
	sw.Start(ctx)

	reporter := healthsvc.NewReporter(a.Gateway, healthsvc.DefaultInterval, logger)
	go reporter.Run(ctx)
	if cfg.GRPCHealthAddr != "" {
		go func() {
			if err := reporter.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
