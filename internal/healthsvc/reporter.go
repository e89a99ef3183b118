// Package healthsvc exposes model backend health over the standard gRPC
// health checking protocol.
package healthsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/gateway"
)

// Service names reported by the health server. The empty name is the overall
// service status.
const (
	ServiceHosted  = "review.backend.hosted"
	ServiceLocal   = "review.backend.local"
	ServiceOverall = ""
)

// DefaultInterval is how often statuses are refreshed.
const DefaultInterval = time.Minute

// StatusSource reports model gateway state.
type StatusSource interface {
	Status() gateway.Status
}

// Reporter mirrors gateway status into a gRPC health server.
type Reporter struct {
	source   StatusSource
	server   *health.Server
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter creates a reporter. A non-positive interval uses DefaultInterval.
func NewReporter(source StatusSource, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		source:   source,
		server:   health.NewServer(),
		interval: interval,
		logger:   logger,
	}
}

// HealthServer returns the underlying health server.
func (r *Reporter) HealthServer() *health.Server { return r.server }

// Refresh recomputes every service status from the gateway.
//
// A backend is SERVING when configured and healthy. The overall service is
// SERVING when any backend serves or when none is configured, since rule-based
// parsing keeps working without models.
func (r *Reporter) Refresh() {
	st := r.source.Status()
	anyConfigured, anyServing := false, false
	for name, svc := range map[string]string{backend.Hosted: ServiceHosted, backend.Local: ServiceLocal} {
		bs := st.Backends[name]
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if bs.Configured {
			anyConfigured = true
			if bs.Health.Healthy && !bs.Limiter.Exhausted {
				status = healthpb.HealthCheckResponse_SERVING
				anyServing = true
			}
		}
		r.server.SetServingStatus(svc, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if anyConfigured && !anyServing {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
		r.logger.Warn("no model backend is serving")
	}
	r.server.SetServingStatus(ServiceOverall, overall)
}

// Run refreshes statuses every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Refresh()
	for {
		select {
		case <-ticker.C:
			r.Refresh()
		case <-ctx.Done():
			r.server.Shutdown()
			return
		}
	}
}

// Serve listens on addr and serves the health service until ctx is done.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, r.server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	r.logger.Info("gRPC health server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
