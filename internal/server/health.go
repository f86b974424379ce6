// Package server hosts the gRPC side of the service: the standard health
// service for orchestrator probes plus reflection. The operator API itself
// is served over HTTP by the httpserver subpackage.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the pipeline.
const ServiceName = "articlepipeline.v1.ArticlePipelineService"

// DefaultProbeInterval is how often dependency checks refresh the status.
const DefaultProbeInterval = 15 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// HealthServer is a gRPC server exposing grpc.health.v1 and reflection.
type HealthServer struct {
	grpc     *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	logger   zerolog.Logger
}

// NewHealthServer creates the server. Every check must pass for the
// service to report SERVING; each check is also reported under its own name.
func NewHealthServer(checks map[string]Check, interval time.Duration, logger zerolog.Logger) *HealthServer {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	g := grpc.NewServer(
		grpc.MaxConcurrentStreams(100),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)
	reflection.Register(g)

	return &HealthServer{
		grpc:     g,
		health:   hs,
		checks:   checks,
		interval: interval,
		logger:   logger.With().Str("component", "grpc-health").Logger(),
	}
}

// Serve probes dependencies once, then serves on lis until Shutdown is
// called. Probing continues in the background until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.probe(ctx)
	go s.probeLoop(ctx)

	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC health server starting")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

func (s *HealthServer) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

// probe runs every check and updates the reported statuses.
func (s *HealthServer) probe(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus(ServiceName, overall)
	s.health.SetServingStatus("", overall)
}

// Shutdown marks the service NOT_SERVING and stops gracefully, forcing a
// stop when ctx expires first.
func (s *HealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		s.grpc.Stop()
	}
}
