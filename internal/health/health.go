// Package health tracks process readiness for the HTTP probe and the gRPC
// health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check is one dependency probe.
type Check struct {
	Name string
	// Required checks make the process not ready when they fail; optional
	// ones (a Redis throttle with in-memory failover) are only logged.
	Required bool
	Probe    func(ctx context.Context) error
}

// Monitor runs the checks and mirrors the result into a gRPC health server.
type Monitor struct {
	checks []Check
	grpc   *grpchealth.Server
	logger *zerolog.Logger
}

func NewMonitor(logger *zerolog.Logger, checks ...Check) *Monitor {
	l := logger.With().Str("component", "health").Logger()
	return &Monitor{checks: checks, grpc: grpchealth.NewServer(), logger: &l}
}

// Ready returns the failures of all required checks.
func (m *Monitor) Ready(ctx context.Context) error {
	var errs []error
	for _, c := range m.checks {
		if err := c.Probe(ctx); err != nil {
			if c.Required {
				errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			} else {
				m.logger.Warn().Err(err).Str("check", c.Name).Msg("Optional dependency unavailable")
			}
		}
	}
	return errors.Join(errs...)
}

// Refresh updates the gRPC serving status from Ready.
func (m *Monitor) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := m.Ready(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Not ready")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.grpc.SetServingStatus("", status)
}

// Run refreshes the status every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshWithTimeout(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			m.grpc.Shutdown()
			return
		case <-ticker.C:
			m.refreshWithTimeout(ctx, interval)
		}
	}
}

func (m *Monitor) refreshWithTimeout(ctx context.Context, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	m.Refresh(ctx)
}

// Serve exposes grpc.health.v1.Health on addr until ctx is done.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, m.grpc)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	m.logger.Info().Str("address", addr).Msg("gRPC health server listening")
	return srv.Serve(lis)
}
