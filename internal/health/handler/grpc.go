// Package handler serves readiness over the standard gRPC health protocol and over HTTP.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const checkTimeout = 3 * time.Second

// Pinger is used to check database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used to check that the policy engine can evaluate (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server reports SERVING while every configured dependency answers, NOT_SERVING otherwise.
// A nil Pinger or PolicyChecker is skipped.
type Server struct {
	pinger Pinger
	policy PolicyChecker
	hs     *health.Server
	log    zerolog.Logger

	mu     sync.RWMutex
	status healthpb.HealthCheckResponse_ServingStatus
}

// NewServer returns a health server with status SERVING until the first failed check.
func NewServer(pinger Pinger, policy PolicyChecker, log zerolog.Logger) *Server {
	s := &Server{
		pinger: pinger,
		policy: policy,
		hs:     health.NewServer(),
		log:    log.With().Str("component", "health").Logger(),
		status: healthpb.HealthCheckResponse_SERVING,
	}
	s.hs.SetServingStatus("", s.status)
	return s
}

// Register adds the grpc.health.v1.Health service to reg.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(reg, s.hs)
}

// Check probes the dependencies once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("database ping failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("policy check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.mu.Lock()
	changed := status != s.status
	s.status = status
	s.mu.Unlock()
	if changed {
		s.log.Info().Str("status", status.String()).Msg("serving status changed")
	}
	s.hs.SetServingStatus("", status)
	return status
}

// Status returns the last published status.
func (s *Server) Status() healthpb.HealthCheckResponse_ServingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run checks every interval until ctx is done, then marks the service NOT_SERVING.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.hs.Shutdown()
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// HTTP is the GET /health handler: 200 when serving, 503 otherwise.
func (s *Server) HTTP(c *gin.Context) {
	status := s.Check(c.Request.Context())
	if status != healthpb.HealthCheckResponse_SERVING {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
