// Package grpcapi exposes the gRPC health service used by orchestrators to
// probe the voice bridge.
package grpcapi

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-bridge-service/internal/observability"
	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/observability/metrics"
)

// ServiceName is the health-check name reported alongside the overall status.
const ServiceName = "ai.voice.bridge.VoiceBridge"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds a gRPC server with health, reflection and logging
// interceptors. It reports SERVING until SetServing(false) or Shutdown.
func NewServer(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs}
	s.SetServing(true)
	return s
}

// SetServing flips the reported health of both the overall server and the
// bridge service.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	logger := logging.WithComponent("grpc")
	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
	return s.grpc.Serve(lis)
}

// Shutdown reports NOT_SERVING and stops gracefully, forcing the stop when
// ctx ends first (open health Watch streams never finish on their own).
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger := logging.WithComponent("grpc")
		logger.Warn().Msg("Graceful stop timed out, forcing")
		s.grpc.Stop()
		<-done
	}
}
