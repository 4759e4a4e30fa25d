package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/observability/metrics"
)

// UnaryServerInterceptor counts and logs unary calls. Successful calls log at
// debug since orchestrator health probes arrive every few seconds.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(logger, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor counts and logs streams (health Watch).
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(logger, m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observe(logger zerolog.Logger, m *metrics.Metrics, method, kind string, start time.Time, err error) {
	code := status.Code(err)
	if m != nil {
		m.RecordGRPCCall(method, code.String())
	}

	ev := logger.Debug()
	if code != codes.OK && code != codes.Canceled {
		ev = logger.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call completed")
}
