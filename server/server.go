package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"meeting-telemetry/ingestion/config"
)

// NewGRPCServer creates the intake server on the configured port. It serves
// OTLP logs, the gRPC health service, and reflection.
func NewGRPCServer(logsSvc *OtelLogsService) (*grpc.Server, net.Listener, *health.Server, error) {
	cfg := config.Get().Server
	listenAddr := ":" + cfg.GRPCPort
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_logging.UnaryServerInterceptor(
				interceptorLogger(),
				grpc_logging.WithLogOnEvents(grpc_logging.FinishCall),
			),
		),
	)

	collogspb.RegisterLogsServiceServer(grpcServer, logsSvc)

	// Register health server for grpc_health_probe
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)

	return grpcServer, lis, healthServer, nil
}

// interceptorLogger logs through the global slog, demoting health checks
// to DEBUG.
func interceptorLogger() grpc_logging.Logger {
	return grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
		if isHealthCheck(fields) {
			slog.Log(ctx, slog.LevelDebug, msg, fields...)
			return
		}
		slog.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

func isHealthCheck(fields []any) bool {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "grpc.service" {
			if service, ok := fields[i+1].(string); ok && strings.Contains(service, "grpc.health") {
				return true
			}
		}
	}
	return false
}
