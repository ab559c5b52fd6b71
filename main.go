package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"meeting-telemetry/ingestion/buffer"
	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/logger"
	"meeting-telemetry/ingestion/sender"
	"meeting-telemetry/ingestion/server"
	"meeting-telemetry/ingestion/storage"
)

// orNone renders an empty setting for display
func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// formatStartupConfig creates a formatted multi-line config summary
func formatStartupConfig(cfg *config.Config) string {
	return fmt.Sprintf(`
┌─────────────────────────────────────────────────────────────
│ MEETING TELEMETRY BUFFER CONFIGURATION
├─────────────────────────────────────────────────────────────
│ Storage
│   SQLite Path:      %s
├─────────────────────────────────────────────────────────────
│ Delivery
│   Ingestion URL:    %s
│   Disabled:         %t
│   Flush Size:       %d
│   Flush Interval:   %s
│   Retry Limit:      %d (base delay %s)
│   Send Timeout:     %s
│   Dirty TTL:        %s
├─────────────────────────────────────────────────────────────
│ Client
│   Type:             %s
│   Meeting ID:       %s
│   Attendee ID:      %s
├─────────────────────────────────────────────────────────────
│ Server
│   OTLP gRPC:        :%s
│   Metrics HTTP:     :%s
│   Backpressure:     %d events
└─────────────────────────────────────────────────────────────`,
		cfg.SQLite.Path,
		orNone(cfg.Ingestion.URL),
		cfg.Ingestion.Disabled,
		cfg.Ingestion.FlushSize,
		cfg.Ingestion.FlushInterval,
		cfg.Ingestion.RetryCountLimit,
		cfg.Ingestion.RetryBaseDelay,
		cfg.Ingestion.SendTimeout,
		cfg.Ingestion.DirtyTTL,
		cfg.Client.Type,
		orNone(cfg.Client.MeetingID),
		orNone(cfg.Client.AttendeeID),
		cfg.Server.GRPCPort,
		cfg.Server.MetricsPort,
		cfg.Server.BackpressureMaxEvents,
	)
}

func main() {
	// Load configuration and initialize logger
	config.MustLoad()
	logger.Init()

	cfg := config.Get()

	// Print startup configuration (directly to stdout for formatting)
	fmt.Println(formatStartupConfig(cfg))

	// Ensure the database directory exists (0700 = owner-only access)
	dbDir := filepath.Dir(cfg.SQLite.Path)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		slog.Error("failed to create database directory", slog.String("path", dbDir), slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("initializing sqlite", slog.String("path", cfg.SQLite.Path))
	store, err := storage.OpenSQLiteStore(cfg.SQLite.Path)
	if err != nil {
		slog.Error("failed to open event store", slog.Any("error", err))
		os.Exit(1)
	}

	liveDao := storage.NewLiveEventDao(store)
	dirtyDao := storage.NewDirtyEventDao(store)
	slog.Info("storage initialized successfully",
		slog.Int64("live_events", liveDao.Count()),
		slog.Int64("dirty_events", dirtyDao.Count()))

	eventSender := sender.NewEventSender(sender.NewHTTPPoster(cfg.Ingestion.SendTimeout))
	eventBuffer := buffer.New(liveDao, dirtyDao, eventSender)
	reporter := buffer.NewReporter(eventBuffer)
	reporter.Start()

	// Create batched event logger (logs every 10 seconds instead of per-event)
	eventLogger := server.NewBatchedEventLogger(10 * time.Second)
	eventLogger.Start()

	logsSvc := server.NewOtelLogsService(reporter, eventLogger, liveDao.Count)
	grpcServer, lis, healthServer, err := server.NewGRPCServer(logsSvc)
	if err != nil {
		slog.Error("failed to create grpc server", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		slog.Info("grpc server listening", slog.String("address", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("failed to serve grpc", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", slog.String("address", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to serve metrics", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down grpc server")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	slog.Info("grpc server stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Warn("failed to stop metrics server", slog.Any("error", err))
	}
	cancel()

	// Stop event logger (flushes any remaining log entries)
	eventLogger.Stop()

	// Stop reporter (waits for the running cycle and urgent sends)
	reporter.Stop()

	slog.Info("closing database")
	if err := store.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("database closed successfully")
}
