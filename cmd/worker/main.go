package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/rx-api/internal/broker"
	"github.com/jwalitptl/rx-api/internal/config"
	"github.com/jwalitptl/rx-api/internal/repository/postgres"
	"github.com/jwalitptl/rx-api/internal/telemetry"
	"github.com/jwalitptl/rx-api/pkg/circuitbreaker"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/metrics"
	"github.com/jwalitptl/rx-api/pkg/worker"
)

var version = "dev"

func main() {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load config")
	}

	log := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	}).WithFields(map[string]interface{}{"worker_id": workerID()})

	if err := run(cfg, log); err != nil {
		log.Fatal(err, "worker failed")
	}
}

func run(cfg *config.WorkerConfig, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, cfg.Telemetry, version, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "failed to flush traces")
		}
	}()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	b, err := broker.New(ctx, cfg.Broker, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("rx", "outbox_processor", reg)

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:    "outbox-publish",
		Timeout: 30 * time.Second,
	}, log)

	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(postgres.NewBaseRepository(db)),
		b,
		breaker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.BatchSize,
			PollInterval:  cfg.PollInterval,
			RetryAttempts: cfg.RetryAttempts,
			RetryDelay:    cfg.RetryDelay,

			MaxDeliveries:   cfg.MaxDeliveries,
			RedeliveryDelay: cfg.RedeliveryDelay,
			StaleAfter:      cfg.StaleAfter,
		},
		log,
		m,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox processor: %w", err)
	}

	srv := metricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server failed")
			stop()
		}
	}()

	log.Info("worker started", "broker", cfg.Broker.Driver, "batch_size", cfg.BatchSize)
	processor.Start(ctx)
	log.Info("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// metricsServer exposes /metrics plus liveness and readiness probes.
func metricsServer(port int, gatherer prometheus.Gatherer, ready func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func workerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
