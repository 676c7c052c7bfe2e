package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/rx-api/internal/broker"
	"github.com/jwalitptl/rx-api/internal/config"
	authhandler "github.com/jwalitptl/rx-api/internal/handler/auth"
	drafthandler "github.com/jwalitptl/rx-api/internal/handler/draft"
	eventshandler "github.com/jwalitptl/rx-api/internal/handler/events"
	"github.com/jwalitptl/rx-api/internal/handler/health"
	patienthandler "github.com/jwalitptl/rx-api/internal/handler/patient"
	rxhandler "github.com/jwalitptl/rx-api/internal/handler/prescription"
	promhandler "github.com/jwalitptl/rx-api/internal/handler/prometheus"
	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/repository"
	"github.com/jwalitptl/rx-api/internal/repository/memory"
	"github.com/jwalitptl/rx-api/internal/repository/postgres"
	"github.com/jwalitptl/rx-api/internal/router"
	authsvc "github.com/jwalitptl/rx-api/internal/service/auth"
	"github.com/jwalitptl/rx-api/internal/service/document"
	"github.com/jwalitptl/rx-api/internal/service/notification"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	"github.com/jwalitptl/rx-api/internal/telemetry"
	"github.com/jwalitptl/rx-api/pkg/auth"
	"github.com/jwalitptl/rx-api/pkg/circuitbreaker"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/rx-api/pkg/messaging/redis"
	"github.com/jwalitptl/rx-api/pkg/metrics"
	"github.com/jwalitptl/rx-api/pkg/security"
	"github.com/jwalitptl/rx-api/pkg/worker"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	log := newLogger(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, cfg.Telemetry, version, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "failed to flush traces")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("rx", "api", reg)

	checks := map[string]health.Pinger{}

	hub := notification.NewHub(0, log)
	defer hub.Close()
	live := hub

	var store repository.RecordStore
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		store = postgres.NewRecordStore(db)
	default:
		mem := memory.NewStore()
		store = mem
		log.Warn("using the in-memory store; data is lost on restart")

		// Nothing else can drain an in-memory outbox, so the API does it.
		// Without an external broker the events go straight to the hub.
		var b messaging.Broker = hub
		if cfg.Broker.Driver != config.BrokerNone && cfg.Broker.Driver != "" {
			b, err = broker.New(ctx, cfg.Broker, cfg.Redis, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					log.Error(err, "failed to close broker")
				}
			}()
		}
		if err := startOutbox(ctx, mem, b, log, m); err != nil {
			return err
		}
	}
	checks["store"] = store

	var revoker authsvc.Revoker
	if cfg.Broker.Driver == config.BrokerRedis {
		client, err := redisbroker.NewClient(ctx, broker.RedisConfig(cfg.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		revoker = authsvc.NewRedisRevoker(client)
		checks["redis"] = health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		go func() {
			if err := hub.Run(ctx, redisbroker.NewRedisBroker(client, log)); err != nil {
				log.Error(err, "refresh subscriber stopped")
			}
		}()
	} else {
		revoker = authsvc.NewMemoryRevoker()
		if cfg.Broker.Driver == config.BrokerRabbitMQ || cfg.Database.Driver == config.DriverPostgres {
			// Nothing feeds the hub: rabbitmq is publish-only here and a
			// postgres outbox is drained by the worker.
			live = nil
		}
	}

	accounts := authsvc.NewService(store,
		auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry, nil),
		security.NewBcryptHasher(bcrypt.DefaultCost),
		revoker,
		authsvc.WithLogger(log),
	)

	opts := []prescription.Option{prescription.WithMetrics(m), prescription.WithLogger(log)}
	assembler := prescription.NewAssembler(store, opts...)
	authoring := prescription.NewAuthoring(store, opts...)
	drafts := prescription.NewDrafts(authoring, assembler, cfg.Draft.TTL, cfg.Draft.CleanupInterval, opts...)
	renderer := document.NewRenderer(
		document.WithBranding(cfg.Document.Brand, cfg.Document.Tagline),
		document.WithMetrics(m),
	)

	var mailer rxhandler.Mailer
	if cfg.Mail.Enabled() {
		mailer = document.NewMailer(cfg.Mail)
	}

	routerConfig := router.RouterConfig{
		Mode:           cfg.Server.Mode,
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        tp.Enabled(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSConfig:     middleware.CORSFromConfig(cfg.CORS),
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = &middleware.RateLimiterConfig{
			Rate:    rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst:   cfg.RateLimit.Burst,
			IdleTTL: cfg.RateLimit.IdleTTL,
		}
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(accounts), router.Handlers{
		Health:  health.NewHandler(checks),
		Metrics: promhandler.New(reg, m),
		Public:  []router.Handler{authhandler.NewHandler(accounts)},
		Protected: []router.Handler{
			rxhandler.NewHandler(assembler, authoring, renderer, mailer),
			drafthandler.NewHandler(drafts),
			patienthandler.NewHandler(assembler),
			eventshandler.NewHandler(live, 0),
		},
	}, log, routerConfig)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "version", version, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func startOutbox(ctx context.Context, repo repository.OutboxRepository, b messaging.Broker, log *logger.Logger, m *metrics.Metrics) error {
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:    "outbox-publish",
		Timeout: 30 * time.Second,
	}, log)
	processor, err := worker.NewOutboxProcessor(repo, b, breaker, worker.OutboxProcessorConfig{
		BatchSize:     50,
		PollInterval:  2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
	}, log, m)
	if err != nil {
		return fmt.Errorf("failed to create outbox processor: %w", err)
	}
	go processor.Start(ctx)
	return nil
}
