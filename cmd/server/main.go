package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	jwttoken "studentverify/internal/jwt_token"
	"studentverify/internal/platform/config"
	"studentverify/internal/platform/httpserver"
	"studentverify/internal/platform/logger"
	"studentverify/internal/platform/metrics"
	"studentverify/internal/platform/postgres"
	platformredis "studentverify/internal/platform/redis"
	"studentverify/internal/verification"
	"studentverify/internal/verification/adapters"
	"studentverify/internal/verification/catalog"
	"studentverify/internal/verification/events"
	verificationmetrics "studentverify/internal/verification/metrics"
	"studentverify/internal/verification/service"
	evidencestore "studentverify/internal/verification/store/evidence"
	pillarstore "studentverify/internal/verification/store/pillar"
	stepstore "studentverify/internal/verification/store/step"
	"studentverify/pkg/platform/httputil"
	"studentverify/pkg/platform/middleware/request"
	"studentverify/pkg/platform/middleware/requesttime"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	deps, err := buildDependencies(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	router := buildRouter(cfg, log, deps)
	srv := httpserver.New(cfg.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting studentverify", "addr", cfg.Addr, "postgres", deps.db != nil, "redis", deps.redis != nil, "kafka", deps.kafka != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

type dependencies struct {
	db      *sql.DB
	redis   *platformredis.Client
	kafka   *events.KafkaPublisher
	service *verification.Service
}

func (d *dependencies) close() {
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildDependencies selects Postgres or in-memory storage from DATABASE_URL and
// enables the Redis identity cache and the Kafka event stream when configured.
func buildDependencies(ctx context.Context, cfg config.Server, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	stepCatalog, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	var (
		pillars    service.PillarStore
		steps      service.StepStore
		evidence   service.EvidenceStore
		emails     service.EmailVerifier
		identities service.IdentityResolver
		tx         service.StoreTx
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			deps.close()
			return nil, err
		}
		directory := adapters.NewPostgresDirectory(db)
		pillars, steps, evidence = pillarstore.NewPostgres(db), stepstore.NewPostgres(db), evidencestore.NewPostgres(db)
		emails, identities = directory, directory
		tx = newVerificationPostgresTx(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		directory := adapters.NewInMemoryDirectory()
		pillars, steps, evidence = pillarstore.NewInMemory(), stepstore.NewInMemory(), evidencestore.NewInMemory()
		emails, identities = directory, directory
		tx = service.NewShardedTx()
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if redisClient != nil {
		deps.redis = redisClient
		identities = adapters.NewCachedIdentityResolver(identities, redisClient.Client, cfg.IdentityCacheTTL, adapters.WithCacheLogger(log))
	}

	var publisher service.EventPublisher = events.NewLogPublisher(log)
	if cfg.Kafka.Enabled() {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID, events.WithLogger(log))
		if err != nil {
			deps.close()
			return nil, err
		}
		deps.kafka = kafka
		if err := events.EnsureTopic(ctx, kafka.Client(), cfg.Kafka.Topic, 3, 1); err != nil {
			log.Warn("could not ensure event topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		publisher = kafka
	}

	deps.service = verification.NewService(pillars, steps, evidence, emails, identities,
		service.WithLogger(log),
		service.WithMetrics(verificationmetrics.New()),
		service.WithTx(tx),
		service.WithCatalog(stepCatalog),
		service.WithEventPublisher(publisher),
		service.WithIdentityConcurrency(cfg.PendingIdentityConcurrency),
	)
	return deps, nil
}

func buildRouter(cfg config.Server, log *slog.Logger, deps *dependencies) http.Handler {
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", healthHandler(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	if cfg.AdminAPIToken == "" {
		log.Warn("ADMIN_API_TOKEN not set, admin routes will reject every request")
	}
	verification.NewHandler(deps.service, log, jwttoken.NewJWTServiceAdapter(jwtService), cfg.AdminAPIToken).Register(r)
	return r
}

func healthHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		if deps.db != nil {
			checks["postgres"] = "ok"
			if err := deps.db.PingContext(ctx); err != nil {
				checks["postgres"], healthy = err.Error(), false
			}
		}
		if deps.redis != nil {
			checks["redis"] = "ok"
			if err := deps.redis.Health(ctx); err != nil {
				checks["redis"], healthy = err.Error(), false
			}
		}
		if deps.kafka != nil {
			checks["kafka"] = "ok"
			if err := deps.kafka.Ping(ctx); err != nil {
				// Events are best effort; a broker outage degrades but does not fail the probe.
				checks["kafka"] = err.Error()
			}
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
	}
}
