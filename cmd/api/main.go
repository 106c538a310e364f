// Package main is the entry point for the governance API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/campfirehq/rosterly/internal/api"
	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/cache"
	"github.com/campfirehq/rosterly/internal/config"
	"github.com/campfirehq/rosterly/internal/consent"
	"github.com/campfirehq/rosterly/internal/dsr"
	"github.com/campfirehq/rosterly/internal/health"
	"github.com/campfirehq/rosterly/internal/jobs"
	"github.com/campfirehq/rosterly/internal/middleware"
	"github.com/campfirehq/rosterly/internal/payment"
	"github.com/campfirehq/rosterly/internal/retention"
	"github.com/campfirehq/rosterly/internal/tracing"
)

const serviceName = "rosterly-governance"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Rosterly Governance API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// Tracing
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env == "development",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	// Database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	cancelPing()

	// Redis backs the rate limit counters and the read cache when
	// configured; otherwise both fall back to in-process stores.
	var (
		redisClient    *redis.Client
		rateLimitStore middleware.RateLimitStore
		readCache      cache.Cache
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
		readCache = cache.NewRedisCache(redisClient)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
		readCache = cache.NewMemoryCache()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Stores
	auditStore := audit.NewPostgresStore(db)
	dsrRepo := dsr.NewPostgresRepository(db)
	consentStore := consent.NewPostgresStore(db)
	paymentStore := payment.NewPostgresStore(db)

	// Consent
	var tokens *consent.TokenService
	if cfg.UnsubscribeTokenPreviousSecret != "" {
		tokens = consent.NewTokenServiceWithRotation(cfg.UnsubscribeTokenSecret, cfg.UnsubscribeTokenPreviousSecret)
	} else {
		tokens = consent.NewTokenService(cfg.UnsubscribeTokenSecret)
	}
	consentService := consent.NewService(consent.ServiceConfig{
		Store:  consentStore,
		Tokens: tokens,
		Audit:  auditStore,
		Cache:  readCache,
		Logger: logger,
	})

	// Payments
	paymentService := payment.NewService(paymentStore, payment.NewStripeClient(cfg.StripeAPIKey), logger)

	// Data subject requests
	var artifacts dsr.ArtifactStore
	if cfg.ExportBucketName != "" {
		store, err := dsr.NewS3ArtifactStore(dsr.S3ArtifactStoreConfig{
			BucketName:      cfg.ExportBucketName,
			AccessKeyID:     cfg.ExportAccessKeyID,
			SecretAccessKey: cfg.ExportSecretAccessKey,
			Endpoint:        cfg.ExportEndpoint,
		})
		if err != nil {
			logger.Error("failed to initialize export artifact store", "error", err)
			os.Exit(1)
		}
		artifacts = store
	}
	dsrService := dsr.NewService(dsr.ServiceConfig{
		Repo:         dsrRepo,
		Categories:   []dsr.Category{consentService, paymentService},
		Audit:        auditStore,
		Artifacts:    artifacts,
		ExportWindow: time.Duration(cfg.ExportWindowDays) * 24 * time.Hour,
		Logger:       logger,
	})

	// Retention
	engine := retention.NewEngine(retention.EngineConfig{
		Audit:   auditStore,
		Logger:  logger,
		Metrics: jobMetrics,
	})
	auditRetention := time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour
	if err := engine.Register(retention.AuditLogRetentionPolicy(auditStore, auditRetention)); err != nil {
		logger.Error("failed to register retention policy", "error", err)
		os.Exit(1)
	}
	if err := engine.Register(dsr.ExpiredExportCleanupPolicy(dsrRepo, artifacts)); err != nil {
		logger.Error("failed to register retention policy", "error", err)
		os.Exit(1)
	}

	monitor := retention.NewMonitor(retention.MonitorConfig{
		Directory:      retention.NewPostgresDirectory(db),
		Consent:        consentService,
		Audit:          auditStore,
		Logger:         logger,
		ThresholdYears: cfg.AgeThresholdYears,
	})

	// Background jobs
	runner := jobs.NewRunner(logger, jobMetrics)
	runner.Add(jobs.Job{
		Name:     jobs.JobTypeMaintenance,
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			result := engine.RunDailyMaintenance(ctx)
			if !result.Success {
				return fmt.Errorf("daily maintenance completed with failures")
			}
			return nil
		},
	})
	runner.Add(jobs.Job{
		Name:     jobs.JobTypeTempCleanup,
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			if ok, _ := engine.CleanupTemporaryData(ctx); !ok {
				return fmt.Errorf("temporary data cleanup completed with failures")
			}
			return nil
		},
	})
	runner.Add(jobs.Job{
		Name:     jobs.JobTypeAgeOut,
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			_, err := monitor.ProcessAgeOuts(ctx)
			return err
		},
	})
	runner.Add(jobs.Job{
		Name:     jobs.JobTypeDSRProcess,
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			_, err := dsrService.ProcessPending(ctx)
			return err
		},
	})
	runner.Start()

	// Rate limiters
	window := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
	newLimiter := func(policy middleware.RateLimitPolicy) *middleware.RateLimiter {
		policy.Window = window
		policy.MaxPerSubject = cfg.RateLimitMaxPerSubject
		policy.MaxPerSource = cfg.RateLimitMaxPerSource
		limiter, err := middleware.NewRateLimiter(rateLimitStore, policy, logger)
		if err != nil {
			logger.Error("failed to build rate limiter", "policy", policy.Name, "error", err)
			os.Exit(1)
		}
		return limiter
	}

	// Health checks
	checkers := map[string]health.Checker{
		"database": health.NewDBChecker(db),
	}
	if redisClient != nil {
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}

	mux := api.NewRouter(api.RouterConfig{
		Audit:           api.NewAuditHandlers(auditStore),
		DSR:             api.NewDSRHandlers(dsrService, auditStore),
		Consent:         api.NewConsentHandlers(consentService),
		Jobs:            api.NewJobsHandlers(engine, monitor, cfg.CronSharedSecret),
		Cache:           api.NewCacheHandlers(readCache, auditStore),
		AuditLimiter:    newLimiter(middleware.DefaultAuditLimit()),
		PrivacyLimiter:  newLimiter(middleware.DefaultPrivacyLimit()),
		ConsentLimiter:  newLimiter(middleware.DefaultUnsubscribeLimit()),
		Health:          health.NewHandler(checkers, logger),
		MetricsRegistry: registry,
	})

	// Apply middleware: RequestID -> Tracing -> ActorContext -> Logging.
	// ActorContext consumes the identity the gateway verified; nothing
	// here performs authentication.
	handler := middleware.RequestID(
		middleware.Tracing(serviceName)(
			middleware.ActorContext(
				middleware.Logging(logger)(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
