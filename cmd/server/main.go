package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	appaccounting "github.com/Amaz3n/strata-sub010/internal/application/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/cache"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/config"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/event"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/logger"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/persistence"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/quickbooks"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/scheduler"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/telemetry"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/handler"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting accounting sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	logsProvider, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = telemetry.BridgeLogger(log, logsProvider, cfg.Telemetry.ServiceName)

	// Database
	gormLog := logger.NewGormLogger(log, gormlogger.Warn)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.InstrumentDatabase(db.DB, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}, log); err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}

	// Repositories
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)
	jobRepo := persistence.NewGormSyncJobRepository(db.DB)
	invoiceReader := persistence.NewGormInvoiceReader(db.DB)
	statusRepo := persistence.NewGormInvoiceSyncStatusRepository(db.DB)

	// Webhook dedup / OAuth state single-use store
	seenStore, err := cache.NewIdempotencyStore(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}
	defer func() {
		if err := seenStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Event bus
	bus := event.NewInMemoryEventBus(log)

	// Provider adapters
	qboClient := quickbooks.NewClient(cfg.QuickBooks, cfg.Sync.CallTimeout, log)
	oauthClient := quickbooks.NewOAuthClient(cfg.QuickBooks)
	verifier := quickbooks.NewWebhookVerifier(cfg.QuickBooks.WebhookVerifierToken)

	// Application services
	tokenService := appaccounting.NewTokenService(appaccounting.TokenServiceConfig{
		Connections: connectionRepo,
		Endpoint:    oauthClient,
		Margin:      cfg.Sync.TokenRefreshMargin,
		Publisher:   bus,
		Logger:      log,
	})

	syncService := appaccounting.NewSyncService(appaccounting.SyncServiceConfig{
		Jobs:      jobRepo,
		Tokens:    tokenService,
		Invoices:  invoiceReader,
		Statuses:  statusRepo,
		Gateway:   qboClient,
		Policy:    accountingBackoffPolicy(cfg.Sync),
		Publisher: bus,
		Logger:    log,
	})

	webhookService := appaccounting.NewWebhookService(appaccounting.WebhookServiceConfig{
		Verifier:    verifier,
		Extract:     quickbooks.ExtractEvents,
		Seen:        seenStore,
		SeenTTL:     cfg.Sync.WebhookDedupTTL,
		Connections: connectionRepo,
		Statuses:    statusRepo,
		Jobs:        jobRepo,
		Publisher:   bus,
		Logger:      log,
	})

	connectionService := appaccounting.NewConnectionService(appaccounting.ConnectionServiceConfig{
		Connections: connectionRepo,
		Jobs:        jobRepo,
		Endpoint:    oauthClient,
		Authorize:   oauthClient,
		Publisher:   bus,
		Logger:      log,
	})

	diagnosticsService := appaccounting.NewDiagnosticsService(connectionRepo, jobRepo, log)

	// Background worker pool
	var syncScheduler *scheduler.SyncScheduler
	if cfg.Sync.Enabled {
		syncScheduler, err = scheduler.NewSyncScheduler(scheduler.SyncSchedulerConfig{
			Workers:      cfg.Sync.Workers,
			PollInterval: cfg.Sync.PollInterval,
			BatchSize:    cfg.Sync.BatchSize,
			LeaseTTL:     cfg.Sync.LeaseTTL,
			JobTimeout:   cfg.Sync.JobTimeout,
		}, jobRepo, syncService, log)
		if err != nil {
			log.Fatal("Failed to create sync scheduler", zap.Error(err))
		}
		if err := syncScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sync scheduler", zap.Error(err))
		}
	} else {
		log.Warn("Sync worker pool is disabled; jobs will accumulate until a worker runs")
	}

	// HTTP handlers
	stateManager := handler.NewOAuthStateManager(cfg.OAuthState.Secret, cfg.OAuthState.TTL)
	webhookHandler := handler.NewWebhookHandler(webhookService)
	connectionHandler := handler.NewConnectionHandler(
		connectionService,
		stateManager,
		seenStore,
		cfg.OAuthState.TTL,
		cfg.OAuthState.CookieSecure,
		log,
	)
	syncHandler := handler.NewSyncHandler(syncService)
	diagnosticsHandler := handler.NewDiagnosticsHandler(diagnosticsService)

	// Gin engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Routes
	r := router.NewRouter(engine)
	r.Register(webhookHandler).
		Register(connectionHandler).
		Register(syncHandler).
		Register(diagnosticsHandler)
	r.Setup()

	engine.GET("/healthz", healthHandler(db))

	// HTTP server
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	if syncScheduler != nil {
		if err := syncScheduler.Stop(30 * time.Second); err != nil {
			log.Error("Sync scheduler shutdown failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := logsProvider.Shutdown(ctx); err != nil {
		log.Error("Logger provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// accountingBackoffPolicy builds the retry schedule from config, falling back
// to defaults for unset fields.
func accountingBackoffPolicy(sync config.SyncConfig) accounting.BackoffPolicy {
	policy := accounting.DefaultBackoffPolicy()
	if sync.BackoffBase > 0 {
		policy.Base = sync.BackoffBase
	}
	if sync.BackoffCap > 0 {
		policy.Cap = sync.BackoffCap
	}
	if sync.MaxAttempts > 0 {
		policy.MaxAttempts = sync.MaxAttempts
	}
	return policy
}

func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
