package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/config"
	"github.com/mealhelper/tracelog/internal/handler"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/middleware"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/repository"
	"github.com/mealhelper/tracelog/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.Log.Level)

	// 3. Initialize Persistence
	// Audit store (Postgres > Memory)
	var auditRepo service.AuditRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			pgRepo, err := repository.NewPostgresAuditRepo(db)
			if err == nil {
				logger.Info("Connected to PostgreSQL")
				auditRepo = pgRepo
			} else {
				logger.Error("Failed to migrate audit schema, falling back to memory", "error", err)
			}
		} else {
			logger.Error("Failed to connect to DB, falling back to memory", "error", err)
		}
	}
	if auditRepo == nil {
		auditRepo = repository.NewMemoryAuditRepo(0)
		logger.Warn("Audit storage is not durable: records live in a bounded in-memory ring",
			"capacity", 10000, "jsonl_mirror", cfg.Audit.LogDir)
	}

	// Mirrors: Redis recent list and the local JSONL trail
	var mirrors []service.AuditSink
	var recent service.RecentLister
	var redisClient *repository.RedisClient
	var idemStore middleware.IdempotencyStore = middleware.NewInMemIdempotencyStore(0)
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			redisRepo := repository.NewRedisAuditRepo(redisClient.Client, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
			mirrors = append(mirrors, redisRepo)
			recent = redisRepo
			idemStore = repository.NewRedisIdempotencyStore(redisClient.Client, 0)
		} else {
			logger.Error("Failed to connect to Redis, recent logs served from the store", "error", err)
			redisClient = nil
		}
	}
	if cfg.Audit.LogDir != "" {
		fileSink, err := repository.NewFileAuditSink(cfg.Audit.LogDir)
		if err != nil {
			log.Fatalf("Failed to open audit log dir: %v", err)
		}
		mirrors = append(mirrors, fileSink)
	}

	// 4. Initialize Core Services
	policy, err := service.ParseOverflowPolicy(cfg.Audit.OverflowPolicy)
	if err != nil {
		log.Fatalf("Invalid audit config: %v", err)
	}
	auditSvc := service.NewAuditService(service.AuditOptions{
		Workers:   cfg.Audit.Workers,
		QueueSize: cfg.Audit.QueueSize,
		Overflow:  policy,
	}, auditRepo, mirrors...)
	if recent != nil {
		auditSvc.WithRecentSource(recent)
	}

	ic := interceptor.New(auditSvc)
	mealSvc := service.NewMealService(ic)

	// 5. Initialize Handlers
	mealHandler := handler.NewMealHandler(mealSvc, ic)
	auditHandler := handler.NewAuditHandler(auditSvc, ic)

	// 6. Setup Router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Recovery stays outermost so the trace filter still closes its scope on panic.
	// ErrorHandler renders inside the trace span: the response line sees the
	// final status and error logs keep their trace_id.
	r.Use(gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tracelog", "audit": auditSvc.Stats()})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")

	writes := api.Group("")
	writes.Use(middleware.IdempotencyMiddleware(idemStore))
	mealHandler.Register(writes)

	logs := api.Group("")
	logs.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(cfg.RateLimit.QPS, cfg.RateLimit.Burst)))
	auditHandler.Register(logs)

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("tracelog started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// in-flight requests are done; drain what they queued
	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Audit.ShutdownTimeoutSeconds)*time.Second)
	defer drainCancel()
	if err := auditSvc.Close(drainCtx); err != nil {
		logger.Error("Audit queue not fully drained", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting", "audit", auditSvc.Stats())
}
