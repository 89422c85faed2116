package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/xp-ledger/api/swagger"
	"github.com/noah-isme/xp-ledger/internal/handler"
	internalmiddleware "github.com/noah-isme/xp-ledger/internal/middleware"
	"github.com/noah-isme/xp-ledger/internal/repository"
	"github.com/noah-isme/xp-ledger/internal/service"
	"github.com/noah-isme/xp-ledger/pkg/cache"
	"github.com/noah-isme/xp-ledger/pkg/config"
	"github.com/noah-isme/xp-ledger/pkg/database"
	"github.com/noah-isme/xp-ledger/pkg/logger"
	corsmiddleware "github.com/noah-isme/xp-ledger/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/xp-ledger/pkg/middleware/requestid"
)

// @title XP Ledger API
// @version 1.0.0
// @description Append-only experience ledger with request validation, levels, badges and leaderboard
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type stores struct {
	ledger   service.LedgerStore
	requests service.RequestStore
	users    service.UserDirectory
	facts    service.FactsProvider
	pingers  map[string]handler.Pinger
	auth     []gin.HandlerFunc
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	st, err := openStores(cfg, logr)
	if err != nil {
		logr.Fatal("failed to open ledger store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.close()

	metricsSvc := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Leaderboard.CacheEnabled || cfg.Notifications.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
	}

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Leaderboard.CacheTTL, logr, cfg.Leaderboard.CacheEnabled)
		st.pingers["redis"] = cacheRepo
	}

	var publisher *service.EventPublisher
	if cfg.Notifications.Enabled {
		publisher = service.NewEventPublisher(
			repository.NewRedisNotifier(redisClient, cfg.Notifications.Channel),
			service.EventPublisherConfig{
				Workers:    cfg.Notifications.Workers,
				BufferSize: cfg.Notifications.BufferSize,
				MaxRetries: cfg.Notifications.MaxRetries,
				RetryDelay: cfg.Notifications.RetryDelay,
			},
			metricsSvc,
			logr,
		)
		publisher.Start(ctx)
		defer publisher.Stop()
	}

	ledgerSvc := service.NewLedgerService(service.LedgerServiceParams{
		Store:    st.ledger,
		Requests: st.requests,
		Users:    st.users,
		Facts:    st.facts,
		Events:   publisher,
		Cache:    cacheSvc,
		Metrics:  metricsSvc,
		Logger:   logr,
		Config: service.LedgerConfig{
			MaxRequestXP:        cfg.Ledger.MaxRequestXP,
			ConflictRetries:     cfg.Ledger.ConflictRetries,
			ConflictBackoff:     cfg.Ledger.ConflictBackoff,
			DailyLoginXP:        cfg.Ledger.DailyLoginXP,
			LeaderboardMaxLimit: cfg.Leaderboard.MaxLimit,
			LeaderboardCacheTTL: cfg.Leaderboard.CacheTTL,
		},
	})
	exportSvc := service.NewExportService(ledgerSvc, logr)

	if cfg.Audit.Enabled {
		auditor := service.NewAuditScheduler(ledgerSvc, st.ledger, cfg.Audit.Interval, cfg.Audit.Concurrency, logr)
		if err := auditor.Start(ctx); err != nil {
			logr.Fatal("failed to start audit scheduler", zap.Error(err))
		}
		defer auditor.Stop() //nolint:errcheck
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, st.pingers)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := append([]gin.HandlerFunc{internalmiddleware.JWT(tokens)}, st.auth...)
	handler.Routes{
		Requests:    handler.NewXPRequestHandler(ledgerSvc),
		Ledger:      handler.NewLedgerHandler(ledgerSvc, exportSvc),
		Badges:      handler.NewBadgeHandler(ledgerSvc),
		Leaderboard: handler.NewLeaderboardHandler(ledgerSvc),
	}.Register(r.Group(cfg.APIPrefix), auth...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStores(cfg *config.Config, logr *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logr.Warn("using in-memory ledger store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			ledger:   mem,
			requests: mem,
			users:    mem,
			facts:    mem,
			pingers:  map[string]handler.Pinger{},
			auth:     []gin.HandlerFunc{internalmiddleware.RegisterPrincipal(mem)},
			close:    func() {},
		}, nil
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	return &stores{
		ledger:   repository.NewLedgerRepository(db),
		requests: repository.NewXPRequestRepository(db),
		users:    repository.NewUserRepository(db),
		facts:    repository.NewActivityRepository(db),
		pingers:  map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)},
		close:    func() { _ = db.Close() },
	}, nil
}
