package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ideaforge/internal/keylock"
	"ideaforge/internal/metrics"
	"ideaforge/internal/ratelimit"
	"ideaforge/internal/usertoken"
	"ideaforge/internal/util"
	"ideaforge/pkg/ai"
	"ideaforge/pkg/cache"
	"ideaforge/pkg/storage"
	"ideaforge/services/studio/internal/app"
	"ideaforge/services/studio/internal/config"
	"ideaforge/services/studio/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	generationTimeout := time.Duration(cfg.GenerationTimeoutSeconds) * time.Second

	var (
		locker      keylock.Locker
		limiter     ratelimit.Limiter
		idempotency cache.Cache
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		// The lock must outlive the slowest provider call.
		locker, err = keylock.NewRedisLocker(rdb, "", generationTimeout+time.Minute)
		if err != nil {
			fatal(logger, "failed to init redis locker", err)
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(rdb, "", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			fatal(logger, "failed to init rate limiter", err)
		}
		idempotency = cache.NewRedisCache(rdb, "studio:idem")
	} else {
		locker = keylock.NewLocalLocker()
		limiter, err = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			fatal(logger, "failed to init rate limiter", err)
		}
		idempotency = cache.NewMemoryCache(cfg.IdempotencyCacheSize)
		logger.Warn("redis not configured; locks, rate limits and idempotency keys are per-instance")
	}

	var objects storage.ObjectStore
	if cfg.ExportEnabled() {
		objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			fatal(logger, "failed to init object storage", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		AllowMemoryStore: cfg.AllowMemoryStore,
		Provider: ai.Config{
			Provider: cfg.GenerationProvider,
			BaseURL:  cfg.GenerationBaseURL,
			APIKey:   cfg.GenerationAPIKey,
			Model:    cfg.GenerationModel,
			Timeout:  generationTimeout,
		},
		MaxTokens:              cfg.GenerationMaxTokens,
		Temperature:            cfg.GenerationTemperature,
		MaxParallelGenerations: cfg.GenerationMaxParallel,
		StaleGenerationAfter:   generationTimeout,
		Costs:                  cfg.Costs,
		FreeProjectsLimit:      cfg.FreeProjectsLimit,
		FreeCredits:            cfg.FreeCredits,
		ProProjectsLimit:       cfg.ProProjectsLimit,
		Locker:                 locker,
		Objects:                objects,
		ExportExpiry:           time.Duration(cfg.ExportURLExpirySeconds) * time.Second,
		Metrics:                m,
	})
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		fatal(logger, "failed to init token verifier", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		Limiter:        limiter,
		Idempotency:    idempotency,
		IdempotencyTTL: time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		Locker:         locker,
		Metrics:        m,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		fatal(logger, "failed to init server", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Document generation is awaited inline.
		WriteTimeout: generationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), generationTimeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("studio server listening", "addr", addr, "provider", cfg.GenerationProvider, "export", objects != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
