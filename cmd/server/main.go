package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"branchstock/backend/internal/cache"
	"branchstock/backend/internal/config"
	"branchstock/backend/internal/httpapi"
	"branchstock/backend/internal/identity"
	"branchstock/backend/internal/ledger"
	"branchstock/backend/internal/logger"
	"branchstock/backend/internal/metrics"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/service"
)

// devIdentitySecret is only accepted when APP_ENV is dev.
const devIdentitySecret = "branchstock-dev-identity-secret-not-for-prod"

var errIdentitySecret = errors.New("IDENTITY_SECRET must be set and at least 32 characters")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("production")
		fallback.Fatal().Err(err).Msg("load configuration")
	}
	log := logger.New(cfg.Env)
	if err := validateConfig(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	partitions, err := buildPartitions(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("partitions unavailable")
	}
	router, err := partition.New(partitions)
	if err != nil {
		log.Fatal().Err(err).Msg("partition router")
	}

	var closers []func() error
	refs := cache.ReferenceCache(cache.NoopReferenceCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReferenceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop reference cache")
		} else {
			refs = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("reference cache: redis")
		}
	} else {
		log.Info().Msg("reference cache: noop")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	policy := ledger.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		OnRetry:     recorder.Retry,
	}
	svc := service.New(router, ledger.New(router, policy, log), service.Options{
		Cache:    refs,
		CacheTTL: cfg.ReferenceCacheTTL,
		Logger:   log,
		Metrics:  recorder,
		Retry:    policy,
	})

	decoder, err := identity.NewDecoder(cfg.IdentitySecret)
	if err != nil {
		log.Fatal().Err(err).Msg("identity decoder")
	}
	api := httpapi.New(svc, router, decoder, reg, log)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Strs("branches", router.Branches()).Msg("branchstock listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := router.Close(); err != nil {
		log.Error().Err(err).Msg("close partitions")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// validateConfig rejects a weak identity secret outside dev and fills in the
// dev secret when none is set.
func validateConfig(cfg *config.Config) error {
	if cfg.IdentitySecret == "" && cfg.IsDev() {
		cfg.IdentitySecret = devIdentitySecret
	}
	if len(cfg.IdentitySecret) < 32 {
		return errIdentitySecret
	}
	if !cfg.IsDev() && cfg.IdentitySecret == devIdentitySecret {
		return errIdentitySecret
	}
	return nil
}
