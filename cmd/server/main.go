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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexuserp/backend/internal/cache"
	"nexuserp/backend/internal/config"
	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/httpapi"
	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/metrics"
	"nexuserp/backend/internal/service"
	"nexuserp/backend/internal/store/backend"
)

const minPasswordLength = 8

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "nexuserp-api",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		WarnStack:   cfg.LogWarnStack,
	})
	ctx := context.Background()

	if err := validateSecurityConfig(cfg); err != nil {
		logg.Error(ctx, "invalid security configuration", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "server exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logg *logger.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	opened, err := backend.Open(startCtx, cfg, logg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.Close(); err != nil {
			logg.Error(ctx, "close record store", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	snapshots := cache.SnapshotCache(cache.NewMemorySnapshotCache())
	switch {
	case cfg.SnapshotCacheTTL() <= 0:
		snapshots = cache.NoopSnapshotCache{}
		logg.Info(ctx, "snapshot cache: disabled")
	case cfg.RedisAddr != "":
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis unavailable, using in-process snapshot cache")
			_ = redisCache.Close()
		} else {
			snapshots = redisCache
			defer redisCache.Close()
			logg.Info(ctx, "snapshot cache: redis")
		}
	}

	svc := service.New(opened.Store, snapshots, service.Options{
		CacheTTL:          cfg.SnapshotCacheTTL(),
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            logg,
		Metrics:           ledgerMetrics,
	})
	if cfg.ValidateSchemaOnStart {
		if err := svc.CheckSchema(startCtx); err != nil {
			return fmt.Errorf("schema check: %w", err)
		}
	}

	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(),
		httpapi.Account{Username: cfg.OwnerUsername, Password: cfg.OwnerPassword, Role: domain.RoleOwner},
		httpapi.Account{Username: cfg.ManagerUsername, Password: cfg.ManagerPassword, Role: domain.RoleManager},
	)
	if err != nil {
		return fmt.Errorf("auth setup: %w", err)
	}

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Logger:         logg,
		Metrics:        ledgerMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.Address()), "ledger api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "shutdown", err)
	}

	logg.Info(ctx, "server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.OwnerPassword == "" && cfg.ManagerPassword == "" {
		return fmt.Errorf("at least one of OWNER_PASSWORD or MANAGER_PASSWORD must be set")
	}
	for name, password := range map[string]string{
		"OWNER_PASSWORD":   cfg.OwnerPassword,
		"MANAGER_PASSWORD": cfg.ManagerPassword,
	} {
		if password == "" || isBcryptHash(password) {
			continue
		}
		if len(password) < minPasswordLength {
			return fmt.Errorf("%s must be at least %d characters", name, minPasswordLength)
		}
	}
	return nil
}

func isBcryptHash(value string) bool {
	return len(value) == 60 && value[0] == '$' && value[1] == '2'
}
