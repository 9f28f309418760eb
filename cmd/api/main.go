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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gautier900/NodeSQL/internal/audit"
	"github.com/gautier900/NodeSQL/internal/auth"
	"github.com/gautier900/NodeSQL/internal/config"
	"github.com/gautier900/NodeSQL/internal/httpapi"
	"github.com/gautier900/NodeSQL/internal/obs"
	"github.com/gautier900/NodeSQL/internal/store/pg"
	"github.com/gautier900/NodeSQL/internal/store/redis"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.App.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(ctx, cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
	}, pg.WithTxTimeout(cfg.Postgres.TxTimeout))
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []auth.GateOption{
		auth.WithLogger(logger),
		auth.WithHasher(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithAuditLog(audit.New(logger, audit.WithDefaultLimit(cfg.Auth.HistoryLimit))),
	}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, auth.WithPermissionCache(
			redis.NewPermissionCache(client, cfg.Redis.KeyPrefix, cfg.Redis.PermissionTTL),
		))
	}

	gate, err := auth.NewGate(store, opts...)
	if err != nil {
		return err
	}

	trusted, err := httpapi.ParseTrustedProxies(cfg.App.TrustedProxies)
	if err != nil {
		return err
	}

	api := httpapi.New(gate,
		httpapi.WithTrustedProxies(trusted),
		httpapi.WithLogger(logger),
		httpapi.WithReadyProbe(store.Ping),
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
	)

	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
