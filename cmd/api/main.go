package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moderator/api/internal/app"
	"moderator/api/internal/auth"
	"moderator/api/internal/config"
	"moderator/api/internal/relay"
	"moderator/api/internal/store"
	"moderator/api/internal/updates"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	flagSet := pflag.NewFlagSet("moderator-api", pflag.ContinueOnError)
	config.BindFlags(flagSet, &cfg)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), logger.Named("migrate")); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []updates.Option{
		updates.WithLogger(logger.Named("updates")),
		updates.WithSendTimeout(cfg.SendTimeout),
		updates.WithSnapshotTimeout(cfg.SnapshotTimeout),
		updates.WithOutboxSize(cfg.OutboxSize),
		updates.WithMetrics(updates.NewMetrics(registry)),
	}

	var redisRelay *relay.Redis
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisRelay, err = relay.NewRedis(cfg.RedisURL, cfg.RelayChannel, logger.Named("relay"))
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisRelay.Close()
		opts = append(opts, updates.WithRelay(redisRelay))
		logger.Info("relaying updates through redis", zap.String("channel", cfg.RelayChannel))
	}

	broadcaster := updates.New(updates.NewStoreSnapshots(dataStore), opts...)
	service := app.New(dataStore, broadcaster, logger.Named("app"))
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, dataStore)

	httpServer := app.NewHTTPServer(service, authenticator, registry, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if redisRelay != nil {
		listener, err := redisRelay.Listen(ctx)
		if err != nil {
			return err
		}
		group.Go(func() error {
			defer listener.Close()
			return listener.Forward(groupCtx, broadcaster)
		})
	}

	group.Go(func() error {
		logger.Info("moderator API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Sockets are hijacked, so server.Shutdown does not wait for them.
		if err := broadcaster.Shutdown(shutdownCtx); err != nil {
			logger.Warn("update service shutdown", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel
	return zapConfig.Build()
}
