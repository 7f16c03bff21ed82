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

	"github.com/angelmondragon/zeroproof-client/api/routes"
	"github.com/angelmondragon/zeroproof-client/internal/clientstore"
	"github.com/angelmondragon/zeroproof-client/internal/compare"
	"github.com/angelmondragon/zeroproof-client/internal/identity"
	"github.com/angelmondragon/zeroproof-client/internal/profiles"
	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/auth/refresh"
	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/db"
	"github.com/angelmondragon/zeroproof-client/pkg/instance"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/metrics"
	"github.com/angelmondragon/zeroproof-client/pkg/migrate"
	"github.com/angelmondragon/zeroproof-client/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "migrations", migrate.MaybeAutoRun(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	refreshStore, err := refresh.NewStore(redisClient, cfg.JWT)
	requireResource(ctx, logg, "refresh store", err)

	storage, err := clientstore.Open(cfg.ClientStorage, clientstore.Deps{Redis: redisClient, DB: dbClient.DB()})
	requireResource(ctx, logg, "client storage", err)

	profilesRepo := profiles.NewRepository(dbClient.DB())

	provider, err := identity.NewProvider(identity.ProviderParams{
		DB:          dbClient.DB(),
		Refresh:     refreshStore,
		Storage:     storage,
		Provisioner: profilesRepo,
		JWT:         cfg.JWT,
		Password:    cfg.Password,
		SessionSlot: cfg.ClientStorage.SessionKey,
		Logger:      logg,
	})
	requireResource(ctx, logg, "identity provider", err)
	defer provider.Close()

	if err := provider.Restore(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "persisted session could not be restored")
	}

	bootstrap, err := session.NewBootstrap(session.BootstrapParams{
		Provider: provider,
		Profiles: profilesRepo,
		Config:   cfg.Session,
		Logger:   logg,
		Metrics:  metrics.NewSessionMetrics(registry),
	})
	requireResource(ctx, logg, "session bootstrap", err)
	requireResource(ctx, logg, "session bootstrap start", bootstrap.Start(ctx))
	defer bootstrap.Close()

	compareList, err := compare.New(ctx, compare.Params{
		Storage: storage,
		Key:     cfg.Compare.StorageKey,
		Logger:  logg,
		Metrics: metrics.NewCompareMetrics(registry),
	})
	requireResource(ctx, logg, "compare list", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"addr":           addr,
		"db_driver":      dbClient.Driver(),
		"client_storage": cfg.ClientStorage.Backend,
		"instance":       instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry, bootstrap, provider, compareList),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(serverCtx, "graceful shutdown failed", err)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
