package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rooby-r/sygla-h2o-sub001/internal/app"
	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/backend"
	"github.com/rooby-r/sygla-h2o-sub001/internal/console"
	"github.com/rooby-r/sygla-h2o-sub001/internal/guard"
	"github.com/rooby-r/sygla-h2o-sub001/internal/notify"
	"github.com/rooby-r/sygla-h2o-sub001/internal/observability"
	"github.com/rooby-r/sygla-h2o-sub001/internal/platform/cache"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
	"github.com/rooby-r/sygla-h2o-sub001/internal/view"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "sygla_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	table := rbac.DefaultTable()
	for _, m := range table.Audit() {
		logger.Warn("permission table mismatch", slog.String("detail", m.String()))
	}

	metrics := observability.NewMetrics()
	api := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, logger)
	feed := notify.NewFeed(api, cfg.NotificationPollInterval)

	registry := auth.NewRegistry(auth.RegistryConfig{
		Backend: api,
		Storage: func(sessionID string) auth.Storage {
			return auth.NewRedisStorage(redisClient, sessionID, cfg.SessionTTL)
		},
		Logger:     logger,
		IdleTTL:    cfg.SessionIdleTTL,
		Companions: []auth.Companion{auth.AccessWatcher(cfg.AccessCheckInterval), feed.Companion()},
		Recorder:   metrics,
	})
	registry.Start(ctx)
	defer registry.Close()

	routeGuard := guard.New(table, logger, metrics, console.Loading(templates, logger))

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Registry:       registry,
		Guard:          routeGuard,
		AuthHandler:    auth.NewHandler(logger, templates, csrfManager, table),
		ConsoleHandler: console.NewHandler(logger, templates, csrfManager, table, routeGuard, feed),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
	}
}
