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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"librarydesk/internal/api"
	"librarydesk/internal/auth"
	"librarydesk/internal/config"
	"librarydesk/internal/desk"
	"librarydesk/internal/logging"
	"librarydesk/internal/redis"
	"librarydesk/internal/worker"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the library desk web front end",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	dispatcher := worker.NewDispatcher(dispatcherConfig(cfg), logger.Named("worker"))
	defer dispatcher.Stop()

	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	sessionTTL := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	registry := desk.NewRegistry(backendFactory(cfg, logger), dispatcher, deskOptions(cfg, logger.Named("desk")), sessionTTL)
	var store auth.TokenStore = auth.NewMemoryStore()
	var notifier *redis.CatalogNotifier
	if rdb != nil {
		store = auth.NewRedisStore(rdb)
		notifier = redis.NewCatalogNotifier(rdb, uuid.NewString(), logger.Named("notifier"))
		registry.SetNotifier(notifier)
	}
	authService := auth.NewService(store, sessionTTL)
	router := api.NewRouter(api.NewHandler(registry, authService, logger.Named("api")), logger)

	addr := serveAddr
	if addr == "" {
		addr = cfg.BasicConfig.ServerAddress
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// closing the desks ends their event streams so Shutdown can drain
	srv.RegisterOnShutdown(registry.CloseAll)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go registry.Run(ctx)
	if notifier != nil {
		go func() {
			err := notifier.Listen(ctx, func(origin string) { registry.RefreshAll(origin) })
			if err != nil {
				logger.Error("catalog change listener stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving library desk",
			zap.String("addr", addr),
			zap.String("backend", cfg.Backend.BaseURL),
			zap.Bool("redis", cfg.Redis.Enabled))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openRedis returns nil when redis is disabled; the server then keeps
// sessions in memory and catalog changes stay local.
func openRedis(rc config.RedisConfig) (*redis.Client, error) {
	if !rc.Enabled {
		return nil, nil
	}
	client, err := redis.NewRedisClient(rc)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	return client, nil
}
