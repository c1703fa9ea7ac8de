package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"count-backend/internal/app"
	"count-backend/internal/auth"
	"count-backend/internal/config"
	h "count-backend/internal/http"
	"count-backend/internal/handlers"
	"count-backend/internal/health"
	"count-backend/internal/logging"
	"count-backend/internal/middleware"
	"count-backend/internal/timeutil"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	skipMigrations := flag.Bool("skip-migrations", false, "do not apply schema migrations on startup")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// Run database migrations
	// Uses embedded migrations for standalone binary operation
	if !*skipMigrations {
		logger.Info("running database migrations")
		if err := a.Migrate(ctx); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	var cachePinger health.Pinger
	if a.Cache.Enabled() {
		cachePinger = a.Cache
	}
	healthChecker := health.NewHealthChecker(a.Pool, cachePinger)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, timeutil.SystemClock{})
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, a.Master, logger)

	router := h.NewRouter(
		handlers.NewCycleHandler(a.Cycles),
		handlers.NewSectorCountHandler(a.Counts),
		handlers.NewReportHandler(a.Reports, logger),
		handlers.NewHealthHandler(healthChecker),
		authMiddleware,
		logger,
	)

	var handler http.Handler = middleware.NewCORS(cfg)(router)
	if cfg.Server.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.Server.RequestTimeout, `{"error":"Request timed out"}`)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
