package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scoutlabs/brain/internal/api"
	"github.com/scoutlabs/brain/internal/buildconfig"
	"github.com/scoutlabs/brain/internal/config"
	"github.com/scoutlabs/brain/internal/domain"
	"github.com/scoutlabs/brain/internal/service"
	"github.com/scoutlabs/brain/internal/store"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting brain",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()))

	ctx := context.Background()

	fast := store.NewFileFastStore(config.BrainStateFile())

	archive := store.NewSQLiteArchive(config.BrainDBFile())
	if err := archive.Init(ctx); err != nil {
		logger.Fatal("failed to open archive", zap.Error(err))
	}
	defer func() { _ = archive.Close() }()
	logger.Info("archive opened", zap.String("path", config.BrainDBFile()))

	bounds := domain.DefaultWeightBounds()
	mutator := service.NewMutationEngine(bounds, config.MutationRate())
	engine := service.NewEvolutionEngine(service.EvolutionConfig{
		PerformanceThreshold: config.PerformanceThreshold(),
		ZombieGracePeriod:    config.ZombieGracePeriod(),
	}, bounds, mutator, logger)

	manager, err := service.NewBrainManager(ctx, fast, archive, engine, service.BrainConfig{
		DecisionHistoryCap:   config.DecisionHistoryCap(),
		AvgPerformanceWindow: config.AvgPerformanceWindow(),
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize brain", zap.Error(err))
	}

	app := api.NewApp(manager, archive, logger)

	// Start background services
	app.Autosave.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	// Stop background services
	app.Autosave.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	// Persist any buffered decisions before exit.
	flushCtx, cancelFlush := context.WithTimeout(ctx, 10*time.Second)
	defer cancelFlush()
	if err := manager.Flush(flushCtx); err != nil {
		logger.Error("final flush failed", zap.Error(err))
	}

	logger.Info("server stopped")
}
