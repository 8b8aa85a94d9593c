package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/scoutlabs/brain/internal/api/handlers"
	mw "github.com/scoutlabs/brain/internal/api/middleware"
	"github.com/scoutlabs/brain/internal/buildconfig"
	"github.com/scoutlabs/brain/internal/config"
	"github.com/scoutlabs/brain/internal/domain"
	"github.com/scoutlabs/brain/internal/service"
	"github.com/scoutlabs/brain/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router   *chi.Mux
	Manager  *service.BrainManager
	Autosave *service.AutosaveService

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(manager *service.BrainManager, archive *store.SQLiteArchive, logger *zap.Logger) *App {
	autosaveSvc := service.NewAutosaveService(manager, logger)
	autosaveSvc.SetInterval(config.AutosaveInterval())

	brainHandler := handlers.NewBrainHandler(manager)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Manager:   manager,
		Autosave:  autosaveSvc,
		startTime: time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(archive))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1/brain", func(r chi.Router) {
		r.Post("/evolve", brainHandler.Evolve)
		r.Post("/decisions", brainHandler.RecordDecision)
		r.Get("/statistics", brainHandler.Statistics)
		r.Post("/hot-switch", brainHandler.HotSwitch)
		r.Route("/generations", func(r chi.Router) {
			r.Get("/", brainHandler.ListGenerations)
			r.Get("/{generation}", brainHandler.GetGeneration)
		})
	})

	return app
}

func healthHandler(archive *store.SQLiteArchive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := archive.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		snapshot := app.Manager.Snapshot()

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"generation":     snapshot.Generation,
			"brain_status":   snapshot.Status,
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"build":      buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy the domain interfaces at compile time.
var (
	_ domain.FastStore    = (*store.FileFastStore)(nil)
	_ domain.ArchiveStore = (*store.SQLiteArchive)(nil)
)
