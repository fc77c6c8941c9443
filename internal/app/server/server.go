package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/domain/workflow"
	"pms/internal/domain/workflow/memstore"
	"pms/internal/platform/cache"
	"pms/internal/platform/config"
	"pms/internal/platform/db"
	"pms/internal/platform/directory"
	"pms/internal/platform/jobs"
	"pms/internal/platform/metrics"
	"pms/internal/transport/http/api"
	jobshandler "pms/internal/transport/http/handlers/jobs"
	workflowhandler "pms/internal/transport/http/handlers/workflow"
	"pms/internal/transport/http/middleware"
)

type App struct {
	Config    config.Config
	DB        *pgxpool.Pool
	Cache     *cache.ReportCache
	Router    http.Handler
	Engine    *workflow.Engine
	Projector *workflow.Projector
	Jobs      *jobs.Service
	Metrics   *metrics.Collector

	cancel context.CancelFunc
}

func Run() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("dotenv load failed", "err", err)
	}
	cfg := config.Load()
	level := slog.LevelInfo
	if cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		slog.Error("server init failed", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown failed", "err", err)
		}
	}()

	slog.Info("pms server listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
	slog.Info("pms server stopped")
}

// New wires the store, directory, cache, engine and router selected by cfg.
// Background jobs run until Close or until ctx is done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Metrics: metrics.New()}

	store, dir, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	var reportCache workflow.ReportCache
	if cfg.RedisURL != "" {
		c, err := cache.Open(ctx, cfg.RedisURL, cfg.ReportCacheTTL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Cache = c
		reportCache = c
	}

	app.Projector = workflow.NewProjector(store, dir, reportCache)
	app.Engine, err = workflow.NewEngine(store, dir,
		workflow.WithTimeout(cfg.TransitionTimeout),
		workflow.WithListener(app.Projector),
		workflow.WithRecorder(app.Metrics),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel
	app.Jobs = jobs.New(app.Engine, cfg.RollupRebuildInterval)
	app.Jobs.Start(jobCtx)

	app.Router = app.routes()
	return app, nil
}

func (a *App) openStore(ctx context.Context) (workflow.StoreAPI, workflow.Directory, error) {
	switch a.Config.StoreDriver {
	case config.StoreDriverMemory:
		static, err := directory.Load(a.Config.DirectoryFile)
		if err != nil {
			return nil, nil, err
		}
		store := memstore.New()
		for _, cycle := range static.Cycles() {
			if err := store.CreateCycle(ctx, cycle); err != nil {
				return nil, nil, fmt.Errorf("load cycle %s: %w", cycle.ID, err)
			}
		}
		return store, static, nil
	default:
		pool, err := db.Connect(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.DB = pool
		if a.Config.RunMigrations {
			if err := db.Migrate(ctx, pool, a.Config.MigrationsDir); err != nil {
				return nil, nil, err
			}
		}
		if a.Config.RunSeed && a.Config.DirectoryFile != "" {
			static, err := directory.Load(a.Config.DirectoryFile)
			if err != nil {
				return nil, nil, err
			}
			if err := db.Seed(ctx, pool, static); err != nil {
				return nil, nil, err
			}
		}
		store := workflow.NewStore(pool)
		return store, store, nil
	}
}

func (a *App) routes() http.Handler {
	var idem middleware.IdempotencyStore
	if a.DB != nil {
		idem = middleware.NewIdempotencyStore(a.DB)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Auth(a.Config.JWTSecret))
	router.Use(middleware.Logger(a.Metrics))
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders(a.Config.Environment == "production"))
	router.Use(middleware.BodyLimit(a.Config.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", a.handleReady)
	if a.Config.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(a.Config.RateLimitPerMinute, time.Minute))
		r.Use(middleware.TransitionRateLimit(a.Config.RateLimitPerMinute, time.Minute))

		workflowhandler.NewHandler(a.Engine, a.Projector, idem).RegisterRoutes(r)
		jobshandler.NewHandler(a.Jobs).RegisterRoutes(r)
	})
	return router
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if a.DB != nil {
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Ping(ctx); err != nil {
			http.Error(w, "cache not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("cache close failed", "err", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
