package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"shelfstore/internal/api"
	"shelfstore/internal/config"
	internaldb "shelfstore/internal/db"
	"shelfstore/internal/db/repository"
	"shelfstore/internal/domain"
	"shelfstore/internal/middleware"
	"shelfstore/internal/service/resource"
	"shelfstore/internal/service/security"
	"shelfstore/internal/storage/memory"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	var (
		store     domain.ObjectStore
		perms     domain.PermissionStore
		heartbeat func(r *http.Request) error
	)

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := internaldb.OpenSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := internaldb.RunMigrations(db); err != nil {
			return err
		}
		store = repository.NewObjectRepo(db)
		perms = repository.NewPermissionRepo(db)
		heartbeat = func(r *http.Request) error { return db.PingContext(r.Context()) }
		logger.Info("sqlite backend ready", "path", cfg.DBPath)
	default:
		mem := memory.New()
		store, perms = mem, mem
		heartbeat = func(*http.Request) error { return nil }
		logger.Info("in-memory backend ready")
	}

	resolver := security.NewResolver(perms)
	engine := security.NewPermissionService(perms)
	svc := resource.NewService(store, engine, resolver, logger)
	handler := api.NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-Match", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "Total-Records", "Retry-After"},
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	r.Use(middleware.Auth([]byte(cfg.JWTSecret)))

	api.MountRoutes(r, handler, version, heartbeat)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
