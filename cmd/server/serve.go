package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoach/assessment-engine/internal/analysis"
	"github.com/mcoach/assessment-engine/internal/api"
	"github.com/mcoach/assessment-engine/internal/cache"
	"github.com/mcoach/assessment-engine/internal/db"
	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/mail"
	"github.com/mcoach/assessment-engine/internal/registry"
	"github.com/mcoach/assessment-engine/internal/services"
)

// openStore opens the sqlite database and brings its schema up to date.
func openStore(log *logger.Logger, path string) (api.Store, func(), error) {
	gdb, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, nil, fmt.Errorf("automigrate: %w", err)
	}
	store, err := db.NewStore(gdb, log)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return store, closeFn, nil
}

func snapshotCache(log *logger.Logger, cfg config) (services.SnapshotCache, func()) {
	if cfg.RedisAddr == "" {
		log.Info("dashboard cache: in-memory", "ttl", cfg.SnapshotTTL.String())
		return cache.NewMemoryCache(cfg.SnapshotTTL), func() {}
	}
	rc, err := cache.NewRedisCache(log, cfg.RedisAddr, cfg.SnapshotTTL)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-memory dashboard cache", "addr", cfg.RedisAddr, "error", err)
		return cache.NewMemoryCache(cfg.SnapshotTTL), func() {}
	}
	log.Info("dashboard cache: redis", "addr", cfg.RedisAddr, "ttl", cfg.SnapshotTTL.String())
	return rc, func() { _ = rc.Close() }
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := configFromEnv()
	cfg.Addr = flagAddr
	cfg.DBPath = flagDBPath

	log, err := logger.New(flagLogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	quizzes, err := registry.Load(cfg.QuizRegistry)
	if err != nil {
		return fmt.Errorf("load quiz registry: %w", err)
	}
	store, closeStore, err := openStore(log, cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeStore()
	snapCache, closeCache := snapshotCache(log, cfg)
	defer closeCache()

	deps := api.Deps{
		Store:      store,
		Quizzes:    quizzes,
		Cache:      snapCache,
		AdminEmail: cfg.AdminEmail,
		Log:        log,
	}
	// nil pointers must not reach the interface fields
	if !cfg.AIAnalysis {
		log.Info("ai analysis disabled by MCE_AI_ANALYSIS")
	} else if an, err := analysis.NewFromEnv(log); err != nil {
		log.Warn("ai analysis disabled", "error", err)
	} else if an != nil {
		deps.Analyzer = an
	}
	if sg, err := mail.NewFromEnv(log); err != nil {
		log.Warn("completion mail disabled", "error", err)
	} else if sg != nil {
		deps.Sender = sg
	}

	rt := api.NewRouter(deps)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening", "addr", cfg.Addr, "db", cfg.DBPath, "quizzes", len(quizzes.ListQuizzes()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
