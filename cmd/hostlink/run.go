package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoylab/hostlink/internal/apiserver"
	"github.com/amoylab/hostlink/internal/apiserver/handler"
	"github.com/amoylab/hostlink/internal/auth"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/gateway"
	"github.com/amoylab/hostlink/internal/notify"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/pages"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/scheduler"
	"github.com/amoylab/hostlink/internal/sequencer"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/internal/supervisor"
	"github.com/amoylab/hostlink/pkg/logger"
	"github.com/amoylab/hostlink/pkg/metrics"
	"github.com/amoylab/hostlink/pkg/trace"
	"github.com/amoylab/hostlink/pkg/version"
	"go.uber.org/zap"
)

func run(ctx context.Context) error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Info("starting hostlink", zap.String("version", version.Get()), zap.String("config", cfgPath))

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		lg.Warn("tracing disabled", zap.Error(err))
	}

	store, err := storage.NewDBStore(lg, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, err := notify.NewNotifier(lg, &cfg.Notifier, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	renderer, err := notify.NewRenderer(nil)
	if err != nil {
		return fmt.Errorf("failed to load notification templates: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}
	sup := supervisor.New(lg, supervisor.WithFailureHook(func(name string, _ error) {
		m.TaskFailed(name)
	}))
	defer sup.Stop()

	reg := registry.NewMemoryStore(lg)
	orch := orchestrator.New(lg, orchestrator.Deps{
		Store:      store,
		Registry:   reg,
		Resolver:   orchestrator.NewResolver(lg, store, reg, cfg.Transactions),
		Supervisor: sup,
		Notifier:   notifier,
		Renderer:   renderer,
		Metrics:    m,
	}, cfg.Transactions, cfg.Server.AppURL)
	router := pages.NewRouter(lg, store, reg, orch, sup)

	gate, err := auth.NewGate(lg, store, &cfg.Auth, cfg.Server.AppURL)
	if err != nil {
		return fmt.Errorf("failed to create authentication gate: %w", err)
	}
	gw := gateway.New(lg, gateway.Deps{
		Store:        store,
		Registry:     reg,
		Gate:         gate,
		Orchestrator: orch,
		Pages:        router,
		Sequencer:    sequencer.New(lg, cfg.Sequencer.Timeout, cfg.Sequencer.Settle),
		Metrics:      m,
	}, cfg)

	sched := scheduler.New(lg, store, orch, m)
	if err := sched.ScheduleAllExisting(ctx); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	sched.Start()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go orch.RunDroppedSweep(runCtx)

	srv := apiserver.New(lg, cfg, handler.NewHandler(lg, store, orch, sched, reg), gw.Handle, m)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			lg.Error("server stopped", zap.Error(err))
			return err
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	sched.Stop(shutdownCtx)
	if err := gw.Shutdown(shutdownCtx); err != nil {
		lg.Warn("sockets did not close in time", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			lg.Warn("failed to flush traces", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("failed to shut down http server", zap.Error(err))
		time.Sleep(cfg.Server.ShutdownGrace)
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	lg.Info("hostlink stopped")
	return nil
}
