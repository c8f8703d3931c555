package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/config"
	"github.com/me/blaze/internal/hydrate"
	"github.com/me/blaze/internal/logging"
	"github.com/me/blaze/internal/platform"
	"github.com/me/blaze/internal/scheduler"
	"github.com/me/blaze/internal/server"
	"github.com/me/blaze/internal/storage"
	"github.com/me/blaze/internal/store"
	"github.com/me/blaze/internal/task"
	"github.com/me/blaze/internal/tracing"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json, auto)")
	dbPath := flag.String("db", "", "Database path (default ~/.blaze/blaze.db)")
	traceFile := flag.String("trace", "", "Write spans to this file")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	override(&cfg.Server.Addr, *addr)
	override(&cfg.Server.LogLevel, *logLevel)
	override(&cfg.Server.LogFormat, *logFormat)
	override(&cfg.Server.DBPath, *dbPath)
	override(&cfg.Server.TraceFile, *traceFile)
	if *debug {
		cfg.Server.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)

	if cfg.Server.TraceFile != "" {
		if err := tracing.Init("blaze", version, cfg.Server.TraceFile); err != nil {
			fmt.Fprintf(os.Stderr, "init tracing: %v\n", err)
			os.Exit(1)
		}
		defer tracing.Shutdown(context.Background())
		logger.Info("tracing enabled", "file", cfg.Server.TraceFile)
	}

	// Resolve database path.
	if cfg.Server.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".blaze")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		cfg.Server.DBPath = filepath.Join(dir, "blaze.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(cfg.Server.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.Server.DBPath)

	p, err := buildPlatform(cfg.Kernel, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "platform: %v\n", err)
		os.Exit(1)
	}

	mgrOpts := []scheduler.Option{scheduler.WithRecorder(st)}
	if delta, ok, err := st.LoadDelayModel(context.Background(), p.Name()); err != nil {
		logger.Warn("load delay model", "error", err)
	} else if ok {
		mgrOpts = append(mgrOpts, scheduler.WithInitialDelay(delta))
		logger.Info("delay model restored", "platform", p.Name(), "delta", delta)
	}

	backend := storage.NewDefaultRegistry(cfg.Storage.HDFSUser, logger)
	factory := task.NewFactory(cfg.Kernel.NumInputs,
		task.WithStorage(backend),
		task.WithMaxBlockSize(cfg.Hydration.MaxBlockSize),
	)
	mgr := scheduler.NewManager(factory, p, schedulerConfig(cfg), logger, mgrOpts...)

	pool := hydrate.NewPool(hydrate.Config{
		Workers: cfg.Hydration.Workers,
		Timeout: cfg.Hydration.Timeout,
	}, logger, hydrate.WithOnReady(mgr.OnReady))

	srv := server.New(cfg.Server, mgr, pool, st, logger, server.WithBlockCache(block.NewCache()))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("manager stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "platform", p.Name(), "num_inputs", cfg.Kernel.NumInputs)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop accepting requests, then drain hydration before the manager loops.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	pool.Stop()
	if err := backend.Close(); err != nil {
		logger.Error("close storage", "error", err)
	}
	if err := mgr.Stop(); err != nil {
		logger.Error("manager stop error", "error", err)
	}
	logger.Info("server stopped")
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func schedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		PollInterval:  cfg.Scheduler.PollInterval,
		Capacity:      cfg.Scheduler.Capacity,
		LobbyRatio:    cfg.Scheduler.LobbyRatio,
		MinLobbyWait:  cfg.Scheduler.MinLobbyWait,
		Smoothing:     cfg.Delay.Smoothing,
		MaxCorrection: cfg.Delay.MaxCorrection,
		ExecTimeout:   cfg.Scheduler.ExecTimeout,
	}
}

// buildPlatform registers the configured kernel as a local platform and
// resolves it by name.
func buildPlatform(kc config.KernelConfig, logger *slog.Logger) (platform.Platform, error) {
	var kernel platform.Kernel = platform.EchoKernel{}
	if kc.Name == config.KernelSum {
		kernel = platform.SumKernel{}
	}
	if kc.ThrottlePerMB > 0 {
		kernel = platform.ThrottledKernel{Inner: kernel, PerMB: kc.ThrottlePerMB}
	}

	var est platform.Estimator = platform.LinearEstimator{Base: kc.BaseEstimate, PerMB: kc.PerMB}
	if kc.EstimateScript != "" {
		se, err := platform.NewScriptEstimator(kc.EstimateScript, est, logger)
		if err != nil {
			return nil, fmt.Errorf("estimate script: %w", err)
		}
		est = se
	}

	reg := platform.NewRegistry(logger)
	reg.Register(platform.NewLocal(kc.Platform, kernel, est, logger))
	return reg.Get(kc.Platform)
}
