package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/trailguard-lab/project-trailguard/internal/chain"
	corecfg "github.com/trailguard-lab/project-trailguard/internal/core/config"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage/postgres"
	"github.com/trailguard-lab/project-trailguard/internal/ingestion"
	"github.com/trailguard-lab/project-trailguard/internal/migrations"
	"github.com/trailguard-lab/project-trailguard/internal/server"
	"github.com/trailguard-lab/project-trailguard/internal/verification"
)

func main() {
	configPath := flag.String("config", "trailguard.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Chain Writer
	writer := chain.NewWriter(dbAdapter).WithMaxAttempts(cfg.Chain.MaxAppendAttempts)

	// 4. Initialize Verification
	engine := verification.NewEngine(dbAdapter, cfg.Verification.BatchSize, cfg.Verification.WorkerCount)
	verificationSvc := verification.NewService(engine)

	schedulers := make([]*verification.Scheduler, 0, len(cfg.SweepLoading.Sweeps))
	for _, sweep := range cfg.SweepLoading.Sweeps {
		schedulers = append(schedulers, verification.NewScheduler(engine, sweep))
	}

	slog.Info("Verification initialized",
		"enabled", cfg.Verification.Enabled,
		"sweeps", len(schedulers),
		"batch_size", cfg.Verification.BatchSize,
		"worker_count", cfg.Verification.WorkerCount,
	)

	// 5. Initialize Ingestion
	ingestionSvc := ingestion.NewService(writer, dbAdapter, cfg.Server.MaxBodySizeMB)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	verificationSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start sweep scheduler(s) in background if enabled
	if cfg.Verification.Enabled {
		for _, scheduler := range schedulers {
			go func(s *verification.Scheduler) {
				if err := s.Start(ctx); err != nil {
					slog.Error("Scheduler stopped with error", "error", err)
				}
			}(scheduler)
		}
	} else {
		slog.Info("Verification sweeps disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
