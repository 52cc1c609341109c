package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"RegAlertScanner/internal/config"
	"RegAlertScanner/internal/dedup"
	"RegAlertScanner/internal/infrastructure/agency"
	"RegAlertScanner/internal/infrastructure/events"
	"RegAlertScanner/internal/infrastructure/httpapi"
	"RegAlertScanner/internal/infrastructure/scheduler"
	"RegAlertScanner/internal/infrastructure/storage"
	"RegAlertScanner/internal/logging"
	"RegAlertScanner/internal/ports"
	"RegAlertScanner/internal/source"
	"RegAlertScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	syncLog   ports.SyncLogStore
	publisher ports.RunEventPublisher
	server    *httpapi.Server
	scheduler *usecase.SyncScheduler
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	alerts := storage.NewPostgresAlertStore(db)
	syncLog := storage.NewPostgresSyncLogStore(db)
	engine := dedup.NewEngine(alerts)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry := source.NewRegistry()
	for _, src := range cfg.Sources {
		switch src.Adapter {
		case "fsa":
			registry.Register(agency.NewFSAAdapter(src.Name, src.BaseURL, httpClient))
		case "epa":
			registry.Register(agency.NewEPAAdapter(src.Name, src.BaseURL, src.APIKey, httpClient))
		default:
			return nil, fmt.Errorf("source %s: unknown adapter %q", src.Name, src.Adapter)
		}
	}

	var publisher ports.RunEventPublisher
	if cfg.Events.Broker != "" {
		publisher = events.NewKafkaPublisher(cfg.Events.Broker, cfg.Events.Topic, baseLogger.With("component", "events"))
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Registry:       registry,
		Sources:        cfg.Sources,
		Engine:         engine,
		Alerts:         alerts,
		SyncLog:        syncLog,
		Events:         publisher,
		Logger:         baseLogger.With("component", "orchestrator"),
		MaxConcurrent:  cfg.Sync.MaxConcurrent,
		AdapterTimeout: cfg.Sync.AdapterTimeout,
		RetryBackoff:   cfg.Sync.RetryBackoff,
	})

	health := usecase.NewHealthEvaluator(alerts, syncLog, cfg.Sources, baseLogger.With("component", "health"))

	handlers := httpapi.NewHandlers(orchestrator, health, alerts, syncLog,
		cfg.Sync.DefaultSinceDays, baseLogger.With("component", "api"))
	server := httpapi.NewServer(cfg.Server.ListenAddr, handlers,
		cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, baseLogger.With("component", "api"))

	var syncScheduler *usecase.SyncScheduler
	if cfg.Scheduler.Enabled {
		driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval)
		syncScheduler = usecase.NewSyncScheduler(driver, orchestrator,
			cfg.Sync.DefaultSinceDays, baseLogger.With("component", "scheduler"))
	}

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		syncLog:   syncLog,
		publisher: publisher,
		server:    server,
		scheduler: syncScheduler,
	}, nil
}

// Run starts the scheduler and the admin API and blocks until a signal
// arrives or the server fails.
func (a *Application) Run(ctx context.Context) error {
	// Runs orphaned by a previous crash will never finish on their own.
	if failed, err := a.syncLog.FailAbandoned(ctx, a.cfg.Sync.AbandonedAfter); err != nil {
		a.logger.Warn("abandoned-run sweep failed", "error", err)
	} else if failed > 0 {
		a.logger.Info("closed abandoned runs", "count", failed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Start(runCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("admin api: %w", err)
	case <-stop:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	cancel()

	if a.scheduler != nil {
		_ = a.scheduler.Stop(context.Background())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("close event publisher failed", "error", err)
		}
	}

	return a.db.Close()
}
