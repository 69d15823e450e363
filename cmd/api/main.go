package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/inaiurai/metagen/internal/auth"
	"github.com/inaiurai/metagen/internal/config"
	"github.com/inaiurai/metagen/internal/credentials"
	"github.com/inaiurai/metagen/internal/execution"
	"github.com/inaiurai/metagen/internal/handlers"
	"github.com/inaiurai/metagen/internal/ledger"
	"github.com/inaiurai/metagen/internal/logger"
	"github.com/inaiurai/metagen/internal/normalize"
	"github.com/inaiurai/metagen/internal/orchestrator"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/provider"
	"github.com/inaiurai/metagen/internal/repository"
	"github.com/inaiurai/metagen/internal/tasks"
	"github.com/inaiurai/metagen/migrations"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log, err := logger.Setup(cfg.Log.Level)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		log.Error("Invalid database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to PostgreSQL")

	if err := migrations.Up(ctx, pool, log); err != nil {
		log.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		log.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		log.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	log.Info("Migrations applied")

	catalog, err := profiles.Load(cfg.Profiles.Path)
	if err != nil {
		log.Error("Failed to load generator profiles", "error", err)
		os.Exit(1)
	}
	schemas, err := normalize.NewSchemaSet(catalog)
	if err != nil {
		log.Error("Failed to compile profile schemas", "error", err)
		os.Exit(1)
	}

	sealer, err := credentials.NewSealer(cfg.Credentials.EncryptionKey)
	if err != nil {
		log.Error("Invalid credentials encryption key", "error", err)
		os.Exit(1)
	}

	accountRepo := repository.NewAccountRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	ledgerSvc := ledger.NewService(pool, accountRepo, repository.NewEscrowRepo(), repository.NewCreditRepo(), log)
	resolver := credentials.NewResolver(accountRepo, sealer, cfg.Credentials.SharedOpenAIKey)

	// The insert func is set once the River client exists; the manager needs it first.
	var insertMu sync.Mutex
	var insertFn tasks.EnqueueFunc
	enqueue := tasks.EnqueueFunc(func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, taskID)
	})

	manager := tasks.NewManager(pool, taskRepo, ledgerSvc, catalog, enqueue, tasks.Limits{
		MaxFiles: cfg.Batch.MaxFiles,
		Pricing: tasks.Pricing{
			SharedText:   cfg.Pricing.SharedText,
			SharedVision: cfg.Pricing.SharedVision,
			OwnText:      cfg.Pricing.OwnText,
			OwnVision:    cfg.Pricing.OwnVision,
		},
	}, log)

	adapters := provider.NewRegistry(
		provider.NewOpenAI(providerSettings(cfg.Providers.OpenAI)),
		provider.NewGemini(providerSettings(cfg.Providers.Gemini)),
	)
	orch := orchestrator.New(manager, ledgerSvc, adapters, normalize.New(schemas), cfg.Batch.MaxAttempts, log)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewBatchRunWorker(manager, resolver, catalog, orch, cfg.Batch.RunTimeout, log))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			execution.QueueBatches: {MaxWorkers: cfg.Batch.QueueWorkers},
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		log.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, execution.BatchRunArgs{TaskID: taskID}, nil)
		return err
	}
	insertMu.Unlock()

	if err := riverClient.Start(ctx); err != nil {
		log.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	taskHandler := handlers.NewTaskHandler(manager, resolver, ledgerSvc, log)
	taskHandler.MaxBodyBytes = cfg.Server.MaxBodyBytes
	settingsHandler := handlers.NewSettingsHandler(credentials.NewSettingsService(accountRepo, sealer), log)
	srv := &http.Server{
		Addr:    "0.0.0.0:" + strconv.Itoa(cfg.Server.Port),
		Handler: newHTTPHandler(taskHandler, settingsHandler, auth.NewVerifier(cfg.Auth.JWTSecret), cfg.Server.AllowedOrigins, log),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		log.Error("River shutdown", "error", err)
	}
}

func providerSettings(c config.ProviderConfig) provider.Settings {
	return provider.Settings{
		BaseURL:     c.BaseURL,
		TextModel:   c.TextModel,
		VisionModel: c.VisionModel,
		Policy: provider.Policy{
			MaxConcurrency:       c.MaxConcurrency,
			MinInterRequestDelay: c.MinDelay,
		},
		Timeout: c.Timeout,
	}
}
