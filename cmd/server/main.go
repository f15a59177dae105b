package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/letters/internal/config"
	"github.com/JonMunkholm/letters/internal/core"
	_ "github.com/JonMunkholm/letters/internal/core/profiles" // Register built-in profiles
	"github.com/JonMunkholm/letters/internal/events"
	"github.com/JonMunkholm/letters/internal/logging"
	"github.com/JonMunkholm/letters/internal/render"
	"github.com/JonMunkholm/letters/internal/store"
	"github.com/JonMunkholm/letters/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		pool, err = openPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := store.EnsureSchema(ctx, pool); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	// Template store
	var templates core.TemplateStore
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		templates = store.NewPostgres(pool)
		slog.Info("template store ready", "backend", "postgres")
	default:
		fs, err := store.NewFS(cfg.Store.Dir)
		if err != nil {
			slog.Error("failed to open template directory", "dir", cfg.Store.Dir, "error", err)
			os.Exit(1)
		}
		templates = fs
		slog.Info("template store ready", "backend", "fs", "dir", fs.Dir())
	}

	// Batch history: database when available, memory otherwise
	var history core.BatchLog = core.NewMemoryLog(cfg.Batch.HistorySize)
	if pool != nil {
		history = store.NewPostgresLog(pool)
	}

	// Batch events
	var notifier interface {
		core.BatchNotifier
		Close() error
	} = events.Nop{}
	if cfg.Events.Enabled() {
		pub := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		notifier = pub
		slog.Info("publishing batch events", "brokers", len(cfg.Events.Brokers), "topic", pub.Topic())
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			slog.Warn("close event publisher", "error", err)
		}
	}()

	// Profiles: built-ins plus the optional file
	if cfg.Batch.ProfilesFile != "" {
		n, err := core.LoadProfilesFile(cfg.Batch.ProfilesFile)
		if err != nil {
			slog.Error("failed to load profiles file", "path", cfg.Batch.ProfilesFile, "error", err)
			os.Exit(1)
		}
		slog.Info("profiles file loaded", "path", cfg.Batch.ProfilesFile, "profiles", n)
	}
	if _, err := core.Lookup(cfg.Batch.DefaultProfile); err != nil {
		slog.Error("default profile is not registered", "profile", cfg.Batch.DefaultProfile)
		os.Exit(1)
	}
	slog.Info("profiles registered", "count", core.ProfileCount())

	service, err := core.NewService(templates, render.New(), core.ServiceConfig{
		ScratchDir:     cfg.Batch.ScratchDir,
		Policy:         core.FailurePolicy(cfg.Batch.FailurePolicy),
		DefaultProfile: cfg.Batch.DefaultProfile,
		MaxConcurrent:  cfg.Batch.MaxConcurrent,
		MaxWait:        cfg.Batch.MaxWaitTime,
		Timeout:        cfg.Batch.Timeout,
	}, core.WithHistory(history), core.WithNotifier(notifier))
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go service.StartMaintenance(jobCtx, core.MaintenanceConfig{
		ScratchMaxAge:    cfg.Maintenance.ScratchMaxAge,
		HistoryRetention: cfg.Maintenance.HistoryRetention,
		CheckInterval:    cfg.Maintenance.CheckInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running batches to finish (with timeout)
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for batches to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("batches did not complete in time", "error", err)
			} else {
				slog.Info("all batches completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openPool connects and pings PostgreSQL with the configured pool settings.
func openPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(db.MaxConns)
	poolConfig.MinConns = int32(db.MinConns)
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(db.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
