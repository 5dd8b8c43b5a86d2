package main

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

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/wardrive/internal/config"
	"github.com/JonMunkholm/wardrive/internal/core"
	"github.com/JonMunkholm/wardrive/internal/logging"
	"github.com/JonMunkholm/wardrive/internal/storage/postgres"
	"github.com/JonMunkholm/wardrive/internal/storage/sqlite"
	"github.com/JonMunkholm/wardrive/internal/web"
)

const connectTimeout = 15 * time.Second

// migratingStore is a DatasetStore that can bring its schema up to date.
type migratingStore interface {
	core.DatasetStore
	Migrate() error
}

func main() {
	// Real environment variables take precedence over .env.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	store, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("failed to open dataset store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Database.MigrateOnStart {
		if err := store.Migrate(); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	service := core.NewService(store, core.Options{
		BatchSize:     cfg.Upload.BatchSize,
		IngestTimeout: cfg.Upload.Timeout,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWait:       cfg.Upload.MaxWaitTime,
		RingRadius:    cfg.Render.RingRadius,
		MaxRingRadius: cfg.Render.MaxRingRadius,
	})

	server := web.NewServer(service, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then wait for ingestions that are
		// still running on their request goroutines.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		store.Close()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

func openStore(db config.DatabaseConfig) (migratingStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch db.Driver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, db.URL, postgres.PoolOptions{
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
			MaxConnIdleTime: db.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database", "driver", db.Driver)
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, db.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened database", "driver", db.Driver, "path", db.SQLitePath)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}
