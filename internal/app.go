// Package internal contains core application functionality
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"scanly/internal/config"
	"scanly/internal/database"
	"scanly/internal/jobs"
	"scanly/internal/pkg/geoip"
)

// Application wires configuration, storage, geolocation, background jobs
// and the HTTP server.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Geo       *geoip.Client
	Scheduler *jobs.Scheduler
	Server    *fiber.App

	listenErr chan error
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	local := geoip.OpenLocalDB(cfg.GeoDBPath, logger)
	geo, err := geoip.NewClient(geoip.Options{
		APIKey:   cfg.IPStackAPIKey,
		BaseURL:  cfg.IPStackBaseURL,
		Timeout:  cfg.GeoTimeout(),
		CacheTTL: cfg.GeoCacheTTL(),
		Local:    local,
		Logger:   logger,
	})
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to initialize geolocation: %w", err)
	}

	scheduler := jobs.NewScheduler(logger)
	scheduler.Add(jobs.NewWALCheckpointJob(dbManager, logger), cfg.JobInterval())
	if cfg.GeoLiteLicenseKey != "" && cfg.GeoDBPath != "" {
		scheduler.Add(jobs.NewGeoLiteUpdaterJob(jobs.GeoLiteOptions{
			LicenseKey: cfg.GeoLiteLicenseKey,
			DestPath:   cfg.GeoDBPath,
			Local:      local,
		}, logger), cfg.JobInterval())
	}

	server := NewServer(ServerDeps{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		Geo:       geo,
	})

	return &Application{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		Geo:       geo,
		Scheduler: scheduler,
		Server:    server,
		listenErr: make(chan error, 1),
	}, nil
}

// StartAsync starts background jobs and begins serving HTTP in a goroutine.
func (a *Application) StartAsync() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	addr := net.JoinHostPort("", a.Config.AppPort)
	a.Logger.Info("Starting HTTP server",
		slog.String("addr", addr),
		slog.String("environment", a.Config.Environment),
		slog.Bool("geolocation_enabled", a.Geo.Enabled()))

	go func() {
		if err := a.Server.Listen(addr); err != nil {
			a.Logger.Error("HTTP server stopped", slog.Any("error", err))
			a.listenErr <- err
		}
	}()
	return nil
}

// ListenErrors reports a server that stopped on its own.
func (a *Application) ListenErrors() <-chan error {
	return a.listenErr
}

// Shutdown stops the server, then jobs, then releases geolocation and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.Server.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	a.Scheduler.Stop()
	a.Geo.Close()
	if err := a.DBManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	return errors.Join(errs...)
}
