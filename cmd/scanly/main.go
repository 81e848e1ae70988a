// main.go - scanly server and admin commands
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanly/internal"
	"scanly/internal/seeder"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations. Each
// command releases the application before returning.
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&ServeCommand{},
	&MigrateCommand{},
	&SeedCommand{},
	&StatusCommand{},
}

func main() {
	cmdName, args := parseArgs()
	if cmdName == "help" || cmdName == "-h" || cmdName == "--help" {
		showUsage()
		return
	}

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command %s failed: %v", cmd.Name(), err)
	}
}

// ServeCommand migrates the database and serves HTTP until a signal arrives
type ServeCommand struct{}

func (c *ServeCommand) Name() string        { return "serve" }
func (c *ServeCommand) Description() string { return "Runs migrations and starts the HTTP server (default)" }

func (c *ServeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		shutdown(app)
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Migrations completed")

	if err := app.StartAsync(); err != nil {
		shutdown(app)
		return fmt.Errorf("failed to start application: %w", err)
	}
	log.Println("Application started successfully")

	return waitForShutdownSignal(ctx, app)
}

// waitForShutdownSignal blocks until ctx is cancelled or the server stops on
// its own, then performs graceful shutdown
func waitForShutdownSignal(ctx context.Context, app *internal.Application) error {
	var listenErr error
	select {
	case <-ctx.Done():
		log.Println("Received shutdown signal")
	case listenErr = <-app.ListenErrors():
		log.Printf("Server stopped: %v", listenErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	log.Println("Initiating graceful shutdown...")
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	log.Println("Server shutdown complete")
	return listenErr
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	defer shutdown(app)

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo QR codes and scans
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo QR codes and scans" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	defer shutdown(app)

	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("scans", 200, "number of scans to generate per QR code")
	days := fs.Int("days", 30, "spread scans over this many past days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	se := seeder.NewSeeder(app.DBManager, app.Logger, *count)
	se.Days = *days
	return se.Run(ctx)
}

// StatusCommand reports configuration and database reachability
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows configuration and database status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	defer shutdown(app)

	fmt.Printf("Environment:  %s\n", app.Config.Environment)
	fmt.Printf("Database:     %s\n", app.Config.GetDatabasePath())
	fmt.Printf("Geolocation:  %t\n", app.Geo.Enabled())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.DBManager.Ping(pingCtx); err != nil {
		fmt.Printf("DB status:    error (%v)\n", err)
		return err
	}
	fmt.Println("DB status:    ok")
	return nil
}

func shutdown(app *internal.Application) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Printf("Warning: Cleanup error: %v", err)
	}
}

// parseArgs parses the command name and arguments; no command means serve
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "serve", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsage() {
	fmt.Println("Usage: scanly [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}
