package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classroomhub/internal/app"
	"classroomhub/internal/config"
)

// ConfigFileEnv names the configuration file when -config is not given.
const ConfigFileEnv = config.EnvPrefix + "CONFIG_FILE"

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// The process stops when ctx is cancelled or the HTTP server fails
func run(ctx context.Context, args []string, getenv func(string) string, stdout io.Writer) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	flags := flag.NewFlagSet("classroomhub", flag.ContinueOnError)
	flags.SetOutput(stdout)
	configPath := flags.String("config", getenv(ConfigFileEnv), "path to a YAML configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, stdout)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Start serving
	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("application error: %w", err), application.Stop(shutdownCtx))
	}

	// STEP 4: Wait for shutdown signal or server failure
	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-application.Errors():
		if ok {
			runErr = fmt.Errorf("application error: %w", err)
		}
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}
