package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/contentgen-be/internal/app"
	"github.com/cuongbtq/contentgen-be/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	instanceID := app.InstanceID(&cfg.App)
	appLogger, err := app.NewLogger(&cfg.Logging, "worker-service", instanceID)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	res := &app.Resources{}
	defer func() {
		if err := res.Close(); err != nil {
			appLogger.Error("Failed to release resources", slog.Any("error", err))
		}
	}()

	jobQueue, err := app.OpenQueue(cfg, res, appLogger.Component("queue"))
	if err != nil {
		return err
	}

	bus, err := app.NewBus(cfg, instanceID, res, appLogger.Component("events"))
	if err != nil {
		return err
	}

	pool, err := app.NewWorkerPool(cfg, jobQueue, bus, appLogger.Component("worker"))
	if err != nil {
		return err
	}

	// In-flight jobs keep this context until the shutdown timeout expires
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- pool.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("workers", len(pool.Workers())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
		}
		return err
	}

	if app.StopPool(pool, cfg.Worker.ShutdownTimeout) {
		appLogger.Info("Worker stopped gracefully")
	} else {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		cancel()
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
