package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/contentgen-be/internal/api/handler"
	"github.com/cuongbtq/contentgen-be/internal/api/router"
	"github.com/cuongbtq/contentgen-be/internal/app"
	"github.com/cuongbtq/contentgen-be/internal/auth"
	"github.com/cuongbtq/contentgen-be/internal/config"
	"github.com/cuongbtq/contentgen-be/internal/worker"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	instanceID := app.InstanceID(&cfg.App)
	appLogger, err := app.NewLogger(&cfg.Logging, "api-service", instanceID)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var pool *worker.Pool
	poolErr := make(chan error, 1)
	if cfg.Worker.Embedded {
		pool, err = app.NewWorkerPool(cfg, jobQueue, bus, appLogger.Component("worker"))
		if err != nil {
			return err
		}
		go func() {
			poolErr <- pool.Start(workerCtx)
		}()
		appLogger.Info("Embedded worker pool started", slog.Int("workers", len(pool.Workers())))
	}

	deps := &handler.Dependencies{
		Logger:     appLogger.Component("api"),
		Store:      jobQueue,
		Bus:        bus,
		Checks:     res.Checks(),
		Service:    cfg.App.Name,
		KeepAlive:  cfg.Events.KeepAlive,
		SinkBuffer: cfg.Events.SinkBuffer,
	}
	if pool != nil {
		deps.Runner = pool
	}

	r := initRouter(cfg, deps)

	// Request contexts derive from baseCtx so shutdown can end open event streams
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	if cfg.Server.WriteTimeout > 0 {
		appLogger.Warn("Server write_timeout also bounds event streams",
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	case err := <-poolErr:
		appLogger.Error("Embedded worker pool stopped", slog.Any("error", err))
		runErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if pool != nil {
		if !app.StopPool(pool, cfg.Worker.ShutdownTimeout) {
			appLogger.Warn("Worker shutdown timeout exceeded, cancelling in-flight jobs")
			cancelWorkers()
		}
	}

	appLogger.Info("API service shutdown complete")
	return runErr
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	verifier := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	return router.SetupRouter(deps, verifier)
}
