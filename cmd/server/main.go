package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"flow-manager/internal/api"
	"flow-manager/internal/config"
	"flow-manager/internal/engine"
	"flow-manager/internal/logging"
	"flow-manager/internal/repository"
	"flow-manager/internal/tasks"
	"flow-manager/internal/tls"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	// Initialize logging
	logger := logging.NewLogger(cfg.Log.Level)
	logger.Info("Starting Flow Manager Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	store := repository.NewPostgresStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		log.Fatalf("Schema initialization failed: %v", err)
	}

	// Initialize the task registry with the builtin tasks
	registry := tasks.NewRegistry()
	var notifier tasks.Notifier
	if cfg.Notifier.URL != "" {
		notifier = tasks.NewHTTPNotifier(cfg.Notifier.URL)
	}
	if err := tasks.RegisterBuiltins(registry, notifier); err != nil {
		logger.Error("Failed to register tasks", "error", err)
		log.Fatalf("Task registration failed: %v", err)
	}
	logger.Info("Task registry initialized", "tasks", len(registry.List()))

	// Initialize the execution engine
	eng, err := engine.New(store, registry, logger, cfg.Engine.MaxTaskExecutions)
	if err != nil {
		logger.Error("Failed to initialize engine", "error", err)
		log.Fatalf("Engine initialization failed: %v", err)
	}

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flow-manager"))

	// Mount REST API handlers under /api/v1
	handler := api.NewHandler(store, registry, eng, logger)
	api.RegisterRoutes(e.Group("/api/v1"), handler)
	e.GET("/healthz", handler.Health)

	// Expose the OpenAPI spec and Swagger UI
	e.GET("/openapi.yaml", api.SpecHandler)
	e.GET("/docs", api.SwaggerHandler)

	logger.Info("REST API handlers mounted")

	// Create HTTP server. Flow execution is synchronous, so the write
	// timeout must cover a full run.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
