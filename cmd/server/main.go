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

	"flowd/internal/api"
	"flowd/internal/config"
	"flowd/internal/engine"
	"flowd/internal/logging"
	"flowd/internal/mcp"
	"flowd/internal/repository"
	tlsutil "flowd/internal/tls"
	"flowd/internal/trigger"
	"flowd/internal/validation"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting workflow engine service")

	// Store layer: postgres when configured, in-memory otherwise
	var defStore repository.DefinitionStore
	var runStore repository.RunStore
	if cfg.UsePostgres() {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			log.Fatalf("Database initialization failed: %v", err)
		}
		defer dbPool.Close()
		if err := repository.EnsureSchema(ctx, dbPool); err != nil {
			logger.Error("Failed to ensure schema", "error", err)
			log.Fatalf("Schema migration failed: %v", err)
		}
		defStore = repository.NewPostgresDefinitionStore(dbPool)
		runStore = repository.NewPostgresRunStore(dbPool)
		logger.Info("Database connected")
	} else {
		defStore = repository.NewMemoryDefinitionStore()
		runStore = repository.NewMemoryRunStore()
		logger.Info("Running with in-memory stores")
	}

	// Engine layer
	metrics, err := engine.NewMetrics()
	if err != nil {
		logger.Error("Failed to register metrics", "error", err)
		log.Fatalf("Metrics initialization failed: %v", err)
	}
	handler := engine.NewHTTPStepHandler(cfg.Handlers.GatewayURL)
	executor := engine.NewExecutor(handler, cfg.StepTimeout(), logger, metrics)
	dispatcher := engine.NewDispatcher(engine.NewHTTPSender(cfg.Notifier.URL), logger, metrics)
	eng := engine.New(runStore, executor, dispatcher, logger, metrics)

	// Trigger layer: re-subscribe every stored definition, then start cron
	triggers := trigger.NewEvaluator(eng, defStore, logger)
	defs, err := defStore.List(ctx)
	if err != nil {
		logger.Error("Failed to list definitions", "error", err)
		log.Fatalf("Definition loading failed: %v", err)
	}
	for _, def := range defs {
		if err := validation.Validate(def); err != nil {
			logger.Error("Stored definition is invalid, skipping", "definition", def.ID, "error", err)
			continue
		}
		if err := triggers.Register(def); err != nil {
			logger.Error("Failed to register triggers", "definition", def.ID, "error", err)
		}
	}
	triggers.Start()
	defer triggers.Stop()

	logger.Info("Engine initialized", "definitions", len(defs))

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flowd"))

	// Mount REST API handlers
	apiServer := api.NewServer(defStore, eng, triggers, logger)
	e.GET("/healthz", apiServer.HandleHealth)
	apiServer.Register(e.Group("/api/v1"))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(eng, triggers)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
					opts := tlsutil.CertOptions{
						Organization: cfg.TLS.Organization,
						ValidFor:     time.Duration(cfg.TLS.ValidityDays) * 24 * time.Hour,
					}
					if err := tlsutil.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames, opts); err != nil {
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
		logger.Info("Shutdown signal received", "signal", sig.String())

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
