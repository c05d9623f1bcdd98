package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"habitora-core/internal/di"
	docconfig "habitora-core/internal/docstore/config"
	"habitora-core/internal/shared/database"
	"habitora-core/internal/shared/logger"

	"github.com/caarlos0/env/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"localhost"`
	Port string `env:"SERVER_PORT" envDefault:"3000"`
}

func main() {
	fmt.Println("🚀 Habitora Core - Starting Application...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	// Load server configuration
	serverCfg := &ServerConfig{}
	if err := env.Parse(serverCfg); err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewLogger()
	appLogger.Info("Application configuration loaded successfully")

	// Initialize Dependency Injection Container
	container := di.NewContainer(appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Error("Failed to close container: %v", err)
		}
	}()

	// Connection settings come from the docstore config; dial tuning from env
	storeCfg, err := docconfig.LoadConfig()
	if err != nil {
		appLogger.Warn("Failed to load store config from environment, using defaults", "error", err)
		storeCfg = docconfig.DefaultConfig()
	}
	dialCfg, err := database.LoadDialConfig()
	if err != nil {
		appLogger.Warn("Failed to load dial config from environment, using defaults", "error", err)
		dialCfg = database.DefaultDialConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialCfg.ConnectTimeout)
	defer cancel()

	// Connect to MongoDB
	mongoClient, err := database.ConnectMongo(ctx, storeCfg.MongoDBURI, dialCfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			appLogger.Error("Failed to disconnect MongoDB: %v", err)
		}
	}()

	// Connect to Redis, required by the event journal and the identity cache
	redisClient, err := database.ConnectRedis(ctx, storeCfg.RedisAddr, storeCfg.RedisPassword, storeCfg.RedisDB, dialCfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Failed to close Redis client: %v", err)
		}
	}()

	// Initialize Docstore Module through container
	if err := container.InitializeDocstore(mongoClient, redisClient); err != nil {
		log.Fatalf("Failed to initialize Docstore module: %v", err)
	}
	appLogger.Info("Docstore module initialized successfully")

	// Initialize Marketplace Module through container
	if err := container.InitializeMarketplace(); err != nil {
		log.Fatalf("Failed to initialize Marketplace module: %v", err)
	}
	appLogger.Info("Marketplace module initialized successfully")

	// Setup HTTP server (Fiber) with middleware
	app := fiber.New(fiber.Config{
		AppName:      "Habitora Core API v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			appLogger.Error("HTTP Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
	})

	// Add middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	marketplaceModule := container.GetMarketplaceModule()
	app.Use(marketplaceModule.Middleware.RequestID())

	// Add health check endpoint with container health status
	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if err := container.HealthCheck(healthCtx); err != nil {
			appLogger.Error("Health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "UNHEALTHY",
				"error":   err.Error(),
				"message": "One or more services are unhealthy",
			})
		}

		return c.JSON(fiber.Map{
			"status":    "HEALTHY",
			"message":   "Habitora Core API is running",
			"timestamp": time.Now().UTC(),
			"modules": fiber.Map{
				"docstore":    "initialized",
				"marketplace": "initialized",
			},
		})
	})

	// Register module routes and start background services
	marketplaceModule.RegisterRoutes(app)
	marketplaceModule.StartServices(ctx)
	appLogger.Info("Marketplace routes and realtime services registered")

	serverAddr := fmt.Sprintf("%s:%s", serverCfg.Host, serverCfg.Port)
	appLogger.Info("🌟 All modules initialized. Starting HTTP server on %s", serverAddr)

	// Start server in a goroutine for graceful shutdown
	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			appLogger.Error("Server failed to start: %v", err)
			log.Fatalf("Server startup failed: %v", err)
		}
	case sig := <-quit:
		appLogger.Info("Received shutdown signal: %v", sig)
		fmt.Println("🛑 Shutting down server gracefully...")

		// Shutdown the server with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown: %v", err)
		}

		appLogger.Info("HTTP server stopped")
	}

	fmt.Println("✅ Application stopped gracefully.")
}
