package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/handlers"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/middleware"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/radius"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user if not exists
	seedAdminUser()

	logs := logstore.New(database.DB, cfg.LogLevel)
	defer logs.Close()

	// The API shares the registry with the RADIUS server through Redis:
	// invalidations here are visible to the server's next lookup
	registry := radius.NewRegistry(database.DB, database.Redis, logs)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "VPN RADIUS API v1.0",
		ServerHeader: "vpnradius",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "vpnradius-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg)
	nasHandler := handlers.NewNasHandler(registry)
	userHandler := handlers.NewUserHandler()
	sessionHandler := handlers.NewSessionHandler()
	logHandler := handlers.NewLogHandler()
	statsHandler := handlers.NewStatsHandler()

	// API routes
	api := app.Group("/api")
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Public routes
	api.Post("/auth/login", authHandler.Login)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired(cfg))

	// Auth routes
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/auth/totp/setup", authHandler.SetupTOTP)
	protected.Post("/auth/totp/confirm", authHandler.ConfirmTOTP)
	protected.Post("/auth/totp/disable", authHandler.DisableTOTP)

	// NAS client routes
	nas := protected.Group("/nas")
	nas.Get("/", nasHandler.List)
	nas.Get("/:id", nasHandler.Get)
	nas.Post("/", nasHandler.Create)
	nas.Put("/:id", nasHandler.Update)
	nas.Delete("/:id", nasHandler.Delete)

	// RADIUS user routes
	users := protected.Group("/users")
	users.Get("/", userHandler.List)
	users.Get("/:id", userHandler.Get)
	users.Post("/", userHandler.Create)
	users.Put("/:id", userHandler.Update)
	users.Post("/:id/reset-traffic", userHandler.ResetTraffic)
	users.Delete("/:id", userHandler.Delete)

	// Session routes (read-only)
	sessions := protected.Group("/sessions")
	sessions.Get("/", sessionHandler.List)
	sessions.Get("/:id", sessionHandler.Get)

	// Log routes (read-only)
	protected.Get("/logs", logHandler.List)

	// Statistics routes
	stats := protected.Group("/stats")
	stats.Get("/dashboard", statsHandler.Dashboard)
	stats.Get("/server/sessions", statsHandler.ServerSessions)
	stats.Get("/server/traffic", statsHandler.ServerTraffic)
	stats.Get("/users/:username/sessions", statsHandler.UserSessions)
	stats.Get("/users/:username/traffic", statsHandler.UserTraffic)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting VPN RADIUS API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedAdminUser() {
	var count int64
	database.DB.Model(&models.AdminUser{}).Count(&count)

	if count == 0 {
		log.Println("Creating default admin user...")

		admin := models.AdminUser{
			Username: "admin",
			IsActive: true,
		}
		if err := admin.SetPassword("admin123"); err != nil {
			log.Printf("Failed to hash admin password: %v", err)
			return
		}

		if err := database.DB.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created successfully (username: admin, password: admin123)")
		}
	}
}
