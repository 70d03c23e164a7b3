package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"schemakit/internal/api"
	"schemakit/internal/audit"
	"schemakit/internal/config"
	"schemakit/internal/engine"
	"schemakit/internal/schema"
	"schemakit/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Schema registry, audit trail and engine service
	registry := schema.NewRegistry(db.DB, db.Placeholder)
	svc := engine.NewService(db, registry, nil)

	var trail *audit.Trail
	if cfg.Audit.Enabled {
		trail = audit.NewTrail(db, cfg.Audit.BufferSize, time.Duration(cfg.Audit.FlushIntervalMs)*time.Millisecond)
		defer trail.Stop()
		svc = svc.WithAudit(trail)
	}

	// 5. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Middleware chain for protected routes
	authMW := api.AuthMiddleware(cfg.JWTSecret)
	tenantMW := api.TenantMiddleware(cfg.DefaultTenant)
	adminMW := api.RequireAdmin()

	// 8. Admin routes (auth + admin role required)
	adminHandler := api.NewAdminHandler(db, svc).WithTrail(trail)
	api.RegisterAdminRoutes(app, adminHandler, authMW, tenantMW, adminMW)

	// 9. Dynamic entity routes (auth required)
	recordHandler := api.NewRecordHandler(svc)
	api.RegisterRecordRoutes(app, recordHandler, authMW, tenantMW)

	// 10. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
