package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/doyein2020/gats-ussd/database"
	"github.com/doyein2020/gats-ussd/internal/config"
	"github.com/doyein2020/gats-ussd/internal/handlers"
	"github.com/doyein2020/gats-ussd/internal/jobs"
	"github.com/doyein2020/gats-ussd/internal/menu"
	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/routes"
	"github.com/doyein2020/gats-ussd/internal/services"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize storage
	var store storage.Store

	if cfg.UseMemoryStore {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		if err := database.Connect(cfg); err != nil {
			log.Fatal("Failed to connect to database:", err)
		}

		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.User{},
			&models.Session{},
			&models.Service{},
			&models.Subscription{},
			&models.InteractionLog{},
			&models.SurveyResponse{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		dbStore := storage.NewDatabaseStore(database.DB)
		store = dbStore

		// Optional hot-session layer: sessions in Redis, everything else
		// stays durable in PostgreSQL.
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			store = storage.NewHybridStore(storage.NewRedisSessionStore(client), dbStore)
			log.Printf("✅ Using Redis session store at %s", cfg.RedisAddr)
		} else {
			log.Println("✅ Using PostgreSQL session storage")
		}
	}

	// Seed the demo service so a fresh install answers *123# immediately.
	if err := seedDemoService(store); err != nil {
		log.Fatal("Failed to seed demo service:", err)
	}

	// Initialize services
	actions := services.NewDefaultActions(store)
	catalog := menu.NewCatalog(store, actions.ActionIDs())
	interactionLogger := services.NewInteractionLogger(store)
	engine := services.NewEngine(store, catalog, actions, interactionLogger, cfg.MaxInvalidInputs, cfg.StoreTimeout)

	// Start the session reaper
	reaper := jobs.NewReaper(store, cfg.ReaperInterval, cfg.SessionTimeout)
	reaper.Start()

	log.Println("✅ All services initialized")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "GATS USSD Gateway v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New())

	ussdHandler := handlers.NewUSSDHandler(engine)
	adminHandler := handlers.NewAdminHandler(engine, catalog)
	routes.SetupRoutes(app, cfg, ussdHandler, adminHandler)

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("🛑 Shutting down...")
		reaper.Stop()
		_ = app.Shutdown()
		interactionLogger.Close()
	}()

	log.Printf("🚀 Listening on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Server error:", err)
	}
}

// demoMenu is the menu graph seeded for service *123#. The admin surface
// manages real definitions; this one keeps a fresh install dialable.
const demoMenu = `{
  "root": "main",
  "nodes": {
    "main": {
      "title": "Welcome to our USSD service",
      "options": [
        {"code": "1", "text": "Check balance", "action": "balance_inquiry"},
        {"code": "2", "text": "Subscribe to services", "next": "services"},
        {"code": "3", "text": "Track my order", "next": "orders"},
        {"code": "4", "text": "Take our survey", "next": "survey"},
        {"code": "5", "text": "Premium offers", "next": "premium", "requires_subscription": true}
      ]
    },
    "services": {
      "title": "Choose a service:",
      "options": [
        {"code": "1", "text": "Service A", "action": "subscribe_service"},
        {"code": "2", "text": "Service B", "action": "subscribe_service"},
        {"code": "3", "text": "Service C", "action": "subscribe_service"},
        {"code": "0", "text": "Back", "next": "main"}
      ]
    },
    "orders": {
      "title": "Select your order:",
      "options": [
        {"code": "1", "text": "ORD-1001", "action": "order_status"},
        {"code": "2", "text": "ORD-1002", "action": "order_status"},
        {"code": "0", "text": "Back", "next": "main"}
      ]
    },
    "survey": {
      "title": "Are you satisfied with our services?",
      "options": [
        {"code": "1", "text": "Very satisfied", "action": "survey_response"},
        {"code": "2", "text": "Satisfied", "action": "survey_response"},
        {"code": "3", "text": "Not satisfied", "action": "survey_response"},
        {"code": "0", "text": "Back", "next": "main"}
      ]
    },
    "premium": {
      "title": "Premium offers:",
      "options": [
        {"code": "1", "text": "Weekly bundle", "action": "balance_inquiry"},
        {"code": "0", "text": "Back", "next": "main"}
      ]
    }
  }
}`

func seedDemoService(store storage.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.GetServiceByCode(ctx, "*123#"); err == nil {
		return nil
	}

	log.Println("🌱 Seeding demo service *123#")
	return store.SaveService(ctx, &models.Service{
		Code:          "*123#",
		Name:          "Demo Self-Care",
		Description:   "Demo self-care menu seeded on first boot",
		MenuStructure: demoMenu,
		IsActive:      true,
	})
}
