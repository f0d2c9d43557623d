package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doyein2020/gats-ussd/internal/config"
	"github.com/doyein2020/gats-ussd/internal/handlers"
	"github.com/doyein2020/gats-ussd/internal/middleware"
)

// SetupRoutes configures all API routes.
func SetupRoutes(app *fiber.App, cfg *config.Config, ussdHandler *handlers.USSDHandler, adminHandler *handlers.AdminHandler) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "GATS USSD Gateway",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":   "/health",
				"ussd":     "/ussd",
				"sessions": "/ussd/sessions",
				"stats":    "/ussd/stats",
				"metrics":  "/metrics",
			},
		})
	})

	app.Get("/health", handlers.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ========== GATEWAY CALLBACK ==========
	// Development skips the gateway guards so local tools can post freely.
	ussd := app.Group("/ussd")
	if !cfg.IsDevelopment() {
		ussd.Use(middleware.AllowIPs(cfg.AllowedIPs), middleware.RequireAPIKey(cfg.APIKey))
	}
	ussd.Post("/", ussdHandler.HandleCallback)

	// ========== ADMIN READ ROUTES ==========
	ussd.Get("/sessions", adminHandler.GetActiveSessions)
	ussd.Get("/logs", adminHandler.GetRecentLogs)
	ussd.Get("/stats", adminHandler.GetStats)
	ussd.Post("/services/:code/invalidate", adminHandler.InvalidateService)
}
