package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/doyein2020/gats-ussd/internal/menu"
	"github.com/doyein2020/gats-ussd/internal/services"
)

// AdminHandler serves the read accessors consumed by the (out-of-scope)
// admin surface.
type AdminHandler struct {
	engine  *services.Engine
	catalog *menu.Catalog
}

// NewAdminHandler creates the admin read handler.
func NewAdminHandler(engine *services.Engine, catalog *menu.Catalog) *AdminHandler {
	return &AdminHandler{engine: engine, catalog: catalog}
}

// GetActiveSessions lists currently active sessions.
func (h *AdminHandler) GetActiveSessions(c *fiber.Ctx) error {
	sessions, err := h.engine.ActiveSessions(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "failed to list sessions",
		})
	}
	return c.JSON(fiber.Map{
		"total":    len(sessions),
		"sessions": sessions,
	})
}

// GetRecentLogs returns the newest interaction log entries.
func (h *AdminHandler) GetRecentLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	logs, err := h.engine.RecentLogs(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "failed to list logs",
		})
	}
	return c.JSON(fiber.Map{
		"total": len(logs),
		"logs":  logs,
	})
}

// GetStats returns the aggregate usage snapshot.
func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.engine.Stats(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "failed to compute stats",
		})
	}
	return c.JSON(stats)
}

// InvalidateService drops a cached menu definition. The admin surface calls
// this after publishing a new menu structure.
func (h *AdminHandler) InvalidateService(c *fiber.Ctx) error {
	// Service codes carry '#', which arrives percent-encoded.
	code, err := url.PathUnescape(c.Params("code"))
	if err != nil || code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing service code",
		})
	}
	h.catalog.Invalidate(code)
	return c.JSON(fiber.Map{"invalidated": code})
}
