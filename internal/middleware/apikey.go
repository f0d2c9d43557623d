package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// RequireAPIKey guards admin read endpoints with a static X-API-Key header.
func RequireAPIKey(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("X-API-Key") != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API Key",
			})
		}
		return c.Next()
	}
}

// AllowIPs restricts access to a client IP allowlist. A "*" entry disables
// the check.
func AllowIPs(allowed []string) fiber.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	wildcard := false
	for _, ip := range allowed {
		if ip == "*" {
			wildcard = true
		}
		allowedSet[ip] = true
	}

	return func(c *fiber.Ctx) error {
		if wildcard || allowedSet[c.IP()] {
			return c.Next()
		}
		log.Printf("⚠️  Unauthorized access attempt from IP: %s", c.IP())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Access denied",
		})
	}
}
