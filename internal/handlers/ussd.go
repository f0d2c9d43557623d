package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/doyein2020/gats-ussd/internal/services"
)

// USSDRequest is the gateway callback payload. Aggregators post either
// form-encoded or JSON bodies; fiber's BodyParser handles both.
type USSDRequest struct {
	SessionID   string `json:"sessionId" form:"sessionId"`
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
	ServiceCode string `json:"serviceCode" form:"serviceCode"`
	Text        string `json:"text" form:"text"`
}

// USSDHandler serves the gateway-facing callback endpoint.
type USSDHandler struct {
	engine *services.Engine
}

// NewUSSDHandler creates the gateway handler.
func NewUSSDHandler(engine *services.Engine) *USSDHandler {
	return &USSDHandler{engine: engine}
}

// HandleCallback processes one USSD turn. The gateway always gets HTTP 200
// with a plain-text CON/END body, whatever happens inside.
func (h *USSDHandler) HandleCallback(c *fiber.Ctx) error {
	var payload USSDRequest
	if err := c.BodyParser(&payload); err != nil {
		log.Printf("Error parsing USSD callback: %v", err)
		return respond(c, "END Invalid request.")
	}
	if payload.SessionID == "" || payload.PhoneNumber == "" {
		return respond(c, "END Invalid request.")
	}

	reply := h.engine.HandleInteraction(c.UserContext(), services.Request{
		SessionID:   payload.SessionID,
		PhoneNumber: payload.PhoneNumber,
		ServiceCode: payload.ServiceCode,
		Text:        payload.Text,
	})
	return respond(c, reply.Text)
}

func respond(c *fiber.Ctx, text string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(text)
}
