package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doyein2020/gats-ussd/internal/config"
	"github.com/doyein2020/gats-ussd/internal/menu"
	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/services"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

const handlerTestMenu = `{
  "root": "main",
  "nodes": {
    "main": {
      "title": "Welcome",
      "options": [
        {"code": "1", "text": "Check balance", "action": "balance_inquiry"},
        {"code": "2", "text": "Services", "next": "services"}
      ]
    },
    "services": {
      "title": "Choose a service:",
      "options": [
        {"code": "1", "text": "Service A", "action": "subscribe_service"},
        {"code": "0", "text": "Back", "next": "main"}
      ]
    }
  }
}`

type testServer struct {
	app     *fiber.App
	store   *storage.MemoryStore
	catalog *menu.Catalog
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveService(context.Background(), &models.Service{
		Code:          "*123#",
		Name:          "Self-Care",
		MenuStructure: handlerTestMenu,
		IsActive:      true,
	}))

	actions := services.NewDefaultActions(store)
	catalog := menu.NewCatalog(store, actions.ActionIDs())
	logger := services.NewInteractionLogger(store, services.WithRetry(1, time.Millisecond))
	t.Cleanup(logger.Close)
	engine := services.NewEngine(store, catalog, actions, logger, 3, time.Second)

	app := fiber.New()
	setupTestRoutes(app, cfg, NewUSSDHandler(engine), NewAdminHandler(engine, catalog))

	return &testServer{app: app, store: store, catalog: catalog}
}

// setupTestRoutes mirrors the production route table without importing the
// routes package (which imports this one's handlers).
func setupTestRoutes(app *fiber.App, cfg *config.Config, ussdHandler *USSDHandler, adminHandler *AdminHandler) {
	app.Get("/health", HandleHealth)

	ussd := app.Group("/ussd")
	if !cfg.IsDevelopment() {
		ussd.Use(requireAPIKeyForTest(cfg.APIKey))
	}
	ussd.Post("/", ussdHandler.HandleCallback)
	ussd.Get("/sessions", adminHandler.GetActiveSessions)
	ussd.Get("/logs", adminHandler.GetRecentLogs)
	ussd.Get("/stats", adminHandler.GetStats)
	ussd.Post("/services/:code/invalidate", adminHandler.InvalidateService)
}

func requireAPIKeyForTest(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("X-API-Key") != key {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func devConfig() *config.Config {
	return &config.Config{Environment: "development"}
}

func (s *testServer) postCallback(t *testing.T, form url.Values) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ussd/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (s *testServer) ussdTurn(t *testing.T, sessionID, text string) string {
	t.Helper()
	status, body := s.postCallback(t, url.Values{
		"sessionId":   {sessionID},
		"phoneNumber": {"+237650000001"},
		"serviceCode": {"*123#"},
		"text":        {text},
	})
	require.Equal(t, http.StatusOK, status)
	return body
}

func TestHandleCallback_FullDialog(t *testing.T) {
	s := newTestServer(t, devConfig())

	body := s.ussdTurn(t, "sess-1", "")
	assert.Equal(t, "CON Welcome\n1. Check balance\n2. Services", body)

	body = s.ussdTurn(t, "sess-1", "2")
	assert.Equal(t, "CON Choose a service:\n1. Service A\n0. Back", body)

	body = s.ussdTurn(t, "sess-1", "2*1")
	assert.Equal(t, "END You are now subscribed to Service A. Thank you!", body)

	session, err := s.store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, session.IsActive)
}

func TestHandleCallback_JSONBody(t *testing.T) {
	s := newTestServer(t, devConfig())

	payload := `{"sessionId":"sess-json","phoneNumber":"+237650000002","serviceCode":"*123#","text":""}`
	req := httptest.NewRequest(http.MethodPost, "/ussd/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "CON Welcome"))
}

func TestHandleCallback_MissingFields(t *testing.T) {
	s := newTestServer(t, devConfig())

	status, body := s.postCallback(t, url.Values{
		"phoneNumber": {"+237650000001"},
		"serviceCode": {"*123#"},
	})
	assert.Equal(t, http.StatusOK, status, "gateway always gets HTTP 200")
	assert.Equal(t, "END Invalid request.", body)
}

func TestHandleCallback_AlwaysHTTP200OnEngineFault(t *testing.T) {
	s := newTestServer(t, devConfig())

	status, body := s.postCallback(t, url.Values{
		"sessionId":   {"sess-x"},
		"phoneNumber": {"+237650000001"},
		"serviceCode": {"*999#"},
		"text":        {""},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "END Sorry, this service is not available.", body)
}

func TestCallbackRequiresAPIKeyOutsideDevelopment(t *testing.T) {
	cfg := &config.Config{Environment: "production", APIKey: "secret"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/ussd/", strings.NewReader("sessionId=s1&phoneNumber=%2B237650000001&serviceCode=*123%23"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/ussd/", strings.NewReader("sessionId=s1&phoneNumber=%2B237650000001&serviceCode=*123%23"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", "secret")
	resp, err = s.app.Test(req, 5000)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, devConfig())

	s.ussdTurn(t, "sess-a", "")
	s.ussdTurn(t, "sess-b", "")
	s.ussdTurn(t, "sess-b", "1") // ends sess-b

	req := httptest.NewRequest(http.MethodGet, "/ussd/sessions", nil)
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessionsBody struct {
		Total    int               `json:"total"`
		Sessions []*models.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessionsBody))
	require.Equal(t, 1, sessionsBody.Total)
	assert.Equal(t, "sess-a", sessionsBody.Sessions[0].SessionID)

	// Logs are written asynchronously; poll until all three turns landed.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/ussd/logs?limit=10", nil)
		resp, err := s.app.Test(req, 5000)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var logsBody struct {
			Total int `json:"total"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&logsBody); err != nil {
			return false
		}
		return logsBody.Total == 3
	}, 2*time.Second, 20*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/ussd/stats", nil)
	resp2, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var stats models.USSDStats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.EqualValues(t, 2, stats.TotalSessions)
	assert.EqualValues(t, 1, stats.ActiveSessions)
	assert.EqualValues(t, 3, stats.TotalInteractions)
}

func TestInvalidateService(t *testing.T) {
	s := newTestServer(t, devConfig())

	// Warm the cache, then republish the menu.
	s.ussdTurn(t, "sess-1", "")

	require.NoError(t, s.store.SaveService(context.Background(), &models.Service{
		Code:          "*123#",
		Name:          "Self-Care",
		MenuStructure: `{"root":"main","nodes":{"main":{"title":"New menu","options":[{"code":"1","text":"Check balance","action":"balance_inquiry"}]}}}`,
		IsActive:      true,
	}))

	// Still the cached definition.
	body := s.ussdTurn(t, "sess-2", "")
	assert.True(t, strings.HasPrefix(body, "CON Welcome"))

	req := httptest.NewRequest(http.MethodPost, "/ussd/services/*123%23/invalidate", nil)
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body = s.ussdTurn(t, "sess-3", "")
	assert.True(t, strings.HasPrefix(body, "CON New menu"))
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, devConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}
