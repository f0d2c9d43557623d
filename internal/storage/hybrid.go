package storage

import (
	"context"
	"time"

	"github.com/doyein2020/gats-ussd/internal/models"
)

// HybridStore serves session state from one backend (typically Redis) and
// every durable entity from another (typically PostgreSQL).
type HybridStore struct {
	sessions SessionStore
	rest     Store
}

var _ Store = (*HybridStore)(nil)

// NewHybridStore composes a session backend with a durable store.
func NewHybridStore(sessions SessionStore, rest Store) *HybridStore {
	return &HybridStore{sessions: sessions, rest: rest}
}

// Session operations → hot backend

func (h *HybridStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return h.sessions.GetSession(ctx, sessionID)
}

func (h *HybridStore) CreateSession(ctx context.Context, session *models.Session) error {
	return h.sessions.CreateSession(ctx, session)
}

func (h *HybridStore) UpdateSession(ctx context.Context, session *models.Session) error {
	return h.sessions.UpdateSession(ctx, session)
}

func (h *HybridStore) EndExpiredSessions(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	return h.sessions.EndExpiredSessions(ctx, cutoff, reason)
}

func (h *HybridStore) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return h.sessions.ListActiveSessions(ctx)
}

func (h *HybridStore) CountSessions(ctx context.Context) (int64, int64, error) {
	return h.sessions.CountSessions(ctx)
}

// Everything else → durable backend

func (h *HybridStore) GetOrCreateUser(ctx context.Context, phoneNumber string) (*models.User, error) {
	return h.rest.GetOrCreateUser(ctx, phoneNumber)
}

func (h *HybridStore) GetServiceByCode(ctx context.Context, code string) (*models.Service, error) {
	return h.rest.GetServiceByCode(ctx, code)
}

func (h *HybridStore) SaveService(ctx context.Context, service *models.Service) error {
	return h.rest.SaveService(ctx, service)
}

func (h *HybridStore) HasActiveSubscription(ctx context.Context, userID, serviceID uint) (bool, error) {
	return h.rest.HasActiveSubscription(ctx, userID, serviceID)
}

func (h *HybridStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return h.rest.CreateSubscription(ctx, sub)
}

func (h *HybridStore) CreateLog(ctx context.Context, entry *models.InteractionLog) error {
	return h.rest.CreateLog(ctx, entry)
}

func (h *HybridStore) RecentLogs(ctx context.Context, limit int) ([]*models.InteractionLog, error) {
	return h.rest.RecentLogs(ctx, limit)
}

func (h *HybridStore) LogStats(ctx context.Context) (int64, int64, float64, error) {
	return h.rest.LogStats(ctx)
}

func (h *HybridStore) CreateSurveyResponse(ctx context.Context, resp *models.SurveyResponse) error {
	return h.rest.CreateSurveyResponse(ctx, resp)
}
