package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/doyein2020/gats-ussd/internal/models"
)

// MemoryStore holds all data in memory. Used for tests and local development;
// sessions are cloned on the way in and out so callers never share state with
// the store.
type MemoryStore struct {
	users    map[string]*models.User
	sessions map[string]*models.Session
	services map[string]*models.Service
	subs     []*models.Subscription
	logs     []*models.InteractionLog
	surveys  []*models.SurveyResponse

	userMu    sync.RWMutex
	sessionMu sync.RWMutex
	serviceMu sync.RWMutex
	subMu     sync.RWMutex
	logMu     sync.RWMutex

	userCounter    uint
	sessionCounter uint
	serviceCounter uint
	subCounter     uint
	logCounter     uint
}

// Compile-time contract check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		services: make(map[string]*models.Service),
	}
}

// User operations

func (m *MemoryStore) GetOrCreateUser(ctx context.Context, phoneNumber string) (*models.User, error) {
	m.userMu.Lock()
	defer m.userMu.Unlock()

	now := time.Now()
	if user, exists := m.users[phoneNumber]; exists {
		user.LastActivity = now
		dup := *user
		return &dup, nil
	}

	m.userCounter++
	user := &models.User{
		PhoneNumber:  phoneNumber,
		RegisteredAt: now,
		LastActivity: now,
		IsActive:     true,
	}
	user.ID = m.userCounter
	user.CreatedAt = now
	user.UpdatedAt = now

	m.users[phoneNumber] = user
	dup := *user
	return &dup, nil
}

// Session operations

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if _, exists := m.sessions[session.SessionID]; exists {
		return ErrDuplicateSession
	}

	now := time.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if session.SessionData == nil {
		session.SessionData = make(map[string]string)
	}

	m.sessionCounter++
	session.ID = m.sessionCounter
	session.CreatedAt = now
	session.UpdatedAt = now

	m.sessions[session.SessionID] = session.Clone()
	return nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	stored, exists := m.sessions[session.SessionID]
	if !exists {
		return ErrSessionNotFound
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = time.Now()
	// last_activity never moves backwards
	if session.LastActivity.Before(stored.LastActivity) {
		session.LastActivity = stored.LastActivity
	}
	m.sessions[session.SessionID] = session.Clone()
	return nil
}

func (m *MemoryStore) EndExpiredSessions(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	var ended int64
	now := time.Now()
	for _, session := range m.sessions {
		if session.IsActive && session.LastActivity.Before(cutoff) {
			session.End(now, reason)
			session.Version++
			session.UpdatedAt = now
			ended++
		}
	}
	return ended, nil
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var active []*models.Session
	for _, session := range m.sessions {
		if session.IsActive {
			active = append(active, session.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.Before(active[j].StartedAt) })
	return active, nil
}

func (m *MemoryStore) CountSessions(ctx context.Context) (int64, int64, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var active int64
	for _, session := range m.sessions {
		if session.IsActive {
			active++
		}
	}
	return int64(len(m.sessions)), active, nil
}

// Service operations

func (m *MemoryStore) GetServiceByCode(ctx context.Context, code string) (*models.Service, error) {
	m.serviceMu.RLock()
	defer m.serviceMu.RUnlock()

	service, exists := m.services[code]
	if !exists {
		return nil, ErrServiceNotFound
	}
	dup := *service
	return &dup, nil
}

func (m *MemoryStore) SaveService(ctx context.Context, service *models.Service) error {
	m.serviceMu.Lock()
	defer m.serviceMu.Unlock()

	now := time.Now()
	if existing, exists := m.services[service.Code]; exists {
		service.ID = existing.ID
		service.CreatedAt = existing.CreatedAt
	} else {
		m.serviceCounter++
		service.ID = m.serviceCounter
		service.CreatedAt = now
	}
	service.UpdatedAt = now

	dup := *service
	m.services[service.Code] = &dup
	return nil
}

// Subscription operations

func (m *MemoryStore) HasActiveSubscription(ctx context.Context, userID, serviceID uint) (bool, error) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	now := time.Now()
	for _, sub := range m.subs {
		if sub.UserID == userID && sub.ServiceID == serviceID && sub.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	now := time.Now()
	m.subCounter++
	sub.ID = m.subCounter
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = now
	}

	dup := *sub
	m.subs = append(m.subs, &dup)
	return nil
}

// Log operations

func (m *MemoryStore) CreateLog(ctx context.Context, entry *models.InteractionLog) error {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	m.logCounter++
	entry.ID = m.logCounter
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	dup := *entry
	m.logs = append(m.logs, &dup)
	return nil
}

func (m *MemoryStore) RecentLogs(ctx context.Context, limit int) ([]*models.InteractionLog, error) {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if limit <= 0 || limit > len(m.logs) {
		limit = len(m.logs)
	}

	// newest first
	recent := make([]*models.InteractionLog, 0, limit)
	for i := len(m.logs) - 1; i >= len(m.logs)-limit; i-- {
		dup := *m.logs[i]
		recent = append(recent, &dup)
	}
	return recent, nil
}

func (m *MemoryStore) LogStats(ctx context.Context) (int64, int64, float64, error) {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	total := int64(len(m.logs))
	var errCount int64
	var sumMs int64
	for _, entry := range m.logs {
		if entry.IsError {
			errCount++
		}
		sumMs += entry.ResponseTimeMs
	}

	var avg float64
	if total > 0 {
		avg = float64(sumMs) / float64(total)
	}
	return total, errCount, avg, nil
}

// Survey operations

func (m *MemoryStore) CreateSurveyResponse(ctx context.Context, resp *models.SurveyResponse) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	resp.CreatedAt = time.Now()
	dup := *resp
	m.surveys = append(m.surveys, &dup)
	return nil
}
