package storage

import (
	"context"
	"errors"
	"time"

	"github.com/doyein2020/gats-ussd/internal/models"
)

// Sentinel errors shared by all store implementations.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session id already exists")
	ErrVersionConflict  = errors.New("session modified concurrently")
	ErrServiceNotFound  = errors.New("service not found")
	ErrServiceInactive  = errors.New("service inactive")
	ErrUnavailable      = errors.New("store unavailable")
)

// UserStore resolves handset owners by phone number.
type UserStore interface {
	// GetOrCreateUser upserts a user keyed by phone number and touches
	// their last-activity timestamp.
	GetOrCreateUser(ctx context.Context, phoneNumber string) (*models.User, error)
}

// SessionStore persists dialog state. Updates use optimistic concurrency:
// a write against a stale Version fails with ErrVersionConflict instead of
// silently overwriting.
type SessionStore interface {
	// GetSession loads a session by gateway-assigned id.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// CreateSession stores a new session. A racing duplicate create
	// returns ErrDuplicateSession; the caller loads the winner.
	CreateSession(ctx context.Context, session *models.Session) error
	// UpdateSession persists a mutated session iff its Version still
	// matches the stored row, then bumps Version on the passed value.
	UpdateSession(ctx context.Context, session *models.Session) error
	// EndExpiredSessions conditionally terminates every active session
	// whose last activity predates cutoff. Idempotent: re-application
	// matches nothing.
	EndExpiredSessions(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// ListActiveSessions returns currently active sessions (admin read).
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)
	// CountSessions returns total and active session counts.
	CountSessions(ctx context.Context) (total int64, active int64, err error)
}

// ServiceStore reads service definitions; writes happen only at seed time
// and through the (out-of-scope) admin surface.
type ServiceStore interface {
	GetServiceByCode(ctx context.Context, code string) (*models.Service, error)
	SaveService(ctx context.Context, service *models.Service) error
}

// SubscriptionStore gates menu options that require an active subscription.
type SubscriptionStore interface {
	HasActiveSubscription(ctx context.Context, userID, serviceID uint) (bool, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
}

// LogStore appends interaction audit records.
type LogStore interface {
	CreateLog(ctx context.Context, entry *models.InteractionLog) error
	RecentLogs(ctx context.Context, limit int) ([]*models.InteractionLog, error)
	// LogStats returns interaction totals: count, errors and average
	// response time in milliseconds.
	LogStats(ctx context.Context) (total int64, errors int64, avgMs float64, err error)
}

// SurveyStore records survey answers collected by terminal actions.
type SurveyStore interface {
	CreateSurveyResponse(ctx context.Context, resp *models.SurveyResponse) error
}

// Store is the full persistence contract consumed by the engine and the
// admin read surface.
type Store interface {
	UserStore
	SessionStore
	ServiceStore
	SubscriptionStore
	LogStore
	SurveyStore
}
