package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doyein2020/gats-ussd/internal/models"
)

// DatabaseStore persists everything in PostgreSQL through gorm. Session
// updates are conditional on the stored version so concurrent writers cannot
// clobber each other; the reaper's bulk end uses the same discipline.
type DatabaseStore struct {
	db *gorm.DB
}

var _ Store = (*DatabaseStore)(nil)

// NewDatabaseStore creates a database-backed store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// User operations

func (d *DatabaseStore) GetOrCreateUser(ctx context.Context, phoneNumber string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).
		Where(models.User{PhoneNumber: phoneNumber}).
		Attrs(models.User{IsActive: true}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	now := time.Now()
	if err := d.db.WithContext(ctx).Model(&user).Update("last_activity", now).Error; err != nil {
		return nil, fmt.Errorf("touch user: %w", err)
	}
	user.LastActivity = now
	return &user, nil
}

// Session operations

func (d *DatabaseStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := d.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

func (d *DatabaseStore) CreateSession(ctx context.Context, session *models.Session) error {
	err := d.db.WithContext(ctx).Create(session).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A racing create won; the caller loads the winner.
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (d *DatabaseStore) UpdateSession(ctx context.Context, session *models.Session) error {
	values := map[string]interface{}{
		"current_menu":  session.CurrentMenu,
		"session_data":  session.SessionData,
		"last_input":    session.LastInput,
		"last_response": session.LastResponse,
		"invalid_count": session.InvalidCount,
		"last_activity": session.LastActivity,
		"ended_at":      session.EndedAt,
		"end_reason":    session.EndReason,
		"is_active":     session.IsActive,
		"version":       session.Version + 1,
	}

	res := d.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND version = ?", session.SessionID, session.Version).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the row advanced under us or it vanished; distinguish so
		// the engine can replay duplicates.
		var count int64
		if err := d.db.WithContext(ctx).Model(&models.Session{}).
			Where("session_id = ?", session.SessionID).Count(&count).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if count == 0 {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}

	session.Version++
	return nil
}

func (d *DatabaseStore) EndExpiredSessions(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := time.Now()
	res := d.db.WithContext(ctx).Model(&models.Session{}).
		Where("is_active = ? AND last_activity < ?", true, cutoff).
		Updates(map[string]interface{}{
			"is_active":  false,
			"ended_at":   now,
			"end_reason": reason,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("end expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (d *DatabaseStore) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := d.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("started_at").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func (d *DatabaseStore) CountSessions(ctx context.Context) (int64, int64, error) {
	var total, active int64
	if err := d.db.WithContext(ctx).Model(&models.Session{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	if err := d.db.WithContext(ctx).Model(&models.Session{}).
		Where("is_active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, fmt.Errorf("count active sessions: %w", err)
	}
	return total, active, nil
}

// Service operations

func (d *DatabaseStore) GetServiceByCode(ctx context.Context, code string) (*models.Service, error) {
	var service models.Service
	err := d.db.WithContext(ctx).Where("code = ?", code).First(&service).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &service, nil
}

func (d *DatabaseStore) SaveService(ctx context.Context, service *models.Service) error {
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			UpdateAll: true,
		}).
		Create(service).Error
	if err != nil {
		return fmt.Errorf("save service: %w", err)
	}
	return nil
}

// Subscription operations

func (d *DatabaseStore) HasActiveSubscription(ctx context.Context, userID, serviceID uint) (bool, error) {
	var count int64
	now := time.Now()
	err := d.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND service_id = ? AND is_active = ?", userID, serviceID, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}

func (d *DatabaseStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := d.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// Log operations

func (d *DatabaseStore) CreateLog(ctx context.Context, entry *models.InteractionLog) error {
	if err := d.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	return nil
}

func (d *DatabaseStore) RecentLogs(ctx context.Context, limit int) ([]*models.InteractionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*models.InteractionLog
	err := d.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	return logs, nil
}

func (d *DatabaseStore) LogStats(ctx context.Context) (int64, int64, float64, error) {
	var total, errCount int64
	if err := d.db.WithContext(ctx).Model(&models.InteractionLog{}).Count(&total).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("count logs: %w", err)
	}
	if err := d.db.WithContext(ctx).Model(&models.InteractionLog{}).
		Where("is_error = ?", true).Count(&errCount).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("count error logs: %w", err)
	}

	var avg float64
	err := d.db.WithContext(ctx).Model(&models.InteractionLog{}).
		Select("COALESCE(AVG(response_time_ms), 0)").Scan(&avg).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("average response time: %w", err)
	}
	return total, errCount, avg, nil
}

// Survey operations

func (d *DatabaseStore) CreateSurveyResponse(ctx context.Context, resp *models.SurveyResponse) error {
	if err := d.db.WithContext(ctx).Create(resp).Error; err != nil {
		return fmt.Errorf("create survey response: %w", err)
	}
	return nil
}
