package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/doyein2020/gats-ussd/internal/models"
)

// RedisSessionStore keeps hot session state in Redis: one JSON value per
// session plus a ZSET index scored by last-activity, which gives the reaper a
// cheap stale-session scan. Optimistic updates ride on WATCH/MULTI so a
// losing concurrent writer observes a conflict instead of overwriting.
type RedisSessionStore struct {
	client    *backend.Client
	prefix    string
	retention time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisOption configures a RedisSessionStore.
type RedisOption func(*RedisSessionStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSessionStore) { s.prefix = prefix }
}

// WithRetention sets how long ended/idle session values linger before Redis
// expires them. Zero keeps them forever.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisSessionStore) { s.retention = d }
}

// NewRedisSessionStore creates a session store on an existing client.
func NewRedisSessionStore(client *backend.Client, opts ...RedisOption) *RedisSessionStore {
	store := &RedisSessionStore{
		client:    client,
		prefix:    "ussd:session:",
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisSessionStore) key(sessionID string) string { return s.prefix + sessionID }
func (s *RedisSessionStore) indexKey() string            { return s.prefix + "index" }
func (s *RedisSessionStore) totalKey() string            { return s.prefix + "total" }

func (s *RedisSessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, session *models.Session) error {
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
	session.CreatedAt = now
	session.UpdatedAt = now

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(session.SessionID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrDuplicateSession
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(session.LastActivity.Unix()),
		Member: session.SessionID,
	})
	pipe.Incr(ctx, s.totalKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisSessionStore) UpdateSession(ctx context.Context, session *models.Session) error {
	key := s.key(session.SessionID)

	txf := func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, backend.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var stored models.Session
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return fmt.Errorf("decode session %s: %w", session.SessionID, err)
		}
		if stored.Version != session.Version {
			return ErrVersionConflict
		}

		next := session.Clone()
		next.Version++
		next.UpdatedAt = time.Now()
		if next.LastActivity.Before(stored.LastActivity) {
			next.LastActivity = stored.LastActivity
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.retention)
			if next.IsActive {
				pipe.ZAdd(ctx, s.indexKey(), backend.Z{
					Score:  float64(next.LastActivity.Unix()),
					Member: next.SessionID,
				})
			} else {
				pipe.ZRem(ctx, s.indexKey(), next.SessionID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		*session = *next
		return nil
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, backend.TxFailedErr) {
		// Key changed between read and commit.
		return ErrVersionConflict
	}
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrVersionConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisSessionStore) EndExpiredSessions(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var ended int64
	now := time.Now()
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// Value expired out from under the index.
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return ended, err
		}

		// Re-check the predicate against the loaded value; the index score
		// may lag a concurrent engine write.
		if !session.IsActive || !session.LastActivity.Before(cutoff) {
			continue
		}

		session.End(now, reason)
		err = s.UpdateSession(ctx, session)
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSessionNotFound) {
			// An engine write beat us; the session is not stale anymore.
			continue
		}
		if err != nil {
			return ended, err
		}
		ended++
	}
	return ended, nil
}

func (s *RedisSessionStore) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.IsActive {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (s *RedisSessionStore) CountSessions(ctx context.Context) (int64, int64, error) {
	total, err := s.client.Get(ctx, s.totalKey()).Int64()
	if err != nil && !errors.Is(err, backend.Nil) {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	active, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return total, active, nil
}
