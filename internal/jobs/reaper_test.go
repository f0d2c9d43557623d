package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

func seedSession(t *testing.T, store *storage.MemoryStore, id string, lastActivity time.Time) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &models.Session{
		SessionID:    id,
		UserID:       1,
		ServiceCode:  "*123#",
		CurrentMenu:  "main",
		IsActive:     true,
		LastActivity: lastActivity,
	}))
}

func TestReaper_EndsOnlyStaleSessions(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSession(t, store, "stale", time.Now().Add(-5*time.Minute))
	seedSession(t, store, "fresh", time.Now())

	reaper := NewReaper(store, time.Minute, 3*time.Minute)
	ended, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, ended)

	stale, err := store.GetSession(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
	assert.Equal(t, models.EndReasonTimeout, stale.EndReason)
	require.NotNil(t, stale.EndedAt)

	fresh, err := store.GetSession(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, fresh.IsActive)
	assert.Nil(t, fresh.EndedAt)
}

func TestReaper_SweepIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSession(t, store, "stale", time.Now().Add(-5*time.Minute))

	reaper := NewReaper(store, time.Minute, 3*time.Minute)

	ended, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, ended)

	ended, err = reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ended, "already-ended sessions must not be reaped twice")
}

func TestReaper_StartStop(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSession(t, store, "stale", time.Now().Add(-time.Second))

	reaper := NewReaper(store, 10*time.Millisecond, 500*time.Millisecond)
	reaper.Start()

	require.Eventually(t, func() bool {
		session, err := store.GetSession(context.Background(), "stale")
		return err == nil && !session.IsActive
	}, time.Second, 10*time.Millisecond)

	reaper.Stop()
	// Stop is safe to call again.
	reaper.Stop()
}
