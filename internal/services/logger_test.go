package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// faultySink fails the first n writes, then behaves like the memory store.
type faultySink struct {
	*storage.MemoryStore
	mu    sync.Mutex
	fails int
	calls int
}

func (s *faultySink) CreateLog(ctx context.Context, entry *models.InteractionLog) error {
	s.mu.Lock()
	s.calls++
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("sink down")
	}
	return s.MemoryStore.CreateLog(ctx, entry)
}

func (s *faultySink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestInteractionLogger_WritesAsync(t *testing.T) {
	store := storage.NewMemoryStore()
	logger := NewInteractionLogger(store)

	logger.Record(&models.InteractionLog{SessionID: "s1", InputText: "1"})
	logger.Record(&models.InteractionLog{SessionID: "s1", InputText: "1*2"})
	logger.Close()

	logs, err := store.RecentLogs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestInteractionLogger_RetriesTransientFailure(t *testing.T) {
	sink := &faultySink{MemoryStore: storage.NewMemoryStore(), fails: 2}
	logger := NewInteractionLogger(sink, WithRetry(3, time.Millisecond))

	logger.Record(&models.InteractionLog{SessionID: "s1"})
	logger.Close()

	logs, err := sink.RecentLogs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1, "entry must survive transient sink failures")
	assert.GreaterOrEqual(t, sink.callCount(), 3)
}

func TestInteractionLogger_BuffersWhenSinkStaysDown(t *testing.T) {
	sink := &faultySink{MemoryStore: storage.NewMemoryStore(), fails: 3}
	logger := NewInteractionLogger(sink, WithRetry(3, time.Millisecond))

	logger.Record(&models.InteractionLog{SessionID: "s1"})

	require.Eventually(t, func() bool {
		return logger.Buffered() == 1
	}, time.Second, 5*time.Millisecond, "exhausted retries must park the entry")

	// The sink recovers; the next healthy write drains the buffer, and Close
	// flushes whatever is left.
	logger.Record(&models.InteractionLog{SessionID: "s2"})
	logger.Close()

	logs, err := sink.RecentLogs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Zero(t, logger.Buffered())
}

func TestInteractionLogger_CloseFlushesOverflow(t *testing.T) {
	sink := &faultySink{MemoryStore: storage.NewMemoryStore(), fails: 8}
	logger := NewInteractionLogger(sink, WithRetry(3, time.Millisecond))

	logger.Record(&models.InteractionLog{SessionID: "s1"})
	logger.Record(&models.InteractionLog{SessionID: "s2"})

	require.Eventually(t, func() bool {
		return logger.Buffered() == 2
	}, time.Second, 5*time.Millisecond)

	logger.Close()

	logs, err := sink.RecentLogs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2, "shutdown must flush buffered entries once the sink recovers")
}
