package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/doyein2020/gats-ussd/internal/metrics"
	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// InteractionLogger writes audit entries off the request path. Record never
// blocks: entries go through a buffered channel to a single worker that
// retries failed writes with bounded backoff, then parks survivors in an
// overflow buffer instead of surfacing the failure.
type InteractionLogger struct {
	store storage.LogStore

	ch   chan *models.InteractionLog
	done chan struct{}
	wg   sync.WaitGroup

	maxAttempts int
	baseBackoff time.Duration
	timeout     time.Duration

	mu          sync.Mutex
	overflow    []*models.InteractionLog
	overflowCap int
}

// LoggerOption configures an InteractionLogger.
type LoggerOption func(*InteractionLogger)

// WithRetry overrides the write retry policy.
func WithRetry(attempts int, backoff time.Duration) LoggerOption {
	return func(l *InteractionLogger) {
		l.maxAttempts = attempts
		l.baseBackoff = backoff
	}
}

// WithWriteTimeout bounds each individual store write.
func WithWriteTimeout(d time.Duration) LoggerOption {
	return func(l *InteractionLogger) { l.timeout = d }
}

// NewInteractionLogger creates the logger and starts its worker.
func NewInteractionLogger(store storage.LogStore, opts ...LoggerOption) *InteractionLogger {
	l := &InteractionLogger{
		store:       store,
		ch:          make(chan *models.InteractionLog, 256),
		done:        make(chan struct{}),
		maxAttempts: 3,
		baseBackoff: 100 * time.Millisecond,
		timeout:     2 * time.Second,
		overflowCap: 1024,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.worker()
	return l
}

// Record enqueues an entry. Fire-and-forget: a full queue spills into the
// overflow buffer rather than blocking the caller.
func (l *InteractionLogger) Record(entry *models.InteractionLog) {
	select {
	case l.ch <- entry:
	default:
		l.stash(entry)
	}
}

// Close stops the worker, draining queued and buffered entries with one
// final best-effort pass.
func (l *InteractionLogger) Close() {
	close(l.done)
	l.wg.Wait()
}

// Buffered reports how many entries sit in the overflow buffer.
func (l *InteractionLogger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.overflow)
}

func (l *InteractionLogger) worker() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.ch:
			l.write(entry)
			l.drainOverflowOne()
		case <-l.done:
			// Final drain before shutdown.
			for {
				select {
				case entry := <-l.ch:
					l.write(entry)
				default:
					l.flushOverflow()
					return
				}
			}
		}
	}
}

func (l *InteractionLogger) write(entry *models.InteractionLog) {
	backoff := l.baseBackoff
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.store.CreateLog(ctx, entry)
		cancel()
		if err == nil {
			return
		}

		if attempt == l.maxAttempts {
			log.Printf("interaction log write failed after %d attempts, buffering: %v", attempt, err)
			l.stash(entry)
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

// stash parks an entry in the bounded overflow buffer, dropping the oldest
// when full.
func (l *InteractionLogger) stash(entry *models.InteractionLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.overflow) >= l.overflowCap {
		l.overflow = l.overflow[1:]
		metrics.LogEntriesDropped.Inc()
	}
	l.overflow = append(l.overflow, entry)
}

// drainOverflowOne opportunistically retries one buffered entry while the
// sink is healthy.
func (l *InteractionLogger) drainOverflowOne() {
	l.mu.Lock()
	if len(l.overflow) == 0 {
		l.mu.Unlock()
		return
	}
	entry := l.overflow[0]
	l.overflow = l.overflow[1:]
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	err := l.store.CreateLog(ctx, entry)
	cancel()
	if err != nil {
		l.stash(entry)
	}
}

func (l *InteractionLogger) flushOverflow() {
	l.mu.Lock()
	pending := l.overflow
	l.overflow = nil
	l.mu.Unlock()

	for _, entry := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.store.CreateLog(ctx, entry)
		cancel()
		if err != nil {
			metrics.LogEntriesDropped.Inc()
		}
	}
}
