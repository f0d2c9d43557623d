package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/doyein2020/gats-ussd/internal/metrics"
	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// Reaper force-ends sessions idle past the inactivity threshold. The store's
// conditional update makes each sweep idempotent and safe under overlap with
// engine writes and other reaper runs.
type Reaper struct {
	store     storage.SessionStore
	interval  time.Duration
	threshold time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReaper creates a reaper sweeping every interval and ending sessions
// inactive longer than threshold.
func NewReaper(store storage.SessionStore, interval, threshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 180 * time.Second
	}
	return &Reaper{
		store:     store,
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (r *Reaper) Start() {
	log.Printf("Starting session reaper (interval %v, threshold %v)", r.interval, r.threshold)
	go r.loop()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			if _, err := r.RunOnce(ctx); err != nil {
				log.Printf("⚠️  session reaper sweep failed: %v", err)
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns how many sessions it ended.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.threshold)
	ended, err := r.store.EndExpiredSessions(ctx, cutoff, models.EndReasonTimeout)
	if err != nil {
		return 0, err
	}
	if ended > 0 {
		metrics.SessionsEnded.WithLabelValues(models.EndReasonTimeout).Add(float64(ended))
		log.Printf("Session reaper ended %d stale session(s)", ended)
	}
	return ended, nil
}
