package upload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultSessionTTL     = time.Hour
	DefaultReaperInterval = 5 * time.Minute
)

// Reaper periodically evicts sessions idle for longer than the TTL.
// Idleness is measured from the last accepted chunk, so slow but active
// uploads are kept.
type Reaper struct {
	store    SessionStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper for store; zero durations fall back to the defaults
func NewReaper(store SessionStore, ttl, interval time.Duration) *Reaper {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return &Reaper{store: store, ttl: ttl, interval: interval, now: time.Now}
}

// Start launches the background sweep loop. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)

	log.Info().Dur("ttl", r.ttl).Dur("interval", r.interval).Msg("Started upload session reaper")
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Stopped upload session reaper")
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Upload session sweep failed")
			}
		}
	}
}

// Sweep evicts every expired session once and returns how many were removed
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.ttl)

	expired, err := r.store.DeleteExpired(ctx, cutoff)
	for _, id := range expired {
		log.Info().Str("upload_id", id).Msg("Cleaned up expired upload session")
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Cleaned up expired upload sessions")
	}
	return len(expired), err
}
