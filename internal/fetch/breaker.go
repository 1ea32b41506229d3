package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
)

// Breaker trips after a run of consecutive upstream failures and holds all
// page fetches until a cooldown elapses. Repeated trips without an
// intervening success double the cooldown up to a cap.
type Breaker struct {
	metrics     *metrics.Metrics
	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration

	mu        sync.Mutex
	failures  int
	trips     int
	openUntil time.Time
}

func NewBreaker(m *metrics.Metrics, threshold int, cooldown, maxCooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &Breaker{
		metrics:     m,
		threshold:   threshold,
		cooldown:    cooldown,
		maxCooldown: maxCooldown,
	}
}

// Wait blocks while the breaker is open.
func (b *Breaker) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		wait := time.Until(b.openUntil)
		b.mu.Unlock()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().Before(b.openUntil)
}

func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trips = 0
}

func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures < b.threshold {
		return
	}
	b.failures = 0

	d := b.cooldown
	for i := 0; i < b.trips && d < b.maxCooldown; i++ {
		d *= 2
	}
	if d > b.maxCooldown {
		d = b.maxCooldown
	}
	b.trips++
	b.openUntil = time.Now().Add(d)

	b.metrics.BreakerOpens.Inc()
	slog.Warn("circuit breaker open", "cooldown", d, "trips", b.trips)
}
