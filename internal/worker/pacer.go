package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/metrics"
	"github.com/ignite/broadcast-engine/internal/ratelimit"
)

// Pacer spaces sub-batches to hold a loop near its target send rate and
// holds the whole loop back after the provider signals a rate limit. An
// optional Redis guard caps per-tenant throughput across processes.
type Pacer struct {
	queue domain.QueueType
	delay time.Duration
	guard *ratelimit.Limiter
	log   *logger.Logger

	mu         sync.Mutex
	pauseUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer that waits concurrency/ratePerSecond between
// sub-batches. A non-positive rate disables spacing; guard may be nil.
func NewPacer(queue domain.QueueType, concurrency int, ratePerSecond float64, guard *ratelimit.Limiter, log *logger.Logger) *Pacer {
	var delay time.Duration
	if ratePerSecond > 0 && concurrency > 0 {
		delay = time.Duration(float64(concurrency) / ratePerSecond * float64(time.Second))
	}
	return &Pacer{
		queue: queue,
		delay: delay,
		guard: guard,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Delay returns the spacing between sub-batches.
func (p *Pacer) Delay() time.Duration { return p.delay }

// Pause holds the loop for at least d. Overlapping pauses keep the later end.
func (p *Pacer) Pause(d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	until := p.now().Add(d)

	p.mu.Lock()
	extended := until.After(p.pauseUntil)
	if extended {
		p.pauseUntil = until
	}
	p.mu.Unlock()

	if extended {
		metrics.RateLimitPauses.WithLabelValues(string(p.queue)).Inc()
		p.log.Warn("rate limited, pausing dispatch", "queue", string(p.queue), "pause", d)
	}
}

// PausedUntil returns the end of the current pause, zero if none was set.
func (p *Pacer) PausedUntil() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseUntil
}

// Wait blocks until any pause has elapsed.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	until := p.pauseUntil
	p.mu.Unlock()
	if d := until.Sub(p.now()); d > 0 {
		return p.sleep(ctx, d)
	}
	return ctx.Err()
}

// Between sleeps the inter-sub-batch spacing.
func (p *Pacer) Between(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, p.delay)
}

// Reserve takes one per-tenant slot from the shared guard for each job
// about to be sent, sleeping while a tenant's window is full. Guard errors
// are logged and the sub-batch proceeds.
func (p *Pacer) Reserve(ctx context.Context, jobs []domain.QueueJob) error {
	if p.guard == nil {
		return nil
	}
	for _, j := range jobs {
		for {
			allowed, wait, err := p.guard.CheckAndIncrement(ctx, "tenant:"+j.TenantID, 1)
			if err != nil {
				p.log.Warn("tenant rate guard unavailable", "tenant_id", j.TenantID, "error", err)
				return nil
			}
			if allowed {
				break
			}
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
