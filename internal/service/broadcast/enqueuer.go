package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/broadcast-engine/internal/audience"
	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/metrics"
	"github.com/ignite/broadcast-engine/internal/schedule"
)

// DefaultEnqueueChunk bounds the rows sent in one insert statement.
const DefaultEnqueueChunk = 500

// Enqueuer resolves a campaign's audience and bulk-inserts its queue jobs.
// Re-running it for the same campaign is always safe: existing pairs and
// pairs with a SentRecord are never inserted twice.
type Enqueuer struct {
	campaigns CampaignRepository
	audience  AudienceResolver
	queue     QueueRepository
	ledger    LedgerRepository
	log       *logger.Logger

	chunkSize int
	now       func() time.Time
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(campaigns CampaignRepository, aud AudienceResolver, queue QueueRepository, ledger LedgerRepository, log *logger.Logger) *Enqueuer {
	return &Enqueuer{
		campaigns: campaigns,
		audience:  aud,
		queue:     queue,
		ledger:    ledger,
		log:       log,
		chunkSize: DefaultEnqueueChunk,
		now:       time.Now,
	}
}

// WithChunkSize overrides the insert chunk size.
func (e *Enqueuer) WithChunkSize(n int) *Enqueuer {
	if n > 0 {
		e.chunkSize = n
	}
	return e
}

// EnqueueRecipients loads the campaign, resolves its audience and inserts
// one job per new recipient. The returned stats are logged and exported.
func (e *Enqueuer) EnqueueRecipients(ctx context.Context, campaignID string) (domain.EnqueueStats, error) {
	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return domain.EnqueueStats{}, err
	}
	if c.Status == domain.CampaignInactive || c.Status == domain.CampaignCancelled {
		return domain.EnqueueStats{}, ErrCampaignInactive
	}

	now := e.now()
	var since *time.Time
	if c.AudienceWindowDays > 0 {
		t := now.AddDate(0, 0, -c.AudienceWindowDays)
		since = &t
	}

	recipients, err := e.audience.Resolve(ctx, c.TenantID, c.Audience, since)
	if err != nil {
		return domain.EnqueueStats{}, fmt.Errorf("resolve audience: %w", err)
	}
	recipients = audience.Distinct(recipients)

	stats, err := e.enqueue(ctx, c, recipients, DueAtFor(c, now))
	if err != nil {
		return stats, err
	}

	e.log.Info("campaign enqueued",
		"campaign_id", c.ID,
		"tenant_id", c.TenantID,
		"queue", string(c.QueueType()),
		"candidates", stats.Candidates,
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"already_delivered", stats.AlreadyDelivered,
	)
	return stats, nil
}

// enqueue inserts recipients in chunks. Recipients already in the ledger are
// filtered out first so they can be reported separately; the insert itself
// guards the same condition against races.
func (e *Enqueuer) enqueue(ctx context.Context, c *domain.Campaign, recipients []string, dueAt time.Time) (domain.EnqueueStats, error) {
	stats := domain.EnqueueStats{Candidates: len(recipients)}
	queue := c.QueueType()

	for start := 0; start < len(recipients); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		delivered, err := e.ledger.DeliveredAmong(ctx, c.ID, chunk)
		if err != nil {
			return stats, fmt.Errorf("check ledger: %w", err)
		}
		stats.AlreadyDelivered += len(delivered)
		chunk = without(chunk, delivered)
		if len(chunk) == 0 {
			continue
		}

		n, err := e.queue.EnqueueBatch(ctx, queue, c.ID, c.TenantID, chunk, dueAt)
		if err != nil {
			stats.Duplicates = stats.Candidates - stats.Inserted
			return stats, fmt.Errorf("enqueue batch: %w", err)
		}
		stats.Inserted += n
	}
	stats.Duplicates = stats.Candidates - stats.Inserted

	metrics.RecordEnqueue(string(queue), stats.Inserted, stats.Duplicates)
	return stats, nil
}

// DueAtFor returns when a campaign's freshly enqueued jobs become due:
// the stored time for scheduled shots, now + delay for downsells, now
// otherwise.
func DueAtFor(c *domain.Campaign, now time.Time) time.Time {
	switch {
	case c.Kind == domain.KindDownsell:
		return schedule.ComputeDueAt(c.DelayMinutes, now)
	case c.Status == domain.CampaignScheduled && c.ScheduledAt != nil:
		return *c.ScheduledAt
	default:
		return now
	}
}

func without(all, drop []string) []string {
	if len(drop) == 0 {
		return all
	}
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, r := range all {
		if _, ok := skip[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
