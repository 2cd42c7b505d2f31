package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/schedule"
)

// TriggerMode selects how a shot is released.
type TriggerMode string

const (
	ModeNow      TriggerMode = "now"
	ModeSchedule TriggerMode = "schedule"
)

// TriggerResult reports what a trigger call did. Stats is set only when the
// enqueue ran synchronously.
type TriggerResult struct {
	CampaignID string               `json:"campaign_id"`
	Mode       TriggerMode          `json:"mode"`
	DueAt      time.Time            `json:"due_at"`
	Stats      *domain.EnqueueStats `json:"stats,omitempty"`
}

// PromoteResult summarizes one scheduled-shot promoter run.
type PromoteResult struct {
	Promoted  int                 `json:"promoted"`
	Completed int                 `json:"completed"`
	Stats     domain.EnqueueStats `json:"stats"`
}

// Service implements the trigger operations on top of the Enqueuer.
// All public methods are safe for concurrent use if the underlying
// repositories are concurrency-safe.
type Service struct {
	campaigns CampaignRepository
	queue     QueueRepository
	enqueuer  *Enqueuer
	log       *logger.Logger

	now func() time.Time
}

// NewService creates a broadcast service.
func NewService(campaigns CampaignRepository, queue QueueRepository, enqueuer *Enqueuer, log *logger.Logger) *Service {
	return &Service{
		campaigns: campaigns,
		queue:     queue,
		enqueuer:  enqueuer,
		log:       log,
		now:       time.Now,
	}
}

// Enqueue resolves and enqueues a campaign's audience.
func (s *Service) Enqueue(ctx context.Context, campaignID string) (domain.EnqueueStats, error) {
	return s.enqueuer.EnqueueRecipients(ctx, campaignID)
}

// Trigger releases a shot. ModeNow moves it to sending and enqueues
// synchronously with jobs due immediately; ModeSchedule stores scheduledAt
// and leaves the enqueue to the promoter.
func (s *Service) Trigger(ctx context.Context, campaignID string, mode TriggerMode, scheduledAt *time.Time) (*TriggerResult, error) {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Kind != domain.KindShot {
		return nil, ErrWrongKind
	}
	if c.Status == domain.CampaignInactive || c.Status == domain.CampaignCancelled {
		return nil, ErrCampaignInactive
	}

	switch TriggerMode(strings.ToLower(string(mode))) {
	case ModeNow:
		if err := s.campaigns.UpdateStatus(ctx, c.ID, domain.CampaignSending); err != nil {
			return nil, fmt.Errorf("mark sending: %w", err)
		}
		stats, err := s.enqueuer.EnqueueRecipients(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return &TriggerResult{CampaignID: c.ID, Mode: ModeNow, DueAt: s.now(), Stats: &stats}, nil

	case ModeSchedule:
		if scheduledAt == nil || scheduledAt.IsZero() {
			return nil, ErrMissingSchedule
		}
		if err := s.campaigns.UpdateSchedule(ctx, c.ID, *scheduledAt); err != nil {
			return nil, err
		}
		s.log.Info("campaign scheduled", "campaign_id", c.ID, "scheduled_at", scheduledAt.UTC())
		return &TriggerResult{CampaignID: c.ID, Mode: ModeSchedule, DueAt: *scheduledAt}, nil

	default:
		return nil, ErrInvalidMode
	}
}

// TriggerEvent starts the countdown of every active downsell of the tenant
// listening for event, enqueueing the single recipient with
// dueAt = at + delay. Repeated events for the same pair are no-ops.
func (s *Service) TriggerEvent(ctx context.Context, tenantID string, event domain.TriggerEvent, recipientID string, at time.Time) (domain.EnqueueStats, error) {
	var total domain.EnqueueStats
	if !event.Valid() {
		return total, ErrInvalidEvent
	}
	if strings.TrimSpace(recipientID) == "" {
		return total, ErrMissingRecipient
	}
	if at.IsZero() {
		at = s.now()
	}

	ids, err := s.campaigns.ListTriggered(ctx, tenantID, event)
	if err != nil {
		return total, fmt.Errorf("list triggered campaigns: %w", err)
	}
	for _, id := range ids {
		c, err := s.campaigns.Get(ctx, id)
		if err != nil {
			return total, err
		}
		stats, err := s.enqueuer.enqueue(ctx, c, []string{recipientID}, schedule.ComputeDueAt(c.DelayMinutes, at))
		total.Add(stats)
		if err != nil {
			return total, err
		}
		s.log.Debug("downsell triggered",
			"campaign_id", c.ID,
			"recipient_id", recipientID,
			"event", string(event),
			"inserted", stats.Inserted,
		)
	}
	return total, nil
}

// Stats returns a campaign's job counts.
func (s *Service) Stats(ctx context.Context, campaignID string) (domain.QueueStats, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return domain.QueueStats{}, err
	}
	return s.queue.Stats(ctx, campaignID)
}

// RunDueSchedules enqueues scheduled shots whose time has come and moves
// them to sending, then completes sending shots with no open jobs. A failed
// enqueue leaves the campaign scheduled so the next run retries it.
func (s *Service) RunDueSchedules(ctx context.Context, now time.Time) (PromoteResult, error) {
	var res PromoteResult

	ids, err := s.campaigns.ListDueScheduled(ctx, now, 50)
	if err != nil {
		return res, fmt.Errorf("list due schedules: %w", err)
	}
	for _, id := range ids {
		stats, err := s.enqueuer.EnqueueRecipients(ctx, id)
		if err != nil {
			s.log.Error("scheduled enqueue failed", "campaign_id", id, "error", err)
			continue
		}
		if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignSending); err != nil {
			s.log.Error("mark sending failed", "campaign_id", id, "error", err)
			continue
		}
		res.Promoted++
		res.Stats.Add(stats)
	}

	n, err := s.campaigns.CompleteDrained(ctx)
	if err != nil {
		return res, fmt.Errorf("complete drained campaigns: %w", err)
	}
	res.Completed = n
	if res.Promoted > 0 || n > 0 {
		s.log.Info("schedules promoted", "promoted", res.Promoted, "completed", n, "inserted", res.Stats.Inserted)
	}
	return res, nil
}
