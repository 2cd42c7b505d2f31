package broadcast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/repository/memory"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

func newService(store *memory.Store) *broadcast.Service {
	log := logger.Nop()
	enq := broadcast.NewEnqueuer(store, store, store, store, log)
	return broadcast.NewService(store, store, enq, log)
}

func shot(id string, status domain.CampaignStatus) domain.Campaign {
	return domain.Campaign{
		ID:       id,
		TenantID: "tenant-1",
		Kind:     domain.KindShot,
		Status:   status,
		Audience: domain.AudienceAllStarted,
		Text:     "Hello",
	}
}

func TestEnqueue_IdempotentAndSkipsLedger(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignDraft))
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101", "102", "103", "101")
	store.PutSentRecord(domain.SentRecord{CampaignID: "c1", TenantID: "tenant-1", RecipientID: "102", Outcome: domain.OutcomeSent})

	svc := newService(store)
	ctx := context.Background()

	stats, err := svc.Enqueue(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{Candidates: 3, Inserted: 2, Duplicates: 1, AlreadyDelivered: 1}, stats)

	again, err := svc.Enqueue(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 3, again.Duplicates)

	jobs := store.Jobs("c1")
	require.Len(t, jobs, 2)
	assert.Equal(t, "101", jobs[0].RecipientID)
	assert.Equal(t, "103", jobs[1].RecipientID)
	assert.Equal(t, domain.QueueShots, jobs[0].QueueType)
}

func TestEnqueue_ChunksLargeAudience(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignDraft))
	var ids []string
	for i := 0; i < 23; i++ {
		ids = append(ids, string(rune('a'+i)))
	}
	store.SetAudience("tenant-1", domain.AudienceAllStarted, ids...)

	log := logger.Nop()
	enq := broadcast.NewEnqueuer(store, store, store, store, log).WithChunkSize(5)
	stats, err := enq.EnqueueRecipients(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 23, stats.Inserted)
	assert.Len(t, store.Jobs("c1"), 23)
}

func TestEnqueue_InactiveCampaign(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignCancelled))

	_, err := newService(store).Enqueue(context.Background(), "c1")
	assert.ErrorIs(t, err, broadcast.ErrCampaignInactive)
}

func TestEnqueue_UnknownCampaign(t *testing.T) {
	_, err := newService(memory.New()).Enqueue(context.Background(), "nope")
	assert.ErrorIs(t, err, broadcast.ErrNotFound)
}

func TestTrigger_Now(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignDraft))
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101", "102")

	res, err := newService(store).Trigger(context.Background(), "c1", broadcast.ModeNow, nil)
	require.NoError(t, err)
	assert.Equal(t, broadcast.ModeNow, res.Mode)
	require.NotNil(t, res.Stats)
	assert.Equal(t, 2, res.Stats.Inserted)

	c, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSending, c.Status)
	for _, j := range store.Jobs("c1") {
		assert.False(t, j.DueAt.After(time.Now()), "jobs are due immediately")
	}
}

func TestTrigger_Schedule(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignDraft))
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101")
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Trigger(ctx, "c1", broadcast.ModeSchedule, nil)
	assert.ErrorIs(t, err, broadcast.ErrMissingSchedule)

	at := time.Now().Add(2 * time.Hour)
	res, err := svc.Trigger(ctx, "c1", broadcast.ModeSchedule, &at)
	require.NoError(t, err)
	assert.Nil(t, res.Stats)
	assert.Empty(t, store.Jobs("c1"), "scheduled trigger does not enqueue")

	c, _ := store.Get(ctx, "c1")
	assert.Equal(t, domain.CampaignScheduled, c.Status)
	assert.True(t, c.ScheduledAt.Equal(at))
}

func TestTrigger_Rejections(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("done", domain.CampaignCompleted))
	store.PutCampaign(shot("gone", domain.CampaignInactive))
	store.PutCampaign(domain.Campaign{ID: "ds", TenantID: "tenant-1", Kind: domain.KindDownsell, Status: domain.CampaignActive})
	svc := newService(store)
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	_, err := svc.Trigger(ctx, "ds", broadcast.ModeNow, nil)
	assert.ErrorIs(t, err, broadcast.ErrWrongKind)

	_, err = svc.Trigger(ctx, "gone", broadcast.ModeNow, nil)
	assert.ErrorIs(t, err, broadcast.ErrCampaignInactive)

	_, err = svc.Trigger(ctx, "done", broadcast.ModeSchedule, &at)
	assert.ErrorIs(t, err, broadcast.ErrInvalidTransition)

	_, err = svc.Trigger(ctx, "done", broadcast.TriggerMode("later"), nil)
	assert.ErrorIs(t, err, broadcast.ErrInvalidMode)
}

func TestTriggerEvent_DelaysAndDedupes(t *testing.T) {
	store := memory.New()
	store.PutCampaign(domain.Campaign{
		ID: "ds1", TenantID: "tenant-1", Kind: domain.KindDownsell, Status: domain.CampaignActive,
		Trigger: domain.TriggerPixGenerated, DelayMinutes: 30, Text: "Still there?",
	})
	store.PutCampaign(domain.Campaign{
		ID: "ds2", TenantID: "tenant-1", Kind: domain.KindDownsell, Status: domain.CampaignActive,
		Trigger: domain.TriggerStart, DelayMinutes: 5,
	})
	svc := newService(store)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	stats, err := svc.TriggerEvent(ctx, "tenant-1", domain.TriggerPixGenerated, "555", at)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)

	stats, err = svc.TriggerEvent(ctx, "tenant-1", domain.TriggerPixGenerated, "555", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)

	jobs := store.Jobs("ds1")
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.QueueDownsells, jobs[0].QueueType)
	assert.True(t, jobs[0].DueAt.Equal(at.Add(30*time.Minute)))
	assert.Empty(t, store.Jobs("ds2"), "other trigger untouched")
}

func TestTriggerEvent_Validation(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	_, err := svc.TriggerEvent(ctx, "tenant-1", domain.TriggerEvent("refund"), "1", time.Now())
	assert.ErrorIs(t, err, broadcast.ErrInvalidEvent)

	_, err = svc.TriggerEvent(ctx, "tenant-1", domain.TriggerStart, "  ", time.Now())
	assert.ErrorIs(t, err, broadcast.ErrMissingRecipient)
}

func TestRunDueSchedules(t *testing.T) {
	store := memory.New()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := shot("due", domain.CampaignScheduled)
	due.ScheduledAt = &past
	later := shot("later", domain.CampaignScheduled)
	later.ScheduledAt = &future
	store.PutCampaign(due)
	store.PutCampaign(later)
	store.PutCampaign(shot("drained", domain.CampaignSending))
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101", "102")

	res, err := newService(store).RunDueSchedules(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 2, res.Stats.Inserted)
	assert.Equal(t, 1, res.Completed, "sending shot with no open jobs completes")

	c, _ := store.Get(context.Background(), "due")
	assert.Equal(t, domain.CampaignSending, c.Status)
	c, _ = store.Get(context.Background(), "later")
	assert.Equal(t, domain.CampaignScheduled, c.Status)
	c, _ = store.Get(context.Background(), "drained")
	assert.Equal(t, domain.CampaignCompleted, c.Status)
}

func TestStats(t *testing.T) {
	store := memory.New()
	store.PutCampaign(shot("c1", domain.CampaignDraft))
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101", "102")
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "c1")
	require.NoError(t, err)

	s, err := svc.Stats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Queued: 2}, s)

	_, err = svc.Stats(ctx, "missing")
	assert.True(t, errors.Is(err, broadcast.ErrNotFound))
}

func TestDueAtFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	at := now.Add(3 * time.Hour)

	ds := &domain.Campaign{Kind: domain.KindDownsell, DelayMinutes: 15}
	assert.Equal(t, now.Add(15*time.Minute), broadcast.DueAtFor(ds, now))

	sched := &domain.Campaign{Kind: domain.KindShot, Status: domain.CampaignScheduled, ScheduledAt: &at}
	assert.Equal(t, at, broadcast.DueAtFor(sched, now))

	assert.Equal(t, now, broadcast.DueAtFor(&domain.Campaign{Kind: domain.KindShot}, now))
}
