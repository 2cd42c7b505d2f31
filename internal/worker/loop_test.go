package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/distlock"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
	"github.com/ignite/broadcast-engine/internal/service/sending"
)

func seedShot(t *testing.T, h *harness, recipients ...string) {
	t.Helper()
	h.store.PutCampaign(domain.Campaign{
		ID:        "c1",
		TenantID:  "t1",
		Kind:      domain.KindShot,
		Status:    domain.CampaignSending,
		Audience:  domain.AudienceAllStarted,
		Text:      "Hello {{ first_name | default: 'friend' }}",
		ParseMode: "HTML",
	})
	h.store.SetAudience("t1", domain.AudienceAllStarted, recipients...)
}

func enqueue(t *testing.T, h *harness, campaignID string) domain.EnqueueStats {
	t.Helper()
	log := logger.Nop()
	stats, err := broadcast.NewEnqueuer(h.store, h.store, h.store, h.store, log).
		EnqueueRecipients(context.Background(), campaignID)
	require.NoError(t, err)
	return stats
}

func TestLoop_EndToEnd(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101", "102", "103")
	h.store.PutContact(domain.Contact{TenantID: "t1", RecipientID: "101", FirstName: "Ana"})
	h.store.PutSentRecord(domain.SentRecord{CampaignID: "c1", TenantID: "t1", RecipientID: "102", Outcome: domain.OutcomeSent})
	h.sender.failNext("103", &sending.ProviderError{Category: sending.CategoryBlocked, Code: 403, Description: "bot was blocked by the user"})

	stats := enqueue(t, h, "c1")
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.AlreadyDelivered)

	cycle, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, cycle.Acquired)
	assert.Equal(t, 2, cycle.Claimed)

	calls := h.sender.callsFor("101")
	require.Len(t, calls, 1)
	assert.Equal(t, "Hello Ana", calls[0].Text)
	assert.Empty(t, h.sender.callsFor("102"))

	assert.Equal(t, domain.JobSent, h.job(t, "c1", "101").Status)
	rec, ok := h.store.SentRecord("c1", "101")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSent, rec.Outcome)
	assert.NotEmpty(t, rec.MessageID)

	blocked := h.job(t, "c1", "103")
	assert.Equal(t, domain.JobSkipped, blocked.Status)
	assert.Equal(t, domain.SkipBlocked, blocked.LastError)
	rec, ok = h.store.SentRecord("c1", "103")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSkipped, rec.Outcome)
	assert.Equal(t, "contact_blocked", rec.SideEffect)
	contact, ok := h.store.Contact("t1", "103")
	require.True(t, ok)
	assert.True(t, contact.Blocked)

	qs, err := h.store.Stats(context.Background(), "c1")
	require.NoError(t, err)
	// 102 was delivered before the enqueue and never got a job, so the
	// queue counts only 103 as skipped.
	assert.Equal(t, domain.QueueStats{Sent: 1, Skipped: 1}, qs)

	// A re-run of the enqueue cannot resurrect any pair.
	again := enqueue(t, h, "c1")
	assert.Equal(t, 0, again.Inserted)
}

func TestLoop_RateLimitReschedulesThenBacksOff(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101")
	limited := func() error {
		return &sending.ProviderError{Category: sending.CategoryRateLimited, Code: 429, RetryAfter: 3 * time.Second, Description: "Too Many Requests"}
	}
	h.sender.failNext("101", limited(), limited())
	enqueue(t, h, "c1")

	before := time.Now()
	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	j := h.job(t, "c1", "101")
	assert.Equal(t, domain.JobPending, j.Status)
	assert.Equal(t, 0, j.Attempts, "first rate limit does not consume an attempt")
	assert.Equal(t, 1, j.RateLimitHits)
	assert.False(t, j.DueAt.Before(before.Add(3*time.Second)))
	assert.False(t, h.pacer.PausedUntil().Before(before.Add(3*time.Second)), "loop paused")

	later := time.Now().Add(10 * time.Second)
	h.store.SetClock(func() time.Time { return later })

	_, err = h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, h.slept, "second cycle waits out the pause")

	j = h.job(t, "c1", "101")
	assert.Equal(t, domain.JobPending, j.Status)
	assert.Equal(t, 1, j.Attempts, "second rate limit is a regular retry")
	assert.Equal(t, 1, j.RateLimitHits)
	assert.True(t, j.DueAt.Equal(later.Add(30*time.Second)))
	assert.Contains(t, j.LastError, "Too Many Requests")
	_, recorded := h.store.SentRecord("c1", "101")
	assert.False(t, recorded)
}

func TestLoop_RetriesExhaustWriteErrorLedger(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	h.loop.recorder.policy.MaxAttempts = 2
	seedShot(t, h, "101")
	h.sender.failNext("101", errors.New("connection reset"), errors.New("connection reset"))
	enqueue(t, h, "c1")

	now := time.Now()
	for i := 0; i < 2; i++ {
		h.store.SetClock(func() time.Time { return now })
		_, err := h.loop.RunCycle(context.Background())
		require.NoError(t, err)
		now = now.Add(2 * time.Hour)
	}

	j := h.job(t, "c1", "101")
	assert.Equal(t, domain.JobError, j.Status)
	assert.Equal(t, 2, j.Attempts)
	rec, ok := h.store.SentRecord("c1", "101")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeError, rec.Outcome)
}

func TestLoop_RecordFailureRollsBackBatch(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101", "102")
	enqueue(t, h, "c1")
	bad := h.job(t, "c1", "102")
	h.store.FailTransition[bad.ID] = errors.New("disk full")

	_, err := h.loop.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	ok := h.job(t, "c1", "101")
	assert.Equal(t, domain.JobProcessing, ok.Status, "rolled back, left for stuck recovery")
	_, recorded := h.store.SentRecord("c1", "101")
	assert.False(t, recorded)

	failedJob := h.job(t, "c1", "102")
	assert.Equal(t, domain.JobError, failedJob.Status)
	assert.Contains(t, failedJob.LastError, "disk full")
}

func TestLoop_RecoversStuckJobs(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101")
	enqueue(t, h, "c1")

	start := time.Now()
	h.store.SetClock(func() time.Time { return start })
	claimed, err := h.store.DequeueDueBatch(context.Background(), domain.QueueShots, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	h.store.SetClock(func() time.Time { return start.Add(31 * time.Minute) })
	cycle, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Reset)

	j := h.job(t, "c1", "101")
	assert.Equal(t, domain.JobSent, j.Status)
	assert.Equal(t, 1, j.Attempts)
}

func TestLoop_SkipsCycleWhenLockHeld(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101")
	enqueue(t, h, "c1")

	other := distlock.NewRedisLock(h.redis, distlock.QueueLockKey("test", "shots"), time.Minute)
	held, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	cycle, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, cycle.Acquired)
	assert.Equal(t, domain.JobPending, h.job(t, "c1", "101").Status)

	require.NoError(t, other.Release(context.Background()))
	cycle, err = h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, cycle.Acquired)
	assert.Equal(t, domain.JobSent, h.job(t, "c1", "101").Status)
}

func TestLoop_DrainsMultipleBatches(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	h.loop.cfg.BatchSize = 3
	h.loop.cfg.Concurrency = 2
	recipients := []string{"1", "2", "3", "4", "5", "6", "7"}
	seedShot(t, h, recipients...)
	enqueue(t, h, "c1")

	cycle, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, cycle.Claimed)
	assert.Equal(t, 3, cycle.Batches)

	qs, _ := h.store.Stats(context.Background(), "c1")
	assert.Equal(t, 7, qs.Sent)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	h.loop.cfg.PollInterval = 10 * time.Millisecond
	seedShot(t, h, "101")
	enqueue(t, h, "c1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, h.loop.Run(ctx))
	assert.Equal(t, domain.JobSent, h.job(t, "c1", "101").Status)
}

func TestLoop_RenewsLockDuringLongDrain(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101", "102", "103", "104")
	enqueue(t, h, "c1")

	rival := distlock.NewRedisLock(h.redis, distlock.QueueLockKey("test", "shots"), time.Minute)
	var taken int
	slow := dispatchFunc(func(ctx context.Context, job domain.QueueJob) Result {
		h.mr.FastForward(40 * time.Second)
		if ok, _ := rival.Acquire(ctx); ok {
			taken++
		}
		return h.disp.Dispatch(ctx, job)
	})
	cfg := h.loop.cfg
	cfg.BatchSize, cfg.Concurrency = 1, 1
	loop := NewLoop(cfg, h.store, slow, h.pacer, h.loop.lock, logger.Nop())

	cycle, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, cycle.Claimed)
	assert.Zero(t, taken, "lock stayed ours for the whole drain")
	assert.False(t, h.mr.Exists("lock:"+distlock.QueueLockKey("test", "shots")), "released at the end")

	qs, _ := h.store.Stats(context.Background(), "c1")
	assert.Equal(t, 4, qs.Sent)
}

func TestLoop_StopsWhenLockLost(t *testing.T) {
	h := newHarness(t, domain.QueueShots)
	seedShot(t, h, "101", "102", "103")
	enqueue(t, h, "c1")

	rival := distlock.NewRedisLock(h.redis, distlock.QueueLockKey("test", "shots"), time.Minute)
	stalled := dispatchFunc(func(ctx context.Context, job domain.QueueJob) Result {
		h.mr.FastForward(2 * time.Minute)
		ok, err := rival.Acquire(ctx)
		assert.NoError(t, err)
		assert.True(t, ok)
		return h.disp.Dispatch(ctx, job)
	})
	cfg := h.loop.cfg
	cfg.BatchSize, cfg.Concurrency = 1, 1
	loop := NewLoop(cfg, h.store, stalled, h.pacer, h.loop.lock, logger.Nop())

	cycle, err := loop.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, distlock.ErrNotHeld)
	assert.Equal(t, 1, cycle.Claimed)

	qs, _ := h.store.Stats(context.Background(), "c1")
	assert.Equal(t, 1, qs.Sent)
	assert.Equal(t, 2, qs.Queued, "the rest is left for the new holder")
	assert.NoError(t, rival.Release(context.Background()), "the new holder keeps the lock")
}
