package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/metrics"
	"github.com/ignite/broadcast-engine/internal/schedule"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// minRateLimitDelay is the floor for a rate-limit reschedule.
const minRateLimitDelay = time.Second

// Recorder turns dispatch results into job transitions and ledger entries
// inside a batch transaction.
type Recorder struct {
	queue  domain.QueueType
	policy schedule.BackoffPolicy
	log    *logger.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder for one queue.
func NewRecorder(queue domain.QueueType, policy schedule.BackoffPolicy, log *logger.Logger) *Recorder {
	return &Recorder{queue: queue, policy: policy, log: log, now: time.Now}
}

// Apply records one result. A job that left processing meanwhile is logged
// and ignored; any other failure aborts the batch.
func (r *Recorder) Apply(ctx context.Context, tx broadcast.BatchTx, res Result) error {
	err := r.apply(ctx, tx, res)
	if errors.Is(err, broadcast.ErrJobNotClaimed) {
		r.log.Warn("job no longer claimed, outcome dropped",
			"job_id", res.Job.ID,
			"campaign_id", res.Job.CampaignID,
			"outcome", res.Kind.String(),
		)
		return nil
	}
	return err
}

func (r *Recorder) apply(ctx context.Context, tx broadcast.BatchTx, res Result) error {
	job := res.Job
	fields := []interface{}{
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"recipient_id", job.RecipientID,
		"attempt", job.Attempts + 1,
	}
	queue := string(r.queue)

	switch res.Kind {
	case ResultSent:
		if err := tx.MarkSent(ctx, job.ID); err != nil {
			return err
		}
		if err := r.record(ctx, tx, job, domain.OutcomeSent, "", res.MessageID, res.SideEffect); err != nil {
			return err
		}
		metrics.RecordOutcome(queue, "sent")
		r.log.Info("job sent", append(fields, "message_id", res.MessageID, "variant", res.Variant)...)

	case ResultSkip:
		if err := tx.MarkSkipped(ctx, job.ID, res.Reason); err != nil {
			return err
		}
		if err := r.record(ctx, tx, job, domain.OutcomeSkipped, res.Reason, "", res.SideEffect); err != nil {
			return err
		}
		metrics.RecordSkip(queue, res.Reason)
		r.log.Info("job skipped", append(fields, "reason", res.Reason)...)

	case ResultRateLimited:
		if job.RateLimitHits > 0 {
			return r.retry(ctx, tx, res, fields)
		}
		wait := res.RetryAfter
		if wait < minRateLimitDelay {
			wait = minRateLimitDelay
		}
		if err := tx.Reschedule(ctx, job.ID, r.now().Add(wait), res.errText()); err != nil {
			return err
		}
		metrics.RecordOutcome(queue, "rate_limited")
		r.log.Warn("job rate limited, rescheduled", append(fields, "retry_after", wait)...)

	case ResultRetry:
		return r.retry(ctx, tx, res, fields)

	case ResultFailed:
		if err := tx.MarkFailed(ctx, job.ID, res.errText()); err != nil {
			return err
		}
		if err := r.record(ctx, tx, job, domain.OutcomeError, res.errText(), "", ""); err != nil {
			return err
		}
		metrics.RecordOutcome(queue, "failed")
		r.log.Error("job failed", append(fields, "error", res.Err)...)

	default:
		return fmt.Errorf("unknown result kind %d for job %s", res.Kind, job.ID)
	}
	return nil
}

func (r *Recorder) retry(ctx context.Context, tx broadcast.BatchTx, res Result, fields []interface{}) error {
	job := res.Job
	backoff := r.policy.Backoff(job.Attempts + 1)
	retrying, err := tx.MarkErrorAndMaybeRetry(ctx, job.ID, res.errText(), backoff, r.policy.MaxAttempts)
	if err != nil {
		return err
	}
	if retrying {
		metrics.RecordOutcome(string(r.queue), "retry")
		r.log.Warn("job failed, will retry", append(fields, "backoff", backoff, "error", res.Err)...)
		return nil
	}
	if err := r.record(ctx, tx, job, domain.OutcomeError, res.errText(), "", ""); err != nil {
		return err
	}
	metrics.RecordOutcome(string(r.queue), "failed")
	r.log.Error("job failed, attempts exhausted", append(fields, "error", res.Err)...)
	return nil
}

func (r *Recorder) record(ctx context.Context, tx broadcast.BatchTx, job domain.QueueJob, outcome domain.OutcomeKind, reason, messageID, sideEffect string) error {
	inserted, err := tx.RecordOutcome(ctx, domain.SentRecord{
		CampaignID:  job.CampaignID,
		TenantID:    job.TenantID,
		RecipientID: job.RecipientID,
		Outcome:     outcome,
		Reason:      reason,
		MessageID:   messageID,
		SideEffect:  sideEffect,
		RecordedAt:  r.now(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		r.log.Debug("ledger entry already present", "campaign_id", job.CampaignID, "recipient_id", job.RecipientID)
	}
	return nil
}
