package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// batchTx applies one dispatch batch's outcomes inside a single transaction.
// Every transition is guarded on status = 'processing' so a job reclaimed by
// the stuck sweep is never overwritten by a late worker.
type batchTx struct{ tx *sql.Tx }

func (b *batchTx) transition(ctx context.Context, op, q string, args ...interface{}) error {
	res, err := b.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return broadcast.ErrJobNotClaimed
	}
	return nil
}

func (b *batchTx) MarkSent(ctx context.Context, jobID string) error {
	return b.transition(ctx, "mark sent", `
		UPDATE queue_jobs SET status = 'sent', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID)
}

func (b *batchTx) MarkSkipped(ctx context.Context, jobID, reason string) error {
	return b.transition(ctx, "mark skipped", `
		UPDATE queue_jobs SET status = 'skipped', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, reason)
}

func (b *batchTx) MarkErrorAndMaybeRetry(ctx context.Context, jobID, errText string, backoff time.Duration, maxAttempts int) (bool, error) {
	var status string
	err := b.tx.QueryRowContext(ctx, `
		UPDATE queue_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $4 THEN 'error' ELSE 'pending' END,
		    due_at = NOW() + ($3 * INTERVAL '1 millisecond'),
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING status
	`, jobID, domain.TruncateError(errText), backoff.Milliseconds(), maxAttempts).Scan(&status)
	if err == sql.ErrNoRows {
		return false, broadcast.ErrJobNotClaimed
	}
	if err != nil {
		return false, fmt.Errorf("mark error: %w", err)
	}
	return status == string(domain.JobPending), nil
}

func (b *batchTx) MarkFailed(ctx context.Context, jobID, errText string) error {
	return b.transition(ctx, "mark failed", `
		UPDATE queue_jobs SET status = 'error', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, domain.TruncateError(errText))
}

func (b *batchTx) Reschedule(ctx context.Context, jobID string, dueAt time.Time, errText string) error {
	return b.transition(ctx, "reschedule", `
		UPDATE queue_jobs
		SET status = 'pending', due_at = $2, rate_limit_hits = rate_limit_hits + 1,
		    last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, dueAt, domain.TruncateError(errText))
}

func (b *batchTx) RecordOutcome(ctx context.Context, rec domain.SentRecord) (bool, error) {
	res, err := b.tx.ExecContext(ctx, `
		INSERT INTO sent_records
			(campaign_id, tenant_id, recipient_id, outcome, reason, message_id, side_effect_ref, recorded_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NOW())
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, rec.CampaignID, rec.TenantID, rec.RecipientID, string(rec.Outcome),
		rec.Reason, rec.MessageID, rec.SideEffect)
	if err != nil {
		return false, fmt.Errorf("record outcome: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *batchTx) Commit() error   { return b.tx.Commit() }
func (b *batchTx) Rollback() error { return b.tx.Rollback() }
