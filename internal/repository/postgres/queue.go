package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// QueueRepo implements broadcast.QueueRepository against PostgreSQL.
type QueueRepo struct{ db *sql.DB }

// NewQueueRepo creates a Postgres-backed queue repository.
func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

const returningJob = `RETURNING j.id, j.queue_type, j.campaign_id, j.tenant_id, j.recipient_id,
	j.due_at, j.status, j.attempts, j.rate_limit_hits, COALESCE(j.last_error, ''),
	j.claimed_at, j.created_at, j.updated_at`

func (r *QueueRepo) EnqueueBatch(ctx context.Context, queue domain.QueueType, campaignID, tenantID string, recipients []string, dueAt time.Time) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	ids := make([]string, len(recipients))
	for i := range recipients {
		ids[i] = uuid.New().String()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_jobs
			(id, queue_type, campaign_id, tenant_id, recipient_id, due_at, status, created_at, updated_at)
		SELECT u.id, $1, $2, $3, u.recipient_id, $4, 'pending', NOW(), NOW()
		FROM UNNEST($5::text[], $6::text[]) AS u(id, recipient_id)
		WHERE NOT EXISTS (
			SELECT 1 FROM sent_records s
			WHERE s.campaign_id = $2 AND s.recipient_id = u.recipient_id
		)
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, string(queue), campaignID, tenantID, dueAt, pq.Array(ids), pq.Array(recipients))
	if err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *QueueRepo) DequeueDueBatch(ctx context.Context, queue domain.QueueType, limit int) ([]domain.QueueJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM queue_jobs
			WHERE queue_type = $1 AND status = 'pending' AND due_at <= NOW()
			ORDER BY due_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_jobs j
		SET status = 'processing', claimed_at = NOW(), updated_at = NOW()
		FROM due
		WHERE j.id = due.id
		`+returningJob, string(queue), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue due batch: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return out, nil
}

func (r *QueueRepo) BeginBatch(ctx context.Context) (broadcast.BatchTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &batchTx{tx: tx}, nil
}

func (r *QueueRepo) MarkErrorDetached(ctx context.Context, jobID, errText string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_jobs SET status = 'error', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, domain.TruncateError(errText))
	if err != nil {
		return fmt.Errorf("mark error detached: %w", err)
	}
	return nil
}

func (r *QueueRepo) ResetStuckJobs(ctx context.Context, queue domain.QueueType, olderThan time.Duration, maxAttempts int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'error' ELSE 'pending' END,
		    last_error = 'reclaimed after processing timeout',
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE queue_type = $1 AND status = 'processing'
		  AND claimed_at < NOW() - ($2 * INTERVAL '1 millisecond')
	`, string(queue), olderThan.Milliseconds(), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *QueueRepo) Stats(ctx context.Context, campaignID string) (domain.QueueStats, error) {
	var s domain.QueueStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'processing'),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'skipped'),
		       COUNT(*) FILTER (WHERE status = 'error')
		FROM queue_jobs
		WHERE campaign_id = $1
	`, campaignID).Scan(&s.Queued, &s.Processing, &s.Sent, &s.Skipped, &s.Error)
	if err != nil {
		return s, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (domain.QueueJob, error) {
	var (
		j         domain.QueueJob
		claimedAt sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.QueueType, &j.CampaignID, &j.TenantID, &j.RecipientID, &j.DueAt, &j.Status,
		&j.Attempts, &j.RateLimitHits, &j.LastError, &claimedAt, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return j, fmt.Errorf("scan job: %w", err)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		j.ClaimedAt = &t
	}
	return j, nil
}
