package broadcast

import (
	"context"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// CampaignRepository is the data access contract for campaign definitions.
// Implementations must be safe for concurrent use.
type CampaignRepository interface {
	// Get returns a campaign with its plans and variants. Returns ErrNotFound
	// if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// Status returns only the campaign's current status. Returns ErrNotFound
	// if it doesn't exist.
	Status(ctx context.Context, id string) (domain.CampaignStatus, error)

	// ListDueScheduled returns ids of scheduled shots whose time has come.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ListTriggered returns ids of active downsells listening for event.
	ListTriggered(ctx context.Context, tenantID string, event domain.TriggerEvent) ([]string, error)

	// UpdateSchedule sets scheduled_at and moves a shot to scheduled.
	// Returns ErrInvalidTransition for finished or cancelled campaigns.
	UpdateSchedule(ctx context.Context, id string, at time.Time) error

	// UpdateStatus sets the campaign status.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// CompleteDrained marks sending shots with no open jobs as completed and
	// returns how many changed.
	CompleteDrained(ctx context.Context) (int, error)
}

// AudienceResolver resolves the deduplicated recipients of an audience rule.
// since limits history; nil means no limit.
type AudienceResolver interface {
	Resolve(ctx context.Context, tenantID string, rule domain.AudienceRule, since *time.Time) ([]string, error)
}

// QueueRepository is the durable job store.
type QueueRepository interface {
	// EnqueueBatch inserts one pending job per recipient, ignoring pairs that
	// already exist or already have a SentRecord. Returns rows inserted.
	EnqueueBatch(ctx context.Context, queue domain.QueueType, campaignID, tenantID string, recipients []string, dueAt time.Time) (int, error)

	// DequeueDueBatch atomically claims up to limit due pending jobs,
	// skipping rows locked by concurrent dequeuers.
	DequeueDueBatch(ctx context.Context, queue domain.QueueType, limit int) ([]domain.QueueJob, error)

	// BeginBatch opens the transaction that applies one batch's outcomes.
	BeginBatch(ctx context.Context) (BatchTx, error)

	// MarkErrorDetached marks a job as error outside any batch transaction,
	// for use after that transaction rolled back.
	MarkErrorDetached(ctx context.Context, jobID, errText string) error

	// ResetStuckJobs returns jobs processing for longer than olderThan to
	// pending with an incremented attempt count, or to error once the count
	// reaches maxAttempts.
	ResetStuckJobs(ctx context.Context, queue domain.QueueType, olderThan time.Duration, maxAttempts int) (int, error)

	// Stats counts a campaign's jobs by status.
	Stats(ctx context.Context, campaignID string) (domain.QueueStats, error)
}

// BatchTx applies job transitions and ledger writes atomically. All
// transitions return ErrJobNotClaimed if the job left processing meanwhile.
type BatchTx interface {
	MarkSent(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID, reason string) error

	// MarkErrorAndMaybeRetry increments attempts and either returns the job
	// to pending at now+backoff or, at maxAttempts, makes the error final.
	// retrying reports which happened.
	MarkErrorAndMaybeRetry(ctx context.Context, jobID, errText string, backoff time.Duration, maxAttempts int) (retrying bool, err error)

	// MarkFailed makes the error final immediately.
	MarkFailed(ctx context.Context, jobID, errText string) error

	// Reschedule returns the job to pending at dueAt without consuming an
	// attempt, counting a rate-limit hit instead.
	Reschedule(ctx context.Context, jobID string, dueAt time.Time, errText string) error

	// RecordOutcome appends to the sent ledger; inserted is false if the pair
	// was already recorded.
	RecordOutcome(ctx context.Context, rec domain.SentRecord) (inserted bool, err error)

	Commit() error
	Rollback() error
}

// LedgerRepository answers idempotency and cap questions from the sent ledger.
type LedgerRepository interface {
	HasSentRecord(ctx context.Context, campaignID, recipientID string) (bool, error)
	DeliveredAmong(ctx context.Context, campaignID string, recipients []string) ([]string, error)
	HasConfirmedPayment(ctx context.Context, tenantID, recipientID string) (bool, error)
	CountSentSince(ctx context.Context, tenantID, recipientID string, since time.Time) (int, error)
}

// ContactRepository is the contact ledger.
type ContactRepository interface {
	MarkBlocked(ctx context.Context, tenantID, recipientID string) error
	MarkDeactivated(ctx context.Context, tenantID, recipientID string) error
	IsExcluded(ctx context.Context, tenantID, recipientID string) (bool, error)

	// Get returns ErrContactNotFound when the recipient has no contact row.
	Get(ctx context.Context, tenantID, recipientID string) (*domain.Contact, error)
}
