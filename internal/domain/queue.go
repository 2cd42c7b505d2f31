package domain

import "time"

// QueueType identifies an independent worker loop.
type QueueType string

const (
	QueueShots     QueueType = "shots"
	QueueDownsells QueueType = "downsells"
)

// JobStatus enumerates the lifecycle of a single queue job.
//
//	pending → processing → sent | skipped | error
//
// error may return to pending for a retry until the attempt ceiling is reached.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSent       JobStatus = "sent"
	JobSkipped    JobStatus = "skipped"
	JobError      JobStatus = "error"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobSent || s == JobSkipped || s == JobError
}

// QueueJob is one row per (campaign, recipient) pair.
type QueueJob struct {
	ID            string     `json:"id" db:"id"`
	QueueType     QueueType  `json:"queue_type" db:"queue_type"`
	CampaignID    string     `json:"campaign_id" db:"campaign_id"`
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	RecipientID   string     `json:"recipient_id" db:"recipient_id"`
	DueAt         time.Time  `json:"due_at" db:"due_at"`
	Status        JobStatus  `json:"status" db:"status"`
	Attempts      int        `json:"attempts" db:"attempts"`
	RateLimitHits int        `json:"rate_limit_hits" db:"rate_limit_hits"`
	LastError     string     `json:"last_error,omitempty" db:"last_error"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// OutcomeKind is the terminal result recorded in the sent ledger.
type OutcomeKind string

const (
	OutcomeSent    OutcomeKind = "sent"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeError   OutcomeKind = "error"
)

// SentRecord is the append-only idempotency ledger entry for a
// (campaign, recipient) pair.
type SentRecord struct {
	CampaignID  string      `json:"campaign_id" db:"campaign_id"`
	TenantID    string      `json:"tenant_id" db:"tenant_id"`
	RecipientID string      `json:"recipient_id" db:"recipient_id"`
	Outcome     OutcomeKind `json:"outcome" db:"outcome"`
	Reason      string      `json:"reason,omitempty" db:"reason"`
	MessageID   string      `json:"message_id,omitempty" db:"message_id"`
	SideEffect  string      `json:"side_effect_ref,omitempty" db:"side_effect_ref"`
	RecordedAt  time.Time   `json:"recorded_at" db:"recorded_at"`
}

// Skip reason codes. Every skip is permanent and logged at info level.
const (
	SkipAlreadySent    = "already_sent"
	SkipAlreadyPaid    = "already_paid"
	SkipInactive       = "inactive_campaign"
	SkipOutsideWindow  = "outside_window"
	SkipDailyCap       = "daily_cap_reached"
	SkipMissingContent = "missing_content"
	SkipMissingPrice   = "missing_price"
	SkipPlanInactive   = "plan_inactive"
	SkipExcluded       = "recipient_excluded"
	SkipBlocked        = "blocked"
	SkipDeactivated    = "deactivated"
)

// EnqueueStats is the primary observability signal of an enqueue run.
// Duplicates is always Candidates - Inserted; AlreadyDelivered is the part of
// Duplicates explained by an existing SentRecord.
type EnqueueStats struct {
	Candidates       int `json:"candidates"`
	Inserted         int `json:"inserted"`
	Duplicates       int `json:"duplicates"`
	AlreadyDelivered int `json:"already_delivered"`
}

// Add accumulates another run into s.
func (s *EnqueueStats) Add(o EnqueueStats) {
	s.Candidates += o.Candidates
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.AlreadyDelivered += o.AlreadyDelivered
}

// QueueStats are the per-campaign counts surfaced to operators.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Error      int `json:"error"`
}

// MaxLastErrorLen bounds the provider error text kept on a job.
const MaxLastErrorLen = 500

// TruncateError cuts s to MaxLastErrorLen characters.
func TruncateError(s string) string {
	r := []rune(s)
	if len(r) <= MaxLastErrorLen {
		return s
	}
	return string(r[:MaxLastErrorLen])
}
