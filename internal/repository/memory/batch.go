package memory

import (
	"context"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// batchTx buffers writes and applies them on Commit, so a rollback leaves
// the store untouched.
type batchTx struct {
	s       *Store
	ops     []func()
	records []string // ledger keys written by this tx
	done    bool
}

// BeginBatch opens a buffered transaction.
func (s *Store) BeginBatch(_ context.Context) (broadcast.BatchTx, error) {
	return &batchTx{s: s}, nil
}

// claimed checks the job is still processing and consumes any injected
// failure for it. Callers must hold s.mu.
func (t *batchTx) claimed(jobID string) (*domain.QueueJob, error) {
	if t.done {
		return nil, errTxDone
	}
	if err, ok := t.s.FailTransition[jobID]; ok {
		delete(t.s.FailTransition, jobID)
		return nil, err
	}
	j, ok := t.s.jobs[jobID]
	if !ok || j.Status != domain.JobProcessing {
		return nil, broadcast.ErrJobNotClaimed
	}
	return j, nil
}

func (t *batchTx) transition(jobID string, apply func(j *domain.QueueJob, now time.Time)) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	j, err := t.claimed(jobID)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, func() {
		now := t.s.now()
		apply(j, now)
		j.ClaimedAt = nil
		j.UpdatedAt = now
	})
	return nil
}

func (t *batchTx) MarkSent(_ context.Context, jobID string) error {
	return t.transition(jobID, func(j *domain.QueueJob, _ time.Time) {
		j.Status = domain.JobSent
		j.LastError = ""
	})
}

func (t *batchTx) MarkSkipped(_ context.Context, jobID, reason string) error {
	return t.transition(jobID, func(j *domain.QueueJob, _ time.Time) {
		j.Status = domain.JobSkipped
		j.LastError = reason
	})
}

func (t *batchTx) MarkErrorAndMaybeRetry(_ context.Context, jobID, errText string, backoff time.Duration, maxAttempts int) (bool, error) {
	t.s.mu.Lock()
	j, err := t.claimed(jobID)
	t.s.mu.Unlock()
	if err != nil {
		return false, err
	}
	retrying := maxAttempts <= 0 || j.Attempts+1 < maxAttempts
	err = t.transition(jobID, func(j *domain.QueueJob, now time.Time) {
		j.Attempts++
		j.LastError = domain.TruncateError(errText)
		if retrying {
			j.Status = domain.JobPending
			j.DueAt = now.Add(backoff)
		} else {
			j.Status = domain.JobError
		}
	})
	return retrying, err
}

func (t *batchTx) MarkFailed(_ context.Context, jobID, errText string) error {
	return t.transition(jobID, func(j *domain.QueueJob, _ time.Time) {
		j.Attempts++
		j.Status = domain.JobError
		j.LastError = domain.TruncateError(errText)
	})
}

func (t *batchTx) Reschedule(_ context.Context, jobID string, dueAt time.Time, errText string) error {
	return t.transition(jobID, func(j *domain.QueueJob, _ time.Time) {
		j.RateLimitHits++
		j.Status = domain.JobPending
		j.DueAt = dueAt
		j.LastError = domain.TruncateError(errText)
	})
}

func (t *batchTx) RecordOutcome(_ context.Context, rec domain.SentRecord) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false, errTxDone
	}
	k := key(rec.CampaignID, rec.RecipientID)
	if _, exists := t.s.sent[k]; exists {
		return false, nil
	}
	for _, pending := range t.records {
		if pending == k {
			return false, nil
		}
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = t.s.now()
	}
	t.ops = append(t.ops, func() { t.s.sent[k] = rec })
	t.records = append(t.records, k)
	return true, nil
}

func (t *batchTx) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errTxDone
	}
	for _, op := range t.ops {
		op()
	}
	t.done = true
	return nil
}

func (t *batchTx) Rollback() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.ops = nil
	t.done = true
	return nil
}
