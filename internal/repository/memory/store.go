// Package memory provides an in-memory implementation of the broadcast
// repositories. It mirrors the Postgres semantics that the engine relies on
// (unique pairs, claim-once dequeue, transactional batches) closely enough
// to drive the worker loop end to end in tests and local dry runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// Store holds every table. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	campaigns map[string]*domain.Campaign
	audiences map[string][]string // tenant|rule → recipients
	jobs      map[string]*domain.QueueJob
	pairs     map[string]string // campaign|recipient → job id
	sent      map[string]domain.SentRecord
	contacts  map[string]*domain.Contact
	paid      map[string]bool // tenant|recipient

	seq int
	now func() time.Time

	// FailTransition, when set, is returned by the next BatchTx transition
	// call on the given job id. Used to exercise batch rollback.
	FailTransition map[string]error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		campaigns:      make(map[string]*domain.Campaign),
		audiences:      make(map[string][]string),
		jobs:           make(map[string]*domain.QueueJob),
		pairs:          make(map[string]string),
		sent:           make(map[string]domain.SentRecord),
		contacts:       make(map[string]*domain.Contact),
		paid:           make(map[string]bool),
		now:            time.Now,
		FailTransition: make(map[string]error),
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func key(a, b string) string { return a + "|" + b }

// ---- fixtures ----

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneCampaign(c)
	s.campaigns[c.ID] = &cp
}

// DeleteCampaign removes a campaign.
func (s *Store) DeleteCampaign(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.campaigns, id)
}

// SetAudience fixes the recipients an audience rule resolves to.
func (s *Store) SetAudience(tenantID string, rule domain.AudienceRule, recipients ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audiences[key(tenantID, string(rule))] = append([]string(nil), recipients...)
}

// PutContact inserts or replaces a contact.
func (s *Store) PutContact(c domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.contacts[key(c.TenantID, c.RecipientID)] = &cp
}

// PutSentRecord seeds the ledger.
func (s *Store) PutSentRecord(rec domain.SentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[key(rec.CampaignID, rec.RecipientID)] = rec
}

// MarkPaid records a confirmed payment.
func (s *Store) MarkPaid(tenantID, recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[key(tenantID, recipientID)] = true
}

// Jobs returns a snapshot of a campaign's jobs ordered by recipient.
func (s *Store) Jobs(campaignID string) []domain.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QueueJob
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RecipientID < out[k].RecipientID })
	return out
}

// SentRecord returns the ledger entry for a pair.
func (s *Store) SentRecord(campaignID, recipientID string) (domain.SentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sent[key(campaignID, recipientID)]
	return rec, ok
}

// Contact returns a contact snapshot.
func (s *Store) Contact(tenantID, recipientID string) (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[key(tenantID, recipientID)]
	if !ok {
		return domain.Contact{}, false
	}
	return *c, true
}

// ---- broadcast.CampaignRepository ----

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, broadcast.ErrNotFound
	}
	cp := cloneCampaign(*c)
	return &cp, nil
}

func (s *Store) Status(_ context.Context, id string) (domain.CampaignStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", broadcast.ErrNotFound
	}
	return c.Status, nil
}

func (s *Store) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.Campaign
	for _, c := range s.campaigns {
		if c.Kind == domain.KindShot && c.Status == domain.CampaignScheduled &&
			c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ScheduledAt.Before(*due[k].ScheduledAt) })
	var ids []string
	for i, c := range due {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *Store) ListTriggered(_ context.Context, tenantID string, event domain.TriggerEvent) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, c := range s.campaigns {
		if c.TenantID == tenantID && c.Kind == domain.KindDownsell &&
			c.Status == domain.CampaignActive && c.Trigger == event {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) UpdateSchedule(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return broadcast.ErrNotFound
	}
	switch c.Status {
	case domain.CampaignCompleted, domain.CampaignCancelled, domain.CampaignInactive, domain.CampaignSending:
		return broadcast.ErrInvalidTransition
	}
	t := at
	c.ScheduledAt = &t
	c.Status = domain.CampaignScheduled
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return broadcast.ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *Store) CompleteDrained(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == domain.JobPending || j.Status == domain.JobProcessing {
			open[j.CampaignID] = true
		}
	}
	n := 0
	for _, c := range s.campaigns {
		if c.Kind == domain.KindShot && c.Status == domain.CampaignSending && !open[c.ID] {
			c.Status = domain.CampaignCompleted
			n++
		}
	}
	return n, nil
}

// ---- broadcast.AudienceResolver ----

func (s *Store) Resolve(_ context.Context, tenantID string, rule domain.AudienceRule, _ *time.Time) ([]string, error) {
	if tenantID == "" || !rule.Valid() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.audiences[key(tenantID, string(rule))] {
		if c, ok := s.contacts[key(tenantID, r)]; ok && c.Excluded() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ---- broadcast.QueueRepository ----

func (s *Store) EnqueueBatch(_ context.Context, queue domain.QueueType, campaignID, tenantID string, recipients []string, dueAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	inserted := 0
	for _, r := range recipients {
		k := key(campaignID, r)
		if _, dup := s.pairs[k]; dup {
			continue
		}
		if _, done := s.sent[k]; done {
			continue
		}
		s.seq++
		id := "job-" + strconv.Itoa(s.seq)
		s.jobs[id] = &domain.QueueJob{
			ID:          id,
			QueueType:   queue,
			CampaignID:  campaignID,
			TenantID:    tenantID,
			RecipientID: r,
			DueAt:       dueAt,
			Status:      domain.JobPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.pairs[k] = id
		inserted++
	}
	return inserted, nil
}

func (s *Store) DequeueDueBatch(_ context.Context, queue domain.QueueType, limit int) ([]domain.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []*domain.QueueJob
	for _, j := range s.jobs {
		if j.QueueType == queue && j.Status == domain.JobPending && !j.DueAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].DueAt.Equal(due[k].DueAt) {
			return due[i].RecipientID < due[k].RecipientID
		}
		return due[i].DueAt.Before(due[k].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.QueueJob, 0, len(due))
	for _, j := range due {
		j.Status = domain.JobProcessing
		claimed := now
		j.ClaimedAt = &claimed
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *Store) MarkErrorDetached(_ context.Context, jobID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobProcessing {
		return broadcast.ErrJobNotClaimed
	}
	j.Status = domain.JobError
	j.Attempts++
	j.LastError = domain.TruncateError(errText)
	j.ClaimedAt = nil
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) ResetStuckJobs(_ context.Context, queue domain.QueueType, olderThan time.Duration, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, j := range s.jobs {
		if j.QueueType != queue || j.Status != domain.JobProcessing || j.ClaimedAt == nil {
			continue
		}
		if now.Sub(*j.ClaimedAt) < olderThan {
			continue
		}
		j.Attempts++
		j.Status = domain.JobPending
		if maxAttempts > 0 && j.Attempts >= maxAttempts {
			j.Status = domain.JobError
		}
		j.LastError = "reclaimed after processing timeout"
		j.ClaimedAt = nil
		j.DueAt = now
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context, campaignID string) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.QueueStats
	for _, j := range s.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		switch j.Status {
		case domain.JobPending:
			st.Queued++
		case domain.JobProcessing:
			st.Processing++
		case domain.JobSent:
			st.Sent++
		case domain.JobSkipped:
			st.Skipped++
		case domain.JobError:
			st.Error++
		}
	}
	return st, nil
}

// ---- broadcast.LedgerRepository ----

func (s *Store) HasSentRecord(_ context.Context, campaignID, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[key(campaignID, recipientID)]
	return ok, nil
}

func (s *Store) DeliveredAmong(_ context.Context, campaignID string, recipients []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range recipients {
		if _, ok := s.sent[key(campaignID, r)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) HasConfirmedPayment(_ context.Context, tenantID, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid[key(tenantID, recipientID)], nil
}

func (s *Store) CountSentSince(_ context.Context, tenantID, recipientID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.sent {
		if rec.TenantID == tenantID && rec.RecipientID == recipientID &&
			rec.Outcome == domain.OutcomeSent && !rec.RecordedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---- broadcast.ContactRepository ----

// Contacts returns the store's contact ledger view. It is a separate value
// because the contact and campaign contracts both name a Get method.
func (s *Store) Contacts() broadcast.ContactRepository { return contactView{s} }

type contactView struct{ s *Store }

func (v contactView) MarkBlocked(ctx context.Context, tenantID, recipientID string) error {
	return v.s.MarkBlocked(ctx, tenantID, recipientID)
}

func (v contactView) MarkDeactivated(ctx context.Context, tenantID, recipientID string) error {
	return v.s.MarkDeactivated(ctx, tenantID, recipientID)
}

func (v contactView) IsExcluded(ctx context.Context, tenantID, recipientID string) (bool, error) {
	return v.s.IsExcluded(ctx, tenantID, recipientID)
}

func (v contactView) Get(ctx context.Context, tenantID, recipientID string) (*domain.Contact, error) {
	return v.s.GetContact(ctx, tenantID, recipientID)
}

func (s *Store) MarkBlocked(_ context.Context, tenantID, recipientID string) error {
	s.upsertContact(tenantID, recipientID, func(c *domain.Contact) { c.Blocked = true })
	return nil
}

func (s *Store) MarkDeactivated(_ context.Context, tenantID, recipientID string) error {
	s.upsertContact(tenantID, recipientID, func(c *domain.Contact) { c.Deactivated = true })
	return nil
}

func (s *Store) upsertContact(tenantID, recipientID string, mut func(*domain.Contact)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenantID, recipientID)
	c, ok := s.contacts[k]
	if !ok {
		c = &domain.Contact{TenantID: tenantID, RecipientID: recipientID}
		s.contacts[k] = c
	}
	mut(c)
}

func (s *Store) IsExcluded(_ context.Context, tenantID, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[key(tenantID, recipientID)]
	return ok && c.Excluded(), nil
}

func (s *Store) GetContact(_ context.Context, tenantID, recipientID string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[key(tenantID, recipientID)]
	if !ok {
		return nil, broadcast.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func cloneCampaign(c domain.Campaign) domain.Campaign {
	if c.Media != nil {
		m := *c.Media
		c.Media = &m
	}
	c.Plans = append([]domain.Plan(nil), c.Plans...)
	c.Variants = append([]domain.Variant(nil), c.Variants...)
	if c.Window != nil {
		w := *c.Window
		c.Window = &w
	}
	if c.ScheduledAt != nil {
		t := *c.ScheduledAt
		c.ScheduledAt = &t
	}
	return c
}

var errTxDone = errors.New("memory: transaction already finished")
