package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/media"
	"github.com/ignite/broadcast-engine/internal/message"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/metrics"
	"github.com/ignite/broadcast-engine/internal/schedule"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
	"github.com/ignite/broadcast-engine/internal/service/sending"
	"github.com/ignite/broadcast-engine/internal/variant"
)

// JobDispatcher decides and performs the delivery of one claimed job.
// It never returns an error; every failure is folded into the Result.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job domain.QueueJob) Result
}

// Dispatcher runs the eligibility checks for a job, renders its message and
// sends it through the tenant's bot.
type Dispatcher struct {
	campaigns *campaignCache
	ledger    broadcast.LedgerRepository
	contacts  broadcast.ContactRepository
	senders   sending.SenderFactory
	media     media.Resolver
	renderer  *message.Renderer
	log       *logger.Logger

	now func() time.Time
}

// NewDispatcher creates a dispatcher. A nil resolver passes media references
// through unchanged.
func NewDispatcher(
	campaigns broadcast.CampaignRepository,
	ledger broadcast.LedgerRepository,
	contacts broadcast.ContactRepository,
	senders sending.SenderFactory,
	resolver media.Resolver,
	log *logger.Logger,
) *Dispatcher {
	if resolver == nil {
		resolver = media.Passthrough{}
	}
	return &Dispatcher{
		campaigns: newCampaignCache(campaigns, DefaultCampaignTTL),
		ledger:    ledger,
		contacts:  contacts,
		senders:   senders,
		media:     resolver,
		renderer:  message.NewRenderer(),
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for window and cap checks.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	d.campaigns.now = now
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, job domain.QueueJob) Result {
	c, err := d.campaigns.Get(ctx, job.CampaignID)
	if errors.Is(err, broadcast.ErrNotFound) {
		return failed(job, fmt.Errorf("campaign %s not found", job.CampaignID))
	}
	if err != nil {
		return retry(job, fmt.Errorf("load campaign: %w", err))
	}

	if res, done := d.checkEligibility(ctx, job, c); done {
		return res
	}

	eff, variantKey := variant.ForCampaign(*c, job.RecipientID)
	if reason := validateContent(&eff); reason != "" {
		return skip(job, reason)
	}

	contact, err := d.contacts.Get(ctx, job.TenantID, job.RecipientID)
	if err != nil && !errors.Is(err, broadcast.ErrContactNotFound) {
		return retry(job, fmt.Errorf("load contact: %w", err))
	}
	text, err := d.renderer.Render(eff.Text, message.ContactBindings(job.RecipientID, contact))
	if err != nil {
		return failed(job, err)
	}

	var attachment *domain.Media
	if eff.Media != nil && eff.Media.URL != "" {
		ref, err := d.media.Resolve(ctx, eff.Media.URL)
		if err != nil {
			return retry(job, err)
		}
		attachment = &domain.Media{DeclaredType: eff.Media.DeclaredType, URL: ref}
	}

	steps, err := message.Build(message.Content{
		CampaignID: c.ID,
		Kind:       c.Kind,
		Text:       text,
		ParseMode:  eff.ParseMode,
		Media:      attachment,
		Plans:      eff.ActivePlans(),

		DisableLinkPreview: eff.DisableLinkPreview,
	})
	if errors.Is(err, message.ErrEmptyMessage) {
		return skip(job, domain.SkipMissingContent)
	}
	if err != nil {
		return failed(job, err)
	}

	sender, err := d.senders.SenderFor(ctx, job.TenantID)
	if errors.Is(err, sending.ErrBotNotFound) {
		return failed(job, err)
	}
	if err != nil {
		return retry(job, fmt.Errorf("resolve sender: %w", err))
	}

	var lastID string
	for i, st := range steps {
		id, err := d.send(ctx, sender, job, st)
		if err != nil {
			if i > 0 {
				d.log.Warn("message partially delivered",
					"campaign_id", job.CampaignID,
					"recipient_id", job.RecipientID,
					"delivered_steps", i,
					"total_steps", len(steps),
				)
			}
			return d.classify(ctx, job, err)
		}
		lastID = id
	}
	return sent(job, lastID, variantKey)
}

// checkEligibility runs the permanent-skip checks in order. done is false
// when the job may be sent.
func (d *Dispatcher) checkEligibility(ctx context.Context, job domain.QueueJob, c *domain.Campaign) (Result, bool) {
	if !c.IsDispatchable() {
		return skip(job, domain.SkipInactive), true
	}

	already, err := d.ledger.HasSentRecord(ctx, job.CampaignID, job.RecipientID)
	if err != nil {
		return retry(job, fmt.Errorf("check ledger: %w", err)), true
	}
	if already {
		return skip(job, domain.SkipAlreadySent), true
	}

	if c.Kind == domain.KindDownsell || len(c.Plans) > 0 {
		paid, err := d.ledger.HasConfirmedPayment(ctx, job.TenantID, job.RecipientID)
		if err != nil {
			return retry(job, fmt.Errorf("check payment: %w", err)), true
		}
		if paid {
			return skip(job, domain.SkipAlreadyPaid), true
		}
	}

	excluded, err := d.contacts.IsExcluded(ctx, job.TenantID, job.RecipientID)
	if err != nil {
		return retry(job, fmt.Errorf("check contact: %w", err)), true
	}
	if excluded {
		return skip(job, domain.SkipExcluded), true
	}

	now := d.now()
	if !schedule.WindowAllows(c.Window, now) {
		return skip(job, domain.SkipOutsideWindow), true
	}

	if c.DailyCap > 0 {
		var tz string
		if c.Window != nil {
			tz = c.Window.Timezone
		}
		n, err := d.ledger.CountSentSince(ctx, job.TenantID, job.RecipientID, schedule.StartOfLocalDay(now, tz))
		if err != nil {
			return retry(job, fmt.Errorf("count sends: %w", err)), true
		}
		if n >= c.DailyCap {
			return skip(job, domain.SkipDailyCap), true
		}
	}
	return Result{}, false
}

// validateContent returns a skip reason when the effective content cannot
// produce a valid message.
func validateContent(c *domain.Campaign) string {
	if message.InferMediaKind(c.Media) == domain.MediaNone && strings.TrimSpace(c.Text) == "" {
		return domain.SkipMissingContent
	}
	if len(c.Plans) == 0 {
		return ""
	}
	active := c.ActivePlans()
	if len(active) == 0 {
		return domain.SkipPlanInactive
	}
	for _, p := range active {
		if p.PriceCents <= 0 {
			return domain.SkipMissingPrice
		}
	}
	return ""
}

// send performs one step. A failed photo or video is retried once as a
// document unless the failure is about the recipient or rate limits.
func (d *Dispatcher) send(ctx context.Context, s sending.Sender, job domain.QueueJob, st message.Step) (string, error) {
	opts := sending.Options{
		ParseMode:          st.ParseMode,
		DisableLinkPreview: st.DisableLinkPreview,
		Keyboard:           st.Keyboard,
	}

	start := time.Now()
	if !st.IsMedia() {
		id, err := s.SendText(ctx, job.RecipientID, st.Text, opts)
		metrics.RecordSend("text", time.Since(start))
		return id, err
	}

	id, err := s.SendMedia(ctx, job.RecipientID, st.Media, st.MediaURL, st.Text, opts)
	metrics.RecordSend("media", time.Since(start))
	if err == nil || !message.CanFallbackToDocument(st.Media) || sending.BlocksFallback(err) {
		return id, err
	}

	d.log.Warn("media send failed, retrying as document",
		"campaign_id", job.CampaignID,
		"recipient_id", job.RecipientID,
		"media", st.Media.String(),
		"error", err,
	)
	start = time.Now()
	id, err = s.SendMedia(ctx, job.RecipientID, domain.MediaDocument, st.MediaURL, st.Text, opts)
	metrics.RecordSend("media", time.Since(start))
	return id, err
}

// classify maps the final provider error to a result, flagging the contact
// when the recipient is gone for good.
func (d *Dispatcher) classify(ctx context.Context, job domain.QueueJob, err error) Result {
	switch sending.CategoryOf(err) {
	case sending.CategoryBlocked:
		return d.flagContact(ctx, job, domain.SkipBlocked, d.contacts.MarkBlocked)
	case sending.CategoryDeactivated:
		return d.flagContact(ctx, job, domain.SkipDeactivated, d.contacts.MarkDeactivated)
	case sending.CategoryRateLimited:
		return Result{Job: job, Kind: ResultRateLimited, RetryAfter: sending.RetryAfterOf(err), Err: err}
	}
	if errors.Is(err, sending.ErrBadRecipient) || errors.Is(err, sending.ErrUnsupportedRef) {
		return failed(job, err)
	}
	return retry(job, err)
}

func (d *Dispatcher) flagContact(ctx context.Context, job domain.QueueJob, reason string, mark func(context.Context, string, string) error) Result {
	res := skip(job, reason)
	if err := mark(ctx, job.TenantID, job.RecipientID); err != nil {
		d.log.Error("flag contact failed",
			"tenant_id", job.TenantID,
			"recipient_id", job.RecipientID,
			"reason", reason,
			"error", err,
		)
		return res
	}
	res.SideEffect = "contact_" + reason
	return res
}
