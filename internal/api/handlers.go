package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/httputil"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// BroadcastService is the subset of broadcast.Service the handlers call.
type BroadcastService interface {
	Enqueue(ctx context.Context, campaignID string) (domain.EnqueueStats, error)
	Trigger(ctx context.Context, campaignID string, mode broadcast.TriggerMode, scheduledAt *time.Time) (*broadcast.TriggerResult, error)
	TriggerEvent(ctx context.Context, tenantID string, event domain.TriggerEvent, recipientID string, at time.Time) (domain.EnqueueStats, error)
	Stats(ctx context.Context, campaignID string) (domain.QueueStats, error)
}

// CampaignLookup resolves a campaign's owner for tenant-scoped tokens.
type CampaignLookup interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

// Handlers contains the Trigger API handlers.
type Handlers struct {
	svc       BroadcastService
	campaigns CampaignLookup
	log       *logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(svc BroadcastService, campaigns CampaignLookup, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, campaigns: campaigns, log: log}
}

type triggerRequest struct {
	Mode        string     `json:"mode"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type eventRequest struct {
	Event       string     `json:"event"`
	RecipientID string     `json:"recipient_id"`
	At          *time.Time `json:"at,omitempty"`
}

// Enqueue handles POST /api/campaigns/{id}/enqueue
func (h *Handlers) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.Enqueue(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// Trigger handles POST /api/campaigns/{id}/trigger
func (h *Handlers) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var req triggerRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.svc.Trigger(r.Context(), id, broadcast.TriggerMode(req.Mode), req.ScheduledAt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Mode == broadcast.ModeSchedule {
		httputil.Accepted(w, res)
		return
	}
	httputil.OK(w, res)
}

// Stats handles GET /api/campaigns/{id}/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// Event handles POST /api/tenants/{tenantID}/events
func (h *Handlers) Event(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if claims := ClaimsFrom(r.Context()); claims != nil && claims.TenantID != "" && claims.TenantID != tenantID {
		httputil.Forbidden(w, "token is not valid for this tenant")
		return
	}
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}

	stats, err := h.svc.TriggerEvent(r.Context(), tenantID, domain.TriggerEvent(strings.ToLower(req.Event)), req.RecipientID, at)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Accepted(w, stats)
}

// campaignID reads the path id and, for tenant-scoped tokens, checks the
// campaign belongs to the caller. Foreign campaigns look like missing ones.
func (h *Handlers) campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httputil.BadRequest(w, "campaign id is required")
		return "", false
	}
	claims := ClaimsFrom(r.Context())
	if claims == nil || claims.TenantID == "" || h.campaigns == nil {
		return id, true
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	if c.TenantID != claims.TenantID {
		httputil.NotFound(w, "campaign not found")
		return "", false
	}
	return id, true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broadcast.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, broadcast.ErrInvalidMode),
		errors.Is(err, broadcast.ErrMissingSchedule),
		errors.Is(err, broadcast.ErrInvalidEvent),
		errors.Is(err, broadcast.ErrMissingRecipient):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, broadcast.ErrWrongKind),
		errors.Is(err, broadcast.ErrCampaignInactive),
		errors.Is(err, broadcast.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, h.log, err)
	}
}
