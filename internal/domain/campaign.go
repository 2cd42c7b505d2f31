package domain

import (
	"time"
)

// CampaignKind distinguishes one-off broadcasts from triggered follow-ups.
// Each kind is drained by its own worker loop.
type CampaignKind string

const (
	KindShot     CampaignKind = "shot"
	KindDownsell CampaignKind = "downsell"
)

// Valid reports whether k is a known campaign kind.
func (k CampaignKind) Valid() bool {
	return k == KindShot || k == KindDownsell
}

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignActive    CampaignStatus = "active" // downsells: listening for triggers
	CampaignCompleted CampaignStatus = "completed"
	CampaignInactive  CampaignStatus = "inactive"
	CampaignCancelled CampaignStatus = "cancelled"
)

// AudienceRule is the closed set of recipient selection rules.
type AudienceRule string

const (
	AudienceAllStarted     AudienceRule = "all_started"
	AudiencePixGenerated   AudienceRule = "pix_generated"
	AudiencePurchaseIntent AudienceRule = "purchase_intent"
)

// Valid reports whether r is one of the supported audience rules.
func (r AudienceRule) Valid() bool {
	switch r {
	case AudienceAllStarted, AudiencePixGenerated, AudiencePurchaseIntent:
		return true
	}
	return false
}

// TriggerEvent names the automated events that start a downsell countdown.
type TriggerEvent string

const (
	TriggerStart        TriggerEvent = "start"
	TriggerPixGenerated TriggerEvent = "pix_generated"
)

// Valid reports whether e is a known trigger event.
func (e TriggerEvent) Valid() bool {
	return e == TriggerStart || e == TriggerPixGenerated
}

// Campaign is a shot or downsell definition driving one round of
// recipient-targeted messages.
type Campaign struct {
	ID       string         `json:"id" db:"id"`
	TenantID string         `json:"tenant_id" db:"tenant_id"`
	Kind     CampaignKind   `json:"kind" db:"kind"`
	Name     string         `json:"name" db:"name"`
	Status   CampaignStatus `json:"status" db:"status"`
	Audience AudienceRule   `json:"audience" db:"audience"`

	// AudienceWindowDays limits audience resolution to recent history.
	// Zero means no recency limit.
	AudienceWindowDays int `json:"audience_window_days" db:"audience_window_days"`

	Text      string `json:"text" db:"text"`
	ParseMode string `json:"parse_mode" db:"parse_mode"`
	// DisableLinkPreview suppresses link previews on text messages.
	DisableLinkPreview bool `json:"disable_link_preview" db:"disable_link_preview"`
	Media     *Media `json:"media,omitempty" db:"-"`
	Plans     []Plan `json:"plans,omitempty" db:"-"`

	// Shots
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`

	// Downsells
	Trigger      TriggerEvent `json:"trigger,omitempty" db:"trigger_event"`
	DelayMinutes int          `json:"delay_minutes" db:"delay_minutes"`
	ABEnabled    bool         `json:"ab_enabled" db:"ab_enabled"`
	Variants     []Variant    `json:"variants,omitempty" db:"-"`

	Window   *TimeWindow `json:"window,omitempty" db:"-"`
	DailyCap int         `json:"daily_cap" db:"daily_cap"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsDispatchable reports whether jobs of this campaign may still be sent.
// Inactive or cancelled campaigns have their remaining jobs skipped.
func (c *Campaign) IsDispatchable() bool {
	switch c.Status {
	case CampaignInactive, CampaignCancelled, CampaignDraft:
		return false
	}
	return true
}

// QueueType returns the worker queue that drains this campaign's jobs.
func (c *Campaign) QueueType() QueueType {
	if c.Kind == KindDownsell {
		return QueueDownsells
	}
	return QueueShots
}

// ActivePlans returns the plans that should be rendered as buttons.
func (c *Campaign) ActivePlans() []Plan {
	var out []Plan
	for _, p := range c.Plans {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// Plan is a priced line item rendered as an inline button.
type Plan struct {
	Index      int    `json:"index" db:"plan_index"`
	Title      string `json:"title" db:"title"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	Currency   string `json:"currency" db:"currency"`
	Active     bool   `json:"active" db:"active"`
}

// MediaKind is the closed set of attachment kinds the dispatcher can send.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaDocument
	MediaAnimation
)

var mediaKindNames = map[MediaKind]string{
	MediaNone:      "none",
	MediaPhoto:     "photo",
	MediaVideo:     "video",
	MediaAudio:     "audio",
	MediaDocument:  "document",
	MediaAnimation: "animation",
}

func (k MediaKind) String() string {
	if s, ok := mediaKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Media is a single attachment. DeclaredType is the operator-supplied type
// string ("photo", "video", "gif", ...); the effective kind is inferred from
// it and, as a fallback, from the URL extension.
type Media struct {
	DeclaredType string `json:"type" db:"media_type"`
	URL          string `json:"url" db:"media_url"`
}

// Variant is an A/B content override selected deterministically per recipient.
type Variant struct {
	Key        string `json:"key" db:"variant_key"`
	Weight     int    `json:"weight" db:"weight"`
	Text       string `json:"text,omitempty" db:"text"`
	Media      *Media `json:"media,omitempty" db:"-"`
	PriceCents int64  `json:"price_cents,omitempty" db:"price_cents"`
}

// TimeWindow restricts dispatch to an hour-of-day range in a timezone.
// StartHour > EndHour denotes a window that wraps past midnight.
type TimeWindow struct {
	StartHour int    `json:"start_hour" db:"window_start_hour"`
	EndHour   int    `json:"end_hour" db:"window_end_hour"`
	Timezone  string `json:"timezone" db:"window_timezone"`
}
