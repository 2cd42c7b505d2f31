package broadcast

import "errors"

// Sentinel errors for the broadcast service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrContactNotFound   = errors.New("contact not found")
	ErrInvalidMode       = errors.New("trigger mode must be now or schedule")
	ErrMissingSchedule   = errors.New("schedule mode requires scheduled_at")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrCampaignInactive  = errors.New("campaign is inactive or cancelled")
	ErrWrongKind         = errors.New("operation not supported for this campaign kind")
	ErrInvalidEvent      = errors.New("unknown trigger event")
	ErrMissingRecipient  = errors.New("recipient id is required")
	ErrJobNotClaimed     = errors.New("queue job is no longer processing")
)
