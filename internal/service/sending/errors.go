package sending

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

var (
	ErrBotNotFound    = errors.New("sending: no bot configured for tenant")
	ErrBadRecipient   = errors.New("sending: malformed recipient id")
	ErrUnsupportedRef = errors.New("sending: unsupported media reference")
)

// Category is the provider failure class the dispatcher acts on.
type Category int

const (
	CategoryUnknown     Category = iota
	CategoryBlocked              // recipient blocked the bot
	CategoryDeactivated          // recipient account deleted/deactivated
	CategoryRateLimited          // provider asked us to slow down
	CategoryTransient            // network error, 5xx
	CategoryBadRequest           // the request itself was rejected (4xx)
)

func (c Category) String() string {
	switch c {
	case CategoryBlocked:
		return "blocked"
	case CategoryDeactivated:
		return "deactivated"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryTransient:
		return "transient"
	case CategoryBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// ProviderError is a classified failure returned by a Sender.
type ProviderError struct {
	Category    Category
	Code        int           // provider status code, 0 if none
	RetryAfter  time.Duration // set for CategoryRateLimited
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s (%d): %s", e.Category, e.Code, e.Description)
	}
	return fmt.Sprintf("provider %s: %s", e.Category, e.Description)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CategoryOf returns the category of err. Errors that are not a
// *ProviderError are classified by shape: network failures and deadlines
// are transient, everything else unknown.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CategoryTransient
	}
	return CategoryUnknown
}

// RetryAfterOf returns the provider's requested wait, or 0.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// BlocksFallback reports whether err describes the recipient or the
// provider's pacing rather than the request, in which case resending through
// another method cannot help.
func BlocksFallback(err error) bool {
	switch CategoryOf(err) {
	case CategoryBlocked, CategoryDeactivated, CategoryRateLimited:
		return true
	}
	return false
}
