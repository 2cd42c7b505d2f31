package telegram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/sending"
)

var (
	retryAfterRe = regexp.MustCompile(`retry after (\d+)`)
	statusCodeRe = regexp.MustCompile(`\((\d{3})\)$`)
)

// classify maps a telebot error to a *sending.ProviderError. The bot token
// is scrubbed from the description since it may end up in job rows.
func (c *Client) classify(err error) error {
	desc := err.Error()
	if c.token != "" {
		desc = strings.ReplaceAll(desc, c.token, logger.RedactToken(c.token))
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &sending.ProviderError{
			Category:    sending.CategoryRateLimited,
			Code:        429,
			RetryAfter:  time.Duration(flood.RetryAfter) * time.Second,
			Description: desc,
			Err:         err,
		}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return &sending.ProviderError{Category: sending.CategoryBlocked, Code: 403, Description: desc, Err: err}
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return &sending.ProviderError{Category: sending.CategoryDeactivated, Code: 403, Description: desc, Err: err}
	case errors.Is(err, tele.ErrChatNotFound):
		return fmt.Errorf("%w: %s", sending.ErrBadRecipient, desc)
	}

	code := 0
	var te *tele.Error
	if errors.As(err, &te) {
		code = te.Code
	} else if m := statusCodeRe.FindStringSubmatch(desc); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	pe := classifyDescription(code, desc)
	pe.Err = err
	return pe
}

// classifyDescription classifies by status code and description text, for
// errors telebot does not map to a known value.
func classifyDescription(code int, desc string) *sending.ProviderError {
	lower := strings.ToLower(desc)
	pe := &sending.ProviderError{Code: code, Description: desc}

	switch {
	case strings.Contains(lower, "bot was blocked by the user"),
		strings.Contains(lower, "bot was kicked"):
		pe.Category = sending.CategoryBlocked
	case strings.Contains(lower, "user is deactivated"):
		pe.Category = sending.CategoryDeactivated
	case code == 429 || strings.Contains(lower, "too many requests"):
		pe.Category = sending.CategoryRateLimited
		if m := retryAfterRe.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				pe.RetryAfter = time.Duration(n) * time.Second
			}
		}
	case code >= 500:
		pe.Category = sending.CategoryTransient
	case code >= 400:
		pe.Category = sending.CategoryBadRequest
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"):
		pe.Category = sending.CategoryTransient
	default:
		pe.Category = sending.CategoryUnknown
	}
	return pe
}
