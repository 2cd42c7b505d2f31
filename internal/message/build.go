package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/broadcast-engine/internal/domain"
)

var ErrEmptyMessage = errors.New("message: no text or media to send")

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Step is one provider call. A step with Media != MediaNone is a media send
// whose Text is the caption; otherwise it is a plain text message.
type Step struct {
	Media     domain.MediaKind
	MediaURL  string
	Text      string
	ParseMode string
	Keyboard  [][]Button

	DisableLinkPreview bool
}

// IsMedia reports whether the step sends an attachment.
func (s Step) IsMedia() bool { return s.Media != domain.MediaNone }

// Content is the effective, already personalized content for one recipient.
type Content struct {
	CampaignID string
	Kind       domain.CampaignKind
	Text       string
	ParseMode  string
	Media      *domain.Media
	Plans      []domain.Plan

	DisableLinkPreview bool
}

// Build returns the ordered provider calls for c.
//
// Media goes first. When the visible text fits the caption limit it rides on
// the media as a caption and no standalone text is sent; otherwise the media
// is sent bare and the text follows in chunks of at most TextLimit. The plan
// keyboard is attached to the final step.
func Build(c Content) ([]Step, error) {
	kind := InferMediaKind(c.Media)
	hasText := strings.TrimSpace(c.Text) != ""
	if kind == domain.MediaNone && !hasText {
		return nil, ErrEmptyMessage
	}

	var steps []Step
	if kind != domain.MediaNone {
		media := Step{Media: kind, MediaURL: c.Media.URL, ParseMode: c.ParseMode}
		if hasText && PlainTextLen(c.Text, c.ParseMode) <= CaptionLimit {
			media.Text = c.Text
			hasText = false
		}
		steps = append(steps, media)
	}
	if hasText {
		for _, chunk := range SplitText(c.Text, TextLimit, c.ParseMode) {
			steps = append(steps, Step{Text: chunk, ParseMode: c.ParseMode, DisableLinkPreview: c.DisableLinkPreview})
		}
	}

	kb, err := PlanKeyboard(c.Kind, c.CampaignID, c.Plans)
	if err != nil {
		return nil, err
	}
	if len(kb) > 0 {
		steps[len(steps)-1].Keyboard = kb
	}
	return steps, nil
}

// PlanKeyboard renders one button row per active plan.
func PlanKeyboard(kind domain.CampaignKind, campaignID string, plans []domain.Plan) ([][]Button, error) {
	var rows [][]Button
	for _, p := range plans {
		if !p.Active {
			continue
		}
		data, err := PlanCallbackData(kind, campaignID, p.Index)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []Button{{Text: PlanLabel(p), Data: data}})
	}
	return rows, nil
}

// PlanLabel is the button caption, e.g. "VIP - R$ 19,90".
func PlanLabel(p domain.Plan) string {
	return fmt.Sprintf("%s - %s", p.Title, FormatPrice(p.PriceCents, p.Currency))
}

// FormatPrice renders an amount in minor units with the currency's usual
// symbol and decimal separator.
func FormatPrice(cents int64, currency string) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole, frac := cents/100, cents%100

	var s string
	switch strings.ToUpper(currency) {
	case "", "BRL":
		s = fmt.Sprintf("R$ %d,%02d", whole, frac)
	case "USD":
		s = fmt.Sprintf("$%d.%02d", whole, frac)
	case "EUR":
		s = fmt.Sprintf("€%d,%02d", whole, frac)
	default:
		s = fmt.Sprintf("%s %d.%02d", strings.ToUpper(currency), whole, frac)
	}
	if neg {
		return "-" + s
	}
	return s
}
