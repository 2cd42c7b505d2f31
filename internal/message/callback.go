package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// MaxCallbackBytes is the provider limit on inline button payloads.
const MaxCallbackBytes = 64

var ErrBadCallback = errors.New("message: malformed plan callback")

var callbackPrefixes = map[domain.CampaignKind]string{
	domain.KindShot:     "shot",
	domain.KindDownsell: "ds",
}

// PlanCallbackData encodes a plan button payload as "<prefix>:<campaignID>:<planIndex>"
// so the button handler can resolve the plan without a lookup table.
func PlanCallbackData(kind domain.CampaignKind, campaignID string, planIndex int) (string, error) {
	prefix, ok := callbackPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown campaign kind %q", ErrBadCallback, kind)
	}
	data := prefix + ":" + campaignID + ":" + strconv.Itoa(planIndex)
	if len(data) > MaxCallbackBytes {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", ErrBadCallback, MaxCallbackBytes)
	}
	return data, nil
}

// ParsePlanCallback decodes a payload produced by PlanCallbackData.
func ParsePlanCallback(data string) (domain.CampaignKind, string, int, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[1] == "" {
		return "", "", 0, ErrBadCallback
	}
	var kind domain.CampaignKind
	for k, p := range callbackPrefixes {
		if p == parts[0] {
			kind = k
		}
	}
	if kind == "" {
		return "", "", 0, ErrBadCallback
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return "", "", 0, ErrBadCallback
	}
	return kind, parts[1], idx, nil
}
