// Package variant deterministically assigns recipients to A/B content
// variants without persisting the choice.
package variant

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// Select returns the variant a recipient is bucketed into, or nil when no
// variants are configured.
//
// Uses SHA256(recipientID + ":" + campaignID) reduced modulo the total
// weight, then walks cumulative weight ranges. Non-positive weights count as
// zero; if every weight is zero all variants are weighted equally.
func Select(campaignID, recipientID string, variants []domain.Variant) *domain.Variant {
	if len(variants) == 0 {
		return nil
	}

	weights := make([]uint64, len(variants))
	var total uint64
	for i, v := range variants {
		if v.Weight > 0 {
			weights[i] = uint64(v.Weight)
			total += weights[i]
		}
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = uint64(len(weights))
	}

	hash := sha256.Sum256([]byte(recipientID + ":" + campaignID))
	bucket := binary.BigEndian.Uint64(hash[:8]) % total

	var cum uint64
	for i := range variants {
		cum += weights[i]
		if bucket < cum {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}

// Apply returns a copy of c with the variant's non-empty overrides applied.
// A nil variant returns c unchanged. A price override replaces the price of
// every plan, since downsells carry a single offer.
func Apply(c domain.Campaign, v *domain.Variant) domain.Campaign {
	if v == nil {
		return c
	}
	if v.Text != "" {
		c.Text = v.Text
	}
	if v.Media != nil && v.Media.URL != "" {
		m := *v.Media
		c.Media = &m
	}
	if v.PriceCents > 0 && len(c.Plans) > 0 {
		plans := make([]domain.Plan, len(c.Plans))
		copy(plans, c.Plans)
		for i := range plans {
			plans[i].PriceCents = v.PriceCents
		}
		c.Plans = plans
	}
	return c
}

// ForCampaign selects and applies a variant when the campaign has A/B
// enabled. It returns the effective campaign and the chosen key ("" if none).
func ForCampaign(c domain.Campaign, recipientID string) (domain.Campaign, string) {
	if !c.ABEnabled || len(c.Variants) == 0 {
		return c, ""
	}
	v := Select(c.ID, recipientID, c.Variants)
	if v == nil {
		return c, ""
	}
	return Apply(c, v), v.Key
}
