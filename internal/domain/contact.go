package domain

import "time"

// Contact is a recipient as known to the tenant's contact ledger.
type Contact struct {
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	RecipientID string     `json:"recipient_id" db:"recipient_id"`
	PayloadID   string     `json:"payload_id,omitempty" db:"payload_id"`
	FirstName   string     `json:"first_name" db:"first_name"`
	Username    string     `json:"username" db:"username"`
	Blocked     bool       `json:"blocked" db:"blocked"`
	Deactivated bool       `json:"deactivated" db:"deactivated"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
}

// Excluded reports whether future campaigns must skip this recipient.
func (c *Contact) Excluded() bool {
	return c.Blocked || c.Deactivated
}
