// Package audience resolves which recipients a campaign targets from the
// tenant's interaction, event and payment history.
package audience

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// Selector resolves audience rules against PostgreSQL.
type Selector struct{ db *sql.DB }

// NewSelector creates a Postgres-backed audience selector.
func NewSelector(db *sql.DB) *Selector { return &Selector{db: db} }

// Recipients who started the bot, minus blocked or deactivated contacts.
const allStartedQuery = `
	SELECT DISTINCT i.recipient_id
	FROM interactions i
	LEFT JOIN contacts c
	       ON c.tenant_id = i.tenant_id AND c.recipient_id = i.recipient_id
	WHERE i.tenant_id = $1
	  AND i.kind = 'start'
	  AND ($2::timestamptz IS NULL OR i.created_at >= $2)
	  AND COALESCE(c.blocked, FALSE) = FALSE
	  AND COALESCE(c.deactivated, FALSE) = FALSE`

// Recipients with purchase intent: checkout/purchase events plus created or
// paid transactions. Tracking rows may carry only the payload linkage key, so
// contacts are joined on either key and the result collapsed with DISTINCT.
const purchaseIntentQuery = `
	WITH intent AS (
		SELECT e.recipient_id, e.payload_id
		FROM events e
		WHERE e.tenant_id = $1
		  AND e.type IN ('checkout_started', 'purchase')
		  AND ($2::timestamptz IS NULL OR e.created_at >= $2)
		UNION
		SELECT p.recipient_id, p.payload_id
		FROM payment_transactions p
		WHERE p.tenant_id = $1
		  AND p.status IN ('created', 'paid')
		  AND ($2::timestamptz IS NULL OR p.created_at >= $2)
	)
	SELECT DISTINCT COALESCE(c.recipient_id, i.recipient_id) AS recipient_id
	FROM intent i
	LEFT JOIN contacts c
	       ON c.tenant_id = $1
	      AND (c.recipient_id = i.recipient_id
	           OR (i.payload_id IS NOT NULL AND i.payload_id <> '' AND c.payload_id = i.payload_id))
	WHERE COALESCE(c.recipient_id, i.recipient_id) IS NOT NULL
	  AND COALESCE(c.blocked, FALSE) = FALSE
	  AND COALESCE(c.deactivated, FALSE) = FALSE`

// Resolve returns the deduplicated recipients matching rule. An empty tenant
// or unknown rule yields an empty result, not an error. since limits history
// when non-nil.
func (s *Selector) Resolve(ctx context.Context, tenantID string, rule domain.AudienceRule, since *time.Time) ([]string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, nil
	}

	var q string
	switch rule {
	case domain.AudienceAllStarted:
		q = allStartedQuery
	case domain.AudiencePixGenerated, domain.AudiencePurchaseIntent:
		q = purchaseIntentQuery
	default:
		return nil, nil
	}

	var sinceArg sql.NullTime
	if since != nil {
		sinceArg = sql.NullTime{Time: *since, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, q, tenantID, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("resolve audience %s: %w", rule, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return Distinct(out), nil
}

// Distinct drops empty and repeated ids, keeping first-seen order.
func Distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
