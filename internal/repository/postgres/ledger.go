package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// LedgerRepo implements broadcast.LedgerRepository against PostgreSQL.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed sent ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) HasSentRecord(ctx context.Context, campaignID, recipientID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sent_records WHERE campaign_id = $1 AND recipient_id = $2)
	`, campaignID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent record: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepo) DeliveredAmong(ctx context.Context, campaignID string, recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT recipient_id FROM sent_records
		WHERE campaign_id = $1 AND recipient_id = ANY($2::text[])
	`, campaignID, pq.Array(recipients))
	if err != nil {
		return nil, fmt.Errorf("list delivered: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan delivered: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HasConfirmedPayment matches paid transactions by recipient id or by the
// payload id recorded on the recipient's contact.
func (r *LedgerRepo) HasConfirmedPayment(ctx context.Context, tenantID, recipientID string) (bool, error) {
	var paid bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_transactions p
			WHERE p.tenant_id = $1 AND p.status = 'paid'
			  AND (p.recipient_id = $2
			       OR p.payload_id IN (
			           SELECT c.payload_id FROM contacts c
			           WHERE c.tenant_id = $1 AND c.recipient_id = $2
			             AND c.payload_id IS NOT NULL AND c.payload_id <> ''))
		)
	`, tenantID, recipientID).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("check payment: %w", err)
	}
	return paid, nil
}

func (r *LedgerRepo) CountSentSince(ctx context.Context, tenantID, recipientID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sent_records
		WHERE tenant_id = $1 AND recipient_id = $2 AND outcome = 'sent' AND recorded_at >= $3
	`, tenantID, recipientID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}
