package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// ContactRepo implements broadcast.ContactRepository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact ledger.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) MarkBlocked(ctx context.Context, tenantID, recipientID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (tenant_id, recipient_id, blocked, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (tenant_id, recipient_id) DO UPDATE SET blocked = TRUE, updated_at = NOW()
	`, tenantID, recipientID)
	if err != nil {
		return fmt.Errorf("mark blocked: %w", err)
	}
	return nil
}

func (r *ContactRepo) MarkDeactivated(ctx context.Context, tenantID, recipientID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (tenant_id, recipient_id, deactivated, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (tenant_id, recipient_id) DO UPDATE SET deactivated = TRUE, updated_at = NOW()
	`, tenantID, recipientID)
	if err != nil {
		return fmt.Errorf("mark deactivated: %w", err)
	}
	return nil
}

func (r *ContactRepo) IsExcluded(ctx context.Context, tenantID, recipientID string) (bool, error) {
	var excluded bool
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE((
			SELECT blocked OR deactivated FROM contacts
			WHERE tenant_id = $1 AND recipient_id = $2
		), FALSE)
	`, tenantID, recipientID).Scan(&excluded)
	if err != nil {
		return false, fmt.Errorf("check excluded: %w", err)
	}
	return excluded, nil
}

func (r *ContactRepo) Get(ctx context.Context, tenantID, recipientID string) (*domain.Contact, error) {
	c := &domain.Contact{}
	var (
		payload  sql.NullString
		lastSeen sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, recipient_id, payload_id, first_name, username,
		       blocked, deactivated, last_seen_at
		FROM contacts
		WHERE tenant_id = $1 AND recipient_id = $2
	`, tenantID, recipientID).Scan(
		&c.TenantID, &c.RecipientID, &payload, &c.FirstName, &c.Username,
		&c.Blocked, &c.Deactivated, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, broadcast.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	c.PayloadID = payload.String
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeenAt = &t
	}
	return c, nil
}
