package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/broadcast-engine/internal/service/sending"
)

// ErrTenantNotFound is returned when no active tenant has the given id. It
// matches sending.ErrBotNotFound so senders can surface it unchanged.
var ErrTenantNotFound = fmt.Errorf("tenant not found: %w", sending.ErrBotNotFound)

// TenantRepo looks up per-tenant bot credentials.
type TenantRepo struct{ db *sql.DB }

// NewTenantRepo creates a Postgres-backed tenant repository.
func NewTenantRepo(db *sql.DB) *TenantRepo { return &TenantRepo{db: db} }

// BotToken returns the bot token of an active tenant.
func (r *TenantRepo) BotToken(ctx context.Context, tenantID string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `
		SELECT bot_token FROM tenants WHERE id = $1 AND active = TRUE
	`, tenantID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get bot token: %w", err)
	}
	return token, nil
}
