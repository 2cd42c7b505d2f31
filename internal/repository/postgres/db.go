// Package postgres implements the broadcast repositories on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

var (
	_ broadcast.CampaignRepository = (*CampaignRepo)(nil)
	_ broadcast.QueueRepository    = (*QueueRepo)(nil)
	_ broadcast.LedgerRepository   = (*LedgerRepo)(nil)
	_ broadcast.ContactRepository  = (*ContactRepo)(nil)
)

// Open connects to Postgres with the configured pool limits and verifies the
// connection. Statements are bounded server-side so a stuck query cannot pin
// a dispatch batch forever.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", withTimeouts(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func withTimeouts(dsn string) string {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
		sep = "&"
	}
	if !strings.Contains(dsn, "statement_timeout") {
		dsn += sep + "options=-c%20statement_timeout%3D30000"
	}
	return dsn
}
