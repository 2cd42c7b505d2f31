package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// CampaignRepo implements broadcast.CampaignRepository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var (
		mediaType, mediaURL, trigger, tz sql.NullString
		scheduledAt                      sql.NullTime
		startHour, endHour               sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, name, status, audience, audience_window_days,
		       text, parse_mode, disable_link_preview, media_type, media_url, scheduled_at,
		       trigger_event, delay_minutes, ab_enabled,
		       window_start_hour, window_end_hour, window_timezone,
		       daily_cap, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.TenantID, &c.Kind, &c.Name, &c.Status, &c.Audience, &c.AudienceWindowDays,
		&c.Text, &c.ParseMode, &c.DisableLinkPreview, &mediaType, &mediaURL, &scheduledAt,
		&trigger, &c.DelayMinutes, &c.ABEnabled,
		&startHour, &endHour, &tz,
		&c.DailyCap, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, broadcast.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	if mediaURL.Valid && mediaURL.String != "" {
		c.Media = &domain.Media{DeclaredType: mediaType.String, URL: mediaURL.String}
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		c.ScheduledAt = &t
	}
	c.Trigger = domain.TriggerEvent(trigger.String)
	if startHour.Valid && endHour.Valid {
		c.Window = &domain.TimeWindow{
			StartHour: int(startHour.Int64),
			EndHour:   int(endHour.Int64),
			Timezone:  tz.String,
		}
	}

	if c.Plans, err = r.plans(ctx, id); err != nil {
		return nil, err
	}
	if c.Variants, err = r.variants(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepo) Status(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", broadcast.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get campaign status: %w", err)
	}
	return domain.CampaignStatus(status), nil
}

func (r *CampaignRepo) plans(ctx context.Context, campaignID string) ([]domain.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT plan_index, title, price_cents, currency, active
		FROM campaign_plans
		WHERE campaign_id = $1
		ORDER BY plan_index
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []domain.Plan
	for rows.Next() {
		var p domain.Plan
		if err := rows.Scan(&p.Index, &p.Title, &p.PriceCents, &p.Currency, &p.Active); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) variants(ctx context.Context, campaignID string) ([]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_key, weight, text, media_type, media_url, price_cents
		FROM variants
		WHERE campaign_id = $1
		ORDER BY variant_key
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []domain.Variant
	for rows.Next() {
		var (
			v                   domain.Variant
			mediaType, mediaURL sql.NullString
		)
		if err := rows.Scan(&v.Key, &v.Weight, &v.Text, &mediaType, &mediaURL, &v.PriceCents); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		if mediaURL.Valid && mediaURL.String != "" {
			v.Media = &domain.Media{DeclaredType: mediaType.String, URL: mediaURL.String}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.ids(ctx, `
		SELECT id FROM campaigns
		WHERE kind = 'shot' AND status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
}

func (r *CampaignRepo) ListTriggered(ctx context.Context, tenantID string, event domain.TriggerEvent) ([]string, error) {
	return r.ids(ctx, `
		SELECT id FROM campaigns
		WHERE tenant_id = $1 AND kind = 'downsell' AND status = 'active' AND trigger_event = $2
		ORDER BY created_at
	`, tenantID, string(event))
}

func (r *CampaignRepo) ids(ctx context.Context, q string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) UpdateSchedule(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET scheduled_at = $2, status = 'scheduled', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'inactive', 'sending')
	`, id, at)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return r.missingOrInvalid(ctx, id)
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return broadcast.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) CompleteDrained(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns c SET status = 'completed', updated_at = NOW()
		WHERE c.kind = 'shot' AND c.status = 'sending'
		  AND NOT EXISTS (
		      SELECT 1 FROM queue_jobs j
		      WHERE j.campaign_id = c.id AND j.status IN ('pending', 'processing')
		  )
	`)
	if err != nil {
		return 0, fmt.Errorf("complete drained campaigns: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// missingOrInvalid tells a guarded update that matched nothing apart from
// one whose row does not exist.
func (r *CampaignRepo) missingOrInvalid(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return broadcast.ErrNotFound
	}
	return broadcast.ErrInvalidTransition
}
