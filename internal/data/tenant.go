package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

type tenantRepo struct {
	data *Data
	log  *log.Helper
}

func NewTenantRepo(data *Data, logger log.Logger) repo.TenantRepo {
	return &tenantRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

const tenantSelect = `SELECT id, name, timezone, week_start_day, subscription_status, subscription_end_at FROM tenants`

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var (
		t      domain.Tenant
		day    int
		status string
		endAt  sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &t.TimeZone, &day, &status, &endAt); err != nil {
		return nil, err
	}
	t.WeekStartDay = time.Weekday(day)
	t.SubscriptionStatus = domain.SubscriptionStatus(status)
	if endAt.Valid {
		ts, err := parseTime(endAt.String)
		if err != nil {
			return nil, err
		}
		t.SubscriptionEndAt = &ts
	}
	return &t, nil
}

func (r *tenantRepo) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	t, err := scanTenant(r.data.db.QueryRowContext(ctx, r.data.rebind(tenantSelect+" WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %d: %w", id, err)
	}
	return t, nil
}

func (r *tenantRepo) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	return r.list(ctx, tenantSelect+" ORDER BY id")
}

func (r *tenantRepo) ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	return r.list(ctx,
		tenantSelect+" WHERE subscription_status = ? AND subscription_end_at IS NOT NULL AND subscription_end_at <= ? ORDER BY id",
		string(domain.SubscriptionActive), formatTime(now))
}

// ExpireSubscription only transitions rows that are still active, so reruns are no-ops.
func (r *tenantRepo) ExpireSubscription(ctx context.Context, tenantID int64) (bool, error) {
	res, err := r.data.db.ExecContext(ctx,
		r.data.rebind(`UPDATE tenants SET subscription_status = ? WHERE id = ? AND subscription_status = ?`),
		string(domain.SubscriptionExpired), tenantID, string(domain.SubscriptionActive))
	if err != nil {
		return false, fmt.Errorf("expire subscription for tenant %d: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *tenantRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Tenant, error) {
	rows, err := r.data.db.QueryContext(ctx, r.data.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
