package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/period"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

type planRepo struct {
	data *Data
	log  *log.Helper
}

func NewPlanRepo(data *Data, logger log.Logger) repo.PlanRepo {
	return &planRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// PlanWriter is the planning-side write surface used by seeders and tests.
type PlanWriter struct {
	data *Data
}

func NewPlanWriter(data *Data) *PlanWriter {
	return &PlanWriter{data: data}
}

const weeklyPlanSelect = `
SELECT w.id, w.monthly_plan_id, a.tenant_id, a.year, m.month, w.week_number, w.goal,
       w.week_start_date, w.week_end_date, w.achievement_percentage
FROM weekly_plans w
JOIN monthly_plans m ON m.id = w.monthly_plan_id
JOIN annual_targets a ON a.id = m.annual_target_id`

const monthlyPlanSelect = `
SELECT m.id, m.annual_target_id, a.tenant_id, a.year, m.month, m.goal, m.achievement_percentage
FROM monthly_plans m
JOIN annual_targets a ON a.id = m.annual_target_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWeeklyPlan(row rowScanner) (*domain.WeeklyPlan, error) {
	var (
		p          domain.WeeklyPlan
		month      int
		start, end string
		pct        sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.MonthlyPlanID, &p.TenantID, &p.Year, &month, &p.WeekNumber, &p.Goal, &start, &end, &pct); err != nil {
		return nil, err
	}
	p.Month = time.Month(month)
	var err error
	if p.WeekStartDate, err = parseTime(start); err != nil {
		return nil, err
	}
	if p.WeekEndDate, err = parseTime(end); err != nil {
		return nil, err
	}
	if pct.Valid {
		p.AchievementPercentage = &pct.Float64
	}
	return &p, nil
}

func scanMonthlyPlan(row rowScanner) (*domain.MonthlyPlan, error) {
	var (
		p     domain.MonthlyPlan
		month int
		pct   sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.AnnualTargetID, &p.TenantID, &p.Year, &month, &p.Goal, &pct); err != nil {
		return nil, err
	}
	p.Month = time.Month(month)
	if pct.Valid {
		p.AchievementPercentage = &pct.Float64
	}
	return &p, nil
}

func (r *planRepo) GetWeeklyPlan(ctx context.Context, id int64) (*domain.WeeklyPlan, error) {
	row := r.data.db.QueryRowContext(ctx, r.data.rebind(weeklyPlanSelect+" WHERE w.id = ?"), id)
	p, err := scanWeeklyPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWeeklyPlanNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly plan %d: %w", id, err)
	}
	return p, nil
}

func (r *planRepo) GetMonthlyPlan(ctx context.Context, id int64) (*domain.MonthlyPlan, error) {
	row := r.data.db.QueryRowContext(ctx, r.data.rebind(monthlyPlanSelect+" WHERE m.id = ?"), id)
	p, err := scanMonthlyPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMonthlyPlanNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly plan %d: %w", id, err)
	}
	return p, nil
}

func (r *planRepo) FindMonthlyPlan(ctx context.Context, tenantID int64, year int, month time.Month) (*domain.MonthlyPlan, error) {
	row := r.data.db.QueryRowContext(ctx,
		r.data.rebind(monthlyPlanSelect+" WHERE a.tenant_id = ? AND a.year = ? AND m.month = ?"),
		tenantID, year, int(month))
	p, err := scanMonthlyPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find monthly plan %d/%d-%02d: %w", tenantID, year, month, err)
	}
	return p, nil
}

func (r *planRepo) ListWeeklyPlans(ctx context.Context, monthlyPlanID int64) ([]*domain.WeeklyPlan, error) {
	return r.listWeekly(ctx, weeklyPlanSelect+" WHERE w.monthly_plan_id = ? ORDER BY w.week_number", monthlyPlanID)
}

func (r *planRepo) ListWeeklyPlansEndedBetween(ctx context.Context, from, to time.Time) ([]*domain.WeeklyPlan, error) {
	return r.listWeekly(ctx,
		weeklyPlanSelect+" WHERE w.week_end_date > ? AND w.week_end_date <= ? ORDER BY a.tenant_id, w.week_end_date",
		formatTime(from), formatTime(to))
}

func (r *planRepo) listWeekly(ctx context.Context, query string, args ...any) ([]*domain.WeeklyPlan, error) {
	rows, err := r.data.db.QueryContext(ctx, r.data.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list weekly plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.WeeklyPlan
	for rows.Next() {
		p, err := scanWeeklyPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// CreateAnnualTarget inserts the annual target for (tenant, year).
func (w *PlanWriter) CreateAnnualTarget(ctx context.Context, tenantID int64, year int, goal string) (int64, error) {
	var id int64
	err := w.data.db.QueryRowContext(ctx,
		w.data.rebind(`INSERT INTO annual_targets (tenant_id, year, goal) VALUES (?, ?, ?) RETURNING id`),
		tenantID, year, goal).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create annual target: %w", err)
	}
	return id, nil
}

// CreateMonthlyPlan creates the month and its first `weeks` weekly plans in one
// transaction. Week windows are computed here once and never recomputed.
func (w *PlanWriter) CreateMonthlyPlan(ctx context.Context, tenant *domain.Tenant, annualTargetID int64, year int, month time.Month, goal string, weekGoals []string) (int64, error) {
	if len(weekGoals) > domain.WeeksPerMonth {
		return 0, fmt.Errorf("at most %d weekly goals, got %d", domain.WeeksPerMonth, len(weekGoals))
	}
	windows, err := period.WeekWindows(year, month, tenant.WeekStartDay, tenant.Location())
	if err != nil {
		return 0, err
	}

	tx, err := w.data.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var monthlyID int64
	err = tx.QueryRowContext(ctx,
		w.data.rebind(`INSERT INTO monthly_plans (annual_target_id, month, goal) VALUES (?, ?, ?) RETURNING id`),
		annualTargetID, int(month), goal).Scan(&monthlyID)
	if err != nil {
		return 0, rollback(tx, fmt.Errorf("create monthly plan: %w", err))
	}
	for i, g := range weekGoals {
		_, err := tx.ExecContext(ctx, w.data.rebind(`
			INSERT INTO weekly_plans (monthly_plan_id, week_number, goal, week_start_date, week_end_date)
			VALUES (?, ?, ?, ?, ?)`),
			monthlyID, i+1, g, formatTime(windows[i].Start), formatTime(windows[i].End))
		if err != nil {
			return 0, rollback(tx, fmt.Errorf("create weekly plan %d: %w", i+1, err))
		}
	}
	return monthlyID, tx.Commit()
}
