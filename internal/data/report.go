package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

type reportRepo struct {
	data *Data
	log  *log.Helper
	now  func() time.Time
}

func NewReportRepo(data *Data, logger log.Logger) repo.ReportRepo {
	return &reportRepo{
		data: data,
		log:  log.NewHelper(logger),
		now:  time.Now,
	}
}

// UpsertWeeklyReport replaces the weekly report and the plan's cached
// percentage in one transaction. The unique weekly_plan_id column plus
// ON CONFLICT makes racing writers converge on a single row.
func (r *reportRepo) UpsertWeeklyReport(ctx context.Context, weeklyPlanID int64, n *domain.Narrative) (*domain.PerformanceReport, error) {
	lists, err := encodeLists(n)
	if err != nil {
		return nil, err
	}
	generatedAt := r.now().UTC().Truncate(time.Millisecond)

	tx, err := r.data.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, r.data.rebind(`UPDATE weekly_plans SET achievement_percentage = ? WHERE id = ?`),
		n.AchievementPercentage, weeklyPlanID)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("update weekly plan percentage: %w", err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, rollback(tx, domain.ErrWeeklyPlanNotFound(weeklyPlanID))
	}

	var id int64
	err = tx.QueryRowContext(ctx, r.data.rebind(`
		INSERT INTO weekly_performance_reports
			(weekly_plan_id, achievement_percentage, summary, strengths, weaknesses, recommendations, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (weekly_plan_id) DO UPDATE SET
			achievement_percentage = excluded.achievement_percentage,
			summary = excluded.summary,
			strengths = excluded.strengths,
			weaknesses = excluded.weaknesses,
			recommendations = excluded.recommendations,
			generated_at = excluded.generated_at
		RETURNING id`),
		weeklyPlanID, n.AchievementPercentage, n.Summary, lists[0], lists[1], lists[2], formatTime(generatedAt),
	).Scan(&id)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("upsert weekly report: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.PerformanceReport{
		ID:                    id,
		WeeklyPlanID:          weeklyPlanID,
		AchievementPercentage: n.AchievementPercentage,
		Summary:               n.Summary,
		Strengths:             n.Strengths,
		Weaknesses:            n.Weaknesses,
		Recommendations:       n.Recommendations,
		GeneratedAt:           generatedAt,
	}, nil
}

func (r *reportRepo) UpsertMonthlyReport(ctx context.Context, monthlyPlanID int64, n *domain.Narrative, totals domain.TaskTotals, weekly []domain.WeekProgress) (*domain.MonthlyPerformanceReport, error) {
	lists, err := encodeLists(n)
	if err != nil {
		return nil, err
	}
	if weekly == nil {
		weekly = []domain.WeekProgress{}
	}
	progress, err := json.Marshal(weekly)
	if err != nil {
		return nil, fmt.Errorf("marshal weekly progress: %w", err)
	}
	generatedAt := r.now().UTC().Truncate(time.Millisecond)

	tx, err := r.data.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, r.data.rebind(`UPDATE monthly_plans SET achievement_percentage = ? WHERE id = ?`),
		n.AchievementPercentage, monthlyPlanID)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("update monthly plan percentage: %w", err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, rollback(tx, domain.ErrMonthlyPlanNotFound(monthlyPlanID))
	}

	var id int64
	err = tx.QueryRowContext(ctx, r.data.rebind(`
		INSERT INTO monthly_performance_reports
			(monthly_plan_id, achievement_percentage, summary, strengths, weaknesses, recommendations,
			 total_tasks, completed_tasks, weekly_progress, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (monthly_plan_id) DO UPDATE SET
			achievement_percentage = excluded.achievement_percentage,
			summary = excluded.summary,
			strengths = excluded.strengths,
			weaknesses = excluded.weaknesses,
			recommendations = excluded.recommendations,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			weekly_progress = excluded.weekly_progress,
			generated_at = excluded.generated_at
		RETURNING id`),
		monthlyPlanID, n.AchievementPercentage, n.Summary, lists[0], lists[1], lists[2],
		totals.TotalTasks, totals.CompletedTasks, string(progress), formatTime(generatedAt),
	).Scan(&id)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("upsert monthly report: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.MonthlyPerformanceReport{
		ID:                    id,
		MonthlyPlanID:         monthlyPlanID,
		AchievementPercentage: n.AchievementPercentage,
		Summary:               n.Summary,
		Strengths:             n.Strengths,
		Weaknesses:            n.Weaknesses,
		Recommendations:       n.Recommendations,
		TotalTasks:            totals.TotalTasks,
		CompletedTasks:        totals.CompletedTasks,
		WeeklyProgress:        weekly,
		GeneratedAt:           generatedAt,
	}, nil
}

func (r *reportRepo) GetWeeklyReport(ctx context.Context, weeklyPlanID int64) (*domain.PerformanceReport, error) {
	var (
		rp                             domain.PerformanceReport
		strengths, weaknesses, recs, g string
	)
	err := r.data.db.QueryRowContext(ctx, r.data.rebind(`
		SELECT id, weekly_plan_id, achievement_percentage, summary, strengths, weaknesses, recommendations, generated_at
		FROM weekly_performance_reports WHERE weekly_plan_id = ?`), weeklyPlanID,
	).Scan(&rp.ID, &rp.WeeklyPlanID, &rp.AchievementPercentage, &rp.Summary, &strengths, &weaknesses, &recs, &g)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReportNotFound("weekly", weeklyPlanID)
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly report %d: %w", weeklyPlanID, err)
	}
	if rp.Strengths, rp.Weaknesses, rp.Recommendations, err = decodeNarrativeLists(strengths, weaknesses, recs); err != nil {
		return nil, err
	}
	if rp.GeneratedAt, err = parseTime(g); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (r *reportRepo) GetMonthlyReport(ctx context.Context, monthlyPlanID int64) (*domain.MonthlyPerformanceReport, error) {
	var (
		rp                                       domain.MonthlyPerformanceReport
		strengths, weaknesses, recs, progress, g string
	)
	err := r.data.db.QueryRowContext(ctx, r.data.rebind(`
		SELECT id, monthly_plan_id, achievement_percentage, summary, strengths, weaknesses, recommendations,
		       total_tasks, completed_tasks, weekly_progress, generated_at
		FROM monthly_performance_reports WHERE monthly_plan_id = ?`), monthlyPlanID,
	).Scan(&rp.ID, &rp.MonthlyPlanID, &rp.AchievementPercentage, &rp.Summary, &strengths, &weaknesses, &recs,
		&rp.TotalTasks, &rp.CompletedTasks, &progress, &g)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReportNotFound("monthly", monthlyPlanID)
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly report %d: %w", monthlyPlanID, err)
	}
	if rp.Strengths, rp.Weaknesses, rp.Recommendations, err = decodeNarrativeLists(strengths, weaknesses, recs); err != nil {
		return nil, err
	}
	rp.WeeklyProgress = []domain.WeekProgress{}
	if err := json.Unmarshal([]byte(progress), &rp.WeeklyProgress); err != nil {
		return nil, fmt.Errorf("decode weekly progress: %w", err)
	}
	if rp.GeneratedAt, err = parseTime(g); err != nil {
		return nil, err
	}
	return &rp, nil
}

func encodeLists(n *domain.Narrative) ([3]string, error) {
	var out [3]string
	for i, l := range [][]string{n.Strengths, n.Weaknesses, n.Recommendations} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return out, fmt.Errorf("marshal narrative list: %w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func decodeList(raw string) ([]string, error) {
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode narrative list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func decodeNarrativeLists(strengths, weaknesses, recs string) (s, w, r []string, err error) {
	if s, err = decodeList(strengths); err != nil {
		return
	}
	if w, err = decodeList(weaknesses); err != nil {
		return
	}
	r, err = decodeList(recs)
	return
}
