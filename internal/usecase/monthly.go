package usecase

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

// MonthlyReportUseCase 月度绩效报告，要求 4 个周计划齐全
type MonthlyReportUseCase struct {
	plans    repo.PlanRepo
	reports  repo.ReportRepo
	agg      *Aggregator
	narrator NarrativeGenerator
	locks    *PlanLocks
	log      *log.Helper
}

func NewMonthlyReportUseCase(plans repo.PlanRepo, reports repo.ReportRepo, agg *Aggregator,
	narrator NarrativeGenerator, locks *PlanLocks, logger log.Logger) *MonthlyReportUseCase {
	return &MonthlyReportUseCase{
		plans:    plans,
		reports:  reports,
		agg:      agg,
		narrator: narrator,
		locks:    locks,
		log:      log.NewHelper(log.With(logger, "module", "usecase/monthly")),
	}
}

// Generate 生成（或替换）月计划的绩效报告
func (uc *MonthlyReportUseCase) Generate(ctx context.Context, monthlyPlanID int64) (*domain.MonthlyPerformanceReport, error) {
	release, err := uc.locks.Acquire(ctx, fmt.Sprintf("monthly:%d", monthlyPlanID))
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := uc.plans.GetMonthlyPlan(ctx, monthlyPlanID)
	if err != nil {
		return nil, err
	}
	weeks, err := uc.plans.ListWeeklyPlans(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	if have := distinctWeeks(weeks); have < domain.WeeksPerMonth {
		return nil, domain.ErrWeeklyPlansIncomplete(plan.ID, have)
	}

	facts, err := uc.agg.AggregateMonth(ctx, plan, weeks)
	if err != nil {
		return nil, err
	}
	n, err := uc.narrator.AnalyzeMonth(ctx, facts, plan.Goal)
	if err == nil && n == nil {
		err = domain.ErrNarrativeMalformed(stderrors.New("empty narrative"))
	}
	if err != nil {
		return nil, narrativeError(err)
	}
	resolveNarrative(uc.log, n, facts.AchievementPercentage, "monthly_plan_id", monthlyPlanID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress := make([]domain.WeekProgress, 0, domain.WeeksPerMonth)
	for i, pct := range facts.WeeklyAchievements {
		progress = append(progress, domain.WeekProgress{WeekNumber: i + 1, AchievementPercentage: pct})
	}
	totals := domain.TaskTotals{TotalTasks: facts.TotalTasks, CompletedTasks: facts.CompletedTasks}
	report, err := uc.reports.UpsertMonthlyReport(ctx, plan.ID, n, totals, progress)
	if err != nil {
		return nil, err
	}
	uc.log.Infow("msg", "月报已生成", "tenant_id", plan.TenantID, "plan_id", plan.ID,
		"month", fmt.Sprintf("%d-%02d", plan.Year, plan.Month), "achievement", report.AchievementPercentage)
	return report, nil
}

// Get 读取已生成的月报
func (uc *MonthlyReportUseCase) Get(ctx context.Context, monthlyPlanID int64) (*domain.MonthlyPerformanceReport, error) {
	return uc.reports.GetMonthlyReport(ctx, monthlyPlanID)
}

func distinctWeeks(weeks []*domain.WeeklyPlan) int {
	var seen [domain.WeeksPerMonth + 1]bool
	n := 0
	for _, w := range weeks {
		if w.WeekNumber >= 1 && w.WeekNumber <= domain.WeeksPerMonth && !seen[w.WeekNumber] {
			seen[w.WeekNumber] = true
			n++
		}
	}
	return n
}
