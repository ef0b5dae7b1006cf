package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

// WeeklyReportUseCase 周绩效报告：获取周计划 → 聚合 → 生成叙述 → 写入
type WeeklyReportUseCase struct {
	plans    repo.PlanRepo
	reports  repo.ReportRepo
	agg      *Aggregator
	narrator NarrativeGenerator
	locks    *PlanLocks
	log      *log.Helper
}

func NewWeeklyReportUseCase(plans repo.PlanRepo, reports repo.ReportRepo, agg *Aggregator,
	narrator NarrativeGenerator, locks *PlanLocks, logger log.Logger) *WeeklyReportUseCase {
	return &WeeklyReportUseCase{
		plans:    plans,
		reports:  reports,
		agg:      agg,
		narrator: narrator,
		locks:    locks,
		log:      log.NewHelper(log.With(logger, "module", "usecase/weekly")),
	}
}

// Generate 生成（或替换）周计划的绩效报告。失败时不写入任何数据。
func (uc *WeeklyReportUseCase) Generate(ctx context.Context, weeklyPlanID int64) (*domain.PerformanceReport, error) {
	release, err := uc.locks.Acquire(ctx, fmt.Sprintf("weekly:%d", weeklyPlanID))
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := uc.plans.GetWeeklyPlan(ctx, weeklyPlanID)
	if err != nil {
		return nil, err
	}
	facts, err := uc.agg.AggregateWeek(ctx, plan)
	if err != nil {
		return nil, err
	}
	n, err := uc.narrator.AnalyzeWeek(ctx, facts)
	if err == nil && n == nil {
		err = domain.ErrNarrativeMalformed(stderrors.New("empty narrative"))
	}
	if err != nil {
		return nil, narrativeError(err)
	}
	resolveNarrative(uc.log, n, facts.AchievementPercentage, "weekly_plan_id", weeklyPlanID)

	// Cancellation after the narrative discards it rather than storing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, err := uc.reports.UpsertWeeklyReport(ctx, plan.ID, n)
	if err != nil {
		return nil, err
	}
	uc.log.Infow("msg", "周报已生成", "tenant_id", plan.TenantID, "plan_id", plan.ID,
		"week", plan.WeekNumber, "achievement", report.AchievementPercentage)
	return report, nil
}

// Get 读取已生成的周报
func (uc *WeeklyReportUseCase) Get(ctx context.Context, weeklyPlanID int64) (*domain.PerformanceReport, error) {
	return uc.reports.GetWeeklyReport(ctx, weeklyPlanID)
}

// narrativeError guarantees generator failures carry a retryable class.
func narrativeError(err error) error {
	switch domain.Classify(err) {
	case domain.ClassInternal, domain.ClassNotFound, domain.ClassPreconditionFailed:
		return domain.ErrNarrativeUnavailable(err)
	}
	return err
}

// resolveNarrative falls back to the aggregated percentage when the generator
// omitted one, then clamps and fills empty lists.
func resolveNarrative(h *log.Helper, n *domain.Narrative, aggregated float64, planKey string, planID int64) {
	if math.IsNaN(n.AchievementPercentage) || math.IsInf(n.AchievementPercentage, 0) {
		h.Debugw("msg", "narrative omitted achievement, using aggregated value", planKey, planID, "aggregated", aggregated)
		n.AchievementPercentage = aggregated
	}
	raw := n.AchievementPercentage
	if n.Normalize() {
		h.Warnw("msg", "data inconsistency: achievement clamped", planKey, planID, "raw", raw, "clamped", n.AchievementPercentage)
	}
}
