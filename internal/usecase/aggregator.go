package usecase

import (
	"context"
	"sort"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

// Aggregator 汇总周期内的任务与员工汇报，只读
type Aggregator struct {
	tasks   repo.TaskRepo
	reports repo.ReportRepo
	log     *log.Helper
}

func NewAggregator(tasks repo.TaskRepo, reports repo.ReportRepo, logger log.Logger) *Aggregator {
	return &Aggregator{
		tasks:   tasks,
		reports: reports,
		log:     log.NewHelper(log.With(logger, "module", "usecase/aggregator")),
	}
}

// AggregateWeek 汇总周计划对应周内的任务
func (a *Aggregator) AggregateWeek(ctx context.Context, plan *domain.WeeklyPlan) (*domain.WeeklyFacts, error) {
	tasks, err := a.tasks.ListTaskFacts(ctx, plan.TenantID, plan.Year, plan.Month, plan.WeekNumber)
	if err != nil {
		return nil, err
	}
	total, completed := countTasks(tasks)
	return &domain.WeeklyFacts{
		TenantID:              plan.TenantID,
		WeeklyPlanID:          plan.ID,
		WeekNumber:            plan.WeekNumber,
		Goal:                  plan.Goal,
		TotalTasks:            total,
		CompletedTasks:        completed,
		AchievementPercentage: domain.AchievementPercentage(completed, total),
		PerEmployeeReports:    employeeReports(tasks, plan.Goal),
	}, nil
}

// AggregateMonth 汇总整月任务，并复用已生成周报的完成度与总结，缺失的周记为 0
func (a *Aggregator) AggregateMonth(ctx context.Context, plan *domain.MonthlyPlan, weeks []*domain.WeeklyPlan) (*domain.MonthlyFacts, error) {
	tasks, err := a.tasks.ListTaskFacts(ctx, plan.TenantID, plan.Year, plan.Month, 0)
	if err != nil {
		return nil, err
	}
	total, completed := countTasks(tasks)
	facts := &domain.MonthlyFacts{
		TenantID:              plan.TenantID,
		MonthlyPlanID:         plan.ID,
		Year:                  plan.Year,
		Month:                 plan.Month,
		TotalTasks:            total,
		CompletedTasks:        completed,
		AchievementPercentage: domain.AchievementPercentage(completed, total),
		WeeklySummaries:       []string{},
		AllEmployeeReports:    employeeReports(tasks, ""),
	}

	for _, w := range weeks {
		if w.WeekNumber < 1 || w.WeekNumber > domain.WeeksPerMonth {
			continue
		}
		report, err := a.reports.GetWeeklyReport(ctx, w.ID)
		if errors.IsNotFound(err) {
			a.log.Debugf("monthly plan %d: week %d has no report yet", plan.ID, w.WeekNumber)
			continue
		}
		if err != nil {
			return nil, err
		}
		facts.WeeklyAchievements[w.WeekNumber-1] = domain.ClampPercentage(report.AchievementPercentage)
		if report.Summary != "" {
			facts.WeeklySummaries = append(facts.WeeklySummaries, report.Summary)
		}
	}
	return facts, nil
}

func countTasks(tasks []*domain.TaskFact) (total, completed int) {
	for _, t := range tasks {
		total++
		if t.Status == domain.TaskCompleted {
			completed++
		}
	}
	return total, completed
}

// employeeReports groups assignments by employee. An assignment counts as
// completed when either it or its task is completed.
func employeeReports(tasks []*domain.TaskFact, goal string) []domain.EmployeeReport {
	byID := make(map[int64]*domain.EmployeeReport)
	for _, t := range tasks {
		for _, as := range t.Assignments {
			er, ok := byID[as.EmployeeID]
			if !ok {
				er = &domain.EmployeeReport{
					EmployeeID:  as.EmployeeID,
					Name:        as.EmployeeName,
					ReportTexts: []string{},
					WeeklyGoal:  goal,
				}
				byID[as.EmployeeID] = er
			}
			er.TaskCount++
			if as.Status == domain.TaskCompleted || t.Status == domain.TaskCompleted {
				er.CompletedCount++
			}
			for _, r := range as.Reports {
				er.ReportTexts = append(er.ReportTexts, r.Content)
			}
		}
	}

	out := make([]domain.EmployeeReport, 0, len(byID))
	for _, er := range byID {
		out = append(out, *er)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}
