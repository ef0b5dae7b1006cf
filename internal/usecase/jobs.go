package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/period"
	"github.com/iWorld-y/team_pulse/internal/repo"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

// NewJobHandlers 按任务名注册调度处理器
func NewJobHandlers(c *conf.Scheduler, plans repo.PlanRepo, tenants repo.TenantRepo,
	weekly *WeeklyReportUseCase, monthly *MonthlyReportUseCase, subs *SubscriptionUseCase, logger log.Logger) map[string]scheduler.Handler {
	helper := log.NewHelper(log.With(logger, "module", "usecase/jobs"))
	return map[string]scheduler.Handler{
		conf.JobWeeklyReports: &weeklyJob{
			plans:    plans,
			uc:       weekly,
			lookback: conf.Duration(c.WeeklyLookback, 14*24*time.Hour),
		},
		conf.JobMonthlyReports: &monthlyJob{
			tenants: tenants,
			plans:   plans,
			uc:      monthly,
			log:     helper,
		},
		conf.JobSubscriptionExpiry: &subscriptionJob{uc: subs},
	}
}

// weeklyJob picks up weekly plans whose window closed within the lookback.
type weeklyJob struct {
	plans    repo.PlanRepo
	uc       *WeeklyReportUseCase
	lookback time.Duration
}

func (j *weeklyJob) Enumerate(ctx context.Context, firedAt time.Time) ([]scheduler.WorkUnit, error) {
	plans, err := j.plans.ListWeeklyPlansEndedBetween(ctx, firedAt.Add(-j.lookback), firedAt)
	if err != nil {
		return nil, err
	}
	units := make([]scheduler.WorkUnit, 0, len(plans))
	for _, p := range plans {
		units = append(units, scheduler.WeeklyUnit(p))
	}
	return units, nil
}

func (j *weeklyJob) Execute(ctx context.Context, u scheduler.WorkUnit) error {
	_, err := j.uc.Generate(ctx, u.PlanID)
	return err
}

// monthlyJob reports on the month preceding the firing in each tenant's zone.
type monthlyJob struct {
	tenants repo.TenantRepo
	plans   repo.PlanRepo
	uc      *MonthlyReportUseCase
	log     *log.Helper
}

func (j *monthlyJob) Enumerate(ctx context.Context, firedAt time.Time) ([]scheduler.WorkUnit, error) {
	tenants, err := j.tenants.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	var units []scheduler.WorkUnit
	for _, t := range tenants {
		year, month := period.PreviousMonth(firedAt.In(t.Location()))
		plan, err := j.plans.FindMonthlyPlan(ctx, t.ID, year, month)
		if err != nil {
			// One tenant's lookup failure must not hide the others' units.
			j.log.Errorf("tenant %d: find monthly plan %d-%02d: %v", t.ID, year, month, err)
			continue
		}
		if plan == nil {
			j.log.Debugf("tenant %d has no monthly plan for %d-%02d", t.ID, year, month)
			continue
		}
		units = append(units, scheduler.MonthlyUnit(plan))
	}
	return units, nil
}

func (j *monthlyJob) Execute(ctx context.Context, u scheduler.WorkUnit) error {
	_, err := j.uc.Generate(ctx, u.PlanID)
	return err
}

type subscriptionJob struct {
	uc *SubscriptionUseCase
}

func (j *subscriptionJob) Enumerate(ctx context.Context, firedAt time.Time) ([]scheduler.WorkUnit, error) {
	tenants, err := j.uc.ExpiredTenants(ctx, firedAt)
	if err != nil {
		return nil, err
	}
	units := make([]scheduler.WorkUnit, 0, len(tenants))
	for _, t := range tenants {
		end := ""
		if t.SubscriptionEndAt != nil {
			end = t.SubscriptionEndAt.UTC().Format(time.RFC3339)
		}
		units = append(units, scheduler.WorkUnit{
			Key:      fmt.Sprintf("subscription:%d:%s", t.ID, end),
			TenantID: t.ID,
		})
	}
	return units, nil
}

func (j *subscriptionJob) Execute(ctx context.Context, u scheduler.WorkUnit) error {
	_, err := j.uc.Expire(ctx, u.TenantID)
	return err
}
