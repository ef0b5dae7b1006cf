package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/data"
	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/logger"
	"github.com/iWorld-y/team_pulse/internal/narrative"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
	"github.com/iWorld-y/team_pulse/internal/usecase"
)

type app struct {
	data    *data.Data
	weekly  *usecase.WeeklyReportUseCase
	monthly *usecase.MonthlyReportUseCase
	subs    *usecase.SubscriptionUseCase
	sched   *scheduler.Scheduler
}

func newApp(ctx context.Context, bc *conf.Bootstrap) (*app, func(), error) {
	kl := log.With(logger.NewKratosLogger(logger.Log), "service.name", "reportctl")

	d, cleanup, err := data.NewData(bc.Data, kl)
	if err != nil {
		return nil, nil, err
	}
	cm, err := narrative.NewChatModel(bc.Narrative)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	gen := narrative.NewGenerator(cm, bc.Narrative, kl)

	plans := data.NewPlanRepo(d, kl)
	reports := data.NewReportRepo(d, kl)
	tenants := data.NewTenantRepo(d, kl)
	agg := usecase.NewAggregator(data.NewTaskRepo(d, kl), reports, kl)
	locks := usecase.NewPlanLocks()
	a := &app{
		data:    d,
		weekly:  usecase.NewWeeklyReportUseCase(plans, reports, agg, gen, locks, kl),
		monthly: usecase.NewMonthlyReportUseCase(plans, reports, agg, gen, locks, kl),
		subs:    usecase.NewSubscriptionUseCase(tenants, data.NewNotifier(d, kl), kl),
	}
	handlers := usecase.NewJobHandlers(bc.Scheduler, plans, tenants, a.weekly, a.monthly, a.subs, kl)
	a.sched, err = scheduler.New(bc.Scheduler.Jobs, handlers, data.NewLedger(d, kl), scheduler.OptionsFromConf(bc.Scheduler), kl)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func planFlag(name string, args []string) (int64, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.Int64("plan", 0, "plan id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *id <= 0 {
		return 0, fmt.Errorf("-plan is required")
	}
	return *id, nil
}

func (a *app) weekly(ctx context.Context, args []string) (any, error) {
	id, err := planFlag("weekly", args)
	if err != nil {
		return nil, err
	}
	return a.weekly.Generate(ctx, id)
}

func (a *app) monthly(ctx context.Context, args []string) (any, error) {
	id, err := planFlag("monthly", args)
	if err != nil {
		return nil, err
	}
	return a.monthly.Generate(ctx, id)
}

func (a *app) sweep(ctx context.Context, args []string) (any, error) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	at := fs.String("at", "", "sweep instant, RFC3339")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	now, err := parseAt(*at)
	if err != nil {
		return nil, err
	}
	n, err := a.subs.Sweep(ctx, now)
	return map[string]int{"expired": n}, err
}

func (a *app) fire(ctx context.Context, args []string) (any, error) {
	fs := flag.NewFlagSet("fire", flag.ContinueOnError)
	job := fs.String("job", "", "job name")
	at := fs.String("at", "", "fire instant, RFC3339")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	firedAt, err := parseAt(*at)
	if err != nil {
		return nil, err
	}
	return a.sched.Fire(ctx, *job, firedAt)
}

func (a *app) units(ctx context.Context, args []string) (any, error) {
	fs := flag.NewFlagSet("units", flag.ContinueOnError)
	job := fs.String("job", "", "job name")
	status := fs.String("status", "", "pending|running|succeeded|failed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return a.sched.Units(ctx, *job, scheduler.UnitStatus(*status))
}

var demoWeekGoals = []string{"梳理需求", "完成核心接口", "联调与修复", "上线与复盘"}

// seed 写入一个演示租户：一个整月计划、三名员工、每周若干任务及其提交记录
func (a *app) seed(ctx context.Context, args []string) (any, error) {
	now := time.Now()
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	year := fs.Int("year", now.Year(), "plan year")
	month := fs.Int("month", int(now.Month()), "plan month")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *month < 1 || *month > 12 {
		return nil, fmt.Errorf("invalid month %d", *month)
	}
	m := time.Month(*month)

	w := data.NewPlanWriter(a.data)
	tenant := &domain.Tenant{Name: "demo", TimeZone: "Asia/Shanghai", WeekStartDay: time.Monday}
	if err := w.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	annual, err := w.CreateAnnualTarget(ctx, tenant.ID, *year, "年度交付目标")
	if err != nil {
		return nil, err
	}
	monthlyID, err := w.CreateMonthlyPlan(ctx, tenant, annual, *year, m, fmt.Sprintf("%d 月迭代", *month), demoWeekGoals)
	if err != nil {
		return nil, err
	}

	var employees []int64
	for _, name := range []string{"张三", "李四", "王五"} {
		id, err := w.CreateEmployee(ctx, tenant.ID, name)
		if err != nil {
			return nil, err
		}
		employees = append(employees, id)
	}
	for week := 1; week <= len(demoWeekGoals); week++ {
		for i, emp := range employees {
			status := domain.TaskCompleted
			if (week+i)%3 == 0 {
				status = domain.TaskInProgress
			}
			task, err := w.CreateTask(ctx, tenant.ID, fmt.Sprintf("第 %d 周任务 %d", week, i+1), *year, m, week, status)
			if err != nil {
				return nil, err
			}
			assignment, err := w.AssignTask(ctx, task, emp, status)
			if err != nil {
				return nil, err
			}
			if err := w.SubmitReport(ctx, assignment, fmt.Sprintf("第 %d 周进展：%s", week, status), now); err != nil {
				return nil, err
			}
		}
	}
	logger.Log.Infof("演示数据已写入: tenant=%d monthly_plan=%d", tenant.ID, monthlyID)
	return map[string]int64{"tenant_id": tenant.ID, "monthly_plan_id": monthlyID}, nil
}
