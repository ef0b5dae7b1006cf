package repo

import (
	"context"
	"time"

	"github.com/iWorld-y/team_pulse/internal/domain"
)

// PlanRepo 计划层级的只读访问（由规划子系统写入）
type PlanRepo interface {
	// GetWeeklyPlan 获取周计划，不存在时返回 NotFound
	GetWeeklyPlan(ctx context.Context, id int64) (*domain.WeeklyPlan, error)
	// GetMonthlyPlan 获取月计划，不存在时返回 NotFound
	GetMonthlyPlan(ctx context.Context, id int64) (*domain.MonthlyPlan, error)
	// ListWeeklyPlans 按周序号列出月计划下的周计划
	ListWeeklyPlans(ctx context.Context, monthlyPlanID int64) ([]*domain.WeeklyPlan, error)
	// FindMonthlyPlan 根据租户和年月查找月计划，不存在时返回 (nil, nil)
	FindMonthlyPlan(ctx context.Context, tenantID int64, year int, month time.Month) (*domain.MonthlyPlan, error)
	// ListWeeklyPlansEndedBetween 列出周结束时间落在 (from, to] 的周计划
	ListWeeklyPlansEndedBetween(ctx context.Context, from, to time.Time) ([]*domain.WeeklyPlan, error)
}

// TaskRepo 任务事实的只读访问
type TaskRepo interface {
	// ListTaskFacts 列出租户某月的任务；week 为 0 时返回整月
	ListTaskFacts(ctx context.Context, tenantID int64, year int, month time.Month, week int) ([]*domain.TaskFact, error)
}

// ReportRepo 绩效报告存储，每个计划最多一份报告
type ReportRepo interface {
	// UpsertWeeklyReport 原子地替换周报并同步周计划上的缓存完成度
	UpsertWeeklyReport(ctx context.Context, weeklyPlanID int64, n *domain.Narrative) (*domain.PerformanceReport, error)
	// UpsertMonthlyReport 原子地替换月报并同步月计划上的缓存完成度
	UpsertMonthlyReport(ctx context.Context, monthlyPlanID int64, n *domain.Narrative, totals domain.TaskTotals, weekly []domain.WeekProgress) (*domain.MonthlyPerformanceReport, error)
	GetWeeklyReport(ctx context.Context, weeklyPlanID int64) (*domain.PerformanceReport, error)
	GetMonthlyReport(ctx context.Context, monthlyPlanID int64) (*domain.MonthlyPerformanceReport, error)
}

// TenantRepo 租户与订阅状态
type TenantRepo interface {
	GetTenant(ctx context.Context, id int64) (*domain.Tenant, error)
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)
	// ListExpiredSubscriptions 列出订阅已到期但状态仍为 active 的租户
	ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]*domain.Tenant, error)
	// ExpireSubscription 把 active 订阅置为 expired，返回是否真的发生了状态变化
	ExpireSubscription(ctx context.Context, tenantID int64) (bool, error)
}

// Notifier 通知出口，调用方不依赖其成功
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}
