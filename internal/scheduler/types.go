package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/iWorld-y/team_pulse/internal/domain"
)

// UnitStatus 工作单元在台账中的状态
type UnitStatus string

const (
	UnitRunning   UnitStatus = "running"
	UnitSucceeded UnitStatus = "succeeded"
	UnitFailed    UnitStatus = "failed"
)

// UnitRecord 工作单元的最近一次执行记录
type UnitRecord struct {
	Job        string
	UnitKey    string
	RunID      string
	Status     UnitStatus
	Attempts   int
	ErrorClass domain.ErrorClass
	LastError  string
	UpdatedAt  time.Time
}

// Ledger persists watermarks and unit outcomes so re-fired cadences stay idempotent.
type Ledger interface {
	// Watermark returns the last fully processed firing of a job.
	Watermark(ctx context.Context, job string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, job string, t time.Time) error
	// Unit returns nil when the unit has never run.
	Unit(ctx context.Context, job, unitKey string) (*UnitRecord, error)
	SaveUnit(ctx context.Context, rec *UnitRecord) error
	// ListUnits lists a job's units, optionally filtered by status.
	ListUnits(ctx context.Context, job string, status UnitStatus) ([]*UnitRecord, error)
}

// WorkUnit 一次调度触发中的单个处理目标
type WorkUnit struct {
	Key      string
	TenantID int64
	PlanID   int64
	Year     int
	Month    time.Month
	Week     int
}

func WeeklyUnit(p *domain.WeeklyPlan) WorkUnit {
	return WorkUnit{
		Key:      fmt.Sprintf("weekly:%d:%d-%02d-w%d", p.TenantID, p.Year, p.Month, p.WeekNumber),
		TenantID: p.TenantID,
		PlanID:   p.ID,
		Year:     p.Year,
		Month:    p.Month,
		Week:     p.WeekNumber,
	}
}

func MonthlyUnit(p *domain.MonthlyPlan) WorkUnit {
	return WorkUnit{
		Key:      fmt.Sprintf("monthly:%d:%d-%02d", p.TenantID, p.Year, p.Month),
		TenantID: p.TenantID,
		PlanID:   p.ID,
		Year:     p.Year,
		Month:    p.Month,
	}
}

// Handler 调度任务的业务实现：枚举工作单元并逐个执行
type Handler interface {
	Enumerate(ctx context.Context, firedAt time.Time) ([]WorkUnit, error)
	Execute(ctx context.Context, unit WorkUnit) error
}

// FireResult 一次触发的汇总
type FireResult struct {
	RunID     string
	Job       string
	FiredAt   time.Time
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}
