package usecase

import (
	"context"
	"sync"

	"github.com/google/wire"
	"golang.org/x/sync/semaphore"

	"github.com/iWorld-y/team_pulse/internal/domain"
)

// ProviderSet is usecase providers.
var ProviderSet = wire.NewSet(
	NewAggregator,
	NewPlanLocks,
	NewWeeklyReportUseCase,
	NewMonthlyReportUseCase,
	NewSubscriptionUseCase,
	NewJobHandlers,
)

// NarrativeGenerator 外部叙述生成服务，可能超时、失败或返回残缺数据
type NarrativeGenerator interface {
	AnalyzeWeek(ctx context.Context, facts *domain.WeeklyFacts) (*domain.Narrative, error)
	AnalyzeMonth(ctx context.Context, facts *domain.MonthlyFacts, goal string) (*domain.Narrative, error)
}

// PlanLocks 按计划维度串行化 聚合→生成→写入 流程
type PlanLocks struct {
	mu    sync.Mutex
	locks map[string]*planLock
}

type planLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewPlanLocks() *PlanLocks {
	return &PlanLocks{locks: make(map[string]*planLock)}
}

// Acquire blocks until the key is free or ctx is done. The returned release
// must be called exactly once.
func (l *PlanLocks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &planLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	if err := pl.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, pl)
		return nil, err
	}
	return func() {
		pl.sem.Release(1)
		l.unref(key, pl)
	}, nil
}

func (l *PlanLocks) unref(key string, pl *planLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
}
