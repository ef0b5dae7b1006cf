package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/go-cmp/cmp"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/data"
	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

// fakeNarrator 可编排的叙述生成器
type fakeNarrator struct {
	mu        sync.Mutex
	narrative domain.Narrative
	err       error
	weekFacts []*domain.WeeklyFacts
	monthFact []*domain.MonthlyFacts
	goals     []string

	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeNarrator) enter() func() {
	n := f.inflight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeNarrator) result() (*domain.Narrative, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := f.narrative
	return &n, nil
}

func (f *fakeNarrator) AnalyzeWeek(ctx context.Context, facts *domain.WeeklyFacts) (*domain.Narrative, error) {
	defer f.enter()()
	f.mu.Lock()
	f.weekFacts = append(f.weekFacts, facts)
	f.mu.Unlock()
	return f.result()
}

func (f *fakeNarrator) AnalyzeMonth(ctx context.Context, facts *domain.MonthlyFacts, goal string) (*domain.Narrative, error) {
	defer f.enter()()
	f.mu.Lock()
	f.monthFact = append(f.monthFact, facts)
	f.goals = append(f.goals, goal)
	f.mu.Unlock()
	return f.result()
}

type env struct {
	data     *data.Data
	writer   *data.PlanWriter
	narrator *fakeNarrator
	weekly   *WeeklyReportUseCase
	monthly  *MonthlyReportUseCase
	subs     *SubscriptionUseCase
	handlers map[string]scheduler.Handler
	tenant   *domain.Tenant
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d, err := data.Open("sqlite", filepath.Join(t.TempDir(), "usecase.db"))
	if err != nil {
		t.Fatalf("data.Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })

	logger := log.DefaultLogger
	plans := data.NewPlanRepo(d, logger)
	reports := data.NewReportRepo(d, logger)
	tenants := data.NewTenantRepo(d, logger)
	agg := NewAggregator(data.NewTaskRepo(d, logger), reports, logger)
	locks := NewPlanLocks()
	narrator := &fakeNarrator{narrative: domain.Narrative{AchievementPercentage: math.NaN(), Summary: "ok"}}

	e := &env{
		data:     d,
		writer:   data.NewPlanWriter(d),
		narrator: narrator,
		weekly:   NewWeeklyReportUseCase(plans, reports, agg, narrator, locks, logger),
		monthly:  NewMonthlyReportUseCase(plans, reports, agg, narrator, locks, logger),
		subs:     NewSubscriptionUseCase(tenants, data.NewNotifier(d, logger), logger),
	}
	e.handlers = NewJobHandlers(&conf.Scheduler{WeeklyLookback: "336h"}, plans, tenants, e.weekly, e.monthly, e.subs, logger)

	e.tenant = &domain.Tenant{Name: "acme", TimeZone: "Asia/Shanghai", WeekStartDay: time.Sunday}
	if err := e.writer.CreateTenant(context.Background(), e.tenant); err != nil {
		t.Fatal(err)
	}
	return e
}

// planMonth plans January 2025 with the given number of weekly plans and
// returns the monthly plan id plus weekly plan ids by week number.
func (e *env) planMonth(t *testing.T, weeks int) (int64, map[int]int64) {
	t.Helper()
	ctx := context.Background()
	annualID, err := e.writer.CreateAnnualTarget(ctx, e.tenant.ID, 2025, "年度目标")
	if err != nil {
		t.Fatal(err)
	}
	goals := make([]string, weeks)
	for i := range goals {
		goals[i] = fmt.Sprintf("第%d周目标", i+1)
	}
	monthlyID, err := e.writer.CreateMonthlyPlan(ctx, e.tenant, annualID, 2025, time.January, "一月目标", goals)
	if err != nil {
		t.Fatal(err)
	}
	var ids = map[int]int64{}
	rows, err := e.data.DB().Query(`SELECT id, week_number FROM weekly_plans WHERE monthly_plan_id = ?`, monthlyID)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			t.Fatal(err)
		}
		ids[n] = id
	}
	return monthlyID, ids
}

// addTasks creates total tasks in the given week, the first completed of them done.
func (e *env) addTasks(t *testing.T, week, total, completed int) {
	t.Helper()
	ctx := context.Background()
	emp, err := e.writer.CreateEmployee(ctx, e.tenant.ID, fmt.Sprintf("emp-w%d", week))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < total; i++ {
		status := domain.TaskInProgress
		if i < completed {
			status = domain.TaskCompleted
		}
		taskID, err := e.writer.CreateTask(ctx, e.tenant.ID, fmt.Sprintf("task-%d-%d", week, i), 2025, time.January, week, status)
		if err != nil {
			t.Fatal(err)
		}
		assignID, err := e.writer.AssignTask(ctx, taskID, emp, status)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.writer.SubmitReport(ctx, assignID, fmt.Sprintf("report %d", i), time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *env) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := e.data.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestWeeklyGenerateSeventyPercent(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.addTasks(t, 2, 10, 7)

	report, err := e.weekly.Generate(context.Background(), weeks[2])
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if report.AchievementPercentage != 70 {
		t.Errorf("AchievementPercentage = %v, want 70", report.AchievementPercentage)
	}
	facts := e.narrator.weekFacts[0]
	if facts.TotalTasks != 10 || facts.CompletedTasks != 7 || facts.Goal != "第2周目标" {
		t.Errorf("facts = %+v", facts)
	}
	if len(facts.PerEmployeeReports) != 1 || len(facts.PerEmployeeReports[0].ReportTexts) != 10 {
		t.Errorf("per-employee reports = %+v", facts.PerEmployeeReports)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_plans WHERE id = ? AND achievement_percentage = 70`, weeks[2]); got != 1 {
		t.Errorf("cached plan percentage not updated")
	}
}

func TestWeeklyGenerateZeroTasks(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)

	report, err := e.weekly.Generate(context.Background(), weeks[1])
	if err != nil {
		t.Fatal(err)
	}
	if report.AchievementPercentage != 0 {
		t.Errorf("AchievementPercentage = %v, want 0", report.AchievementPercentage)
	}
}

func TestWeeklyGenerateNullListsStoredEmpty(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.narrator.narrative = domain.Narrative{AchievementPercentage: 55, Summary: "s"}

	if _, err := e.weekly.Generate(context.Background(), weeks[1]); err != nil {
		t.Fatal(err)
	}
	got, err := e.weekly.Get(context.Background(), weeks[1])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{}, got.Strengths); diff != "" {
		t.Errorf("Strengths mismatch (-want +got):\n%s", diff)
	}
	if got.Weaknesses == nil || got.Recommendations == nil {
		t.Errorf("lists not normalized: %+v", got)
	}
}

func TestWeeklyGenerateClampsOutOfRange(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.narrator.narrative = domain.Narrative{AchievementPercentage: 150}

	report, err := e.weekly.Generate(context.Background(), weeks[1])
	if err != nil {
		t.Fatal(err)
	}
	if report.AchievementPercentage != 100 {
		t.Errorf("AchievementPercentage = %v, want 100", report.AchievementPercentage)
	}
}

func TestWeeklyGenerateIsIdempotent(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.addTasks(t, 1, 4, 1)

	first, err := e.weekly.Generate(context.Background(), weeks[1])
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.weekly.Generate(context.Background(), weeks[1])
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || first.AchievementPercentage != second.AchievementPercentage {
		t.Errorf("re-run differs: %+v vs %+v", first, second)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_performance_reports`); got != 1 {
		t.Errorf("report rows = %d, want 1", got)
	}
}

func TestWeeklyGenerateConcurrentTriggersProduceOneReport(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.narrator.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.weekly.Generate(context.Background(), weeks[3]); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := e.count(t, `SELECT COUNT(*) FROM weekly_performance_reports WHERE weekly_plan_id = ?`, weeks[3]); got != 1 {
		t.Errorf("report rows = %d, want 1", got)
	}
	if p := e.narrator.peak.Load(); p != 1 {
		t.Errorf("peak concurrent generations for one plan = %d, want 1", p)
	}
}

func TestWeeklyGenerateNarrativeFailurePersistsNothing(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	e.narrator.err = errors.New("connection reset by peer")

	_, err := e.weekly.Generate(context.Background(), weeks[1])
	if got := domain.Classify(err); got != domain.ClassTransientUpstream {
		t.Fatalf("Classify(%v) = %s, want transient_upstream", err, got)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_performance_reports`); got != 0 {
		t.Errorf("report rows = %d, want 0", got)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_plans WHERE achievement_percentage IS NOT NULL`); got != 0 {
		t.Errorf("cached percentage written despite failure")
	}
}

func TestWeeklyGenerateUnknownPlan(t *testing.T) {
	e := newEnv(t)
	_, err := e.weekly.Generate(context.Background(), 404)
	if !kerrors.IsNotFound(err) {
		t.Errorf("Generate() error = %v, want NotFound", err)
	}
	if _, err := e.weekly.Get(context.Background(), 404); !kerrors.IsNotFound(err) {
		t.Errorf("Get() error = %v, want NotFound", err)
	}
}

func TestWeeklyGenerateCancelled(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.weekly.Generate(ctx, weeks[1])
	if domain.Classify(err) != domain.ClassCancelled {
		t.Errorf("Generate() error = %v, want cancelled", err)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_performance_reports`); got != 0 {
		t.Errorf("report rows = %d, want 0", got)
	}
}

func TestMonthlyGenerateRequiresFourWeeks(t *testing.T) {
	e := newEnv(t)
	monthlyID, _ := e.planMonth(t, 3)

	_, err := e.monthly.Generate(context.Background(), monthlyID)
	if domain.Classify(err) != domain.ClassPreconditionFailed {
		t.Fatalf("Generate() error = %v, want precondition_failed", err)
	}
	if kerrors.Reason(err) != domain.ReasonWeeklyPlansIncomplete {
		t.Errorf("reason = %s", kerrors.Reason(err))
	}
	if len(e.narrator.monthFact) != 0 {
		t.Error("narrator invoked despite failed precondition")
	}
	if got := e.count(t, `SELECT COUNT(*) FROM monthly_performance_reports`); got != 0 {
		t.Errorf("report rows = %d, want 0", got)
	}
}

func TestMonthlyGenerateRollsUpWeeks(t *testing.T) {
	e := newEnv(t)
	monthlyID, weeks := e.planMonth(t, 4)
	e.addTasks(t, 1, 4, 4)
	e.addTasks(t, 2, 4, 2)
	ctx := context.Background()

	e.narrator.narrative = domain.Narrative{AchievementPercentage: math.NaN(), Summary: "week"}
	for _, wn := range []int{1, 2} {
		if _, err := e.weekly.Generate(ctx, weeks[wn]); err != nil {
			t.Fatal(err)
		}
	}
	e.narrator.narrative = domain.Narrative{AchievementPercentage: math.NaN(), Summary: "month"}

	report, err := e.monthly.Generate(ctx, monthlyID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []domain.WeekProgress{
		{WeekNumber: 1, AchievementPercentage: 100},
		{WeekNumber: 2, AchievementPercentage: 50},
		{WeekNumber: 3, AchievementPercentage: 0},
		{WeekNumber: 4, AchievementPercentage: 0},
	}
	if diff := cmp.Diff(want, report.WeeklyProgress); diff != "" {
		t.Errorf("WeeklyProgress mismatch (-want +got):\n%s", diff)
	}
	if report.TotalTasks != 8 || report.CompletedTasks != 6 || report.AchievementPercentage != 75 {
		t.Errorf("report = %+v", report)
	}
	if e.goalsLast() != "一月目标" {
		t.Errorf("monthly goal passed = %q", e.goalsLast())
	}
	facts := e.narrator.monthFact[0]
	if len(facts.WeeklySummaries) != 2 || len(facts.AllEmployeeReports) != 2 {
		t.Errorf("monthly facts = %+v", facts)
	}

	stored, err := e.monthly.Get(ctx, monthlyID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != report.ID {
		t.Errorf("Get() id = %d, want %d", stored.ID, report.ID)
	}
}

func (e *env) goalsLast() string {
	if len(e.narrator.goals) == 0 {
		return ""
	}
	return e.narrator.goals[len(e.narrator.goals)-1]
}

func TestWeeklyJobEnumeratesClosedWeeks(t *testing.T) {
	e := newEnv(t)
	_, weeks := e.planMonth(t, 4)
	h := e.handlers[conf.JobWeeklyReports]

	// Week 1 (Jan 1-7, Shanghai) closes at 2025-01-07T15:59:59.999Z.
	firedAt := time.Date(2025, 1, 8, 0, 30, 0, 0, time.UTC)
	units, err := h.Enumerate(context.Background(), firedAt)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].PlanID != weeks[1] {
		t.Fatalf("Enumerate() = %+v, want week 1 only", units)
	}
	if want := fmt.Sprintf("weekly:%d:2025-01-w1", e.tenant.ID); units[0].Key != want {
		t.Errorf("unit key = %s, want %s", units[0].Key, want)
	}
	if err := h.Execute(context.Background(), units[0]); err != nil {
		t.Fatal(err)
	}
	if got := e.count(t, `SELECT COUNT(*) FROM weekly_performance_reports`); got != 1 {
		t.Errorf("report rows = %d, want 1", got)
	}
}

func TestMonthlyJobEnumeratesPreviousMonth(t *testing.T) {
	e := newEnv(t)
	monthlyID, _ := e.planMonth(t, 4)
	h := e.handlers[conf.JobMonthlyReports]

	// 2025-02-01 02:00 Shanghai is 2025-01-31T18:00Z; the previous month in
	// the tenant zone is still January.
	units, err := h.Enumerate(context.Background(), time.Date(2025, 1, 31, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].PlanID != monthlyID {
		t.Fatalf("Enumerate() = %+v, want monthly plan %d", units, monthlyID)
	}
	if err := h.Execute(context.Background(), units[0]); err != nil {
		t.Fatal(err)
	}

	// A month without a plan yields no units.
	units, err = h.Enumerate(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || len(units) != 0 {
		t.Errorf("Enumerate() = %v, %v; want none", units, err)
	}
}

// brokenTenantPlans fails monthly plan lookups for one tenant.
type brokenTenantPlans struct {
	repo.PlanRepo
	tenantID int64
}

func (b *brokenTenantPlans) FindMonthlyPlan(ctx context.Context, tenantID int64, year int, month time.Month) (*domain.MonthlyPlan, error) {
	if tenantID == b.tenantID {
		return nil, errors.New("connection reset by peer")
	}
	return b.PlanRepo.FindMonthlyPlan(ctx, tenantID, year, month)
}

func TestMonthlyJobSkipsTenantWhoseLookupFails(t *testing.T) {
	e := newEnv(t)
	monthlyID, _ := e.planMonth(t, 4)
	ctx := context.Background()
	broken := &domain.Tenant{Name: "broken", TimeZone: "Asia/Shanghai"}
	if err := e.writer.CreateTenant(ctx, broken); err != nil {
		t.Fatal(err)
	}

	logger := log.DefaultLogger
	h := &monthlyJob{
		tenants: data.NewTenantRepo(e.data, logger),
		plans:   &brokenTenantPlans{PlanRepo: data.NewPlanRepo(e.data, logger), tenantID: broken.ID},
		uc:      e.monthly,
		log:     log.NewHelper(logger),
	}
	units, err := h.Enumerate(ctx, time.Date(2025, 1, 31, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(units) != 1 || units[0].PlanID != monthlyID || units[0].TenantID != e.tenant.ID {
		t.Fatalf("Enumerate() = %+v, want only monthly plan %d", units, monthlyID)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(ctx context.Context, n *domain.Notification) error {
	f.calls++
	return errors.New("smtp down")
}

func TestSubscriptionSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lapsed := &domain.Tenant{Name: "lapsed", SubscriptionEndAt: &end}
	if err := e.writer.CreateTenant(ctx, lapsed); err != nil {
		t.Fatal(err)
	}
	h := e.handlers[conf.JobSubscriptionExpiry]
	now := end.AddDate(0, 0, 1)

	units, err := h.Enumerate(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].TenantID != lapsed.ID {
		t.Fatalf("Enumerate() = %+v", units)
	}
	if err := h.Execute(ctx, units[0]); err != nil {
		t.Fatal(err)
	}
	// Re-running on an expired tenant is a no-op.
	if err := h.Execute(ctx, units[0]); err != nil {
		t.Fatal(err)
	}
	notes, err := data.ListNotifications(ctx, e.data, lapsed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Type != NotificationSubscriptionExpired || notes[0].Priority != domain.PriorityHigh {
		t.Errorf("notifications = %+v", notes)
	}
	if units, _ := h.Enumerate(ctx, now); len(units) != 0 {
		t.Errorf("expired tenant enumerated again: %+v", units)
	}
}

func TestSubscriptionExpireSwallowsNotifyFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lapsed := &domain.Tenant{Name: "lapsed", SubscriptionEndAt: &end}
	if err := e.writer.CreateTenant(ctx, lapsed); err != nil {
		t.Fatal(err)
	}
	notifier := &failingNotifier{}
	uc := NewSubscriptionUseCase(data.NewTenantRepo(e.data, log.DefaultLogger), notifier, log.DefaultLogger)

	expired, err := uc.Sweep(ctx, end.AddDate(0, 0, 1))
	if err != nil || expired != 1 {
		t.Fatalf("Sweep() = %d, %v; want 1, nil", expired, err)
	}
	if notifier.calls != 1 {
		t.Errorf("notify calls = %d, want 1", notifier.calls)
	}
}

func TestPlanLocksReleaseOnCancel(t *testing.T) {
	locks := NewPlanLocks()
	release, err := locks.Acquire(context.Background(), "weekly:1")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "weekly:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Acquire() error = %v, want deadline exceeded", err)
	}
	release()

	if _, err := locks.Acquire(context.Background(), "weekly:2"); err != nil {
		t.Errorf("independent key blocked: %v", err)
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if _, ok := locks.locks["weekly:1"]; ok {
		t.Error("released key still tracked")
	}
}
