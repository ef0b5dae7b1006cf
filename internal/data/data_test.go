package data

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/go-cmp/cmp"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

func openTestData(t *testing.T) *Data {
	t.Helper()
	d, err := Open("sqlite", filepath.Join(t.TempDir(), "team_pulse.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

type fixture struct {
	tenant    *domain.Tenant
	monthlyID int64
	weekly    []*domain.WeeklyPlan
}

// seedMonth creates a Shanghai tenant with January 2025 fully planned.
func seedMonth(t *testing.T, d *Data, weeks int) *fixture {
	t.Helper()
	ctx := context.Background()
	w := NewPlanWriter(d)
	tenant := &domain.Tenant{Name: "acme", TimeZone: "Asia/Shanghai", WeekStartDay: time.Sunday}
	if err := w.CreateTenant(ctx, tenant); err != nil {
		t.Fatal(err)
	}
	annualID, err := w.CreateAnnualTarget(ctx, tenant.ID, 2025, "年度营收翻倍")
	if err != nil {
		t.Fatal(err)
	}
	goals := []string{"w1", "w2", "w3", "w4"}[:weeks]
	monthlyID, err := w.CreateMonthlyPlan(ctx, tenant, annualID, 2025, time.January, "一月冲刺", goals)
	if err != nil {
		t.Fatal(err)
	}
	plans, err := NewPlanRepo(d, log.DefaultLogger).ListWeeklyPlans(ctx, monthlyID)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{tenant: tenant, monthlyID: monthlyID, weekly: plans}
}

func TestRebind(t *testing.T) {
	pg := &Data{dialect: "postgres"}
	if got, want := pg.rebind("a = ? AND b = ?"), "a = $1 AND b = $2"; got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
	lite := &Data{dialect: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind() = %q", got)
	}
	if dialectOf("pgx") != "postgres" || dialectOf("sqlite") != "sqlite" {
		t.Error("dialectOf mismatch")
	}
}

func TestCreateMonthlyPlanStampsWindows(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)

	if len(f.weekly) != 4 {
		t.Fatalf("weekly plans = %d, want 4", len(f.weekly))
	}
	loc, _ := time.LoadLocation("Asia/Shanghai")
	w1, w4 := f.weekly[0], f.weekly[3]
	if want := time.Date(2025, 1, 1, 0, 0, 0, 0, loc); !w1.WeekStartDate.Equal(want) {
		t.Errorf("week1 start = %v, want %v", w1.WeekStartDate, want)
	}
	if want := time.Date(2025, 1, 31, 23, 59, 59, 999_000_000, loc); !w4.WeekEndDate.Equal(want) {
		t.Errorf("week4 end = %v, want %v", w4.WeekEndDate, want)
	}
	if w1.TenantID != f.tenant.ID || w1.Year != 2025 || w1.Month != time.January {
		t.Errorf("week1 header = %+v", w1)
	}
}

func TestListWeeklyPlansEndedBetween(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	repo := NewPlanRepo(d, log.DefaultLogger)

	w2End := f.weekly[1].WeekEndDate
	got, err := repo.ListWeeklyPlansEndedBetween(context.Background(), w2End.Add(-time.Hour), w2End.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].WeekNumber != 2 {
		t.Fatalf("ListWeeklyPlansEndedBetween() = %v, want week 2 only", got)
	}

	// The lower bound is exclusive.
	got, _ = repo.ListWeeklyPlansEndedBetween(context.Background(), w2End, w2End.Add(time.Hour))
	if len(got) != 0 {
		t.Errorf("exclusive lower bound returned %d plans", len(got))
	}
}

func TestFindMonthlyPlanAbsent(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	repo := NewPlanRepo(d, log.DefaultLogger)

	p, err := repo.FindMonthlyPlan(context.Background(), f.tenant.ID, 2025, time.February)
	if err != nil || p != nil {
		t.Errorf("FindMonthlyPlan() = %v, %v; want nil, nil", p, err)
	}
	p, err = repo.FindMonthlyPlan(context.Background(), f.tenant.ID, 2025, time.January)
	if err != nil || p == nil || p.ID != f.monthlyID {
		t.Errorf("FindMonthlyPlan() = %v, %v", p, err)
	}
	if _, err := repo.GetWeeklyPlan(context.Background(), 999); !errors.IsNotFound(err) {
		t.Errorf("GetWeeklyPlan(999) error = %v, want NotFound", err)
	}
}

func TestUpsertWeeklyReportReplacesInPlace(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	ctx := context.Background()
	r := NewReportRepo(d, log.DefaultLogger).(*reportRepo)
	r.now = func() time.Time { return time.Date(2025, 1, 8, 0, 30, 0, 123_456_789, time.UTC) }
	planID := f.weekly[0].ID

	first, err := r.UpsertWeeklyReport(ctx, planID, &domain.Narrative{AchievementPercentage: 40, Summary: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.UpsertWeeklyReport(ctx, planID, &domain.Narrative{
		AchievementPercentage: 70, Summary: "v2", Strengths: []string{"交付稳定"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created a new row: %d vs %d", first.ID, second.ID)
	}

	got, err := r.GetWeeklyReport(ctx, planID)
	if err != nil {
		t.Fatal(err)
	}
	want := &domain.PerformanceReport{
		ID:                    second.ID,
		WeeklyPlanID:          planID,
		AchievementPercentage: 70,
		Summary:               "v2",
		Strengths:             []string{"交付稳定"},
		Weaknesses:            []string{},
		Recommendations:       []string{},
		GeneratedAt:           time.Date(2025, 1, 8, 0, 30, 0, 123_000_000, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetWeeklyReport() mismatch (-want +got):\n%s", diff)
	}

	plan, err := NewPlanRepo(d, log.DefaultLogger).GetWeeklyPlan(ctx, planID)
	if err != nil {
		t.Fatal(err)
	}
	if plan.AchievementPercentage == nil || *plan.AchievementPercentage != 70 {
		t.Errorf("cached percentage = %v, want 70", plan.AchievementPercentage)
	}
}

func TestUpsertWeeklyReportUnknownPlanWritesNothing(t *testing.T) {
	d := openTestData(t)
	seedMonth(t, d, 4)
	r := NewReportRepo(d, log.DefaultLogger)

	_, err := r.UpsertWeeklyReport(context.Background(), 999, &domain.Narrative{Summary: "orphan"})
	if !errors.IsNotFound(err) {
		t.Fatalf("UpsertWeeklyReport() error = %v, want NotFound", err)
	}
	var n int
	if err := d.DB().QueryRow(`SELECT COUNT(*) FROM weekly_performance_reports`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("report rows = %d, want 0", n)
	}
}

func TestConcurrentUpsertsLeaveOneRow(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	r := NewReportRepo(d, log.DefaultLogger)
	planID := f.weekly[2].ID

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.UpsertWeeklyReport(context.Background(), planID, &domain.Narrative{AchievementPercentage: float64(10 * i)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpsertWeeklyReport() error = %v", err)
		}
	}

	var n int
	if err := d.DB().QueryRow(`SELECT COUNT(*) FROM weekly_performance_reports WHERE weekly_plan_id = ?`, planID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("report rows = %d, want 1", n)
	}
}

func TestMonthlyReportRoundTrip(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	ctx := context.Background()
	r := NewReportRepo(d, log.DefaultLogger)

	progress := []domain.WeekProgress{
		{WeekNumber: 1, AchievementPercentage: 50},
		{WeekNumber: 2, AchievementPercentage: 60},
		{WeekNumber: 3, AchievementPercentage: 0},
		{WeekNumber: 4, AchievementPercentage: 100},
	}
	_, err := r.UpsertMonthlyReport(ctx, f.monthlyID, &domain.Narrative{AchievementPercentage: 65, Summary: "月度"},
		domain.TaskTotals{TotalTasks: 20, CompletedTasks: 13}, progress)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.GetMonthlyReport(ctx, f.monthlyID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(progress, got.WeeklyProgress); diff != "" {
		t.Errorf("weekly progress mismatch (-want +got):\n%s", diff)
	}
	if got.TotalTasks != 20 || got.CompletedTasks != 13 || got.Strengths == nil {
		t.Errorf("GetMonthlyReport() = %+v", got)
	}
	if _, err := r.GetMonthlyReport(ctx, 999); !errors.IsNotFound(err) {
		t.Errorf("GetMonthlyReport(999) error = %v, want NotFound", err)
	}
}

func TestListTaskFactsAssemblesAssignments(t *testing.T) {
	d := openTestData(t)
	f := seedMonth(t, d, 4)
	ctx := context.Background()
	w := NewPlanWriter(d)

	alice, _ := w.CreateEmployee(ctx, f.tenant.ID, "alice")
	bob, _ := w.CreateEmployee(ctx, f.tenant.ID, "bob")
	t1, _ := w.CreateTask(ctx, f.tenant.ID, "接口联调", 2025, time.January, 1, domain.TaskCompleted)
	t2, _ := w.CreateTask(ctx, f.tenant.ID, "压测", 2025, time.January, 1, domain.TaskInProgress)
	if _, err := w.CreateTask(ctx, f.tenant.ID, "下周任务", 2025, time.January, 2, domain.TaskPending); err != nil {
		t.Fatal(err)
	}
	a1, _ := w.AssignTask(ctx, t1, alice, domain.TaskCompleted)
	if _, err := w.AssignTask(ctx, t1, bob, domain.TaskInProgress); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	if err := w.SubmitReport(ctx, a1, "联调完成", at); err != nil {
		t.Fatal(err)
	}
	if err := w.SubmitReport(ctx, a1, "补充文档", at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	facts, err := NewTaskRepo(d, log.DefaultLogger).ListTaskFacts(ctx, f.tenant.ID, 2025, time.January, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []*domain.TaskFact{
		{TaskID: t1, Title: "接口联调", WeekNumber: 1, Status: domain.TaskCompleted, Assignments: []domain.AssignmentFact{
			{EmployeeID: alice, EmployeeName: "alice", Status: domain.TaskCompleted, Reports: []domain.ReportFact{
				{Content: "联调完成", SubmittedAt: at},
				{Content: "补充文档", SubmittedAt: at.Add(time.Hour)},
			}},
			{EmployeeID: bob, EmployeeName: "bob", Status: domain.TaskInProgress},
		}},
		{TaskID: t2, Title: "压测", WeekNumber: 1, Status: domain.TaskInProgress},
	}
	if diff := cmp.Diff(want, facts); diff != "" {
		t.Errorf("ListTaskFacts() mismatch (-want +got):\n%s", diff)
	}

	month, err := NewTaskRepo(d, log.DefaultLogger).ListTaskFacts(ctx, f.tenant.ID, 2025, time.January, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(month) != 3 {
		t.Errorf("month facts = %d, want 3", len(month))
	}
}

func TestExpireSubscriptionIsIdempotent(t *testing.T) {
	d := openTestData(t)
	ctx := context.Background()
	w := NewPlanWriter(d)
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := past.AddDate(1, 0, 0)
	expired := &domain.Tenant{Name: "old", SubscriptionEndAt: &past}
	current := &domain.Tenant{Name: "new", SubscriptionEndAt: &future}
	for _, tn := range []*domain.Tenant{expired, current} {
		if err := w.CreateTenant(ctx, tn); err != nil {
			t.Fatal(err)
		}
	}
	repo := NewTenantRepo(d, log.DefaultLogger)
	now := past.AddDate(0, 1, 0)

	due, err := repo.ListExpiredSubscriptions(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != expired.ID {
		t.Fatalf("ListExpiredSubscriptions() = %v, want tenant %d", due, expired.ID)
	}

	changed, err := repo.ExpireSubscription(ctx, expired.ID)
	if err != nil || !changed {
		t.Fatalf("first ExpireSubscription() = %v, %v", changed, err)
	}
	changed, err = repo.ExpireSubscription(ctx, expired.ID)
	if err != nil || changed {
		t.Errorf("second ExpireSubscription() = %v, %v; want no-op", changed, err)
	}
	if due, _ := repo.ListExpiredSubscriptions(ctx, now); len(due) != 0 {
		t.Errorf("expired tenant still listed: %v", due)
	}
}

func TestNotifierStoresNotification(t *testing.T) {
	d := openTestData(t)
	ctx := context.Background()
	n := NewNotifier(d, log.DefaultLogger)
	if err := n.Notify(ctx, &domain.Notification{UserID: 7, Type: "subscription_expired", Title: "t", Message: "m"}); err != nil {
		t.Fatal(err)
	}
	got, err := ListNotifications(ctx, d, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Priority != domain.PriorityNormal {
		t.Errorf("ListNotifications() = %+v", got)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	d := openTestData(t)
	ctx := context.Background()
	l := NewLedger(d, log.DefaultLogger)

	if _, ok, err := l.Watermark(ctx, "weekly_reports"); err != nil || ok {
		t.Fatalf("Watermark() on empty ledger = %v, %v", ok, err)
	}
	wm := time.Date(2025, 1, 8, 0, 30, 0, 0, time.UTC)
	if err := l.SetWatermark(ctx, "weekly_reports", wm); err != nil {
		t.Fatal(err)
	}
	if err := l.SetWatermark(ctx, "weekly_reports", wm.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := l.Watermark(ctx, "weekly_reports")
	if err != nil || !ok || !got.Equal(wm.AddDate(0, 0, 1)) {
		t.Errorf("Watermark() = %v, %v, %v", got, ok, err)
	}

	if rec, err := l.Unit(ctx, "weekly_reports", "weekly:1:2025-01-w1"); err != nil || rec != nil {
		t.Fatalf("Unit() on empty ledger = %v, %v", rec, err)
	}
	rec := &scheduler.UnitRecord{
		Job: "weekly_reports", UnitKey: "weekly:1:2025-01-w1", RunID: "r1",
		Status: scheduler.UnitFailed, Attempts: 3, ErrorClass: domain.ClassTransientUpstream,
		LastError: "503", UpdatedAt: wm,
	}
	if err := l.SaveUnit(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Status, rec.RunID, rec.ErrorClass, rec.LastError = scheduler.UnitSucceeded, "r2", domain.ClassNone, ""
	if err := l.SaveUnit(ctx, rec); err != nil {
		t.Fatal(err)
	}
	stored, err := l.Unit(ctx, "weekly_reports", rec.UnitKey)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec, stored); diff != "" {
		t.Errorf("Unit() mismatch (-want +got):\n%s", diff)
	}
	failed, err := l.ListUnits(ctx, "weekly_reports", scheduler.UnitFailed)
	if err != nil || len(failed) != 0 {
		t.Errorf("ListUnits(failed) = %v, %v", failed, err)
	}
}
