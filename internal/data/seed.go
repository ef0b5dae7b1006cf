package data

import (
	"context"
	"fmt"
	"time"

	"github.com/iWorld-y/team_pulse/internal/domain"
)

// The methods below cover the task-management writes that live outside the
// reporting pipeline. They back fixtures and the demo seeder.

// CreateTenant inserts a tenant and sets t.ID.
func (w *PlanWriter) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	status := t.SubscriptionStatus
	if status == "" {
		status = domain.SubscriptionActive
	}
	var endAt any
	if t.SubscriptionEndAt != nil {
		endAt = formatTime(*t.SubscriptionEndAt)
	}
	tz := t.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	err := w.data.db.QueryRowContext(ctx, w.data.rebind(`
		INSERT INTO tenants (name, timezone, week_start_day, subscription_status, subscription_end_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		t.Name, tz, int(t.WeekStartDay), string(status), endAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	t.TimeZone, t.SubscriptionStatus = tz, status
	return nil
}

func (w *PlanWriter) CreateEmployee(ctx context.Context, tenantID int64, name string) (int64, error) {
	var id int64
	err := w.data.db.QueryRowContext(ctx,
		w.data.rebind(`INSERT INTO employees (tenant_id, name) VALUES (?, ?) RETURNING id`),
		tenantID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create employee: %w", err)
	}
	return id, nil
}

func (w *PlanWriter) CreateTask(ctx context.Context, tenantID int64, title string, year int, month time.Month, week int, status domain.TaskStatus) (int64, error) {
	var id int64
	err := w.data.db.QueryRowContext(ctx, w.data.rebind(`
		INSERT INTO tasks (tenant_id, title, year, month, week_number, status)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		tenantID, title, year, int(month), week, string(status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	return id, nil
}

func (w *PlanWriter) AssignTask(ctx context.Context, taskID, employeeID int64, status domain.TaskStatus) (int64, error) {
	var id int64
	err := w.data.db.QueryRowContext(ctx, w.data.rebind(`
		INSERT INTO task_assignments (task_id, employee_id, status) VALUES (?, ?, ?) RETURNING id`),
		taskID, employeeID, string(status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("assign task %d: %w", taskID, err)
	}
	return id, nil
}

func (w *PlanWriter) SubmitReport(ctx context.Context, assignmentID int64, content string, at time.Time) error {
	_, err := w.data.db.ExecContext(ctx, w.data.rebind(`
		INSERT INTO task_reports (assignment_id, content, submitted_at) VALUES (?, ?, ?)`),
		assignmentID, content, formatTime(at))
	if err != nil {
		return fmt.Errorf("submit report for assignment %d: %w", assignmentID, err)
	}
	return nil
}
