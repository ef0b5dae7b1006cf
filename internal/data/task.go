package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

type taskRepo struct {
	data *Data
	log  *log.Helper
}

func NewTaskRepo(data *Data, logger log.Logger) repo.TaskRepo {
	return &taskRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListTaskFacts reads tasks, assignments and reports with a single statement so
// the aggregation sees one consistent snapshot.
func (r *taskRepo) ListTaskFacts(ctx context.Context, tenantID int64, year int, month time.Month, week int) ([]*domain.TaskFact, error) {
	query := `
SELECT t.id, t.title, t.week_number, t.status,
       ta.id, ta.employee_id, e.name, ta.status,
       tr.content, tr.submitted_at
FROM tasks t
LEFT JOIN task_assignments ta ON ta.task_id = t.id
LEFT JOIN employees e ON e.id = ta.employee_id
LEFT JOIN task_reports tr ON tr.assignment_id = ta.id
WHERE t.tenant_id = ? AND t.year = ? AND t.month = ?`
	args := []any{tenantID, year, int(month)}
	if week > 0 {
		query += " AND t.week_number = ?"
		args = append(args, week)
	}
	query += " ORDER BY t.id, ta.id, tr.submitted_at, tr.id"

	rows, err := r.data.db.QueryContext(ctx, r.data.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list task facts: %w", err)
	}
	defer rows.Close()

	var (
		facts      []*domain.TaskFact
		current    *domain.TaskFact
		lastAssign int64
	)
	for rows.Next() {
		var (
			taskID       int64
			title        string
			weekNumber   int
			status       string
			assignID     sql.NullInt64
			employeeID   sql.NullInt64
			employeeName sql.NullString
			assignStatus sql.NullString
			content      sql.NullString
			submittedAt  sql.NullString
		)
		if err := rows.Scan(&taskID, &title, &weekNumber, &status,
			&assignID, &employeeID, &employeeName, &assignStatus,
			&content, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan task fact: %w", err)
		}

		if current == nil || current.TaskID != taskID {
			current = &domain.TaskFact{
				TaskID:     taskID,
				Title:      title,
				WeekNumber: weekNumber,
				Status:     domain.TaskStatus(status),
			}
			facts = append(facts, current)
			lastAssign = 0
		}
		if !assignID.Valid {
			continue
		}
		if assignID.Int64 != lastAssign {
			current.Assignments = append(current.Assignments, domain.AssignmentFact{
				EmployeeID:   employeeID.Int64,
				EmployeeName: employeeName.String,
				Status:       domain.TaskStatus(assignStatus.String),
			})
			lastAssign = assignID.Int64
		}
		if content.Valid {
			a := &current.Assignments[len(current.Assignments)-1]
			rf := domain.ReportFact{Content: content.String}
			if submittedAt.Valid {
				if ts, err := parseTime(submittedAt.String); err == nil {
					rf.SubmittedAt = ts
				} else {
					r.log.Warnf("task %d: %v", taskID, err)
				}
			}
			a.Reports = append(a.Reports, rf)
		}
	}
	return facts, rows.Err()
}
