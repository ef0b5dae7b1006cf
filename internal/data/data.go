package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/iWorld-y/team_pulse/internal/conf"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewPlanRepo,
	NewTaskRepo,
	NewReportRepo,
	NewTenantRepo,
	NewNotifier,
	NewLedger,
)

// timeLayout is fixed width so stored timestamps compare lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

type Data struct {
	db      *sql.DB
	dialect string
}

func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	d, err := Open(c.Database.Driver, c.Database.Source)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		d.db.Close()
	}
	return d, cleanup, nil
}

// Open connects to the database and creates missing tables.
func Open(driver, source string) (*Data, error) {
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	d := &Data{db: db, dialect: dialectOf(driver)}
	if d.dialect == "sqlite" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// DB exposes the handle for seeding and administration.
func (d *Data) DB() *sql.DB { return d.db }

func (d *Data) Close() error { return d.db.Close() }

func dialectOf(driver string) string {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "postgres"
	}
}

// rebind rewrites ? placeholders to $n for postgres drivers.
func (d *Data) rebind(query string) string {
	if d.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d *Data) migrate(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if d.dialect == "sqlite" {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
		if _, err := d.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
	}
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{id}}", idColumn)); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id {{id}},
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		week_start_day INTEGER NOT NULL DEFAULT 0,
		subscription_status TEXT NOT NULL DEFAULT 'active',
		subscription_end_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS employees (
		id {{id}},
		tenant_id BIGINT NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS annual_targets (
		id {{id}},
		tenant_id BIGINT NOT NULL REFERENCES tenants(id),
		year INTEGER NOT NULL,
		goal TEXT NOT NULL DEFAULT '',
		UNIQUE (tenant_id, year)
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_plans (
		id {{id}},
		annual_target_id BIGINT NOT NULL REFERENCES annual_targets(id),
		month INTEGER NOT NULL,
		goal TEXT NOT NULL DEFAULT '',
		achievement_percentage DOUBLE PRECISION,
		UNIQUE (annual_target_id, month)
	)`,
	`CREATE TABLE IF NOT EXISTS weekly_plans (
		id {{id}},
		monthly_plan_id BIGINT NOT NULL REFERENCES monthly_plans(id),
		week_number INTEGER NOT NULL,
		goal TEXT NOT NULL DEFAULT '',
		week_start_date TEXT NOT NULL,
		week_end_date TEXT NOT NULL,
		achievement_percentage DOUBLE PRECISION,
		UNIQUE (monthly_plan_id, week_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weekly_plans_end ON weekly_plans(week_end_date)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id {{id}},
		tenant_id BIGINT NOT NULL REFERENCES tenants(id),
		title TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		week_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_period ON tasks(tenant_id, year, month, week_number)`,
	`CREATE TABLE IF NOT EXISTS task_assignments (
		id {{id}},
		task_id BIGINT NOT NULL REFERENCES tasks(id),
		employee_id BIGINT NOT NULL REFERENCES employees(id),
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE TABLE IF NOT EXISTS task_reports (
		id {{id}},
		assignment_id BIGINT NOT NULL REFERENCES task_assignments(id),
		content TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS weekly_performance_reports (
		id {{id}},
		weekly_plan_id BIGINT NOT NULL UNIQUE REFERENCES weekly_plans(id),
		achievement_percentage DOUBLE PRECISION NOT NULL,
		summary TEXT NOT NULL,
		strengths TEXT NOT NULL,
		weaknesses TEXT NOT NULL,
		recommendations TEXT NOT NULL,
		generated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_performance_reports (
		id {{id}},
		monthly_plan_id BIGINT NOT NULL UNIQUE REFERENCES monthly_plans(id),
		achievement_percentage DOUBLE PRECISION NOT NULL,
		summary TEXT NOT NULL,
		strengths TEXT NOT NULL,
		weaknesses TEXT NOT NULL,
		recommendations TEXT NOT NULL,
		total_tasks INTEGER NOT NULL,
		completed_tasks INTEGER NOT NULL,
		weekly_progress TEXT NOT NULL,
		generated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id {{id}},
		user_id BIGINT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		priority TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_state (
		job TEXT PRIMARY KEY,
		watermark TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_units (
		job TEXT NOT NULL,
		unit_key TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error_class TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (job, unit_key)
	)`,
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// rollback folds a rollback failure into err.
func rollback(tx *sql.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, rerr)
	}
	return err
}
