package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

type ledger struct {
	data *Data
	log  *log.Helper
}

func NewLedger(data *Data, logger log.Logger) scheduler.Ledger {
	return &ledger{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (l *ledger) Watermark(ctx context.Context, job string) (time.Time, bool, error) {
	var raw string
	err := l.data.db.QueryRowContext(ctx, l.data.rebind(`SELECT watermark FROM scheduler_state WHERE job = ?`), job).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark for %s: %w", job, err)
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (l *ledger) SetWatermark(ctx context.Context, job string, t time.Time) error {
	_, err := l.data.db.ExecContext(ctx, l.data.rebind(`
		INSERT INTO scheduler_state (job, watermark) VALUES (?, ?)
		ON CONFLICT (job) DO UPDATE SET watermark = excluded.watermark`),
		job, formatTime(t))
	if err != nil {
		return fmt.Errorf("set watermark for %s: %w", job, err)
	}
	return nil
}

const unitSelect = `SELECT job, unit_key, run_id, status, attempts, error_class, last_error, updated_at FROM scheduler_units`

func scanUnit(row rowScanner) (*scheduler.UnitRecord, error) {
	var (
		rec       scheduler.UnitRecord
		status    string
		class     string
		updatedAt string
	)
	if err := row.Scan(&rec.Job, &rec.UnitKey, &rec.RunID, &status, &rec.Attempts, &class, &rec.LastError, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = scheduler.UnitStatus(status)
	rec.ErrorClass = domain.ErrorClass(class)
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = t
	return &rec, nil
}

func (l *ledger) Unit(ctx context.Context, job, unitKey string) (*scheduler.UnitRecord, error) {
	rec, err := scanUnit(l.data.db.QueryRowContext(ctx, l.data.rebind(unitSelect+" WHERE job = ? AND unit_key = ?"), job, unitKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %s/%s: %w", job, unitKey, err)
	}
	return rec, nil
}

func (l *ledger) SaveUnit(ctx context.Context, rec *scheduler.UnitRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := l.data.db.ExecContext(ctx, l.data.rebind(`
		INSERT INTO scheduler_units (job, unit_key, run_id, status, attempts, error_class, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job, unit_key) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			attempts = excluded.attempts,
			error_class = excluded.error_class,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`),
		rec.Job, rec.UnitKey, rec.RunID, string(rec.Status), rec.Attempts, string(rec.ErrorClass), rec.LastError, formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save unit %s/%s: %w", rec.Job, rec.UnitKey, err)
	}
	return nil
}

func (l *ledger) ListUnits(ctx context.Context, job string, status scheduler.UnitStatus) ([]*scheduler.UnitRecord, error) {
	query := unitSelect + " WHERE job = ?"
	args := []any{job}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC, unit_key"

	rows, err := l.data.db.QueryContext(ctx, l.data.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list units for %s: %w", job, err)
	}
	defer rows.Close()

	var out []*scheduler.UnitRecord
	for rows.Next() {
		rec, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
