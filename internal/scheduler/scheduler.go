package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/domain"
)

var _ transport.Server = (*Scheduler)(nil)

// ErrUnknownJob is returned when firing a job missing from the table.
var ErrUnknownJob = errors.New("unknown scheduler job")

// Options 调度器运行参数
type Options struct {
	PollInterval time.Duration
	Concurrency  int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MaxCatchUp   int
}

// OptionsFromConf converts validated config into Options.
func OptionsFromConf(c *conf.Scheduler) Options {
	return Options{
		PollInterval: conf.Duration(c.PollInterval, 30*time.Second),
		Concurrency:  int(c.Concurrency),
		MaxAttempts:  int(c.MaxAttempts),
		BaseBackoff:  conf.Duration(c.BaseBackoff, 2*time.Second),
		MaxBackoff:   conf.Duration(c.MaxBackoff, time.Minute),
		MaxCatchUp:   int(c.MaxCatchUp),
	}
}

type job struct {
	name     string
	schedule cron.Schedule
	loc      *time.Location
	handler  Handler
}

// Scheduler 周期性触发任务，把每次触发扇出为相互隔离的工作单元
type Scheduler struct {
	jobs   []*job
	ledger Ledger
	opts   Options
	log    *log.Helper

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler from the declarative job table. Every entry's
// handler name must be present in handlers.
func New(table []*conf.Job, handlers map[string]Handler, ledger Ledger, opts Options, logger log.Logger) (*Scheduler, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxCatchUp <= 0 {
		opts.MaxCatchUp = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}

	s := &Scheduler{
		ledger: ledger,
		opts:   opts,
		log:    log.NewHelper(log.With(logger, "module", "scheduler")),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, entry := range table {
		h, ok := handlers[entry.Handler]
		if !ok {
			return nil, fmt.Errorf("job %s: no handler registered as %q", entry.Name, entry.Handler)
		}
		sched, err := cron.ParseStandard(entry.Cadence)
		if err != nil {
			return nil, fmt.Errorf("job %s: parse cadence %q: %w", entry.Name, entry.Cadence, err)
		}
		if sched.Next(time.Now()).IsZero() {
			return nil, fmt.Errorf("job %s: cadence %q never fires", entry.Name, entry.Cadence)
		}
		loc, err := time.LoadLocation(entry.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("job %s: load timezone %s: %w", entry.Name, entry.TimeZone, err)
		}
		s.jobs = append(s.jobs, &job{name: entry.Name, schedule: sched, loc: loc, handler: h})
	}
	return s, nil
}

// Jobs returns the configured job names in table order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer close(done)
	s.log.Infof("调度器已启动: jobs=%v poll=%s concurrency=%d", s.Jobs(), s.opts.PollInterval, s.opts.Concurrency)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.log.Errorf("scheduler tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("调度器已停止")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop and waits for in-flight units to observe cancellation.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick fires every job whose cadence came due since its watermark. Missed
// firings are replayed oldest first, keeping at most MaxCatchUp of them.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	var errs []error
	for _, j := range s.jobs {
		if err := s.tickJob(ctx, j, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) tickJob(ctx context.Context, j *job, now time.Time) error {
	watermark, ok, err := s.ledger.Watermark(ctx, j.name)
	if err != nil {
		return err
	}
	if !ok {
		// First start: do not replay history.
		return s.ledger.SetWatermark(ctx, j.name, now)
	}

	due := s.dueFirings(j, watermark, now)
	for _, firedAt := range due {
		if _, err := s.fire(ctx, j, firedAt); err != nil {
			return err
		}
		if err := s.ledger.SetWatermark(ctx, j.name, firedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dueFirings(j *job, watermark, now time.Time) []time.Time {
	var due []time.Time
	// A zero Next means the cadence has no further matches.
	for next := j.schedule.Next(watermark.In(j.loc)); !next.IsZero() && !next.After(now); next = j.schedule.Next(next) {
		due = append(due, next)
	}
	if len(due) > s.opts.MaxCatchUp {
		s.log.Warnf("job %s: %d missed firings, replaying the latest %d", j.name, len(due), s.opts.MaxCatchUp)
		due = due[len(due)-s.opts.MaxCatchUp:]
	}
	return due
}

// Fire runs one firing of the named job immediately.
func (s *Scheduler) Fire(ctx context.Context, name string, firedAt time.Time) (*FireResult, error) {
	for _, j := range s.jobs {
		if j.name == name {
			return s.fire(ctx, j, firedAt.In(j.loc))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Units exposes the ledger for observability.
func (s *Scheduler) Units(ctx context.Context, name string, status UnitStatus) ([]*UnitRecord, error) {
	for _, j := range s.jobs {
		if j.name == name {
			return s.ledger.ListUnits(ctx, name, status)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

type unitOutcome int

const (
	outcomeSucceeded unitOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Scheduler) fire(ctx context.Context, j *job, firedAt time.Time) (*FireResult, error) {
	res := &FireResult{RunID: uuid.NewString(), Job: j.name, FiredAt: firedAt}
	units, err := j.handler.Enumerate(ctx, firedAt)
	if err != nil {
		return nil, fmt.Errorf("enumerate units: %w", err)
	}
	sort.SliceStable(units, func(a, b int) bool { return units[a].TenantID < units[b].TenantID })
	res.Total = len(units)
	s.log.Infow("msg", "调度触发", "job", j.name, "run_id", res.RunID, "fired_at", firedAt.Format(time.RFC3339), "units", len(units))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := s.runUnit(ctx, j, res.RunID, u)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSucceeded:
				res.Succeeded++
			case outcomeSkipped:
				res.Skipped++
			default:
				res.Failed++
			}
			// Unit failures are recorded in the ledger, never returned.
			return nil
		})
	}
	_ = g.Wait()

	s.log.Infow("msg", "调度完成", "job", j.name, "run_id", res.RunID,
		"succeeded", res.Succeeded, "skipped", res.Skipped, "failed", res.Failed)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Scheduler) runUnit(ctx context.Context, j *job, runID string, u WorkUnit) unitOutcome {
	prev, err := s.ledger.Unit(ctx, j.name, u.Key)
	if err != nil {
		s.log.Errorf("job %s unit %s: read ledger: %v", j.name, u.Key, err)
		return outcomeFailed
	}
	if prev != nil && prev.Status == UnitSucceeded {
		return outcomeSkipped
	}

	rec := &UnitRecord{Job: j.name, UnitKey: u.Key, RunID: runID, Status: UnitRunning}
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		rec.Attempts = attempt
		err := s.execute(ctx, j.handler, u)
		if err == nil {
			rec.Status, rec.ErrorClass, rec.LastError = UnitSucceeded, domain.ClassNone, ""
			s.save(rec)
			return outcomeSucceeded
		}

		class := domain.Classify(err)
		rec.ErrorClass, rec.LastError = class, err.Error()
		s.log.Warnw("msg", "工作单元执行失败", "job", j.name, "unit", u.Key, "tenant_id", u.TenantID,
			"attempt", attempt, "class", class, "error", err)

		if !class.Retryable() || attempt == s.opts.MaxAttempts {
			break
		}
		// Still running while waiting for the next attempt.
		s.save(rec)
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			break
		}
	}
	rec.Status = UnitFailed
	s.save(rec)
	s.log.Errorw("msg", "工作单元标记为失败", "job", j.name, "unit", u.Key, "attempts", rec.Attempts, "class", rec.ErrorClass)
	return outcomeFailed
}

// execute isolates a unit so a panic cannot take down the batch.
func (s *Scheduler) execute(ctx context.Context, h Handler, u WorkUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s panicked: %v", u.Key, r)
		}
	}()
	return h.Execute(ctx, u)
}

// save uses a detached context so outcomes are recorded even during shutdown.
func (s *Scheduler) save(rec *UnitRecord) {
	rec.UpdatedAt = s.now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.SaveUnit(ctx, rec); err != nil {
		s.log.Errorf("job %s unit %s: save ledger: %v", rec.Job, rec.UnitKey, err)
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.opts.BaseBackoff * time.Duration(1<<(attempt-1))
	if d <= 0 || d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
