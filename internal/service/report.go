package service

import (
	"context"
	"errors"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
	"github.com/iWorld-y/team_pulse/internal/usecase"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewReportService)

// ReportService 绩效报告的按需触发与查询
type ReportService struct {
	weekly  *usecase.WeeklyReportUseCase
	monthly *usecase.MonthlyReportUseCase
	sched   *scheduler.Scheduler
	log     *log.Helper
}

func NewReportService(weekly *usecase.WeeklyReportUseCase, monthly *usecase.MonthlyReportUseCase,
	sched *scheduler.Scheduler, logger log.Logger) *ReportService {
	return &ReportService{
		weekly:  weekly,
		monthly: monthly,
		sched:   sched,
		log:     log.NewHelper(log.With(logger, "module", "service/report")),
	}
}

func (s *ReportService) GenerateWeeklyReport(ctx context.Context, req *PlanRequest) (*WeeklyReportReply, error) {
	r, err := s.weekly.Generate(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toWeeklyReply(r), nil
}

func (s *ReportService) GetWeeklyReport(ctx context.Context, req *PlanRequest) (*WeeklyReportReply, error) {
	r, err := s.weekly.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toWeeklyReply(r), nil
}

func (s *ReportService) GenerateMonthlyReport(ctx context.Context, req *PlanRequest) (*MonthlyReportReply, error) {
	r, err := s.monthly.Generate(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toMonthlyReply(r), nil
}

func (s *ReportService) GetMonthlyReport(ctx context.Context, req *PlanRequest) (*MonthlyReportReply, error) {
	r, err := s.monthly.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toMonthlyReply(r), nil
}

// FireJob 手动触发一次调度任务，未指定时间时使用当前时间
func (s *ReportService) FireJob(ctx context.Context, req *FireJobRequest) (*FireJobReply, error) {
	at := time.Now()
	if req.At != "" {
		t, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			return nil, kerrors.BadRequest("INVALID_FIRED_AT", "at must be RFC3339")
		}
		at = t
	}
	res, err := s.sched.Fire(ctx, req.Name, at)
	if err != nil {
		return nil, jobError(req.Name, err)
	}
	s.log.Infow("msg", "manual firing", "job", req.Name, "run_id", res.RunID, "failed", res.Failed)
	return &FireJobReply{
		RunID:     res.RunID,
		Job:       res.Job,
		FiredAt:   res.FiredAt.Format(time.RFC3339),
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
	}, nil
}

// ListJobUnits 查看任务台账，可按状态过滤
func (s *ReportService) ListJobUnits(ctx context.Context, req *ListUnitsRequest) (*ListUnitsReply, error) {
	switch scheduler.UnitStatus(req.Status) {
	case "", scheduler.UnitRunning, scheduler.UnitSucceeded, scheduler.UnitFailed:
	default:
		return nil, kerrors.BadRequest("INVALID_STATUS", "status must be running, succeeded or failed")
	}
	units, err := s.sched.Units(ctx, req.Name, scheduler.UnitStatus(req.Status))
	if err != nil {
		return nil, jobError(req.Name, err)
	}
	reply := &ListUnitsReply{Units: make([]*UnitReply, 0, len(units))}
	for _, u := range units {
		reply.Units = append(reply.Units, &UnitReply{
			UnitKey:    u.UnitKey,
			RunID:      u.RunID,
			Status:     string(u.Status),
			Attempts:   u.Attempts,
			ErrorClass: string(u.ErrorClass),
			LastError:  u.LastError,
			UpdatedAt:  u.UpdatedAt.Format(time.RFC3339),
		})
	}
	return reply, nil
}

func jobError(name string, err error) error {
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return kerrors.NotFound("JOB_NOT_FOUND", "unknown job "+name)
	}
	return err
}

func toWeeklyReply(r *domain.PerformanceReport) *WeeklyReportReply {
	return &WeeklyReportReply{
		ID:                    r.ID,
		WeeklyPlanID:          r.WeeklyPlanID,
		AchievementPercentage: r.AchievementPercentage,
		Summary:               r.Summary,
		Strengths:             r.Strengths,
		Weaknesses:            r.Weaknesses,
		Recommendations:       r.Recommendations,
		GeneratedAt:           r.GeneratedAt.Format(time.RFC3339Nano),
	}
}

func toMonthlyReply(r *domain.MonthlyPerformanceReport) *MonthlyReportReply {
	return &MonthlyReportReply{
		ID:                    r.ID,
		MonthlyPlanID:         r.MonthlyPlanID,
		AchievementPercentage: r.AchievementPercentage,
		Summary:               r.Summary,
		Strengths:             r.Strengths,
		Weaknesses:            r.Weaknesses,
		Recommendations:       r.Recommendations,
		TotalTasks:            r.TotalTasks,
		CompletedTasks:        r.CompletedTasks,
		WeeklyProgress:        r.WeeklyProgress,
		GeneratedAt:           r.GeneratedAt.Format(time.RFC3339Nano),
	}
}
