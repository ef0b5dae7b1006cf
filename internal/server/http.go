package server

import (
	"context"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/service"
)

const (
	OperationGenerateWeeklyReport  = "/team_pulse.v1.Report/GenerateWeeklyReport"
	OperationGetWeeklyReport       = "/team_pulse.v1.Report/GetWeeklyReport"
	OperationGenerateMonthlyReport = "/team_pulse.v1.Report/GenerateMonthlyReport"
	OperationGetMonthlyReport      = "/team_pulse.v1.Report/GetMonthlyReport"
	OperationFireJob               = "/team_pulse.v1.Jobs/Fire"
	OperationListJobUnits          = "/team_pulse.v1.Jobs/ListUnits"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, s *service.ReportService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
		),
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != "" {
		opts = append(opts, http.Timeout(conf.Duration(c.Http.Timeout, 0)))
	}
	srv := http.NewServer(opts...)
	RegisterReportHTTPServer(srv, s)
	return srv
}

// RegisterReportHTTPServer mounts the report and job routes under /v1.
func RegisterReportHTTPServer(srv *http.Server, s *service.ReportService) {
	r := srv.Route("/v1")
	r.POST("/weekly-plans/{id}/report", handle(OperationGenerateWeeklyReport, bindPlan, s.GenerateWeeklyReport))
	r.GET("/weekly-plans/{id}/report", handle(OperationGetWeeklyReport, bindPlan, s.GetWeeklyReport))
	r.POST("/monthly-plans/{id}/report", handle(OperationGenerateMonthlyReport, bindPlan, s.GenerateMonthlyReport))
	r.GET("/monthly-plans/{id}/report", handle(OperationGetMonthlyReport, bindPlan, s.GetMonthlyReport))
	r.POST("/jobs/{name}/fire", handle(OperationFireJob, bindFire, s.FireJob))
	r.GET("/jobs/{name}/units", handle(OperationListJobUnits, bindUnits, s.ListJobUnits))
}

func handle[Req, Reply any](op string, bind func(http.Context, *Req) error,
	call func(context.Context, *Req) (*Reply, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in Req
		if err := bind(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, op)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*Req))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func bindPlan(ctx http.Context, in *service.PlanRequest) error {
	id, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		return errors.BadRequest("INVALID_PLAN_ID", "plan id must be a positive integer")
	}
	in.ID = id
	return nil
}

func bindFire(ctx http.Context, in *service.FireJobRequest) error {
	in.Name = ctx.Vars().Get("name")
	in.At = ctx.Query().Get("at")
	return nil
}

func bindUnits(ctx http.Context, in *service.ListUnitsRequest) error {
	in.Name = ctx.Vars().Get("name")
	in.Status = ctx.Query().Get("status")
	return nil
}
