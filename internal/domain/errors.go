package domain

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/go-kratos/kratos/v2/errors"
)

const (
	ReasonWeeklyPlanNotFound    = "WEEKLY_PLAN_NOT_FOUND"
	ReasonMonthlyPlanNotFound   = "MONTHLY_PLAN_NOT_FOUND"
	ReasonTenantNotFound        = "TENANT_NOT_FOUND"
	ReasonReportNotFound        = "REPORT_NOT_FOUND"
	ReasonWeeklyPlansIncomplete = "WEEKLY_PLANS_INCOMPLETE"
	ReasonNarrativeUnavailable  = "NARRATIVE_UNAVAILABLE"
	ReasonNarrativeTimeout      = "NARRATIVE_TIMEOUT"
	ReasonNarrativeMalformed    = "NARRATIVE_MALFORMED"
)

// ErrorClass 错误分类，调度器据此决定是否重试
type ErrorClass string

const (
	ClassNone               ErrorClass = ""
	ClassNotFound           ErrorClass = "not_found"
	ClassPreconditionFailed ErrorClass = "precondition_failed"
	ClassTransientUpstream  ErrorClass = "transient_upstream"
	ClassCancelled          ErrorClass = "cancelled"
	ClassInternal           ErrorClass = "internal"
)

// Retryable reports whether a unit failing with this class may be attempted again.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransientUpstream
}

func ErrWeeklyPlanNotFound(id int64) *errors.Error {
	return errors.NotFound(ReasonWeeklyPlanNotFound, fmt.Sprintf("weekly plan %d not found", id))
}

func ErrMonthlyPlanNotFound(id int64) *errors.Error {
	return errors.NotFound(ReasonMonthlyPlanNotFound, fmt.Sprintf("monthly plan %d not found", id))
}

func ErrTenantNotFound(id int64) *errors.Error {
	return errors.NotFound(ReasonTenantNotFound, fmt.Sprintf("tenant %d not found", id))
}

func ErrReportNotFound(kind string, planID int64) *errors.Error {
	return errors.NotFound(ReasonReportNotFound, fmt.Sprintf("%s report for plan %d not found", kind, planID))
}

// ErrWeeklyPlansIncomplete 月报生成时周计划不足 4 个
func ErrWeeklyPlansIncomplete(monthlyPlanID int64, have int) *errors.Error {
	return errors.New(http.StatusPreconditionFailed, ReasonWeeklyPlansIncomplete,
		fmt.Sprintf("monthly plan %d has %d of %d weekly plans", monthlyPlanID, have, WeeksPerMonth))
}

// ErrNarrativeUnavailable 叙述生成服务调用失败
func ErrNarrativeUnavailable(cause error) *errors.Error {
	return errors.ServiceUnavailable(ReasonNarrativeUnavailable, "narrative generator unavailable").WithCause(cause)
}

func ErrNarrativeTimeout(cause error) *errors.Error {
	return errors.GatewayTimeout(ReasonNarrativeTimeout, "narrative generator timed out").WithCause(cause)
}

func ErrNarrativeMalformed(cause error) *errors.Error {
	return errors.ServiceUnavailable(ReasonNarrativeMalformed, "narrative generator returned malformed data").WithCause(cause)
}

// Classify 将任意错误映射到错误分类
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if stderrors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ClassTransientUpstream
	}
	var se *errors.Error
	if !stderrors.As(err, &se) {
		return ClassInternal
	}
	switch se.Code {
	case http.StatusNotFound:
		return ClassNotFound
	case http.StatusPreconditionFailed:
		return ClassPreconditionFailed
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return ClassTransientUpstream
	}
	return ClassInternal
}
