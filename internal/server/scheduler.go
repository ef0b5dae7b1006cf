package server

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

// NewScheduler 根据任务表构建调度器；是否作为常驻服务运行由 scheduler.enabled 决定
func NewScheduler(c *conf.Scheduler, handlers map[string]scheduler.Handler, ledger scheduler.Ledger, logger log.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(c.Jobs, handlers, ledger, scheduler.OptionsFromConf(c), logger)
}
