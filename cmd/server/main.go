package main

import (
	"flag"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/logger"
	"github.com/iWorld-y/team_pulse/internal/scheduler"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name 是服务的名称
	Name string = "team_pulse"
	// Version 是服务的版本号
	Version string
	// flagconf 是配置文件的路径命令行参数
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 文件配置中的 ${KEY} 占位符由 TEAM_PULSE_ 前缀的环境变量填充
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
			env.NewSource("TEAM_PULSE_"),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}
	bc.Defaults()
	if err := bc.Validate(); err != nil {
		panic(err)
	}

	l, err := logger.New(bc.Log.Level, bc.Log.File)
	if err != nil {
		panic(err)
	}
	// 初始化日志记录器，包含时间戳、调用者信息、服务ID等上下文
	kl := log.With(logger.NewKratosLogger(l),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	app, cleanup, err := initApp(bc.Server, bc.Data, bc.Narrative, bc.Scheduler, kl)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if err := app.Run(); err != nil {
		panic(err)
	}
}

// newApp 调度器关闭时只保留 HTTP 服务，任务仍可通过 /v1/jobs 手动触发
func newApp(logger log.Logger, c *conf.Scheduler, hs *http.Server, sched *scheduler.Scheduler) *kratos.App {
	servers := []transport.Server{hs}
	if c.Enabled {
		servers = append(servers, sched)
	}
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(servers...),
	)
}
