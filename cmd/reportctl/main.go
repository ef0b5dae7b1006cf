// reportctl 是报告流水线的运维命令行：手动生成报告、触发任务、清理过期订阅、写入演示数据
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/logger"
)

const usage = `usage: reportctl [-conf path] <command> [flags]

commands:
  weekly  -plan ID            生成周报
  monthly -plan ID            生成月报
  sweep   [-at RFC3339]       处理到期订阅
  fire    -job NAME [-at T]   按指定时刻触发一次调度任务
  units   -job NAME [-status] 查看任务单元执行记录
  seed    [-year Y -month M]  写入一个演示租户及其整月计划
`

func main() {
	flagconf := flag.String("conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	bc, err := conf.Load(*flagconf)
	if err != nil {
		log.Fatalf("无法加载配置文件: %v", err)
	}
	// 与服务端一致，api_key 占位符由环境变量提供
	if strings.HasPrefix(bc.Narrative.ApiKey, "${") {
		bc.Narrative.ApiKey = os.Getenv("TEAM_PULSE_NARRATIVE_API_KEY")
	}
	if err = logger.InitLogger(bc.Log.Level, bc.Log.File); err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, cleanup, err := newApp(ctx, bc)
	if err != nil {
		logger.Log.Fatalf("初始化失败: %v", err)
	}
	defer cleanup()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var out any
	switch cmd {
	case "weekly":
		out, err = app.weekly(ctx, args)
	case "monthly":
		out, err = app.monthly(ctx, args)
	case "sweep":
		out, err = app.sweep(ctx, args)
	case "fire":
		out, err = app.fire(ctx, args)
	case "units":
		out, err = app.units(ctx, args)
	case "seed":
		out, err = app.seed(ctx, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Log.Errorf("%s 执行失败: %v", cmd, err)
		cleanup()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Log.Errorf("输出结果失败: %v", err)
	}
}

// parseAt 解析 RFC3339 时刻，留空取当前时间
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}
