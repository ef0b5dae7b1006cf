package conf

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Bootstrap 进程级配置根节点
type Bootstrap struct {
	Server    *Server    `json:"server" yaml:"server"`
	Data      *Data      `json:"data" yaml:"data"`
	Narrative *Narrative `json:"narrative" yaml:"narrative"`
	Scheduler *Scheduler `json:"scheduler" yaml:"scheduler"`
	Log       *Log       `json:"log" yaml:"log"`
}

type Server struct {
	Http *HTTP `json:"http" yaml:"http"`
}

type HTTP struct {
	Addr    string `json:"addr" yaml:"addr"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type Data struct {
	Database *Database `json:"database" yaml:"database"`
}

// Database driver 取值 postgres / pgx / sqlite
type Database struct {
	Driver string `json:"driver" yaml:"driver"`
	Source string `json:"source" yaml:"source"`
}

// Narrative LLM 相关配置
type Narrative struct {
	BaseUrl    string `json:"base_url" yaml:"base_url"`
	ApiKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	Timeout    string `json:"timeout" yaml:"timeout"`
	Qps        int32  `json:"qps" yaml:"qps"`
	Rpm        int32  `json:"rpm" yaml:"rpm"`
	MaxRetries int32  `json:"max_retries" yaml:"max_retries"`
}

// Scheduler 调度器配置
type Scheduler struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	PollInterval   string `json:"poll_interval" yaml:"poll_interval"`
	Concurrency    int32  `json:"concurrency" yaml:"concurrency"`
	MaxAttempts    int32  `json:"max_attempts" yaml:"max_attempts"`
	BaseBackoff    string `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff     string `json:"max_backoff" yaml:"max_backoff"`
	WeeklyLookback string `json:"weekly_lookback" yaml:"weekly_lookback"`
	MaxCatchUp     int32  `json:"max_catch_up" yaml:"max_catch_up"`
	Jobs           []*Job `json:"jobs" yaml:"jobs"`
}

// Job 声明式的调度表条目
type Job struct {
	Name     string `json:"name" yaml:"name"`
	Cadence  string `json:"cadence" yaml:"cadence"`
	TimeZone string `json:"timezone" yaml:"timezone"`
	Handler  string `json:"handler" yaml:"handler"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
}

const (
	JobWeeklyReports      = "weekly_reports"
	JobMonthlyReports     = "monthly_reports"
	JobSubscriptionExpiry = "subscription_expiry"

	defaultTimeZone = "Asia/Shanghai"
)

// DefaultJobs 默认调度表
func DefaultJobs() []*Job {
	return []*Job{
		{Name: JobWeeklyReports, Cadence: "30 0 * * *", TimeZone: defaultTimeZone, Handler: JobWeeklyReports},
		{Name: JobMonthlyReports, Cadence: "0 2 1 * *", TimeZone: defaultTimeZone, Handler: JobMonthlyReports},
		{Name: JobSubscriptionExpiry, Cadence: "0 1 * * *", TimeZone: defaultTimeZone, Handler: JobSubscriptionExpiry},
	}
}

// Load 从指定路径加载配置
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var bc Bootstrap
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	bc.Defaults()
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	return &bc, nil
}

// Defaults 填充未配置的字段
func (bc *Bootstrap) Defaults() {
	if bc.Server == nil {
		bc.Server = &Server{}
	}
	if bc.Server.Http == nil {
		bc.Server.Http = &HTTP{Addr: "0.0.0.0:8000", Timeout: "60s"}
	}
	if bc.Data == nil {
		bc.Data = &Data{}
	}
	if bc.Data.Database == nil {
		bc.Data.Database = &Database{Driver: "postgres"}
	}
	if bc.Narrative == nil {
		bc.Narrative = &Narrative{}
	}
	n := bc.Narrative
	if n.Timeout == "" {
		n.Timeout = "60s"
	}
	if n.Qps <= 0 {
		n.Qps = 1
	}
	if n.Rpm <= 0 {
		n.Rpm = 30
	}
	if n.MaxRetries < 0 {
		n.MaxRetries = 0
	}
	if bc.Scheduler == nil {
		bc.Scheduler = &Scheduler{Enabled: true}
	}
	s := bc.Scheduler
	if s.PollInterval == "" {
		s.PollInterval = "30s"
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 8
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 4
	}
	if s.BaseBackoff == "" {
		s.BaseBackoff = "2s"
	}
	if s.MaxBackoff == "" {
		s.MaxBackoff = "1m"
	}
	if s.WeeklyLookback == "" {
		s.WeeklyLookback = "336h"
	}
	if s.MaxCatchUp <= 0 {
		s.MaxCatchUp = 7
	}
	if len(s.Jobs) == 0 {
		s.Jobs = DefaultJobs()
	}
	for _, j := range s.Jobs {
		if j.TimeZone == "" {
			j.TimeZone = defaultTimeZone
		}
		if j.Handler == "" {
			j.Handler = j.Name
		}
	}
	if bc.Log == nil {
		bc.Log = &Log{Level: "info"}
	}
}

// Validate 校验配置
func (bc *Bootstrap) Validate() error {
	switch bc.Data.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", bc.Data.Database.Driver)
	}
	for name, v := range map[string]string{
		"server.http.timeout":       bc.Server.Http.Timeout,
		"narrative.timeout":         bc.Narrative.Timeout,
		"scheduler.poll_interval":   bc.Scheduler.PollInterval,
		"scheduler.base_backoff":    bc.Scheduler.BaseBackoff,
		"scheduler.max_backoff":     bc.Scheduler.MaxBackoff,
		"scheduler.weekly_lookback": bc.Scheduler.WeeklyLookback,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	seen := make(map[string]bool, len(bc.Scheduler.Jobs))
	for _, j := range bc.Scheduler.Jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler job without name")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate scheduler job %q", j.Name)
		}
		seen[j.Name] = true
		sched, err := cron.ParseStandard(j.Cadence)
		if err != nil {
			return fmt.Errorf("job %s: invalid cadence %q: %w", j.Name, j.Cadence, err)
		}
		// cron returns the zero time when nothing matches within five years.
		if sched.Next(time.Now()).IsZero() {
			return fmt.Errorf("job %s: invalid cadence %q: never fires", j.Name, j.Cadence)
		}
		if _, err := time.LoadLocation(j.TimeZone); err != nil {
			return fmt.Errorf("job %s: invalid timezone %q: %w", j.Name, j.TimeZone, err)
		}
	}
	return nil
}

// Duration 解析已校验过的时长字符串
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
