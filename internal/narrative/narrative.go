package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"golang.org/x/time/rate"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/domain"
)

// ProviderSet is narrative providers.
var ProviderSet = wire.NewSet(NewChatModel, NewGenerator)

const systemPrompt = "你是一个 JSON 生成器。请只输出 JSON 字符串。"

const weeklyPrompt = `你是一名团队绩效分析师。请根据以下一周的任务完成情况和员工汇报，评估本周目标的达成度。
请务必严格按照以下 JSON 格式返回，不要包含任何 markdown 标记：
{
	"achievement_percentage": 75,
	"summary": "本周整体表现总结（100-200字）",
	"strengths": ["优点1", "优点2"],
	"weaknesses": ["不足1", "不足2"],
	"recommendations": ["建议1", "建议2"]
}
achievement_percentage 为 0-100 的数字。

本周数据：
%s`

const monthlyPrompt = `你是一名团队绩效分析师。请根据以下一个月的任务完成情况、每周完成度、周报总结和员工汇报，评估本月目标的达成度。
月度目标：%s
请务必严格按照以下 JSON 格式返回，不要包含任何 markdown 标记：
{
	"achievement_percentage": 75,
	"summary": "本月整体表现总结（200-300字）",
	"strengths": ["优点1", "优点2"],
	"weaknesses": ["不足1", "不足2"],
	"recommendations": ["建议1", "建议2"]
}
achievement_percentage 为 0-100 的数字。

本月数据：
%s`

// NewChatModel 创建 OpenAI 兼容的对话模型
func NewChatModel(c *conf.Narrative) (model.BaseChatModel, error) {
	cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		BaseURL: c.BaseUrl,
		APIKey:  c.ApiKey,
		Model:   c.Model,
		Timeout: conf.Duration(c.Timeout, 60*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("LLM 初始化失败: %w", err)
	}
	return cm, nil
}

// Generator 基于大模型的绩效叙述生成器
type Generator struct {
	cm         model.BaseChatModel
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *log.Helper
}

// NewGenerator 创建叙述生成器
func NewGenerator(cm model.BaseChatModel, c *conf.Narrative, logger log.Logger) *Generator {
	limit := rate.Inf
	if c.Rpm > 0 {
		limit = rate.Limit(float64(c.Rpm) / 60.0)
	}
	burst := int(c.Qps)
	if burst <= 0 {
		burst = 1
	}
	return &Generator{
		cm:         cm,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    conf.Duration(c.Timeout, 60*time.Second),
		maxRetries: int(c.MaxRetries),
		baseDelay:  2 * time.Second,
		sleep:      sleepContext,
		log:        log.NewHelper(log.With(logger, "module", "narrative")),
	}
}

type weekInput struct {
	WeekNumber     int                     `json:"week_number"`
	Goal           string                  `json:"goal"`
	TotalTasks     int                     `json:"total_tasks"`
	CompletedTasks int                     `json:"completed_tasks"`
	Achievement    float64                 `json:"achievement_percentage"`
	Employees      []domain.EmployeeReport `json:"employees"`
}

type monthInput struct {
	Year               int                     `json:"year"`
	Month              int                     `json:"month"`
	TotalTasks         int                     `json:"total_tasks"`
	CompletedTasks     int                     `json:"completed_tasks"`
	Achievement        float64                 `json:"achievement_percentage"`
	WeeklyAchievements []float64               `json:"weekly_achievements"`
	WeeklySummaries    []string                `json:"weekly_summaries"`
	Employees          []domain.EmployeeReport `json:"employees"`
}

// AnalyzeWeek 生成周报叙述。模型未给出完成度时 AchievementPercentage 为 NaN。
func (g *Generator) AnalyzeWeek(ctx context.Context, facts *domain.WeeklyFacts) (*domain.Narrative, error) {
	payload, err := json.MarshalIndent(weekInput{
		WeekNumber:     facts.WeekNumber,
		Goal:           facts.Goal,
		TotalTasks:     facts.TotalTasks,
		CompletedTasks: facts.CompletedTasks,
		Achievement:    facts.AchievementPercentage,
		Employees:      facts.PerEmployeeReports,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal weekly facts: %w", err)
	}
	return g.generate(ctx, fmt.Sprintf(weeklyPrompt, payload))
}

// AnalyzeMonth 生成月报叙述，额外携带月度目标与每周完成度序列
func (g *Generator) AnalyzeMonth(ctx context.Context, facts *domain.MonthlyFacts, goal string) (*domain.Narrative, error) {
	payload, err := json.MarshalIndent(monthInput{
		Year:               facts.Year,
		Month:              int(facts.Month),
		TotalTasks:         facts.TotalTasks,
		CompletedTasks:     facts.CompletedTasks,
		Achievement:        facts.AchievementPercentage,
		WeeklyAchievements: facts.WeeklyAchievements[:],
		WeeklySummaries:    facts.WeeklySummaries,
		Employees:          facts.AllEmployeeReports,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal monthly facts: %w", err)
	}
	return g.generate(ctx, fmt.Sprintf(monthlyPrompt, goal, payload))
}

type narrativeJSON struct {
	AchievementPercentage *float64 `json:"achievement_percentage"`
	Summary               string   `json:"summary"`
	Strengths             []string `json:"strengths"`
	Weaknesses            []string `json:"weaknesses"`
	Recommendations       []string `json:"recommendations"`
}

func (g *Generator) generate(parent context.Context, prompt string) (*domain.Narrative, error) {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: prompt},
	}

	var lastErr error
	for i := 0; i <= g.maxRetries; i++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, g.wrap(parent, ctx, err)
		}

		resp, err := g.cm.Generate(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, g.wrap(parent, ctx, err)
			}
			if !isRateLimited(err) {
				return nil, domain.ErrNarrativeUnavailable(err)
			}
			lastErr = err
			g.log.Warnf("narrative rate limited, attempt %d/%d: %v", i+1, g.maxRetries+1, err)
		} else {
			n, err := parse(resp.Content)
			if err == nil {
				return n, nil
			}
			lastErr = err
			g.log.Warnf("narrative malformed, attempt %d/%d: %v", i+1, g.maxRetries+1, err)
		}

		if i < g.maxRetries {
			if err := g.sleep(ctx, g.baseDelay*time.Duration(1<<i)); err != nil {
				return nil, g.wrap(parent, ctx, err)
			}
		}
	}

	if isRateLimited(lastErr) {
		return nil, domain.ErrNarrativeUnavailable(lastErr)
	}
	return nil, domain.ErrNarrativeMalformed(lastErr)
}

// wrap maps context failures: the caller's cancellation passes through,
// our own deadline becomes a timeout.
func (g *Generator) wrap(parent, ctx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrNarrativeTimeout(err)
	}
	return domain.ErrNarrativeUnavailable(err)
}

func parse(content string) (*domain.Narrative, error) {
	clean := strings.TrimSpace(content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	var raw narrativeJSON
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	n := &domain.Narrative{
		AchievementPercentage: math.NaN(),
		Summary:               raw.Summary,
		Strengths:             raw.Strengths,
		Weaknesses:            raw.Weaknesses,
		Recommendations:       raw.Recommendations,
	}
	if raw.AchievementPercentage != nil {
		n.AchievementPercentage = *raw.AchievementPercentage
	}
	return n, nil
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests")
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
