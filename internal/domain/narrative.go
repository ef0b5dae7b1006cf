package domain

import "math"

// Narrative AI 生成的结构化评估
type Narrative struct {
	AchievementPercentage float64
	Summary               string
	Strengths             []string
	Weaknesses            []string
	Recommendations       []string
}

// Normalize 将完成度限制在 [0,100] 并把空列表替换为空切片。
// 返回值表示完成度是否被修正过。
func (n *Narrative) Normalize() bool {
	adjusted := false
	if math.IsNaN(n.AchievementPercentage) {
		n.AchievementPercentage = 0
		adjusted = true
	}
	if clamped := ClampPercentage(n.AchievementPercentage); clamped != n.AchievementPercentage {
		n.AchievementPercentage = clamped
		adjusted = true
	}
	n.Strengths = nonNil(n.Strengths)
	n.Weaknesses = nonNil(n.Weaknesses)
	n.Recommendations = nonNil(n.Recommendations)
	return adjusted
}

// ClampPercentage 把任意数值限制在 [0,100]，NaN 视为 0
func ClampPercentage(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// AchievementPercentage 计算完成百分比，总数为 0 时返回 0
func AchievementPercentage(completed, total int) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	return ClampPercentage(100 * float64(completed) / float64(total))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
