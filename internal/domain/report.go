package domain

import "time"

// PerformanceReport 周绩效报告
type PerformanceReport struct {
	ID                    int64
	WeeklyPlanID          int64
	AchievementPercentage float64
	Summary               string
	Strengths             []string
	Weaknesses            []string
	Recommendations       []string
	GeneratedAt           time.Time
}

// WeekProgress 月报中单周的完成度
type WeekProgress struct {
	WeekNumber            int     `json:"week_number"`
	AchievementPercentage float64 `json:"achievement_percentage"`
}

// MonthlyPerformanceReport 月度绩效报告
type MonthlyPerformanceReport struct {
	ID                    int64
	MonthlyPlanID         int64
	AchievementPercentage float64
	Summary               string
	Strengths             []string
	Weaknesses            []string
	Recommendations       []string
	TotalTasks            int
	CompletedTasks        int
	WeeklyProgress        []WeekProgress
	GeneratedAt           time.Time
}

// TaskTotals 月度任务统计
type TaskTotals struct {
	TotalTasks     int
	CompletedTasks int
}
