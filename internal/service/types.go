package service

import "github.com/iWorld-y/team_pulse/internal/domain"

type PlanRequest struct {
	ID int64 `json:"id"`
}

type WeeklyReportReply struct {
	ID                    int64    `json:"id"`
	WeeklyPlanID          int64    `json:"weekly_plan_id"`
	AchievementPercentage float64  `json:"achievement_percentage"`
	Summary               string   `json:"summary"`
	Strengths             []string `json:"strengths"`
	Weaknesses            []string `json:"weaknesses"`
	Recommendations       []string `json:"recommendations"`
	GeneratedAt           string   `json:"generated_at"`
}

type MonthlyReportReply struct {
	ID                    int64                 `json:"id"`
	MonthlyPlanID         int64                 `json:"monthly_plan_id"`
	AchievementPercentage float64               `json:"achievement_percentage"`
	Summary               string                `json:"summary"`
	Strengths             []string              `json:"strengths"`
	Weaknesses            []string              `json:"weaknesses"`
	Recommendations       []string              `json:"recommendations"`
	TotalTasks            int                   `json:"total_tasks"`
	CompletedTasks        int                   `json:"completed_tasks"`
	WeeklyProgress        []domain.WeekProgress `json:"weekly_progress"`
	GeneratedAt           string                `json:"generated_at"`
}

// FireJobRequest At 为 RFC3339 时间，留空表示现在
type FireJobRequest struct {
	Name string `json:"name"`
	At   string `json:"at"`
}

type FireJobReply struct {
	RunID     string `json:"run_id"`
	Job       string `json:"job"`
	FiredAt   string `json:"fired_at"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

type ListUnitsRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type UnitReply struct {
	UnitKey    string `json:"unit_key"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	ErrorClass string `json:"error_class"`
	LastError  string `json:"last_error"`
	UpdatedAt  string `json:"updated_at"`
}

type ListUnitsReply struct {
	Units []*UnitReply `json:"units"`
}
