package domain

import "time"

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskFact 一条任务及其分配、汇报记录，聚合器的只读输入
type TaskFact struct {
	TaskID      int64
	Title       string
	WeekNumber  int
	Status      TaskStatus
	Assignments []AssignmentFact
}

// AssignmentFact 任务分配给某个员工的记录
type AssignmentFact struct {
	EmployeeID   int64
	EmployeeName string
	Status       TaskStatus
	Reports      []ReportFact
}

// ReportFact 员工提交的文字汇报
type ReportFact struct {
	Content     string
	SubmittedAt time.Time
}

// EmployeeReport 单个员工在周期内的汇总
type EmployeeReport struct {
	EmployeeID     int64    `json:"employee_id"`
	Name           string   `json:"name"`
	TaskCount      int      `json:"task_count"`
	CompletedCount int      `json:"completed_count"`
	ReportTexts    []string `json:"report_texts"`
	WeeklyGoal     string   `json:"weekly_goal,omitempty"`
}

// WeeklyFacts 一周的聚合结果
type WeeklyFacts struct {
	TenantID              int64
	WeeklyPlanID          int64
	WeekNumber            int
	Goal                  string
	TotalTasks            int
	CompletedTasks        int
	AchievementPercentage float64
	PerEmployeeReports    []EmployeeReport
}

// MonthlyFacts 一个月的聚合结果
type MonthlyFacts struct {
	TenantID              int64
	MonthlyPlanID         int64
	Year                  int
	Month                 time.Month
	TotalTasks            int
	CompletedTasks        int
	AchievementPercentage float64
	WeeklyAchievements    [WeeksPerMonth]float64
	WeeklySummaries       []string
	AllEmployeeReports    []EmployeeReport
}
