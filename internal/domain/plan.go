package domain

import "time"

// WeeksPerMonth 每个月固定划分的周数
const WeeksPerMonth = 4

// Tenant 租户（经理账号）及其日历偏好
type Tenant struct {
	ID                 int64
	Name               string
	TimeZone           string
	WeekStartDay       time.Weekday
	SubscriptionStatus SubscriptionStatus
	SubscriptionEndAt  *time.Time
}

// Location 返回租户所在时区，无法解析时回退到 UTC
func (t *Tenant) Location() *time.Location {
	if t.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AnnualTarget 年度目标
type AnnualTarget struct {
	ID       int64
	TenantID int64
	Year     int
	Goal     string
}

// MonthlyPlan 月度计划
type MonthlyPlan struct {
	ID                    int64
	AnnualTargetID        int64
	TenantID              int64
	Year                  int
	Month                 time.Month
	Goal                  string
	AchievementPercentage *float64
}

// WeeklyPlan 周计划，周期起止时间在创建时确定，之后不再重新计算
type WeeklyPlan struct {
	ID                    int64
	MonthlyPlanID         int64
	TenantID              int64
	Year                  int
	Month                 time.Month
	WeekNumber            int
	Goal                  string
	WeekStartDate         time.Time
	WeekEndDate           time.Time
	AchievementPercentage *float64
}
