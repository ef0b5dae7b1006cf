// Package period computes the calendar windows reports are generated for.
//
// A month is split into four fixed buckets rather than ISO weeks. Bucket N
// starts weekStartDay+7*(N-1) days after the 1st (bucket 1 always starts on
// the 1st) and bucket 4 runs to the last instant of the month, so the four
// windows always partition the month exactly.
package period

import (
	"fmt"
	"time"

	"github.com/iWorld-y/team_pulse/internal/domain"
)

// Resolution is the precision of window end instants.
const Resolution = time.Millisecond

// Window 一个闭区间 [Start, End]，End 精确到毫秒
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s ~ %s", w.Start.Format(time.RFC3339), w.End.Format("2006-01-02T15:04:05.000Z07:00"))
}

// MonthWindow 计算某月在给定时区下的起止时间
func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	next := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: next.Add(-Resolution)}
}

// WeekWindow 计算某月第 weekNumber 周（1..4）的起止时间
func WeekWindow(year int, month time.Month, weekNumber int, weekStartDay time.Weekday, loc *time.Location) (Window, error) {
	if weekNumber < 1 || weekNumber > domain.WeeksPerMonth {
		return Window{}, fmt.Errorf("week number %d out of range 1..%d", weekNumber, domain.WeeksPerMonth)
	}
	if weekStartDay < time.Sunday || weekStartDay > time.Saturday {
		return Window{}, fmt.Errorf("invalid week start day %d", weekStartDay)
	}
	mw := MonthWindow(year, month, loc)

	start := mw.Start
	if weekNumber > 1 {
		start = bucketStart(mw.Start, weekNumber, weekStartDay)
	}
	if weekNumber == domain.WeeksPerMonth {
		return Window{Start: start, End: mw.End}, nil
	}
	next := bucketStart(mw.Start, weekNumber+1, weekStartDay)
	return Window{Start: start, End: next.Add(-Resolution)}, nil
}

// WeekWindows 返回一个月的全部 4 个周窗口
func WeekWindows(year int, month time.Month, weekStartDay time.Weekday, loc *time.Location) ([domain.WeeksPerMonth]Window, error) {
	var out [domain.WeeksPerMonth]Window
	for n := 1; n <= domain.WeeksPerMonth; n++ {
		w, err := WeekWindow(year, month, n, weekStartDay, loc)
		if err != nil {
			return out, err
		}
		out[n-1] = w
	}
	return out, nil
}

// PreviousMonth returns the calendar month before the one containing t, in t's location.
func PreviousMonth(t time.Time) (int, time.Month) {
	prev := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

// bucketStart uses AddDate so bucket starts stay at local midnight across DST changes.
func bucketStart(monthStart time.Time, weekNumber int, weekStartDay time.Weekday) time.Time {
	return monthStart.AddDate(0, 0, int(weekStartDay)+7*(weekNumber-1))
}
