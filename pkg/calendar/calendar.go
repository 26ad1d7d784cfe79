// Package calendar 提供机台、关系图、速度与工作日历的数据来源
package calendar

import (
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/model"
)

// DefaultShifts 默认两班制 08:00-16:00, 16:00-24:00
var DefaultShifts = []model.ShiftSpec{
	{Name: "早班", Start: "08:00", End: "16:00"},
	{Name: "中班", Start: "16:00", End: "24:00"},
}

// MonthOptions 生成月历的选项
type MonthOptions struct {
	Location        *time.Location
	Shifts          []model.ShiftSpec
	Holidays        []time.Time
	MaintenanceDays []time.Time
	WorkWeekends    bool
}

// BuildMonth 生成某月的工作日历
func BuildMonth(year int, month time.Month, opts MonthOptions) []model.CalendarDay {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	shifts := opts.Shifts
	if len(shifts) == 0 {
		shifts = DefaultShifts
	}
	holidays := dateSet(opts.Holidays)
	maint := dateSet(opts.MaintenanceDays)

	hours := 0.0
	for _, s := range shifts {
		hours += s.Hours()
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	var days []model.CalendarDay
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		day := model.CalendarDay{Date: d, DayType: model.DayWorkday}
		key := d.Format("2006-01-02")
		switch {
		case maint[key]:
			day.DayType = model.DayMaintenance
		case holidays[key]:
			day.DayType = model.DayHoliday
		case (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) && !opts.WorkWeekends:
			day.DayType = model.DayWeekend
		}
		if day.DayType == model.DayWorkday {
			day.IsWorking = true
			day.Shifts = append([]model.ShiftSpec(nil), shifts...)
			day.TotalHours = hours
			day.CapacityFactor = 1.0
		}
		days = append(days, day)
	}
	return days
}

func dateSet(dates []time.Time) map[string]bool {
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d.Format("2006-01-02")] = true
	}
	return set
}

// MonthWindow 返回整月窗口
func MonthWindow(year int, month time.Month, loc *time.Location) model.TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return model.TimeWindow{Start: start, End: start.AddDate(0, 1, 0)}
}

// WorkingWindows 将工作日班次展开为时间窗口，相邻窗口合并
func WorkingWindows(days []model.CalendarDay) []model.TimeWindow {
	var windows []model.TimeWindow
	for _, d := range days {
		if !d.IsWorking || d.CapacityFactor <= 0 {
			continue
		}
		for _, s := range d.Shifts {
			w, err := s.Window(d.Date)
			if err != nil {
				continue
			}
			windows = append(windows, w)
		}
	}
	return MergeWindows(windows)
}

// MergeWindows 合并重叠或相接的窗口
func MergeWindows(windows []model.TimeWindow) []model.TimeWindow {
	if len(windows) == 0 {
		return nil
	}
	sorted := append([]model.TimeWindow(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []model.TimeWindow{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// SubtractWindows 从 base 中扣除 holes
func SubtractWindows(base, holes []model.TimeWindow) []model.TimeWindow {
	result := MergeWindows(base)
	for _, h := range MergeWindows(holes) {
		var next []model.TimeWindow
		for _, w := range result {
			if !w.Overlaps(h) {
				next = append(next, w)
				continue
			}
			if w.Start.Before(h.Start) {
				next = append(next, model.TimeWindow{Start: w.Start, End: h.Start})
			}
			if h.End.Before(w.End) {
				next = append(next, model.TimeWindow{Start: h.End, End: w.End})
			}
		}
		result = next
	}
	return result
}
