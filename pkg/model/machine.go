package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
)

// MachineType 机台类型
type MachineType string

const (
	MachineFeeder MachineType = "feeder" // 喂料机
	MachineMaker  MachineType = "maker"  // 卷包机
)

// MachineStatus 机台状态
type MachineStatus string

const (
	StatusActive      MachineStatus = "active"
	StatusMaintenance MachineStatus = "maintenance"
	StatusStopped     MachineStatus = "stopped"
	StatusOffline     MachineStatus = "offline"
)

// Machine 机台
type Machine struct {
	Code        string        `json:"code" yaml:"code"`
	Name        string        `json:"name,omitempty" yaml:"name"`
	Type        MachineType   `json:"type" yaml:"type"`
	Line        string        `json:"line,omitempty" yaml:"line"`
	Status      MachineStatus `json:"status" yaml:"status"`
	Efficiency  float64       `json:"efficiency,omitempty" yaml:"efficiency"`
	CostPerUnit float64       `json:"cost_per_unit,omitempty" yaml:"cost_per_unit"`
}

// IsActive 机台是否可用
func (m *Machine) IsActive() bool {
	return m.Status == "" || m.Status == StatusActive
}

// MachineSpeed 机台对某产品的速度
type MachineSpeed struct {
	MachineCode  string  `json:"machine_code" yaml:"machine_code"`
	ArticleNr    string  `json:"article_nr" yaml:"article_nr"`
	SpeedPerHour float64 `json:"speed_per_hour" yaml:"speed_per_hour"`
	Efficiency   float64 `json:"efficiency" yaml:"efficiency"`
}

// EffectiveRate 有效产出速率（件/小时）
func (s MachineSpeed) EffectiveRate() float64 {
	eff := s.Efficiency
	if eff <= 0 {
		eff = 1
	}
	return s.SpeedPerHour * eff
}

// DayType 日历日类型
type DayType string

const (
	DayWorkday     DayType = "WORKDAY"
	DayWeekend     DayType = "WEEKEND"
	DayHoliday     DayType = "HOLIDAY"
	DayMaintenance DayType = "MAINTENANCE"
)

// ShiftSpec 班次定义 HH:MM，End 允许 24:00
type ShiftSpec struct {
	Name  string `json:"name" yaml:"name"`
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Window 在指定日期上展开班次
func (s ShiftSpec) Window(day time.Time) (TimeWindow, error) {
	start, err := parseClock(s.Start)
	if err != nil {
		return TimeWindow{}, err
	}
	end, err := parseClock(s.End)
	if err != nil {
		return TimeWindow{}, err
	}
	base := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	w := TimeWindow{Start: base.Add(start), End: base.Add(end)}
	if !w.Start.Before(w.End) {
		// 跨零点班次
		w.End = w.End.Add(24 * time.Hour)
	}
	return w, nil
}

// Hours 班次时长
func (s ShiftSpec) Hours() float64 {
	w, err := s.Window(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return 0
	}
	return w.DurationHours()
}

func parseClock(v string) (time.Duration, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, errors.InvalidInput("shift", fmt.Sprintf("时间格式必须为 HH:MM: %q", v))
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, errors.InvalidInput("shift", fmt.Sprintf("无效时间: %q", v))
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// CalendarDay 工作日历中的一天
type CalendarDay struct {
	Date           time.Time   `json:"date" yaml:"date"`
	DayType        DayType     `json:"day_type" yaml:"day_type"`
	IsWorking      bool        `json:"is_working" yaml:"is_working"`
	Shifts         []ShiftSpec `json:"shifts,omitempty" yaml:"shifts"`
	TotalHours     float64     `json:"total_hours" yaml:"total_hours"`
	CapacityFactor float64     `json:"capacity_factor" yaml:"capacity_factor"`
}

// ResourceCapacity 资源产能快照
type ResourceCapacity struct {
	ResourceID          string       `json:"resource_id"`
	ResourceType        MachineType  `json:"resource_type"`
	TotalCapacity       float64      `json:"total_capacity"`
	AvailableCapacity   float64      `json:"available_capacity"`
	ReservedCapacity    float64      `json:"reserved_capacity"`
	Unit                string       `json:"unit,omitempty"`
	CostPerUnit         float64      `json:"cost_per_unit"`
	EfficiencyFactor    float64      `json:"efficiency_factor"`
	AvailabilityWindows []TimeWindow `json:"availability_windows,omitempty"`
	MaintenanceWindows  []TimeWindow `json:"maintenance_windows,omitempty"`
}

// Usable 可分配产能
func (r *ResourceCapacity) Usable() float64 {
	u := r.AvailableCapacity - r.ReservedCapacity
	if u < 0 {
		return 0
	}
	return u
}

// Efficiency 效率因子，未设置时为1
func (r *ResourceCapacity) Efficiency() float64 {
	if r.EfficiencyFactor <= 0 {
		return 1
	}
	return r.EfficiencyFactor
}

// Validate 校验产能快照
func (r *ResourceCapacity) Validate() error {
	ve := &errors.ValidationErrors{}
	if r.ResourceID == "" {
		ve.Add("resource_id", "不能为空")
	}
	if r.TotalCapacity < 0 || r.AvailableCapacity < 0 || r.ReservedCapacity < 0 {
		ve.Add("capacity", "不能为负数")
	}
	if r.AvailableCapacity > r.TotalCapacity+Epsilon {
		ve.Add("available_capacity", "不能大于 total_capacity")
	}
	if r.EfficiencyFactor < 0 || r.EfficiencyFactor > 1 {
		ve.Add("efficiency_factor", "必须在 [0,1] 区间")
	}
	if r.CostPerUnit < 0 {
		ve.Add("cost_per_unit", "不能为负数")
	}
	for _, mw := range r.MaintenanceWindows {
		for _, aw := range r.AvailabilityWindows {
			if mw.Overlaps(aw) {
				ve.Add("maintenance_windows", "维护窗口不能与可用窗口重叠")
				break
			}
		}
	}
	if ve.HasErrors() {
		return ve.ToAppError().WithField("resource", r.ResourceID)
	}
	return nil
}
