// Package scenario 从 YAML 文件读取排产场景：机台、关系、速度、日历与月度计划
package scenario

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // 容器内可能没有时区数据

	"gopkg.in/yaml.v3"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/selector"
)

// Period 排产年月
type Period struct {
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
}

// CalendarSpec 月历生成参数，日期格式 2006-01-02
type CalendarSpec struct {
	Timezone        string            `json:"timezone" yaml:"timezone"`
	Shifts          []model.ShiftSpec `json:"shifts" yaml:"shifts"`
	Holidays        []string          `json:"holidays" yaml:"holidays"`
	MaintenanceDays []string          `json:"maintenance_days" yaml:"maintenance_days"`
	WorkWeekends    bool              `json:"work_weekends" yaml:"work_weekends"`
}

// TimelineSpec 时间线参数
type TimelineSpec struct {
	Mode    string   `json:"mode" yaml:"mode"`
	Formats []string `json:"formats" yaml:"formats"`
}

// Scenario 排产场景
type Scenario struct {
	Name        string                        `json:"name" yaml:"name"`
	Period      Period                        `json:"period" yaml:"period"`
	Calendar    CalendarSpec                  `json:"calendar" yaml:"calendar"`
	Machines    []model.Machine               `json:"machines" yaml:"machines"`
	Relations   map[string][]string           `json:"relations" yaml:"relations"` // 喂料机 -> 卷包机
	Speeds      []model.MachineSpeed          `json:"speeds" yaml:"speeds"`
	Maintenance map[string][]model.TimeWindow `json:"maintenance" yaml:"maintenance"`
	Plans       []model.PlanItem              `json:"plans" yaml:"plans"`
	Timeline    TimelineSpec                  `json:"timeline" yaml:"timeline"`
}

// Load 读取场景文件
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取场景文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析场景并校验
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "解析场景失败")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate 校验场景
func (s *Scenario) Validate() error {
	ve := &errors.ValidationErrors{}
	if s.Period.Year <= 0 || s.Period.Month < 1 || s.Period.Month > 12 {
		ve.Add("period", fmt.Sprintf("无效年月 %d-%d", s.Period.Year, s.Period.Month))
	}
	if len(s.Machines) == 0 {
		ve.Add("machines", "不能为空")
	}
	if len(s.Plans) == 0 {
		ve.Add("plans", "不能为空")
	}
	codes := make(map[string]bool, len(s.Machines))
	for _, m := range s.Machines {
		if m.Code == "" {
			ve.Add("machines", "机台编码不能为空")
			continue
		}
		if codes[m.Code] {
			ve.Add("machines", fmt.Sprintf("机台 %s 重复", m.Code))
		}
		codes[m.Code] = true
	}
	for feeder, makers := range s.Relations {
		if !codes[feeder] {
			ve.Add("relations", fmt.Sprintf("喂料机 %s 未定义", feeder))
		}
		for _, mk := range makers {
			if !codes[mk] {
				ve.Add("relations", fmt.Sprintf("卷包机 %s 未定义", mk))
			}
		}
	}
	for _, sp := range s.Speeds {
		if !codes[sp.MachineCode] {
			ve.Add("speeds", fmt.Sprintf("机台 %s 未定义", sp.MachineCode))
		}
	}
	if _, err := s.Location(); err != nil {
		ve.Add("calendar.timezone", err.Error())
	}
	if ve.HasErrors() {
		return ve.ToAppError()
	}
	for i := range s.Plans {
		if err := s.Plans[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Location 场景时区，未设置为 UTC
func (s *Scenario) Location() (*time.Location, error) {
	if s.Calendar.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Calendar.Timezone)
}

// Month 排产月份
func (s *Scenario) Month() time.Month {
	return time.Month(s.Period.Month)
}

// SelectorPeriod 选机周期
func (s *Scenario) SelectorPeriod() selector.Period {
	return selector.Period{Year: s.Period.Year, Month: s.Month()}
}

// MonthOptions 月历参数
func (s *Scenario) MonthOptions() (calendar.MonthOptions, error) {
	loc, err := s.Location()
	if err != nil {
		return calendar.MonthOptions{}, err
	}
	holidays, err := parseDates(s.Calendar.Holidays, loc)
	if err != nil {
		return calendar.MonthOptions{}, err
	}
	maint, err := parseDates(s.Calendar.MaintenanceDays, loc)
	if err != nil {
		return calendar.MonthOptions{}, err
	}
	return calendar.MonthOptions{
		Location:        loc,
		Shifts:          s.Calendar.Shifts,
		Holidays:        holidays,
		MaintenanceDays: maint,
		WorkWeekends:    s.Calendar.WorkWeekends,
	}, nil
}

// CalendarDays 排产月的工作日历
func (s *Scenario) CalendarDays() ([]model.CalendarDay, error) {
	opts, err := s.MonthOptions()
	if err != nil {
		return nil, err
	}
	return calendar.BuildMonth(s.Period.Year, s.Month(), opts), nil
}

// Provider 以场景数据构建内存数据源
func (s *Scenario) Provider() (*calendar.MemoryProvider, error) {
	opts, err := s.MonthOptions()
	if err != nil {
		return nil, err
	}
	p := calendar.NewMemoryProvider()
	p.SetMonthOptions(opts)
	for _, m := range s.Machines {
		p.AddMachine(m)
	}
	for feeder, makers := range s.Relations {
		p.SetRelation(feeder, makers...)
	}
	for _, sp := range s.Speeds {
		p.SetSpeed(sp)
	}
	for code, windows := range s.Maintenance {
		p.AddMaintenance(code, windows...)
	}
	return p, nil
}

// Requirements 由计划生成选机需求
func (s *Scenario) Requirements() []model.ProductionRequirement {
	out := make([]model.ProductionRequirement, 0, len(s.Plans))
	for i := range s.Plans {
		out = append(out, model.RequirementFromPlan(&s.Plans[i]))
	}
	return out
}

func parseDates(values []string, loc *time.Location) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return nil, errors.InvalidInput("calendar", fmt.Sprintf("日期 %q 格式错误", v))
		}
		out = append(out, d)
	}
	return out, nil
}
