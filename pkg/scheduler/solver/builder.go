package solver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// 目标权重键
const (
	ObjectiveEarlyStart  = "early_start"  // 提前开工奖励
	ObjectiveSoftPenalty = "soft_penalty" // 软约束惩罚倍数
)

// MachineConfig 求解用的机台配置
type MachineConfig struct {
	Code               string             `json:"code" yaml:"code"`
	Capacity           float64            `json:"capacity" yaml:"capacity"`
	RatePerHour        float64            `json:"rate_per_hour" yaml:"rate_per_hour"`
	Efficiency         float64            `json:"efficiency" yaml:"efficiency"`
	MaintenanceWindows []model.TimeWindow `json:"maintenance_windows,omitempty" yaml:"maintenance_windows"`
}

// Preferences 约束生成偏好
type Preferences struct {
	HardTimeWindows bool     `json:"hard_time_windows" yaml:"hard_time_windows"`
	HardCalendar    bool     `json:"hard_calendar" yaml:"hard_calendar"`
	MinEfficiency   float64  `json:"min_efficiency" yaml:"min_efficiency"`
	QualityHard     bool     `json:"quality_hard" yaml:"quality_hard"`
	Strategy        Strategy `json:"strategy" yaml:"strategy"`
	Config          Config   `json:"config" yaml:"config"`
}

// OptimizeWithConstraints 由计划、机台与日历生成约束和变量后求解
func (s *Solver) OptimizeWithConstraints(ctx context.Context, plans []model.PlanItem, machines []MachineConfig, days []model.CalendarDay, objectives map[string]float64, prefs Preferences) (*Solution, error) {
	constraints, variables, err := BuildProblem(plans, machines, days, prefs)
	if err != nil {
		return nil, err
	}
	cfg := prefs.Config
	for k, w := range objectives {
		if w < 0 || math.IsNaN(w) {
			return nil, errors.Validation("objectives", fmt.Sprintf("目标 %s 的权重不能为负数", k))
		}
		switch k {
		case ObjectiveEarlyStart:
			cfg.QualityWeight = w
		case ObjectiveSoftPenalty:
			cfg.SoftPenalty = constraint.DefaultSoftPenalty * w
		default:
			return nil, errors.Validation("objectives", fmt.Sprintf("未知目标 %q", k))
		}
	}
	return s.SolveConstraints(ctx, constraints, variables, prefs.Strategy, cfg)
}

// BuildProblem 生成约束集合与决策变量
// 每个 (计划, 候选机台) 生成一个数量变量与一个开工变量
func BuildProblem(plans []model.PlanItem, machines []MachineConfig, days []model.CalendarDay, prefs Preferences) ([]*constraint.Constraint, []Variable, error) {
	ve := &errors.ValidationErrors{}
	if len(plans) == 0 {
		ve.Add("plans", "不能为空")
	}
	if len(machines) == 0 {
		ve.Add("machine_configs", "不能为空")
	}
	if prefs.MinEfficiency < 0 || prefs.MinEfficiency > 1 {
		ve.Add("min_efficiency", "必须在 [0,1] 区间")
	}
	if ve.HasErrors() {
		return nil, nil, ve.ToAppError()
	}

	byCode := make(map[string]*MachineConfig, len(machines))
	codes := make([]string, 0, len(machines))
	for i := range machines {
		m := &machines[i]
		if m.Code == "" {
			return nil, nil, errors.Validation(fmt.Sprintf("machine_configs[%d].code", i), "不能为空")
		}
		if _, dup := byCode[m.Code]; dup {
			return nil, nil, errors.Validation("machine_configs", fmt.Sprintf("机台 %s 重复", m.Code))
		}
		if m.Capacity < 0 || m.RatePerHour < 0 || m.Efficiency < 0 || m.Efficiency > 1 {
			return nil, nil, errors.Validation("machine_configs", fmt.Sprintf("机台 %s 参数无效", m.Code))
		}
		byCode[m.Code] = m
		codes = append(codes, m.Code)
	}
	sort.Strings(codes)

	working := calendar.WorkingWindows(days)
	horizon, hasHorizon := calendarHorizon(days)

	var constraints []*constraint.Constraint
	efficiency := make(map[string]float64, len(codes))
	for _, code := range codes {
		m := byCode[code]
		if m.Capacity > 0 {
			constraints = append(constraints, &constraint.Constraint{
				ID:     "capacity:" + code,
				Name:   fmt.Sprintf("机台 %s 产能", code),
				Type:   constraint.TypeMachineCapacity,
				IsHard: true,
				Params: constraint.Params{MaxCapacity: m.Capacity},
				Scope:  constraint.Scope{Machines: []string{code}},
			})
		}
		if len(m.MaintenanceWindows) > 0 {
			constraints = append(constraints, &constraint.Constraint{
				ID:     "maintenance:" + code,
				Name:   fmt.Sprintf("机台 %s 维护", code),
				Type:   constraint.TypeMaintenanceWindow,
				IsHard: true,
				Params: constraint.Params{Windows: m.MaintenanceWindows},
				Scope:  constraint.Scope{Machines: []string{code}},
			})
		}
		efficiency[code] = m.Efficiency
		if efficiency[code] == 0 {
			efficiency[code] = 1
		}
	}
	if len(working) > 0 {
		constraints = append(constraints, &constraint.Constraint{
			ID:     "calendar",
			Name:   "工作日历",
			Type:   constraint.TypeWorkCalendar,
			IsHard: prefs.HardCalendar,
			Params: constraint.Params{Windows: working},
		})
	}
	if prefs.MinEfficiency > 0 {
		constraints = append(constraints, &constraint.Constraint{
			ID:     "quality",
			Name:   "质量标准",
			Type:   constraint.TypeQualityStandard,
			IsHard: prefs.QualityHard,
			Params: constraint.Params{MinEfficiency: prefs.MinEfficiency, Efficiency: efficiency},
		})
	}

	var variables []Variable
	seen := make(map[string]bool, len(plans))
	for i := range plans {
		p := &plans[i]
		if err := p.Validate(); err != nil {
			return nil, nil, err
		}
		if seen[p.PlanID] {
			return nil, nil, errors.Validation("plans", fmt.Sprintf("计划 %s 重复", p.PlanID))
		}
		seen[p.PlanID] = true

		cands := candidateMachines(p, byCode, codes)
		if len(cands) == 0 {
			return nil, nil, errors.Validation("plans", fmt.Sprintf("计划 %s 没有可用机台", p.PlanID))
		}
		constraints = append(constraints, &constraint.Constraint{
			ID:       "demand:" + p.PlanID,
			Name:     fmt.Sprintf("计划 %s 需求", p.PlanID),
			Type:     constraint.TypePlanDemand,
			IsHard:   true,
			Priority: int(p.EffectivePriority()),
			Params:   constraint.Params{Demand: p.TargetQuantity},
			Scope:    constraint.Scope{Plans: []string{p.PlanID}},
		})

		window := p.Window()
		if window.IsZero() {
			if !hasHorizon {
				return nil, nil, errors.Validation("plans", fmt.Sprintf("计划 %s 没有时间窗口且未提供日历", p.PlanID))
			}
			window = horizon
		} else {
			w := window
			constraints = append(constraints, &constraint.Constraint{
				ID:       "window:" + p.PlanID,
				Name:     fmt.Sprintf("计划 %s 时间窗口", p.PlanID),
				Type:     constraint.TypeTimeWindow,
				IsHard:   prefs.HardTimeWindows,
				Priority: int(p.EffectivePriority()),
				Scope:    constraint.Scope{Plans: []string{p.PlanID}, Window: &w},
			})
		}

		share := p.TargetQuantity / float64(len(cands))
		for _, code := range cands {
			dur := durationHours(share, byCode[code])
			upper := math.Max(0, window.DurationHours()-dur)
			variables = append(variables,
				Variable{
					ID:      fmt.Sprintf("qty:%s:%s", p.PlanID, code),
					Kind:    KindQuantity,
					Machine: code,
					Plan:    p.PlanID,
					Upper:   p.TargetQuantity,
				},
				Variable{
					ID:            fmt.Sprintf("start:%s:%s", p.PlanID, code),
					Kind:          KindStartTime,
					Machine:       code,
					Plan:          p.PlanID,
					Upper:         upper,
					Origin:        window.Start,
					DurationHours: dur,
				},
			)
		}
	}
	return constraints, variables, nil
}

// candidateMachines 计划指定的机台中已配置的部分，未指定时为全部机台
func candidateMachines(p *model.PlanItem, byCode map[string]*MachineConfig, codes []string) []string {
	if len(p.MakerCodes) == 0 {
		return codes
	}
	var out []string
	for _, c := range p.MakerCodes {
		if _, ok := byCode[c]; ok && !contains(out, c) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// durationHours 按机台速率与效率估算生产时长，至少 1 小时
func durationHours(qty float64, m *MachineConfig) float64 {
	rate := m.RatePerHour
	if m.Efficiency > 0 {
		rate *= m.Efficiency
	}
	if rate <= 0 {
		return 1
	}
	return math.Max(1, math.Ceil(qty/rate*4)/4)
}

// calendarHorizon 日历覆盖的整体时间范围
func calendarHorizon(days []model.CalendarDay) (model.TimeWindow, bool) {
	if len(days) == 0 {
		return model.TimeWindow{}, false
	}
	first, last := days[0].Date, days[0].Date
	for _, d := range days[1:] {
		if d.Date.Before(first) {
			first = d.Date
		}
		if d.Date.After(last) {
			last = d.Date
		}
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location())
	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location()).AddDate(0, 0, 1)
	return model.TimeWindow{Start: start, End: end}, true
}
