package constraint

import (
	"fmt"
	"math"
	"sort"

	"github.com/paiban/prodsched/pkg/model"
)

// EvaluateViolation 评估约束违反程度，返回 [0,1] 的程度与原因
// 纯函数：结果只取决于状态内容，与遍历顺序无关
func (c *Constraint) EvaluateViolation(s *State) (float64, string) {
	switch c.Type {
	case TypeMachineCapacity:
		return c.evalCapacity(s)
	case TypeTimeWindow:
		return c.evalTimeWindow(s)
	case TypeWorkCalendar:
		return c.evalWorkCalendar(s)
	case TypeMaintenanceWindow:
		return c.evalMaintenance(s)
	case TypeQualityStandard:
		return c.evalQuality(s)
	case TypePlanDemand:
		return c.evalDemand(s)
	}
	return 0, ""
}

// evalCapacity degree = max(0, (allocated - limit) / limit)
func (c *Constraint) evalCapacity(s *State) (float64, string) {
	worst, reason := 0.0, ""
	for _, m := range s.Machines() {
		if !c.AppliesToMachine(m) {
			continue
		}
		allocated := 0.0
		for plan, q := range s.Quantities[m] {
			if c.AppliesToPlan(plan) {
				allocated += q
			}
		}
		var d float64
		limit := c.Params.MaxCapacity
		switch {
		case limit <= 0 && allocated > model.Epsilon:
			d = 1
		case limit > 0:
			d = math.Max(0, (allocated-limit)/limit)
		}
		if d > worst+model.Epsilon {
			worst = d
			reason = fmt.Sprintf("机台 %s 分配 %.0f 超过产能 %.0f", m, allocated, limit)
		}
	}
	return clamp01(worst), reason
}

// evalTimeWindow 窗口外时长 / 窗口时长
func (c *Constraint) evalTimeWindow(s *State) (float64, string) {
	if c.Scope.Window == nil {
		return 0, ""
	}
	win := *c.Scope.Window
	span := win.DurationHours()
	worst, reason := 0.0, ""
	s.scheduled(func(machine, plan string, w model.TimeWindow) {
		if !c.AppliesToMachine(machine) || !c.AppliesToPlan(plan) {
			return
		}
		outside := w.DurationHours()
		if in, ok := w.Intersection(win); ok {
			outside -= in.DurationHours()
		}
		if outside <= model.Epsilon {
			return
		}
		d := 1.0
		if span > 0 {
			d = outside / span
		}
		if d > worst+model.Epsilon {
			worst = d
			reason = fmt.Sprintf("计划 %s 在机台 %s 上超出时间窗口 %.1f 小时", plan, machine, outside)
		}
	})
	return clamp01(worst), reason
}

// evalWorkCalendar 非工作时段时长 / 任务时长
func (c *Constraint) evalWorkCalendar(s *State) (float64, string) {
	worst, reason := 0.0, ""
	s.scheduled(func(machine, plan string, w model.TimeWindow) {
		if !c.AppliesToMachine(machine) || !c.AppliesToPlan(plan) {
			return
		}
		dur := w.DurationHours()
		if dur <= 0 {
			return
		}
		off := dur - w.OverlapHours(c.Params.Windows)
		if off <= model.Epsilon {
			return
		}
		if d := off / dur; d > worst+model.Epsilon {
			worst = d
			reason = fmt.Sprintf("计划 %s 在机台 %s 上有 %.1f 小时落在非工作时段", plan, machine, off)
		}
	})
	return clamp01(worst), reason
}

// evalMaintenance 与维护窗口重叠时长 / 任务时长
func (c *Constraint) evalMaintenance(s *State) (float64, string) {
	worst, reason := 0.0, ""
	s.scheduled(func(machine, plan string, w model.TimeWindow) {
		if !c.AppliesToMachine(machine) || !c.AppliesToPlan(plan) {
			return
		}
		dur := w.DurationHours()
		if dur <= 0 {
			return
		}
		overlap := w.OverlapHours(c.Params.Windows)
		if overlap <= model.Epsilon {
			return
		}
		if d := overlap / dur; d > worst+model.Epsilon {
			worst = d
			reason = fmt.Sprintf("计划 %s 在机台 %s 上与维护窗口重叠 %.1f 小时", plan, machine, overlap)
		}
	})
	return clamp01(worst), reason
}

// evalQuality 效率低于标准的相对差距
func (c *Constraint) evalQuality(s *State) (float64, string) {
	minEff := c.Params.MinEfficiency
	if minEff <= 0 {
		return 0, ""
	}
	worst, reason := 0.0, ""
	for _, m := range s.Machines() {
		if !c.AppliesToMachine(m) {
			continue
		}
		used := false
		for plan, q := range s.Quantities[m] {
			if q > model.Epsilon && c.AppliesToPlan(plan) {
				used = true
				break
			}
		}
		if !used {
			continue
		}
		eff, ok := c.Params.Efficiency[m]
		if !ok {
			continue
		}
		if eff < minEff {
			if d := (minEff - eff) / minEff; d > worst+model.Epsilon {
				worst = d
				reason = fmt.Sprintf("机台 %s 效率 %.2f 低于标准 %.2f", m, eff, minEff)
			}
		}
	}
	return clamp01(worst), reason
}

// evalDemand |分配 - 需求| / 需求
func (c *Constraint) evalDemand(s *State) (float64, string) {
	demand := c.Params.Demand
	if demand <= 0 {
		return 0, ""
	}
	plans := append([]string(nil), c.Scope.Plans...)
	sort.Strings(plans)
	worst, reason := 0.0, ""
	for _, p := range plans {
		total := s.PlanTotal(p)
		gap := math.Abs(total - demand)
		if gap <= demand*1e-9+model.Epsilon {
			continue
		}
		if d := gap / demand; d > worst+model.Epsilon {
			worst = d
			reason = fmt.Sprintf("计划 %s 分配 %.0f, 需求 %.0f", p, total, demand)
		}
	}
	return clamp01(worst), reason
}

func clamp01(v float64) float64 {
	return model.Clamp(v, 0, 1)
}
