package constraint

import (
	"sort"

	"github.com/paiban/prodsched/pkg/model"
)

// State 候选解状态
type State struct {
	Quantities map[string]map[string]float64          // machine -> plan -> qty
	Windows    map[string]map[string]model.TimeWindow // machine -> plan -> scheduled window
}

// NewState 创建空状态
func NewState() *State {
	return &State{
		Quantities: make(map[string]map[string]float64),
		Windows:    make(map[string]map[string]model.TimeWindow),
	}
}

// StateFromAllocation 由资源分配构建状态
func StateFromAllocation(a *model.ResourceAllocation) *State {
	s := NewState()
	for res, plans := range a.Allocations {
		for plan, qty := range plans {
			s.SetQuantity(res, plan, qty)
		}
	}
	return s
}

// SetQuantity 设置数量
func (s *State) SetQuantity(machine, plan string, qty float64) {
	m, ok := s.Quantities[machine]
	if !ok {
		m = make(map[string]float64)
		s.Quantities[machine] = m
	}
	m[plan] = qty
}

// SetWindow 设置排产窗口
func (s *State) SetWindow(machine, plan string, w model.TimeWindow) {
	m, ok := s.Windows[machine]
	if !ok {
		m = make(map[string]model.TimeWindow)
		s.Windows[machine] = m
	}
	m[plan] = w
}

// Machines 状态中出现的所有机台（排序）
func (s *State) Machines() []string {
	set := make(map[string]struct{})
	for m := range s.Quantities {
		set[m] = struct{}{}
	}
	for m := range s.Windows {
		set[m] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// PlanTotal 计划的总数量
func (s *State) PlanTotal(plan string) float64 {
	total := 0.0
	for _, plans := range s.Quantities {
		total += plans[plan]
	}
	return total
}

// scheduled 按 machine, plan 排序遍历窗口
func (s *State) scheduled(fn func(machine, plan string, w model.TimeWindow)) {
	machines := make([]string, 0, len(s.Windows))
	for m := range s.Windows {
		machines = append(machines, m)
	}
	sort.Strings(machines)
	for _, m := range machines {
		plans := make([]string, 0, len(s.Windows[m]))
		for p := range s.Windows[m] {
			plans = append(plans, p)
		}
		sort.Strings(plans)
		for _, p := range plans {
			fn(m, p, s.Windows[m][p])
		}
	}
}
