package solver

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// VariableKind 决策变量类型
type VariableKind string

const (
	KindQuantity  VariableKind = "quantity"   // 计划在机台上的数量
	KindStartTime VariableKind = "start_time" // 相对 Origin 的开工小时数
)

// Variable 连续决策变量，取值范围 [Lower, Upper]
type Variable struct {
	ID            string       `json:"id"`
	Kind          VariableKind `json:"kind"`
	Machine       string       `json:"machine"`
	Plan          string       `json:"plan"`
	Lower         float64      `json:"lower"`
	Upper         float64      `json:"upper"`
	Initial       *float64     `json:"initial,omitempty"`
	Origin        time.Time    `json:"origin,omitempty"`         // start_time
	DurationHours float64      `json:"duration_hours,omitempty"` // start_time
}

// Validate 校验变量定义
func (v *Variable) Validate() error {
	ve := &errors.ValidationErrors{}
	if v.ID == "" {
		ve.Add("id", "不能为空")
	}
	if v.Machine == "" {
		ve.Add("machine", "不能为空")
	}
	if v.Plan == "" {
		ve.Add("plan", "不能为空")
	}
	if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) || math.IsInf(v.Lower, 0) || math.IsInf(v.Upper, 0) {
		ve.Add("bounds", "必须为有限值")
	} else if v.Lower > v.Upper {
		ve.Add("bounds", fmt.Sprintf("下界 %v 大于上界 %v", v.Lower, v.Upper))
	}
	switch v.Kind {
	case KindQuantity:
		if v.Lower < 0 {
			ve.Add("lower", "数量下界不能为负数")
		}
	case KindStartTime:
		if v.Origin.IsZero() {
			ve.Add("origin", "开工时间变量必须指定基准时间")
		}
		if v.DurationHours <= 0 {
			ve.Add("duration_hours", "必须大于0")
		}
	default:
		ve.Add("kind", fmt.Sprintf("未知变量类型 %q", v.Kind))
	}
	if ve.HasErrors() {
		return ve.ToAppError().WithField("variable", v.ID)
	}
	return nil
}

func (v *Variable) clamp(x float64) float64 {
	return model.Clamp(x, v.Lower, v.Upper)
}

// Window start_time 变量在取值 x 时的排产窗口
func (v *Variable) Window(x float64) model.TimeWindow {
	start := v.Origin.Add(time.Duration(x * float64(time.Hour)))
	return model.TimeWindow{Start: start, End: start.Add(time.Duration(v.DurationHours * float64(time.Hour)))}
}

// space 已排序的变量集合
type space struct {
	vars      []Variable
	index     map[string]int
	quantity  []int            // quantity 变量下标
	starts    []int            // start_time 变量下标
	byPlan    map[string][]int // 计划 -> quantity 变量下标
	planOrder []string
}

func newSpace(vars []Variable) (*space, error) {
	sorted := make([]Variable, len(vars))
	copy(sorted, vars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	sp := &space{
		vars:   sorted,
		index:  make(map[string]int, len(sorted)),
		byPlan: make(map[string][]int),
	}
	for i := range sorted {
		v := &sorted[i]
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, dup := sp.index[v.ID]; dup {
			return nil, errors.Validation("variables", fmt.Sprintf("变量 %s 重复", v.ID))
		}
		sp.index[v.ID] = i
		if v.Kind == KindQuantity {
			sp.quantity = append(sp.quantity, i)
			if _, ok := sp.byPlan[v.Plan]; !ok {
				sp.planOrder = append(sp.planOrder, v.Plan)
			}
			sp.byPlan[v.Plan] = append(sp.byPlan[v.Plan], i)
		} else {
			sp.starts = append(sp.starts, i)
		}
	}
	sort.Strings(sp.planOrder)
	return sp, nil
}

// state 将取值转为约束评估状态
func (sp *space) state(values []float64) *constraint.State {
	s := constraint.NewState()
	for _, i := range sp.quantity {
		v := &sp.vars[i]
		s.SetQuantity(v.Machine, v.Plan, s.Quantities[v.Machine][v.Plan]+values[i])
	}
	for _, i := range sp.starts {
		v := &sp.vars[i]
		s.SetWindow(v.Machine, v.Plan, v.Window(values[i]))
	}
	return s
}

// initial 初始取值：给定初值，否则数量取需求均分，开工取下界
func (sp *space) initial(demand map[string]float64) []float64 {
	values := make([]float64, len(sp.vars))
	for i := range sp.vars {
		v := &sp.vars[i]
		if v.Initial != nil {
			values[i] = v.clamp(*v.Initial)
		} else {
			values[i] = v.Lower
		}
	}
	for plan, idx := range sp.byPlan {
		d, ok := demand[plan]
		if !ok {
			continue
		}
		seeded := false
		for _, i := range idx {
			if sp.vars[i].Initial != nil {
				seeded = true
				break
			}
		}
		if !seeded {
			sp.spread(values, idx, d)
		}
	}
	return values
}

// spread 在下界之上把需求均分到变量中，受上界限制
func (sp *space) spread(values []float64, idx []int, demand float64) {
	remaining := demand
	for _, i := range idx {
		values[i] = sp.vars[i].Lower
		remaining -= values[i]
	}
	open := append([]int(nil), idx...)
	for remaining > model.Epsilon && len(open) > 0 {
		share := remaining / float64(len(open))
		next := open[:0]
		for _, i := range open {
			room := sp.vars[i].Upper - values[i]
			q := math.Min(share, room)
			values[i] += q
			remaining -= q
			if sp.vars[i].Upper-values[i] > model.Epsilon {
				next = append(next, i)
			}
		}
		if len(next) == len(open) {
			break
		}
		open = next
	}
}

// VariablesFromAllocation 由资源分配生成数量变量，初值取分配量，上界为计划目标量
func VariablesFromAllocation(a *model.ResourceAllocation) []Variable {
	var vars []Variable
	for _, res := range a.Resources() {
		for _, plan := range a.Plans() {
			q := a.Get(res, plan)
			if q <= model.Epsilon && !contains(a.Candidates[plan], res) {
				continue
			}
			init := q
			vars = append(vars, Variable{
				ID:      fmt.Sprintf("qty:%s:%s", plan, res),
				Kind:    KindQuantity,
				Machine: res,
				Plan:    plan,
				Lower:   0,
				Upper:   a.PlanTargets[plan],
				Initial: &init,
			})
		}
	}
	return vars
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
