package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

// Objective 优化目标
type Objective string

const (
	ObjectiveMinimizeCost       Objective = "minimize_cost"
	ObjectiveMaximizeEfficiency Objective = "maximize_efficiency"
	ObjectiveBalanceLoad        Objective = "balance_load"
	ObjectiveMinimizeViolations Objective = "minimize_violations"
)

// AllObjectives 全部目标（固定顺序）
var AllObjectives = []Objective{
	ObjectiveMinimizeCost,
	ObjectiveMaximizeEfficiency,
	ObjectiveBalanceLoad,
	ObjectiveMinimizeViolations,
}

// DefaultObjectives 默认目标权重
func DefaultObjectives() map[Objective]float64 {
	return map[Objective]float64{
		ObjectiveMinimizeCost:       0.3,
		ObjectiveMaximizeEfficiency: 0.3,
		ObjectiveBalanceLoad:        0.2,
		ObjectiveMinimizeViolations: 0.2,
	}
}

// NormalizeWeights 校验并归一化目标权重，权重全为0时使用默认值
func NormalizeWeights(in map[Objective]float64) (map[Objective]float64, error) {
	ve := &errors.ValidationErrors{}
	total := 0.0
	for obj, w := range in {
		if !knownObjective(obj) {
			ve.Add("objectives", fmt.Sprintf("未知优化目标 %q", obj))
			continue
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			ve.Add("objectives", fmt.Sprintf("目标 %s 的权重 %v 无效", obj, w))
			continue
		}
		total += w
	}
	if ve.HasErrors() {
		return nil, ve.ToAppError()
	}
	if total <= 0 {
		in = DefaultObjectives()
		total = 1
	}
	out := make(map[Objective]float64, len(AllObjectives))
	for _, obj := range AllObjectives {
		out[obj] = in[obj] / total
	}
	return out, nil
}

func knownObjective(o Objective) bool {
	for _, k := range AllObjectives {
		if k == o {
			return true
		}
	}
	return false
}

type planInfo struct {
	id       string
	target   float64
	priority model.Priority
}

// problem 稠密化后的分配问题：计划 × 资源
type problem struct {
	plans     []planInfo
	resources []*model.ResourceCapacity
	resIndex  map[string]int
	cand      [][]int  // 计划 -> 候选资源下标
	allowed   [][]bool // 计划 × 资源
	weights   map[Objective]float64
	minCost   float64 // 全部以最低候选成本生产时的总成本
	maxCost   float64
}

// newProblem 构建问题；candidates 为空的计划可使用全部资源，
// 其次使用计划自带的卷包机列表
func newProblem(plans []planInfo, resources []*model.ResourceCapacity, candidates map[string][]string, makers map[string][]string, weights map[Objective]float64) *problem {
	res := make([]*model.ResourceCapacity, len(resources))
	copy(res, resources)
	sort.SliceStable(res, func(i, j int) bool { return res[i].ResourceID < res[j].ResourceID })

	p := &problem{
		plans:     plans,
		resources: res,
		resIndex:  make(map[string]int, len(res)),
		cand:      make([][]int, len(plans)),
		allowed:   make([][]bool, len(plans)),
		weights:   weights,
	}
	for i, r := range res {
		p.resIndex[r.ResourceID] = i
		if r.CostPerUnit > p.maxCost {
			p.maxCost = r.CostPerUnit
		}
	}

	for i, pl := range plans {
		p.allowed[i] = make([]bool, len(res))
		list, ok := candidates[pl.id]
		if !ok || len(list) == 0 {
			list = makers[pl.id]
		}
		if len(list) == 0 {
			for r := range res {
				p.allowed[i][r] = true
			}
		} else {
			for _, id := range list {
				if r, ok := p.resIndex[id]; ok {
					p.allowed[i][r] = true
				}
			}
		}
		for r := range res {
			if p.allowed[i][r] {
				p.cand[i] = append(p.cand[i], r)
			}
		}

		if len(p.cand[i]) > 0 {
			best := math.Inf(1)
			for _, r := range p.cand[i] {
				best = math.Min(best, res[r].CostPerUnit)
			}
			p.minCost += best * pl.target
		}
	}
	return p
}

// orderPlans 计划排序：优先级降序、目标量降序、ID
func orderPlans(plans []planInfo) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].priority != plans[j].priority {
			return plans[i].priority > plans[j].priority
		}
		if plans[i].target != plans[j].target {
			return plans[i].target > plans[j].target
		}
		return plans[i].id < plans[j].id
	})
}

// problemFromAllocation 由已有分配还原问题，用于重新评分与调整
func problemFromAllocation(a *model.ResourceAllocation, resources []*model.ResourceCapacity) *problem {
	plans := make([]planInfo, 0, len(a.PlanTargets))
	for _, id := range a.Plans() {
		plans = append(plans, planInfo{id: id, target: a.PlanTargets[id], priority: a.PlanPriority(id)})
	}
	orderPlans(plans)
	weights := make(map[Objective]float64, len(AllObjectives))
	for _, obj := range AllObjectives {
		weights[obj] = a.Weights[string(obj)]
	}
	if w, err := NormalizeWeights(weights); err == nil {
		weights = w
	}
	return newProblem(plans, withAllocatedResources(resources, a), a.Candidates, nil, weights)
}

// withAllocatedResources 分配中引用了资源列表里没有的资源时，以零产能补齐
func withAllocatedResources(resources []*model.ResourceCapacity, a *model.ResourceAllocation) []*model.ResourceCapacity {
	known := make(map[string]bool, len(resources))
	for _, r := range resources {
		known[r.ResourceID] = true
	}
	out := append([]*model.ResourceCapacity(nil), resources...)
	for _, id := range a.Resources() {
		if !known[id] {
			out = append(out, &model.ResourceCapacity{ResourceID: id})
			known[id] = true
		}
	}
	return out
}

// matrix 分配矩阵：计划 × 资源
type matrix [][]float64

func (p *problem) newMatrix() matrix {
	m := make(matrix, len(p.plans))
	for i := range m {
		m[i] = make([]float64, len(p.resources))
	}
	return m
}

func (m matrix) clone() matrix {
	c := make(matrix, len(m))
	for i := range m {
		c[i] = append([]float64(nil), m[i]...)
	}
	return c
}

func (p *problem) matrixFrom(a *model.ResourceAllocation) matrix {
	m := p.newMatrix()
	idx := make(map[string]int, len(p.plans))
	for i, pl := range p.plans {
		idx[pl.id] = i
	}
	for res, byPlan := range a.Allocations {
		r, ok := p.resIndex[res]
		if !ok {
			continue
		}
		for plan, q := range byPlan {
			if i, ok := idx[plan]; ok {
				m[i][r] = q
			}
		}
	}
	return m
}

func (p *problem) loads(m matrix) []float64 {
	loads := make([]float64, len(p.resources))
	for i := range m {
		for r, q := range m[i] {
			loads[r] += q
		}
	}
	return loads
}
