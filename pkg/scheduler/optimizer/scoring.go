package optimizer

import (
	"math"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/stats"
)

// evaluation 分配矩阵的评分
type evaluation struct {
	loads       []float64
	utils       []float64 // 0-1，可用产能为0的资源记为0
	violations  map[string]float64
	degreeSum   float64
	totalCost   float64
	subScores   map[Objective]float64
	score       float64 // 0-100
	feasibility float64 // 0-100
	utilization float64 // 总利用率 0-100
	energy      float64 // 搜索目标（越小越好）
}

// evaluate 计算违反度与各目标得分
// 违反度与可行性的统计口径：每个资源一项产能检查，每个计划一项可分配检查
func (p *problem) evaluate(m matrix, hardPenalty float64) *evaluation {
	e := &evaluation{
		loads:      p.loads(m),
		utils:      make([]float64, len(p.resources)),
		violations: make(map[string]float64),
		subScores:  make(map[Objective]float64, len(AllObjectives)),
	}

	totalUsable, totalLoad := 0.0, 0.0
	for r, res := range p.resources {
		usable := res.Usable()
		load := e.loads[r]
		totalUsable += usable
		totalLoad += load
		if usable > 0 {
			e.utils[r] = load / usable
		}
		var deg float64
		switch {
		case usable <= 0 && load > model.Epsilon:
			deg = 1
		case usable > 0 && load > usable+model.Epsilon:
			deg = model.Clamp((load-usable)/usable, 0, 1)
		}
		if deg > 0 {
			e.violations["capacity:"+res.ResourceID] = deg
			e.degreeSum += deg
		}
	}
	for i, pl := range p.plans {
		if len(p.cand[i]) == 0 {
			e.violations["unassignable:"+pl.id] = 1
			e.degreeSum++
		}
	}

	weighted, qty := 0.0, 0.0
	for i := range m {
		for r, q := range m[i] {
			if q <= 0 {
				continue
			}
			e.totalCost += q * p.resources[r].CostPerUnit
			weighted += q * p.resources[r].Efficiency()
			qty += q
		}
	}

	checks := float64(len(p.resources) + len(p.plans))
	meanDeg := 0.0
	if checks > 0 {
		meanDeg = e.degreeSum / checks
	}

	cost := 100.0
	if e.totalCost > model.Epsilon {
		cost = model.Clamp(100*p.minCost/e.totalCost, 0, 100)
	}
	eff := 0.0
	if qty > 0 {
		eff = 100 * weighted / qty
	}
	e.subScores[ObjectiveMinimizeCost] = cost
	e.subScores[ObjectiveMaximizeEfficiency] = eff
	e.subScores[ObjectiveBalanceLoad] = stats.BalanceScore(e.utils)
	e.subScores[ObjectiveMinimizeViolations] = model.Clamp(100-100*meanDeg, 0, 100)

	for _, obj := range AllObjectives {
		e.score += p.weights[obj] * e.subScores[obj]
	}
	e.feasibility = model.Clamp(100*(1-meanDeg), 0, 100)
	if totalUsable > 0 {
		e.utilization = 100 * totalLoad / totalUsable
	}
	e.energy = hardPenalty*e.degreeSum + (100 - e.score)
	return e
}

// toAllocation 把矩阵写成分配结果
func (p *problem) toAllocation(m matrix, e *evaluation, algorithm string) *model.ResourceAllocation {
	a := model.NewAllocation(algorithm)
	p.fill(a, m, e)
	return a
}

// fill 用矩阵与评分覆盖分配内容，保留标识
func (p *problem) fill(a *model.ResourceAllocation, m matrix, e *evaluation) {
	a.Allocations = make(map[string]map[string]float64)
	a.Costs = make(map[string]map[string]float64)
	a.PlanTargets = make(map[string]float64, len(p.plans))
	a.PlanPriorities = make(map[string]model.Priority, len(p.plans))
	a.Candidates = make(map[string][]string, len(p.plans))
	for i, pl := range p.plans {
		a.PlanTargets[pl.id] = pl.target
		a.PlanPriorities[pl.id] = pl.priority
		list := make([]string, 0, len(p.cand[i]))
		for _, r := range p.cand[i] {
			list = append(list, p.resources[r].ResourceID)
		}
		a.Candidates[pl.id] = list
		for r, q := range m[i] {
			if q <= model.Epsilon {
				continue
			}
			res := p.resources[r]
			a.Set(res.ResourceID, pl.id, q)
			if a.Costs[res.ResourceID] == nil {
				a.Costs[res.ResourceID] = make(map[string]float64)
			}
			a.Costs[res.ResourceID][pl.id] = q * res.CostPerUnit
		}
	}

	a.ObjectiveValues = make(map[string]float64, len(AllObjectives))
	a.Weights = make(map[string]float64, len(AllObjectives))
	for _, obj := range AllObjectives {
		a.ObjectiveValues[string(obj)] = model.Round(e.subScores[obj], 4)
		a.Weights[string(obj)] = p.weights[obj]
	}
	a.ConstraintViolations = make(map[string]float64, len(e.violations))
	for k, v := range e.violations {
		a.ConstraintViolations[k] = v
	}
	a.TotalCost = e.totalCost
	a.TotalCapacityUtilization = e.utilization
	a.OptimizationScore = e.score
	a.FeasibilityScore = e.feasibility
}

// better 比较两个评分：能量、违反度、可行性、成本
func better(a, b *evaluation) bool {
	if math.Abs(a.energy-b.energy) > model.Epsilon {
		return a.energy < b.energy
	}
	if math.Abs(a.degreeSum-b.degreeSum) > model.Epsilon {
		return a.degreeSum < b.degreeSum
	}
	if math.Abs(a.feasibility-b.feasibility) > model.Epsilon {
		return a.feasibility > b.feasibility
	}
	return a.totalCost < b.totalCost-model.Epsilon
}
