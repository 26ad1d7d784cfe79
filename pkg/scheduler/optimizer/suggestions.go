package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
	"github.com/paiban/prodsched/pkg/stats"
)

const (
	saturatedUtilization = 0.95
	idleUtilization      = 0.20
	overloadedShare      = 0.5 // 计划超过该比例的数量落在超载资源上时提示
)

// GetOptimizationSuggestions 基于规则的分配诊断
func GetOptimizationSuggestions(alloc *model.ResourceAllocation, resources []*model.ResourceCapacity) []string {
	if alloc == nil {
		return nil
	}
	byID := make(map[string]*model.ResourceCapacity, len(resources))
	for _, r := range resources {
		byID[r.ResourceID] = r
	}
	ids := make([]string, 0, len(resources))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	utils := make(map[string]float64, len(ids))
	saturated := 0
	for _, id := range ids {
		if u := byID[id].Usable(); u > 0 {
			utils[id] = alloc.ResourceTotal(id) / u
			if utils[id] > saturatedUtilization {
				saturated++
			}
		}
	}

	var out []string
	for _, id := range ids {
		u, ok := utils[id]
		if !ok {
			continue
		}
		switch {
		case u > saturatedUtilization:
			out = append(out, fmt.Sprintf("资源 %s 利用率 %.1f%%，超过 %.0f%%，已接近饱和", id, u*100, saturatedUtilization*100))
		case u < idleUtilization && saturated > 0:
			out = append(out, fmt.Sprintf("资源 %s 利用率仅 %.1f%%，而其他资源已饱和，建议转移部分负载", id, u*100))
		}
	}

	keys := make([]string, 0, len(alloc.ConstraintViolations))
	for k := range alloc.ConstraintViolations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	overloaded := make(map[string]bool)
	for _, k := range keys {
		deg := alloc.ConstraintViolations[k]
		if deg <= model.Epsilon {
			continue
		}
		switch {
		case strings.HasPrefix(k, "capacity:"):
			res := strings.TrimPrefix(k, "capacity:")
			overloaded[res] = true
			out = append(out, fmt.Sprintf("资源 %s 超出可用产能 %.0f%%，建议增加班次或把计划分配到其他机台", res, deg*100))
		case strings.HasPrefix(k, "unassignable:"):
			out = append(out, fmt.Sprintf("计划 %s 没有可用的候选资源", strings.TrimPrefix(k, "unassignable:")))
		default:
			out = append(out, fmt.Sprintf("约束 %s 违反度 %.2f", k, deg))
		}
	}

	for _, plan := range alloc.Plans() {
		target := alloc.PlanTargets[plan]
		if target <= 0 || len(overloaded) == 0 {
			continue
		}
		onOverloaded := 0.0
		for res := range overloaded {
			onOverloaded += alloc.Get(res, plan)
		}
		if share := onOverloaded / target; share > overloadedShare {
			out = append(out, fmt.Sprintf("计划 %s 有 %.0f%% 的数量分配在超载资源上", plan, share*100))
		}
	}
	return out
}

// QualityMetrics 分配质量评估
type QualityMetrics struct {
	OverallScore        float64            `json:"overall_score"`
	FeasibilityScore    float64            `json:"feasibility_score"`
	EfficiencyScore     float64            `json:"efficiency_score"`
	BalanceScore        float64            `json:"balance_score"`
	CostEfficiencyScore float64            `json:"cost_efficiency_score"`
	AverageUtilization  float64            `json:"average_utilization"` // 0-100
	LoadVariance        float64            `json:"load_variance"`       // 利用率（0-1）的方差
	ConstraintScore     float64            `json:"constraint_score"`
	Violations          map[string]float64 `json:"violations"`
}

// EvaluateAllocationQuality 评估分配质量；constraints 中的硬约束违反计入可行性
func (o *Optimizer) EvaluateAllocationQuality(alloc *model.ResourceAllocation, resources []*model.ResourceCapacity, constraints []*constraint.Constraint) (*QualityMetrics, error) {
	if alloc == nil {
		return nil, errInvalidAllocation
	}
	prob := problemFromAllocation(alloc, resources)
	m := prob.matrixFrom(alloc)
	e := prob.evaluate(m, o.cfg.Search.HardPenalty)

	q := &QualityMetrics{
		EfficiencyScore:     e.subScores[ObjectiveMaximizeEfficiency],
		BalanceScore:        e.subScores[ObjectiveBalanceLoad],
		CostEfficiencyScore: e.subScores[ObjectiveMinimizeCost],
		ConstraintScore:     100,
		Violations:          make(map[string]float64, len(e.violations)),
	}
	for k, v := range e.violations {
		q.Violations[k] = v
	}

	var utils []float64
	for r, res := range prob.resources {
		if res.Usable() > 0 {
			utils = append(utils, e.utils[r])
		}
	}
	q.AverageUtilization = stats.Mean(utils) * 100
	q.LoadVariance = stats.Variance(utils, stats.Mean(utils))

	degreeSum := e.degreeSum
	checks := float64(len(prob.resources) + len(prob.plans))
	if len(constraints) > 0 {
		mgr := constraint.NewManagerWith(constraints, 0, 0)
		res := mgr.Evaluate(constraint.StateFromAllocation(alloc))
		q.ConstraintScore = res.Score
		for _, c := range mgr.GetByCategory(constraint.CategoryHard) {
			checks++
			if d := res.Degrees[c.ID]; d > model.Epsilon {
				degreeSum += d
				q.Violations[c.ID] = d
			}
		}
	}

	meanDeg := 0.0
	if checks > 0 {
		meanDeg = degreeSum / checks
	}
	q.FeasibilityScore = model.Clamp(100*(1-meanDeg), 0, 100)

	sub := map[Objective]float64{
		ObjectiveMinimizeCost:       q.CostEfficiencyScore,
		ObjectiveMaximizeEfficiency: q.EfficiencyScore,
		ObjectiveBalanceLoad:        q.BalanceScore,
		ObjectiveMinimizeViolations: model.Clamp(100-100*meanDeg, 0, 100),
	}
	for _, obj := range AllObjectives {
		q.OverallScore += prob.weights[obj] * sub[obj]
	}
	return q, nil
}
