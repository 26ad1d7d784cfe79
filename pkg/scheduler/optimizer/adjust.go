package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

var errInvalidAllocation = errors.InvalidInput("allocation", "不能为空")

// AdjustStrategy 实时调整策略
type AdjustStrategy string

const (
	AdjustIncremental AdjustStrategy = "incremental"
	AdjustFull        AdjustStrategy = "full"
)

// Changes 实时变更
type Changes struct {
	NewPlans        []model.PlanItem         `json:"new_plans,omitempty"`
	ResourceChanges []model.ResourceCapacity `json:"resource_changes,omitempty"` // 按 ResourceID 替换或新增
	CancelledPlans  []string                 `json:"cancelled_plans,omitempty"`
}

// AdjustmentResult 实时调整结果
type AdjustmentResult struct {
	Allocation     *model.ResourceAllocation `json:"allocation"`
	Strategy       AdjustStrategy            `json:"strategy"`
	ScoreDelta     float64                   `json:"score_delta"`
	CostDelta      float64                   `json:"cost_delta"`
	MovedQuantity  float64                   `json:"moved_quantity"`
	AddedPlans     []string                  `json:"added_plans,omitempty"`
	CancelledPlans []string                  `json:"cancelled_plans,omitempty"`
	Duration       time.Duration             `json:"duration"`
}

// RealTimeAdjustment 在现有分配上应用变更
// incremental 只移动受影响的数量；full 在变更后的问题上重新求解
func (o *Optimizer) RealTimeAdjustment(ctx context.Context, alloc *model.ResourceAllocation, resources []*model.ResourceCapacity, changes Changes, strategy AdjustStrategy) (*AdjustmentResult, error) {
	start := time.Now()
	if alloc == nil {
		return nil, errInvalidAllocation
	}
	if strategy == "" {
		strategy = AdjustIncremental
	}
	if strategy != AdjustIncremental && strategy != AdjustFull {
		return nil, errors.InvalidInput("strategy", fmt.Sprintf("未知调整策略 %q", strategy))
	}

	updated, err := applyResourceChanges(resources, changes.ResourceChanges)
	if err != nil {
		return nil, err
	}

	cancelled := make(map[string]bool, len(changes.CancelledPlans))
	for _, id := range changes.CancelledPlans {
		if _, ok := alloc.PlanTargets[id]; !ok {
			return nil, errors.NotFound("计划", id)
		}
		cancelled[id] = true
	}

	plans := make([]planInfo, 0, len(alloc.PlanTargets)+len(changes.NewPlans))
	candidates := make(map[string][]string, len(alloc.Candidates)+len(changes.NewPlans))
	for _, id := range alloc.Plans() {
		if cancelled[id] {
			continue
		}
		plans = append(plans, planInfo{id: id, target: alloc.PlanTargets[id], priority: alloc.PlanPriority(id)})
		candidates[id] = alloc.Candidates[id]
	}
	added := make([]string, 0, len(changes.NewPlans))
	makers := make(map[string][]string)
	for i := range changes.NewPlans {
		pl := &changes.NewPlans[i]
		if err := pl.Validate(); err != nil {
			return nil, err
		}
		if _, exists := alloc.PlanTargets[pl.PlanID]; exists && !cancelled[pl.PlanID] {
			return nil, errors.Validation("new_plans", fmt.Sprintf("计划 %s 已存在", pl.PlanID))
		}
		plans = append(plans, planInfo{id: pl.PlanID, target: pl.TargetQuantity, priority: pl.EffectivePriority()})
		delete(candidates, pl.PlanID)
		if len(pl.MakerCodes) > 0 {
			makers[pl.PlanID] = pl.MakerCodes
		}
		added = append(added, pl.PlanID)
	}
	if len(plans) == 0 {
		return nil, errors.Validation("plans", "调整后没有剩余计划")
	}
	orderPlans(plans)

	weights := make(map[Objective]float64, len(AllObjectives))
	for _, obj := range AllObjectives {
		weights[obj] = alloc.Weights[string(obj)]
	}
	if weights, err = NormalizeWeights(weights); err != nil {
		return nil, err
	}
	prob := newProblem(plans, withAllocatedResources(updated, alloc), candidates, makers, weights)

	result := &AdjustmentResult{
		Strategy:       strategy,
		AddedPlans:     added,
		CancelledPlans: changes.CancelledPlans,
	}

	var out *model.ResourceAllocation
	switch strategy {
	case AdjustFull:
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.TimeLimit)
		defer cancel()
		outcomes, _, _ := o.solve(runCtx, prob, o.cfg.Strategy, alloc.AllocationID)
		best := outcomes[0]
		out = alloc.Derive("full_adjustment")
		prob.fill(out, best.x, best.eval)
		result.MovedQuantity = movedBetween(prob, prob.matrixFrom(alloc), best.x)

	default:
		m := prob.matrixFrom(alloc)
		newIdx := make(map[string]bool, len(added))
		for _, id := range added {
			newIdx[id] = true
		}
		// 新增计划与已存在同名的取消计划在矩阵中需从零开始
		for i, pl := range prob.plans {
			if newIdx[pl.id] {
				for r := range m[i] {
					m[i][r] = 0
				}
			}
		}
		result.MovedQuantity = prob.relieve(m)
		loads := prob.loads(m)
		for i, pl := range prob.plans {
			if newIdx[pl.id] {
				prob.place(m, loads, i, pl.target)
			}
		}
		prob.repairConservation(m)
		out = alloc.Derive("incremental_adjustment")
		prob.fill(out, m, prob.evaluate(m, o.cfg.Search.HardPenalty))
	}

	result.Allocation = out
	result.ScoreDelta = out.OptimizationScore - alloc.OptimizationScore
	result.CostDelta = out.TotalCost - alloc.TotalCost
	result.Duration = time.Since(start)

	o.logger.Base().Info().
		Str("allocation_id", out.AllocationID).
		Str("parent_id", alloc.AllocationID).
		Str("strategy", string(strategy)).
		Int("added", len(added)).
		Int("cancelled", len(changes.CancelledPlans)).
		Float64("score_delta", result.ScoreDelta).
		Float64("cost_delta", result.CostDelta).
		Msg("实时调整完成")
	if !out.IsFeasible() {
		o.logger.Degraded(out.AllocationID, "调整后存在产能违反")
	}
	return result, nil
}

// applyResourceChanges 返回应用变更后的资源列表，不修改入参
func applyResourceChanges(resources []*model.ResourceCapacity, changes []model.ResourceCapacity) ([]*model.ResourceCapacity, error) {
	out := make([]*model.ResourceCapacity, len(resources))
	copy(out, resources)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.ResourceID] = i
	}
	for i := range changes {
		c := changes[i]
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if j, ok := index[c.ResourceID]; ok {
			out[j] = &c
			continue
		}
		index[c.ResourceID] = len(out)
		out = append(out, &c)
	}
	return out, nil
}

// movedBetween 两个矩阵之间的转移量（只统计减少的一侧）
func movedBetween(p *problem, before, after matrix) float64 {
	moved := 0.0
	for i := range p.plans {
		for r := range p.resources {
			if d := before[i][r] - after[i][r]; d > model.Epsilon {
				moved += d
			}
		}
	}
	return moved
}
