package optimizer

import (
	"context"

	"github.com/paiban/prodsched/pkg/scheduler/flow"
)

// overflowCost 超出可用产能的单位费用，远高于任何正常费用
const overflowCost = 1e6

// exact 运输问题的最小费用流解
// 源 -> 计划(目标量) -> 候选资源(∞, 单位费用) -> 汇(可用产能)；另设超产弧（∞, overflowCost）
// 单位费用为成本与效率目标的线性组合，均衡目标由后续局部搜索处理
func (p *problem) exact(ctx context.Context) (matrix, int, error) {
	nPlans, nRes := len(p.plans), len(p.resources)
	source := nPlans + nRes
	sink := source + 1
	g := flow.New(nPlans + nRes + 2)

	edges := make([][]int, nPlans)
	demand := 0.0
	for i, pl := range p.plans {
		edges[i] = make([]int, nRes)
		for r := range edges[i] {
			edges[i][r] = -1
		}
		if len(p.cand[i]) == 0 {
			continue
		}
		g.AddEdge(source, i, pl.target, 0)
		demand += pl.target
		for _, r := range p.cand[i] {
			edges[i][r] = g.AddEdge(i, nPlans+r, flow.Inf, p.unitCost(r))
		}
	}
	for r, res := range p.resources {
		if u := res.Usable(); u > 0 {
			g.AddEdge(nPlans+r, sink, u, 0)
		}
		g.AddEdge(nPlans+r, sink, flow.Inf, overflowCost)
	}

	if _, _, err := g.MinCostFlow(ctx, source, sink, demand); err != nil {
		return nil, g.Augmentations, err
	}

	m := p.newMatrix()
	for i := range p.plans {
		for r, id := range edges[i] {
			if id >= 0 {
				m[i][r] = g.Flow(id)
			}
		}
	}
	return m, g.Augmentations, nil
}

// unitCost 精确模型中的单位费用，落在 [0, 1]
func (p *problem) unitCost(r int) float64 {
	res := p.resources[r]
	wc, we := p.weights[ObjectiveMinimizeCost], p.weights[ObjectiveMaximizeEfficiency]
	if wc+we <= 0 {
		wc, we = 1, 0
	}
	cost := 0.0
	if p.maxCost > 0 {
		cost = res.CostPerUnit / p.maxCost
	}
	return (wc*cost + we*(1-res.Efficiency())) / (wc + we)
}
