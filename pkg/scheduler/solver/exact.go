package solver

import (
	"context"
	"math"
	"sort"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
	"github.com/paiban/prodsched/pkg/scheduler/flow"
)

const (
	overflowCost = 1e6
	exactPasses  = 2
)

// exact 数量变量用最小费用流满足 PLAN_DEMAND 与硬产能，开工变量在断点上逐个枚举
// ctx 结束时丢弃部分结果返回 nil
func (p *problem) exact(ctx context.Context, seed *candidate) (*candidate, int) {
	values := append([]float64(nil), seed.values...)
	steps := 0

	n, err := p.exactQuantities(ctx, values)
	steps += n
	if err != nil {
		return nil, steps
	}

	breakpoints := p.breakpoints()
	current := p.score(values, "exact")
	for pass := 0; pass < exactPasses; pass++ {
		improved := false
		for _, i := range p.sp.starts {
			if ctx.Err() != nil {
				return nil, steps
			}
			for _, x := range breakpoints[i] {
				steps++
				if math.Abs(x-values[i]) <= model.Epsilon {
					continue
				}
				trial := append([]float64(nil), values...)
				trial[i] = x
				c := p.score(trial, "exact")
				if better(c, current) {
					current = c
					values = trial
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return current, steps
}

// exactQuantities 在 values 中就地写入需求计划的数量
func (p *problem) exactQuantities(ctx context.Context, values []float64) (int, error) {
	sp := p.sp
	plans := make([]string, 0, len(p.demand))
	for _, plan := range sp.planOrder {
		if _, ok := p.demand[plan]; ok {
			plans = append(plans, plan)
		}
	}
	if len(plans) == 0 {
		return 0, nil
	}

	machines := make([]string, 0)
	mIndex := make(map[string]int)
	for _, i := range sp.quantity {
		m := sp.vars[i].Machine
		if _, ok := mIndex[m]; !ok {
			mIndex[m] = -1
			machines = append(machines, m)
		}
	}
	sort.Strings(machines)
	for i, m := range machines {
		mIndex[m] = i
	}

	// 非需求计划的数量保持不变，占用机台产能
	fixed := make(map[string]float64)
	inDemand := make(map[string]bool, len(plans))
	for _, plan := range plans {
		inDemand[plan] = true
	}
	for _, i := range sp.quantity {
		v := &sp.vars[i]
		if inDemand[v.Plan] {
			values[i] = v.Lower
		}
		fixed[v.Machine] += values[i]
	}

	nPlans := len(plans)
	source := nPlans + len(machines)
	sink := source + 1
	g := flow.New(sink + 1)

	edges := make(map[int]int)
	total := 0.0
	for pi, plan := range plans {
		lower := 0.0
		for _, i := range sp.byPlan[plan] {
			lower += sp.vars[i].Lower
		}
		need := math.Max(0, p.demand[plan]-lower)
		total += need
		g.AddEdge(source, pi, need, 0)
		for _, i := range sp.byPlan[plan] {
			v := &sp.vars[i]
			edges[i] = g.AddEdge(pi, nPlans+mIndex[v.Machine], v.Upper-v.Lower, p.machineCost(v.Machine))
		}
	}
	for mi, m := range machines {
		if limit, ok := p.hardCap[m]; ok {
			if free := limit - fixed[m]; free > 0 {
				g.AddEdge(nPlans+mi, sink, free, 0)
			}
		} else {
			g.AddEdge(nPlans+mi, sink, flow.Inf, 0)
		}
		g.AddEdge(nPlans+mi, sink, flow.Inf, overflowCost)
	}

	if _, _, err := g.MinCostFlow(ctx, source, sink, total); err != nil {
		return g.Augmentations, err
	}
	for i, id := range edges {
		values[i] = sp.vars[i].clamp(sp.vars[i].Lower + g.Flow(id))
	}
	return g.Augmentations, nil
}

// machineCost 质量约束给出的机台效率越低费用越高
func (p *problem) machineCost(machine string) float64 {
	cost := 0.0
	for _, c := range p.manager.GetAll() {
		if c.Type != constraint.TypeQualityStandard || !c.AppliesToMachine(machine) {
			continue
		}
		if eff, ok := c.Params.Efficiency[machine]; ok {
			cost = math.Max(cost, 1-eff)
		}
	}
	return cost
}

// breakpoints 每个开工变量的候选取值：上下界与相关窗口边界（对齐开始或结束）
func (p *problem) breakpoints() [][]float64 {
	sp := p.sp
	out := make([][]float64, len(sp.vars))
	constraints := p.manager.GetAll()
	for _, i := range sp.starts {
		v := &sp.vars[i]
		set := map[float64]struct{}{v.Lower: {}, v.Upper: {}}
		add := func(w model.TimeWindow) {
			for _, t := range []float64{
				w.Start.Sub(v.Origin).Hours(),
				w.End.Sub(v.Origin).Hours(),
				w.End.Sub(v.Origin).Hours() - v.DurationHours,
				w.Start.Sub(v.Origin).Hours() - v.DurationHours,
			} {
				if t >= v.Lower-model.Epsilon && t <= v.Upper+model.Epsilon {
					set[v.clamp(t)] = struct{}{}
				}
			}
		}
		for _, c := range constraints {
			if !c.AppliesToMachine(v.Machine) || !c.AppliesToPlan(v.Plan) {
				continue
			}
			switch c.Type {
			case constraint.TypeTimeWindow:
				if c.Scope.Window != nil {
					add(*c.Scope.Window)
				}
			case constraint.TypeWorkCalendar, constraint.TypeMaintenanceWindow:
				for _, w := range c.Params.Windows {
					add(w)
				}
			}
		}
		list := make([]float64, 0, len(set))
		for t := range set {
			list = append(list, t)
		}
		sort.Float64s(list)
		out[i] = list
	}
	return out
}
