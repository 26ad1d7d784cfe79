package optimizer

import (
	"sort"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

// minBalanceMove 小于该数量的调整不再执行
const minBalanceMove = 1.0

// BalanceWorkload 在利用率差超过阈值的资源之间转移数量
// 每个计划的总量保持不变，转入方不会超出可用产能
func (o *Optimizer) BalanceWorkload(alloc *model.ResourceAllocation, resources []*model.ResourceCapacity, threshold float64) (*model.ResourceAllocation, error) {
	if alloc == nil {
		return nil, errors.InvalidInput("allocation", "不能为空")
	}
	if threshold < 0 {
		return nil, errors.InvalidInput("balance_threshold", "不能为负数")
	}

	prob := problemFromAllocation(alloc, resources)
	m := prob.matrixFrom(alloc)
	moves := 0
	limit := 4 * len(prob.plans) * len(prob.resources)

	for moves < limit {
		if !prob.balanceStep(m, threshold) {
			break
		}
		moves++
	}

	out := alloc.Derive("balance")
	prob.fill(out, m, prob.evaluate(m, o.cfg.Search.HardPenalty))
	o.logger.Base().Debug().
		Str("allocation_id", out.AllocationID).
		Int("moves", moves).
		Float64("balance_score", out.ObjectiveValues[string(ObjectiveBalanceLoad)]).
		Msg("负载均衡完成")
	return out, nil
}

// balanceStep 执行一次从高利用率到低利用率资源的转移，无可转移时返回 false
func (p *problem) balanceStep(m matrix, threshold float64) bool {
	loads := p.loads(m)
	util := func(r int) float64 { return loads[r] / p.resources[r].Usable() }

	order := make([]int, 0, len(p.resources))
	for r, res := range p.resources {
		if res.Usable() > 0 {
			order = append(order, r)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return util(order[a]) > util(order[b]) })

	for hi := 0; hi < len(order); hi++ {
		for lo := len(order) - 1; lo > hi; lo-- {
			rh, rl := order[hi], order[lo]
			if util(rh)-util(rl) <= threshold {
				break
			}
			uh, ul := p.resources[rh].Usable(), p.resources[rl].Usable()
			want := (loads[rh]*ul - loads[rl]*uh) / (uh + ul)
			free := ul - loads[rl]
			for i := range p.plans {
				if m[i][rh] <= model.Epsilon || !p.allowed[i][rl] {
					continue
				}
				q := min(want, free, m[i][rh])
				if q < minBalanceMove {
					continue
				}
				m[i][rh] -= q
				m[i][rl] += q
				return true
			}
		}
	}
	return false
}
