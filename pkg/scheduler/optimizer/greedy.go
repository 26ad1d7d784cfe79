package optimizer

import (
	"math"

	"github.com/paiban/prodsched/pkg/model"
)

// greedySteps 均衡目标生效时每个计划拆分的份数
const greedySteps = 8

// greedy 按计划顺序逐个放置，得到局部搜索与混合策略的初始解
func (p *problem) greedy() matrix {
	m := p.newMatrix()
	loads := make([]float64, len(p.resources))
	for i, pl := range p.plans {
		p.place(m, loads, i, pl.target)
	}
	return m
}

// place 把计划 i 的 qty 逐份放入得分最低的有余量候选机，
// 余量不足时剩余部分放入相对超载最小的候选机，保证数量守恒
func (p *problem) place(m matrix, loads []float64, i int, qty float64) {
	if len(p.cand[i]) == 0 || qty <= model.Epsilon {
		return
	}
	remaining := qty
	chunk := qty
	if p.weights[ObjectiveBalanceLoad] > 0 {
		chunk = qty / greedySteps
	}
	for step := 0; remaining > model.Epsilon && step < 4*(greedySteps+len(p.cand[i])); step++ {
		best, bestKey := -1, math.Inf(1)
		for _, r := range p.cand[i] {
			if p.resources[r].Usable()-loads[r] <= model.Epsilon {
				continue
			}
			if k := p.greedyKey(r, loads[r]); k < bestKey {
				best, bestKey = r, k
			}
		}
		if best < 0 {
			break
		}
		q := math.Min(remaining, p.resources[best].Usable()-loads[best])
		q = math.Min(q, math.Max(chunk, 1))
		m[i][best] += q
		loads[best] += q
		remaining -= q
	}

	if remaining > model.Epsilon {
		r := p.leastOverloaded(i, loads, remaining)
		m[i][r] += remaining
		loads[r] += remaining
	}
}

// greedyKey 越小越优先
func (p *problem) greedyKey(r int, load float64) float64 {
	res := p.resources[r]
	cost := 0.0
	if p.maxCost > 0 {
		cost = res.CostPerUnit / p.maxCost
	}
	util := 0.0
	if u := res.Usable(); u > 0 {
		util = load / u
	}
	return p.weights[ObjectiveMinimizeCost]*cost +
		p.weights[ObjectiveMaximizeEfficiency]*(1-res.Efficiency()) +
		p.weights[ObjectiveBalanceLoad]*util
}

func (p *problem) leastOverloaded(i int, loads []float64, qty float64) int {
	best, bestRatio := p.cand[i][0], math.Inf(1)
	for _, r := range p.cand[i] {
		usable := p.resources[r].Usable()
		if usable <= 0 {
			continue
		}
		if ratio := (loads[r] + qty) / usable; ratio < bestRatio {
			best, bestRatio = r, ratio
		}
	}
	return best
}

// relieve 把超载资源上超出的部分转到同一计划其他有余量的候选机，返回转移量
func (p *problem) relieve(m matrix) float64 {
	loads := p.loads(m)
	moved := 0.0
	for r, res := range p.resources {
		over := loads[r] - res.Usable()
		if over <= model.Epsilon {
			continue
		}
		for over > model.Epsilon {
			i := p.largestOn(m, r, loads)
			if i < 0 {
				break
			}
			progressed := false
			for _, r2 := range p.cand[i] {
				free := p.resources[r2].Usable() - loads[r2]
				if r2 == r || free <= model.Epsilon {
					continue
				}
				q := math.Min(math.Min(over, m[i][r]), free)
				m[i][r] -= q
				m[i][r2] += q
				loads[r] -= q
				loads[r2] += q
				over -= q
				moved += q
				progressed = true
				if over <= model.Epsilon || m[i][r] <= model.Epsilon {
					break
				}
			}
			if !progressed {
				break
			}
		}
	}
	return moved
}

// largestOn 资源 r 上数量最大且还有其他余量候选机的计划
func (p *problem) largestOn(m matrix, r int, loads []float64) int {
	best := -1
	for i := range p.plans {
		if m[i][r] <= model.Epsilon {
			continue
		}
		movable := false
		for _, r2 := range p.cand[i] {
			if r2 != r && p.resources[r2].Usable()-loads[r2] > model.Epsilon {
				movable = true
				break
			}
		}
		if movable && (best < 0 || m[i][r] > m[best][r]) {
			best = i
		}
	}
	return best
}

// repairConservation 修正浮点误差，使每个可分配计划的总量等于目标量
func (p *problem) repairConservation(m matrix) {
	for i, pl := range p.plans {
		if len(p.cand[i]) == 0 {
			continue
		}
		total, largest := 0.0, p.cand[i][0]
		for _, r := range p.cand[i] {
			total += m[i][r]
			if m[i][r] > m[i][largest] {
				largest = r
			}
		}
		if diff := pl.target - total; diff != 0 {
			m[i][largest] = math.Max(0, m[i][largest]+diff)
		}
	}
}
