package solver

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
)

const (
	initialTemp = 50.0
	coolingRate = 0.995
	tabuSize    = 64
	plateau     = 300
)

// localSearch 从 seed 出发的模拟退火搜索，ctx 结束时返回当前最优
func (p *problem) localSearch(ctx context.Context, seed *candidate, rngSeed int64) (*candidate, int) {
	rng := rand.New(rand.NewSource(rngSeed))
	tabu := optimizer.NewTabuList(tabuSize)
	breakpoints := p.breakpoints()

	current := seed
	best := seed
	tabu.Add(hashValues(seed.values))
	temperature := initialTemp
	stale := 0
	iterations := 0

	for i := 0; i < p.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		iterations++

		values := p.neighbor(rng, current.values, breakpoints)
		if values == nil {
			stale++
			if stale >= plateau {
				break
			}
			continue
		}
		key := hashValues(values)
		next := p.score(values, "local_search")
		if tabu.Contains(key) && !better(next, best) {
			stale++
			continue
		}

		delta := next.objective - current.objective
		if delta < 0 || rng.Float64() < optimizer.BoltzmannProbability(delta, temperature) {
			current = next
			tabu.Add(key)
			if better(current, best) {
				best = current
				stale = 0
			} else {
				stale++
			}
		} else {
			stale++
		}
		if stale >= plateau {
			break
		}
		temperature = math.Max(temperature*coolingRate, 1e-3)
	}
	return best, iterations
}

// neighbor 随机生成邻域取值：同计划数量转移、单变量扰动、开工时间跳到断点
func (p *problem) neighbor(rng *rand.Rand, values []float64, breakpoints [][]float64) []float64 {
	sp := p.sp
	if len(sp.vars) == 0 {
		return nil
	}
	next := append([]float64(nil), values...)
	r := rng.Float64()

	switch {
	case r < 0.45 && len(sp.quantity) > 0:
		plan := sp.planOrder[rng.Intn(len(sp.planOrder))]
		idx := sp.byPlan[plan]
		if len(idx) < 2 {
			return p.perturb(rng, next, idx[0])
		}
		from := p.pickFrom(rng, values, idx)
		to := idx[rng.Intn(len(idx))]
		if from == to {
			return p.perturb(rng, next, from)
		}
		room := sp.vars[to].Upper - next[to]
		have := next[from] - sp.vars[from].Lower
		q := math.Min(room, have) * []float64{0.1, 0.25, 0.5, 1}[rng.Intn(4)]
		next[from] -= q
		next[to] += q
		return next

	case r < 0.75 && len(sp.starts) > 0:
		i := sp.starts[rng.Intn(len(sp.starts))]
		if bp := breakpoints[i]; len(bp) > 0 && rng.Float64() < 0.6 {
			next[i] = bp[rng.Intn(len(bp))]
			return next
		}
		return p.perturb(rng, next, i)

	default:
		return p.perturb(rng, next, rng.Intn(len(sp.vars)))
	}
}

// pickFrom 优先选择落在超产机台上的变量
func (p *problem) pickFrom(rng *rand.Rand, values []float64, idx []int) int {
	loads := make(map[string]float64)
	for _, i := range p.sp.quantity {
		loads[p.sp.vars[i].Machine] += values[i]
	}
	for _, i := range idx {
		m := p.sp.vars[i].Machine
		if limit, ok := p.hardCap[m]; ok && loads[m] > limit+model.Epsilon && values[i] > p.sp.vars[i].Lower {
			if rng.Float64() < 0.7 {
				return i
			}
		}
	}
	return idx[rng.Intn(len(idx))]
}

func (p *problem) perturb(rng *rand.Rand, values []float64, i int) []float64 {
	v := &p.sp.vars[i]
	span := v.Upper - v.Lower
	if span <= 0 {
		return nil
	}
	step := span * []float64{0.02, 0.1, 0.3}[rng.Intn(3)]
	if rng.Intn(2) == 0 {
		step = -step
	}
	values[i] = v.clamp(values[i] + step)
	return values
}

// hashValues 取值哈希 (FNV-1a，精度 1e-3)
func hashValues(values []float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, x := range values {
		u := uint64(int64(math.Round(x * 1000)))
		for b := 0; b < 8; b++ {
			buf[b] = byte(u >> (8 * b))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}
