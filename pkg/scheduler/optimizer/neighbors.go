package optimizer

import (
	"math/rand"

	"github.com/paiban/prodsched/pkg/model"
)

// MoveType 邻域移动类型
type MoveType int

const (
	MoveTransfer    MoveType = iota // 计划的部分数量转到另一台候选机
	MoveSwap                        // 两个计划在两台机之间对调等量
	MoveConsolidate                 // 把计划最小的一份并入最大的一份
)

// moveOrder 固定的累加顺序，保证同一种子下结果可复现
var moveOrder = []MoveType{MoveTransfer, MoveSwap, MoveConsolidate}

// NeighborhoodGenerator 邻域生成器
type NeighborhoodGenerator struct {
	prob        *problem
	rng         *rand.Rand
	moveWeights map[MoveType]float64
}

// NewNeighborhoodGenerator 创建邻域生成器
func NewNeighborhoodGenerator(prob *problem, rng *rand.Rand) *NeighborhoodGenerator {
	return &NeighborhoodGenerator{
		prob: prob,
		rng:  rng,
		moveWeights: map[MoveType]float64{
			MoveTransfer:    0.6,
			MoveSwap:        0.25,
			MoveConsolidate: 0.15,
		},
	}
}

// SetMoveWeights 设置移动类型权重
func (n *NeighborhoodGenerator) SetMoveWeights(weights map[MoveType]float64) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return
	}
	n.moveWeights = make(map[MoveType]float64, len(weights))
	for mt, w := range weights {
		n.moveWeights[mt] = w / total
	}
}

// GenerateNeighbor 生成一个邻域解，无可行移动时返回 nil
func (n *NeighborhoodGenerator) GenerateNeighbor(current matrix) matrix {
	switch n.selectMoveType() {
	case MoveSwap:
		return n.generateSwapMove(current)
	case MoveConsolidate:
		return n.generateConsolidateMove(current)
	default:
		return n.generateTransferMove(current)
	}
}

// GenerateBatch 批量生成邻域解
func (n *NeighborhoodGenerator) GenerateBatch(current matrix, count int) []matrix {
	out := make([]matrix, 0, count)
	for attempts := 0; len(out) < count && attempts < count*3; attempts++ {
		if nb := n.GenerateNeighbor(current); nb != nil {
			out = append(out, nb)
		}
	}
	return out
}

func (n *NeighborhoodGenerator) selectMoveType() MoveType {
	r := n.rng.Float64()
	cumulative := 0.0
	for _, mt := range moveOrder {
		cumulative += n.moveWeights[mt]
		if r < cumulative {
			return mt
		}
	}
	return MoveTransfer
}

// used 计划已分配数量的资源
func used(row []float64) []int {
	var out []int
	for r, q := range row {
		if q > model.Epsilon {
			out = append(out, r)
		}
	}
	return out
}

// generateTransferMove 转移：超载时优先卸载超出部分，否则按比例转出
func (n *NeighborhoodGenerator) generateTransferMove(current matrix) matrix {
	p := n.prob
	if len(p.plans) == 0 {
		return nil
	}
	i := n.rng.Intn(len(p.plans))
	if len(p.cand[i]) < 2 {
		return nil
	}
	from := used(current[i])
	if len(from) == 0 {
		return nil
	}
	r1 := from[n.rng.Intn(len(from))]
	r2 := p.cand[i][n.rng.Intn(len(p.cand[i]))]
	if r1 == r2 {
		return nil
	}

	loads := p.loads(current)
	have := current[i][r1]
	amount := have * []float64{0.1, 0.25, 0.5, 1}[n.rng.Intn(4)]
	if over := loads[r1] - p.resources[r1].Usable(); over > model.Epsilon && n.rng.Float64() < 0.5 {
		amount = min(have, over)
	} else if free := p.resources[r2].Usable() - loads[r2]; free > model.Epsilon && n.rng.Float64() < 0.3 {
		amount = min(have, free)
	}
	if amount <= model.Epsilon {
		return nil
	}

	nb := current.clone()
	nb[i][r1] -= amount
	nb[i][r2] += amount
	return nb
}

// generateSwapMove 两个计划对调：资源负载不变，成本与效率改变
func (n *NeighborhoodGenerator) generateSwapMove(current matrix) matrix {
	p := n.prob
	if len(p.plans) < 2 {
		return nil
	}
	i := n.rng.Intn(len(p.plans))
	j := n.rng.Intn(len(p.plans))
	if i == j {
		return nil
	}
	ui, uj := used(current[i]), used(current[j])
	if len(ui) == 0 || len(uj) == 0 {
		return nil
	}
	r1 := ui[n.rng.Intn(len(ui))]
	r2 := uj[n.rng.Intn(len(uj))]
	if r1 == r2 || !p.allowed[i][r2] || !p.allowed[j][r1] {
		return nil
	}
	amount := min(current[i][r1], current[j][r2]) * []float64{0.5, 1}[n.rng.Intn(2)]
	if amount <= model.Epsilon {
		return nil
	}

	nb := current.clone()
	nb[i][r1] -= amount
	nb[i][r2] += amount
	nb[j][r2] -= amount
	nb[j][r1] += amount
	return nb
}

// generateConsolidateMove 合并：减少计划分散的机台数
func (n *NeighborhoodGenerator) generateConsolidateMove(current matrix) matrix {
	p := n.prob
	if len(p.plans) == 0 {
		return nil
	}
	i := n.rng.Intn(len(p.plans))
	u := used(current[i])
	if len(u) < 2 {
		return nil
	}
	small, large := u[0], u[0]
	for _, r := range u[1:] {
		if current[i][r] < current[i][small] {
			small = r
		}
		if current[i][r] > current[i][large] {
			large = r
		}
	}
	if small == large {
		return nil
	}
	nb := current.clone()
	nb[i][large] += nb[i][small]
	nb[i][small] = 0
	return nb
}
