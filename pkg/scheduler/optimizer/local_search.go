// Package optimizer 在卷包机之间分配计划数量，支持启发式、精确与混合策略
package optimizer

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/paiban/prodsched/pkg/logger"
)

// OptimizationConfig 局部搜索配置
type OptimizationConfig struct {
	MaxIterations    int     `json:"max_iterations" yaml:"max_iterations"`       // 最大迭代次数
	InitialTemp      float64 `json:"initial_temp" yaml:"initial_temp"`           // 模拟退火初始温度
	CoolingRate      float64 `json:"cooling_rate" yaml:"cooling_rate"`           // 冷却速率
	MinTemp          float64 `json:"min_temp" yaml:"min_temp"`                   // 最低温度
	TabuSize         int     `json:"tabu_size" yaml:"tabu_size"`                 // 禁忌表大小
	NeighborhoodSize int     `json:"neighborhood_size" yaml:"neighborhood_size"` // 邻域大小
	ParallelWorkers  int     `json:"parallel_workers" yaml:"parallel_workers"`   // 邻域并行评估协程数
	StopOnPlateau    bool    `json:"stop_on_plateau" yaml:"stop_on_plateau"`     // 平台期停止
	PlateauThreshold int     `json:"plateau_threshold" yaml:"plateau_threshold"` // 平台期阈值（无改进迭代次数）
	HardPenalty      float64 `json:"hard_penalty" yaml:"hard_penalty"`           // 每单位违反度的能量
	RandomSeed       int64   `json:"random_seed" yaml:"random_seed"`
}

// DefaultOptConfig 默认优化配置
func DefaultOptConfig() *OptimizationConfig {
	return &OptimizationConfig{
		MaxIterations:    1000,
		InitialTemp:      100.0,
		CoolingRate:      0.99,
		MinTemp:          0.01,
		TabuSize:         50,
		NeighborhoodSize: 20,
		ParallelWorkers:  4,
		StopOnPlateau:    true,
		PlateauThreshold: 100,
		HardPenalty:      1000,
		RandomSeed:       42,
	}
}

func (c *OptimizationConfig) withDefaults() *OptimizationConfig {
	def := DefaultOptConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxIterations <= 0 {
		out.MaxIterations = def.MaxIterations
	}
	if out.InitialTemp <= 0 {
		out.InitialTemp = def.InitialTemp
	}
	if out.CoolingRate <= 0 || out.CoolingRate >= 1 {
		out.CoolingRate = def.CoolingRate
	}
	if out.MinTemp <= 0 {
		out.MinTemp = def.MinTemp
	}
	if out.TabuSize <= 0 {
		out.TabuSize = def.TabuSize
	}
	if out.NeighborhoodSize <= 0 {
		out.NeighborhoodSize = def.NeighborhoodSize
	}
	if out.ParallelWorkers <= 0 {
		out.ParallelWorkers = 1
	}
	if out.PlateauThreshold <= 0 {
		out.PlateauThreshold = def.PlateauThreshold
	}
	if out.HardPenalty <= 0 {
		out.HardPenalty = def.HardPenalty
	}
	return &out
}

// solution 搜索中的候选解
type solution struct {
	x    matrix
	eval *evaluation
}

// LocalSearchOptimizer 模拟退火 + 禁忌表的局部搜索
type LocalSearchOptimizer struct {
	config    *OptimizationConfig
	prob      *problem
	neighbors *NeighborhoodGenerator
	evaluator *ParallelEvaluator
	tabuList  *TabuList
	logger    *logger.ComponentLogger
}

func newLocalSearch(config *OptimizationConfig, prob *problem, seed int64) *LocalSearchOptimizer {
	config = config.withDefaults()
	return &LocalSearchOptimizer{
		config:    config,
		prob:      prob,
		neighbors: NewNeighborhoodGenerator(prob, rand.New(rand.NewSource(seed))),
		evaluator: NewParallelEvaluator(config.ParallelWorkers, prob, config.HardPenalty),
		tabuList:  NewTabuList(config.TabuSize),
		logger:    logger.NewComponentLogger("optimizer"),
	}
}

// Optimize 从初始解出发搜索，ctx 结束时返回当前最优解
func (o *LocalSearchOptimizer) Optimize(ctx context.Context, initial matrix) (*solution, int) {
	start := time.Now()
	current := &solution{x: initial.clone(), eval: o.prob.evaluate(initial, o.config.HardPenalty)}
	best := current
	o.tabuList.Add(hashMatrix(current.x))

	temperature := o.config.InitialTemp
	noImprovementCount := 0
	iterations := 0

	for i := 0; i < o.config.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		iterations++

		neighbors := o.neighbors.GenerateBatch(current.x, o.config.NeighborhoodSize)
		if len(neighbors) == 0 {
			break
		}
		results := o.evaluator.EvaluateBatch(ctx, neighbors)

		// 选择未被禁忌的最优邻域解；优于全局最优时忽略禁忌
		var candidate *solution
		for _, r := range results {
			if r.Eval == nil {
				continue
			}
			key := hashMatrix(r.X)
			if o.tabuList.Contains(key) && !better(r.Eval, best.eval) {
				continue
			}
			if candidate == nil || better(r.Eval, candidate.eval) {
				candidate = &solution{x: r.X, eval: r.Eval}
			}
		}
		if candidate == nil {
			noImprovementCount++
			continue
		}

		delta := candidate.eval.energy - current.eval.energy
		if delta < 0 || o.neighbors.rng.Float64() < BoltzmannProbability(delta, temperature) {
			current = candidate
			o.tabuList.Add(hashMatrix(current.x))
			if better(current.eval, best.eval) {
				best = current
				noImprovementCount = 0
			} else {
				noImprovementCount++
			}
		} else {
			noImprovementCount++
		}

		if o.config.StopOnPlateau && noImprovementCount >= o.config.PlateauThreshold {
			break
		}

		temperature = math.Max(temperature*o.config.CoolingRate, o.config.MinTemp)
	}

	o.logger.Base().Debug().
		Int("iterations", iterations).
		Float64("initial_energy", o.prob.evaluate(initial, o.config.HardPenalty).energy).
		Float64("final_energy", best.eval.energy).
		Dur("elapsed", time.Since(start)).
		Msg("局部搜索完成")
	return best, iterations
}

// hashMatrix 计算分配矩阵的哈希 (FNV-1a，数量取整到个位)
func hashMatrix(m matrix) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range m {
		for _, q := range m[i] {
			v := uint64(int64(math.Round(q)))
			for b := 0; b < 8; b++ {
				buf[b] = byte(v >> (8 * b))
			}
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// BoltzmannProbability 计算模拟退火的接受概率
// delta: 能量差 (new - old)
// temperature: 当前温度
func BoltzmannProbability(delta, temperature float64) float64 {
	if delta <= 0 {
		return 1.0
	}
	if temperature <= 0 {
		return 0.0
	}
	return math.Exp(-delta / temperature)
}

// TabuList 禁忌表（使用uint64哈希作为键）
type TabuList struct {
	items   map[uint64]struct{}
	order   []uint64
	maxSize int
	mu      sync.RWMutex
}

// NewTabuList 创建禁忌表
func NewTabuList(size int) *TabuList {
	return &TabuList{
		items:   make(map[uint64]struct{}),
		order:   make([]uint64, 0, size),
		maxSize: size,
	}
}

// Add 添加到禁忌表
func (t *TabuList) Add(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[key]; exists {
		return
	}

	// 超出容量时移除最旧的
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}

	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查是否在禁忌表中
func (t *TabuList) Contains(key uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.items[key]
	return exists
}

// Len 禁忌表当前长度
func (t *TabuList) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
