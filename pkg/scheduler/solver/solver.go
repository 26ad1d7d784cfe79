// Package solver 在约束集合上求解数量与开工时间变量，并对方案做评分与校验
package solver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// Strategy 求解策略
type Strategy string

const (
	StrategyHeuristic Strategy = "HEURISTIC"
	StrategyExact     Strategy = "EXACT"
	StrategyHybrid    Strategy = "HYBRID"
)

// ParseStrategy 解析求解策略（不区分大小写）
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToUpper(strings.TrimSpace(s))); v {
	case StrategyHeuristic, StrategyExact, StrategyHybrid:
		return v, nil
	case "":
		return StrategyHybrid, nil
	}
	return "", errors.InvalidInput("strategy", fmt.Sprintf("未知求解策略 %q", s))
}

// Phase 单次求解的状态
type Phase string

const (
	PhaseInputValidated   Phase = "INPUT_VALIDATED"
	PhaseSolving          Phase = "SOLVING"
	PhaseSolutionProduced Phase = "SOLUTION_PRODUCED"
	PhaseValidated        Phase = "VALIDATED"
)

// Config 求解配置
type Config struct {
	MaxSolvingTime time.Duration `json:"max_solving_time" yaml:"max_solving_time"`
	SolutionLimit  int           `json:"solution_limit" yaml:"solution_limit"` // 保留的候选方案数
	HardPenalty    float64       `json:"hard_constraint_penalty" yaml:"hard_penalty"`
	SoftPenalty    float64       `json:"soft_constraint_penalty" yaml:"soft_penalty"`
	QualityWeight  float64       `json:"quality_weight" yaml:"quality_weight"` // 提前开工奖励
	MaxIterations  int           `json:"max_iterations" yaml:"max_iterations"`
	RandomSeed     int64         `json:"random_seed" yaml:"random_seed"`
}

// DefaultConfig 默认求解配置
func DefaultConfig() Config {
	return Config{
		MaxSolvingTime: 10 * time.Second,
		SolutionLimit:  5,
		HardPenalty:    constraint.DefaultHardPenalty,
		SoftPenalty:    constraint.DefaultSoftPenalty,
		QualityWeight:  1,
		MaxIterations:  2000,
		RandomSeed:     42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSolvingTime <= 0 {
		c.MaxSolvingTime = def.MaxSolvingTime
	}
	if c.SolutionLimit <= 0 {
		c.SolutionLimit = def.SolutionLimit
	}
	if c.HardPenalty <= 0 {
		c.HardPenalty = def.HardPenalty
	}
	if c.SoftPenalty <= 0 {
		c.SoftPenalty = def.SoftPenalty
	}
	if c.QualityWeight < 0 {
		c.QualityWeight = def.QualityWeight
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// Solution 约束求解方案，返回后不再修改
type Solution struct {
	SolutionID           string                                 `json:"solution_id"`
	Strategy             Strategy                               `json:"strategy"`
	AlgorithmUsed        string                                 `json:"algorithm_used"`
	Phase                Phase                                  `json:"phase"`
	Phases               []Phase                                `json:"phases"`
	Values               map[string]float64                     `json:"values"`
	Quantities           map[string]map[string]float64          `json:"quantities"` // machine -> plan -> qty
	Windows              map[string]map[string]model.TimeWindow `json:"windows"`    // machine -> plan -> window
	Objective            float64                                `json:"objective"`
	TotalPenalty         float64                                `json:"total_penalty"`
	QualityTerm          float64                                `json:"quality_term"`
	HardViolations       []constraint.Violation                 `json:"hard_violations"`
	SoftViolations       []constraint.Violation                 `json:"soft_violations"`
	ConstraintViolations map[string]float64                     `json:"constraint_violations"`
	FeasibilityScore     float64                                `json:"feasibility_score"`
	OptimizationScore    float64                                `json:"optimization_score"`
	Iterations           int                                    `json:"iterations"`
	Conflicts            *ConflictAnalysis                      `json:"conflicts,omitempty"`
	Validation           *ValidationReport                      `json:"validation,omitempty"`
	Alternatives         []*Solution                            `json:"alternatives,omitempty"`
	GenerationTime       time.Time                              `json:"generation_time"`
	ExecutionTime        time.Duration                          `json:"execution_time"`
}

// IsFeasible 无硬约束违反
func (s *Solution) IsFeasible() bool {
	return len(s.HardViolations) == 0
}

// State 方案对应的约束评估状态
func (s *Solution) State() *constraint.State {
	st := constraint.NewState()
	for m, plans := range s.Quantities {
		for p, q := range plans {
			st.SetQuantity(m, p, q)
		}
	}
	for m, plans := range s.Windows {
		for p, w := range plans {
			st.SetWindow(m, p, w)
		}
	}
	return st
}

// Allocation 把数量部分转为资源分配
func (s *Solution) Allocation() *model.ResourceAllocation {
	a := model.NewAllocation(s.AlgorithmUsed)
	a.AllocationID = s.SolutionID
	a.GenerationTime = s.GenerationTime
	for m, plans := range s.Quantities {
		for p, q := range plans {
			a.Set(m, p, q)
			a.PlanTargets[p] += q
		}
	}
	for k, v := range s.ConstraintViolations {
		a.ConstraintViolations[k] = v
	}
	a.FeasibilityScore = s.FeasibilityScore
	a.OptimizationScore = s.OptimizationScore
	return a
}

// candidate 搜索中的候选取值
type candidate struct {
	algorithm  string
	values     []float64
	result     *constraint.Result
	quality    float64
	objective  float64
	hard       int
	feasible   float64
	generation time.Time
}

// Solver 约束求解器，可并发使用
type Solver struct {
	logger *logger.ComponentLogger
}

// New 创建求解器
func New() *Solver {
	return &Solver{logger: logger.NewComponentLogger("solver")}
}

// problem 单次求解的只读上下文
type problem struct {
	sp      *space
	manager *constraint.Manager
	cfg     Config
	demand  map[string]float64 // PLAN_DEMAND 硬约束
	hardCap map[string]float64 // 机台 -> 最严的硬产能上限
}

// SolveConstraints 在约束集合上求解变量
// 约束或变量为空时在进入求解前返回 VALIDATION_FAILED
func (s *Solver) SolveConstraints(ctx context.Context, constraints []*constraint.Constraint, variables []Variable, strategy Strategy, cfg Config) (*Solution, error) {
	start := time.Now()
	prob, err := newProblem(constraints, variables, cfg)
	if err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = StrategyHybrid
	}
	if strategy, err = ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	phases := []Phase{PhaseInputValidated}

	id := model.NewID()
	s.logger.RunStart(id, len(prob.sp.vars), prob.manager.Count())
	analysis := AnalyzeConstraintConflicts(constraints)
	if analysis.HasConflicts {
		s.logger.Base().Warn().
			Str("solution_id", id).
			Int("groups", len(analysis.ConflictGroups)).
			Str("severity", string(analysis.ConflictSeverity)).
			Msg("约束集合存在冲突")
	}

	runCtx, cancel := context.WithTimeout(ctx, prob.cfg.MaxSolvingTime)
	defer cancel()

	phases = append(phases, PhaseSolving)
	pool, iterations := s.run(runCtx, prob, strategy, id)
	phases = append(phases, PhaseSolutionProduced)

	best := prob.toSolution(pool[0], id, strategy)
	best.Iterations = iterations
	best.Conflicts = analysis
	for _, alt := range pool[1:] {
		if len(best.Alternatives) >= prob.cfg.SolutionLimit-1 {
			break
		}
		best.Alternatives = append(best.Alternatives, prob.toSolution(alt, model.NewID(), strategy))
	}

	best.Validation = ValidateSolution(best, constraints)
	phases = append(phases, PhaseValidated)
	best.Phases = phases
	best.Phase = PhaseValidated
	best.ExecutionTime = time.Since(start)

	if !best.IsFeasible() {
		s.logger.Degraded(id, fmt.Sprintf("存在 %d 项硬约束违反", len(best.HardViolations)))
	}
	s.logger.RunComplete(id, best.ExecutionTime, best.OptimizationScore)
	return best, nil
}

func newProblem(constraints []*constraint.Constraint, variables []Variable, cfg Config) (*problem, error) {
	ve := &errors.ValidationErrors{}
	if len(constraints) == 0 {
		ve.Add("constraints", "不能为空")
	}
	if len(variables) == 0 {
		ve.Add("variables", "不能为空")
	}
	if ve.HasErrors() {
		return nil, ve.ToAppError()
	}
	ids := make(map[string]bool, len(constraints))
	for i, c := range constraints {
		if c == nil {
			return nil, errors.Validation(fmt.Sprintf("constraints[%d]", i), "不能为空")
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if ids[c.ID] {
			return nil, errors.Validation("constraints", fmt.Sprintf("约束 %s 重复", c.ID))
		}
		ids[c.ID] = true
	}
	sp, err := newSpace(variables)
	if err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	p := &problem{
		sp:      sp,
		manager: constraint.NewManagerWith(constraints, cfg.HardPenalty, cfg.SoftPenalty),
		cfg:     cfg,
		demand:  make(map[string]float64),
		hardCap: make(map[string]float64),
	}
	for _, c := range p.manager.GetByCategory(constraint.CategoryHard) {
		switch c.Type {
		case constraint.TypePlanDemand:
			for _, plan := range c.Scope.Plans {
				if _, ok := p.demand[plan]; !ok {
					p.demand[plan] = c.Params.Demand
				}
			}
		case constraint.TypeMachineCapacity:
			if len(c.Scope.Plans) > 0 {
				continue
			}
			for _, i := range sp.quantity {
				m := sp.vars[i].Machine
				if !c.AppliesToMachine(m) {
					continue
				}
				if cur, ok := p.hardCap[m]; !ok || c.Params.MaxCapacity < cur {
					p.hardCap[m] = c.Params.MaxCapacity
				}
			}
		}
	}
	return p, nil
}

// run 按策略求解，返回按优劣排序的候选（至少一个）
func (s *Solver) run(ctx context.Context, p *problem, strategy Strategy, id string) ([]*candidate, int) {
	seed := p.score(p.sp.initial(p.demand), "initial")
	pool := []*candidate{seed}
	iterations := 0

	switch strategy {
	case StrategyHeuristic:
		best, n := p.localSearch(ctx, seed, p.cfg.RandomSeed)
		pool = append(pool, best)
		iterations += n

	case StrategyExact:
		ex, n := p.exact(ctx, seed)
		iterations += n
		if ex != nil {
			pool = append(pool, ex)
		} else {
			s.logger.Degraded(id, "精确求解未在时限内完成")
		}

	default:
		var heur, ex *candidate
		var heurN, exN int
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			heur, heurN = p.localSearch(gctx, seed, p.cfg.RandomSeed)
			return nil
		})
		g.Go(func() error {
			ex, exN = p.exact(gctx, seed)
			return nil
		})
		_ = g.Wait()
		iterations += heurN + exN
		pool = append(pool, heur)
		if ex != nil {
			pool = append(pool, ex)
		} else {
			s.logger.Degraded(id, "精确分支被丢弃")
		}
		sortCandidates(pool)
		if ctx.Err() == nil {
			refined, n := p.localSearch(ctx, pool[0], p.cfg.RandomSeed+1)
			refined.algorithm = "hybrid"
			iterations += n
			pool = append(pool, refined)
		}
	}

	sortCandidates(pool)
	return dedupe(pool), iterations
}

// score 评估取值：目标 = Σ硬违反度×硬惩罚 + Σ软违反度×软惩罚 − 质量项
func (p *problem) score(values []float64, algorithm string) *candidate {
	res := p.manager.Evaluate(p.sp.state(values))
	c := &candidate{
		algorithm:  algorithm,
		values:     values,
		result:     res,
		quality:    p.quality(values),
		hard:       len(res.HardViolations),
		generation: time.Now(),
	}
	c.objective = res.TotalPenalty - c.quality
	c.feasible = feasibility(res, p.manager)
	return c
}

// quality 提前开工奖励：每个开工变量按在取值区间中的位置计分，合计不超过 QualityWeight
func (p *problem) quality(values []float64) float64 {
	if len(p.sp.starts) == 0 || p.cfg.QualityWeight == 0 {
		return 0
	}
	total := 0.0
	for _, i := range p.sp.starts {
		v := &p.sp.vars[i]
		span := v.Upper - v.Lower
		if span <= 0 {
			total++
			continue
		}
		total += 1 - (values[i]-v.Lower)/span
	}
	return p.cfg.QualityWeight * total / float64(len(p.sp.starts))
}

// feasibility 无硬违反时为 100，否则按硬约束平均违反度扣减且严格小于 100
func feasibility(res *constraint.Result, m *constraint.Manager) float64 {
	if len(res.HardViolations) == 0 {
		return 100
	}
	hard := m.GetByCategory(constraint.CategoryHard)
	sum := 0.0
	for _, v := range res.HardViolations {
		sum += v.Degree
	}
	f := 100 * (1 - sum/float64(len(hard)))
	return math.Min(f, math.Nextafter(100, 0))
}

// better 比较候选：目标值、硬违反数、可行性、总惩罚、生成时间
func better(a, b *candidate) bool {
	if math.Abs(a.objective-b.objective) > model.Epsilon {
		return a.objective < b.objective
	}
	if a.hard != b.hard {
		return a.hard < b.hard
	}
	if math.Abs(a.feasible-b.feasible) > model.Epsilon {
		return a.feasible > b.feasible
	}
	if math.Abs(a.result.TotalPenalty-b.result.TotalPenalty) > model.Epsilon {
		return a.result.TotalPenalty < b.result.TotalPenalty
	}
	return a.generation.Before(b.generation)
}

func sortCandidates(list []*candidate) {
	sort.SliceStable(list, func(i, j int) bool { return better(list[i], list[j]) })
}

// dedupe 去掉取值相同的候选，保持顺序
func dedupe(list []*candidate) []*candidate {
	out := list[:0:0]
	for _, c := range list {
		dup := false
		for _, o := range out {
			if sameValues(c.values, o.values) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func sameValues(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > model.Epsilon {
			return false
		}
	}
	return true
}

func (p *problem) toSolution(c *candidate, id string, strategy Strategy) *Solution {
	st := p.sp.state(c.values)
	sol := &Solution{
		SolutionID:           id,
		Strategy:             strategy,
		AlgorithmUsed:        c.algorithm,
		Phase:                PhaseSolutionProduced,
		Values:               make(map[string]float64, len(c.values)),
		Quantities:           st.Quantities,
		Windows:              st.Windows,
		Objective:            c.objective,
		TotalPenalty:         c.result.TotalPenalty,
		QualityTerm:          c.quality,
		HardViolations:       c.result.HardViolations,
		SoftViolations:       c.result.SoftViolations,
		ConstraintViolations: make(map[string]float64),
		FeasibilityScore:     c.feasible,
		OptimizationScore:    c.result.Score,
		GenerationTime:       c.generation,
	}
	for i, v := range p.sp.vars {
		sol.Values[v.ID] = c.values[i]
	}
	for id, d := range c.result.Degrees {
		if d > model.Epsilon {
			sol.ConstraintViolations[id] = d
		}
	}
	return sol
}
