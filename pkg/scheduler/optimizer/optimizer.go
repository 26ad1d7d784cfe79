package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
)

// Strategy 优化策略
type Strategy string

const (
	StrategyHeuristic Strategy = "HEURISTIC_ONLY"
	StrategyExact     Strategy = "EXACT_ONLY"
	StrategyHybrid    Strategy = "HYBRID"
)

// ParseStrategy 解析优化策略（不区分大小写）
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToUpper(strings.TrimSpace(s))); v {
	case StrategyHeuristic, StrategyExact, StrategyHybrid:
		return v, nil
	case "":
		return StrategyHybrid, nil
	}
	return "", errors.InvalidInput("strategy", fmt.Sprintf("未知优化策略 %q", s))
}

// maxAlternatives 返回的备选方案上限
const maxAlternatives = 3

// Config 优化器配置
type Config struct {
	Strategy         Strategy            `json:"strategy" yaml:"strategy"`
	TimeLimit        time.Duration       `json:"time_limit" yaml:"time_limit"`
	BalanceThreshold float64             `json:"balance_threshold" yaml:"balance_threshold"`
	Search           *OptimizationConfig `json:"search,omitempty" yaml:"search,omitempty"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Strategy:         StrategyHybrid,
		TimeLimit:        10 * time.Second,
		BalanceThreshold: 0.15,
		Search:           DefaultOptConfig(),
	}
}

// Request 资源优化请求
type Request struct {
	Plans      []model.PlanItem          `json:"plans"`
	Resources  []*model.ResourceCapacity `json:"resources"`
	Candidates map[string][]string       `json:"candidates,omitempty"` // plan -> resources
	Objectives map[Objective]float64     `json:"objectives,omitempty"`
	Strategy   Strategy                  `json:"strategy,omitempty"`
	TimeLimit  time.Duration             `json:"time_limit,omitempty"`
}

// Result 资源优化结果
type Result struct {
	BestAllocation              *model.ResourceAllocation   `json:"best_allocation"`
	AlternativeAllocations      []*model.ResourceAllocation `json:"alternative_allocations"`
	IterationsPerformed         int                         `json:"iterations_performed"`
	ExecutionTime               time.Duration               `json:"execution_time"`
	OptimizationRecommendations []string                    `json:"optimization_recommendations"`
	IsFeasible                  bool                        `json:"is_feasible"`
	Strategy                    Strategy                    `json:"strategy"`
}

// Optimizer 资源优化器，可并发使用
type Optimizer struct {
	cfg    Config
	logger *logger.ComponentLogger
}

// New 创建优化器
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = def.TimeLimit
	}
	if cfg.BalanceThreshold <= 0 {
		cfg.BalanceThreshold = def.BalanceThreshold
	}
	cfg.Search = cfg.Search.withDefaults()
	return &Optimizer{cfg: cfg, logger: logger.NewComponentLogger("optimizer")}
}

// Config 返回当前配置
func (o *Optimizer) Config() Config {
	return o.cfg
}

// outcome 单个算法分支的产出
type outcome struct {
	algorithm string
	x         matrix
	eval      *evaluation
}

// OptimizeResourceAllocation 为计划在候选资源间分配数量
// 不存在可行解时返回最优的不可行分配（feasibility_score < 100 并列出违反项），不返回错误
func (o *Optimizer) OptimizeResourceAllocation(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	prob, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = o.cfg.Strategy
	}
	if strategy, err = ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	limit := req.TimeLimit
	if limit <= 0 {
		limit = o.cfg.TimeLimit
	}

	runID := model.NewID()
	o.logger.RunStart(runID, len(prob.plans), len(prob.resources))

	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	outcomes, iterations, notes := o.solve(runCtx, prob, strategy, runID)
	best := outcomes[0]

	result := &Result{
		BestAllocation:         prob.toAllocation(best.x, best.eval, best.algorithm),
		AlternativeAllocations: make([]*model.ResourceAllocation, 0, maxAlternatives),
		IterationsPerformed:    iterations,
		Strategy:               strategy,
	}
	seen := map[uint64]bool{hashMatrix(best.x): true}
	for _, alt := range outcomes[1:] {
		if len(result.AlternativeAllocations) >= maxAlternatives {
			break
		}
		key := hashMatrix(alt.x)
		if seen[key] {
			continue
		}
		seen[key] = true
		result.AlternativeAllocations = append(result.AlternativeAllocations, prob.toAllocation(alt.x, alt.eval, alt.algorithm))
	}

	result.IsFeasible = result.BestAllocation.IsFeasible()
	result.OptimizationRecommendations = append(notes, GetOptimizationSuggestions(result.BestAllocation, prob.resources)...)
	result.ExecutionTime = time.Since(start)

	if !result.IsFeasible {
		o.logger.Degraded(runID, fmt.Sprintf("返回不可行分配，可行性 %.2f", result.BestAllocation.FeasibilityScore))
	}
	o.logger.RunComplete(runID, result.ExecutionTime, result.BestAllocation.OptimizationScore)
	return result, nil
}

// prepare 校验请求并构建问题
func (o *Optimizer) prepare(req Request) (*problem, error) {
	ve := &errors.ValidationErrors{}
	if len(req.Plans) == 0 {
		ve.Add("plans", "不能为空")
	}
	if len(req.Resources) == 0 {
		ve.Add("resources", "不能为空")
	}
	if ve.HasErrors() {
		return nil, ve.ToAppError()
	}

	resIDs := make(map[string]bool, len(req.Resources))
	for i, r := range req.Resources {
		if r == nil {
			return nil, errors.Validation(fmt.Sprintf("resources[%d]", i), "不能为空")
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if resIDs[r.ResourceID] {
			return nil, errors.Validation("resources", fmt.Sprintf("资源 %s 重复", r.ResourceID))
		}
		resIDs[r.ResourceID] = true
	}

	plans := make([]planInfo, 0, len(req.Plans))
	makers := make(map[string][]string)
	planIDs := make(map[string]bool, len(req.Plans))
	for i := range req.Plans {
		pl := &req.Plans[i]
		if err := pl.Validate(); err != nil {
			return nil, err
		}
		if planIDs[pl.PlanID] {
			return nil, errors.Validation("plans", fmt.Sprintf("计划 %s 重复", pl.PlanID))
		}
		planIDs[pl.PlanID] = true
		plans = append(plans, planInfo{id: pl.PlanID, target: pl.TargetQuantity, priority: pl.EffectivePriority()})
		if len(pl.MakerCodes) > 0 {
			makers[pl.PlanID] = pl.MakerCodes
		}
	}
	for plan, list := range req.Candidates {
		for _, id := range list {
			if !resIDs[id] {
				return nil, errors.Validation("candidates", fmt.Sprintf("计划 %s 的候选资源 %s 不存在", plan, id))
			}
		}
	}

	weights, err := NormalizeWeights(req.Objectives)
	if err != nil {
		return nil, err
	}
	orderPlans(plans)
	return newProblem(plans, req.Resources, req.Candidates, makers, weights), nil
}

// solve 按策略求解，返回按优劣排序的产出（至少一个）、迭代次数与降级说明
func (o *Optimizer) solve(ctx context.Context, prob *problem, strategy Strategy, runID string) ([]outcome, int, []string) {
	search := o.cfg.Search
	var (
		outcomes   []outcome
		iterations int
		notes      []string
	)

	switch strategy {
	case StrategyExact:
		ex, n, err := o.runExact(ctx, prob)
		iterations += n
		if err != nil {
			o.logger.Degraded(runID, "精确求解未完成: "+err.Error())
			notes = append(notes, "精确求解在时限内未完成，返回贪心分配")
			outcomes = append(outcomes, o.runGreedy(prob))
		} else {
			outcomes = append(outcomes, ex)
		}

	case StrategyHeuristic:
		seed := o.runGreedy(prob)
		ls, n := newLocalSearch(search, prob, search.RandomSeed).Optimize(ctx, seed.x)
		iterations += n
		outcomes = append(outcomes, outcome{"local_search", ls.x, ls.eval}, seed)

	default:
		// 启发式与精确并行，结束后取较优者再做一轮局部搜索
		var (
			heur    []outcome
			ex      *outcome
			heurN   int
			exactN  int
			exitErr error
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			seed := o.runGreedy(prob)
			ls, n := newLocalSearch(search, prob, search.RandomSeed).Optimize(gctx, seed.x)
			heur = []outcome{{"local_search", ls.x, ls.eval}, seed}
			heurN = n
			return nil
		})
		g.Go(func() error {
			res, n, err := o.runExact(gctx, prob)
			exactN = n
			if err != nil {
				exitErr = err
				return nil
			}
			ex = &res
			return nil
		})
		_ = g.Wait()
		iterations += heurN + exactN

		outcomes = append(outcomes, heur...)
		if ex != nil {
			outcomes = append(outcomes, *ex)
		} else {
			o.logger.Degraded(runID, "精确分支被丢弃: "+exitErr.Error())
			notes = append(notes, "精确求解在时限内未完成，仅采用启发式结果")
		}
		sortOutcomes(outcomes)

		if ctx.Err() == nil {
			refined, n := newLocalSearch(search, prob, search.RandomSeed+1).Optimize(ctx, outcomes[0].x)
			iterations += n
			outcomes = append([]outcome{{"hybrid", refined.x, refined.eval}}, outcomes...)
		}
	}

	sortOutcomes(outcomes)
	return outcomes, iterations, notes
}

func (o *Optimizer) runGreedy(prob *problem) outcome {
	x := prob.greedy()
	prob.repairConservation(x)
	return outcome{"greedy", x, prob.evaluate(x, o.cfg.Search.HardPenalty)}
}

func (o *Optimizer) runExact(ctx context.Context, prob *problem) (outcome, int, error) {
	x, n, err := prob.exact(ctx)
	if err != nil {
		return outcome{}, n, err
	}
	prob.repairConservation(x)
	return outcome{"min_cost_flow", x, prob.evaluate(x, o.cfg.Search.HardPenalty)}, n, nil
}

// sortOutcomes 稳定排序，评分相同时保持产出顺序
func sortOutcomes(list []outcome) {
	sort.SliceStable(list, func(i, j int) bool {
		return better(list[i].eval, list[j].eval)
	})
}
