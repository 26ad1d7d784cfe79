// Package planning 串联选机、资源优化、约束求解与时间线生成，供服务端与命令行共用
package planning

import (
	"context"
	"time"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/metrics"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
	"github.com/paiban/prodsched/pkg/selector"
	"github.com/paiban/prodsched/pkg/timeline"
)

// Service 排产流水线
type Service struct {
	cfg *config.Config
}

// NewService 创建排产流水线，cfg 为 nil 时使用默认配置
func NewService(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{cfg: cfg}
}

// PairingOptions 选机参数，空值使用配置
type PairingOptions struct {
	Strategy  string `json:"strategy,omitempty"`
	Objective string `json:"objective,omitempty"`
}

// OptimizeOptions 资源优化参数
type OptimizeOptions struct {
	Strategy   string                         `json:"strategy,omitempty"`
	Objectives map[optimizer.Objective]float64 `json:"objectives,omitempty"`
	TimeLimit  time.Duration                  `json:"-"`
}

// TimelineOptions 时间线参数，空值依次使用场景与配置
type TimelineOptions struct {
	Mode     string                 `json:"mode,omitempty"`
	Formats  []string               `json:"formats,omitempty"`
	Locked   []*model.ScheduledTask `json:"locked,omitempty"`
	Optimize bool                   `json:"optimize,omitempty"` // 先做资源优化再排时间线
	OptimizeOptions
}

// Plan 一次完整排产的产出
type Plan struct {
	Pairing      *selector.PairingResult `json:"pairing"`
	Optimization *optimizer.Result       `json:"optimization,omitempty"`
	Timeline     *timeline.Result        `json:"timeline"`
}

func (s *Service) selector(sc *scenario.Scenario, opts PairingOptions) (*selector.Selector, error) {
	cfg := s.cfg.SelectorOptions()
	if opts.Strategy != "" {
		v, err := selector.ParseStrategy(opts.Strategy)
		if err != nil {
			return nil, err
		}
		cfg.Strategy = v
	}
	if opts.Objective != "" {
		v, err := selector.ParseObjective(opts.Objective)
		if err != nil {
			return nil, err
		}
		cfg.Objective = v
	}
	p, err := sc.Provider()
	if err != nil {
		return nil, err
	}
	return selector.New(p, cfg), nil
}

// Pair 为场景中的计划分配喂料机与卷包机组合
func (s *Service) Pair(ctx context.Context, sc *scenario.Scenario, opts PairingOptions) (*selector.PairingResult, *selector.Selector, error) {
	if sc == nil {
		return nil, nil, errors.InvalidInput("scenario", "不能为空")
	}
	sel, err := s.selector(sc, opts)
	if err != nil {
		return nil, nil, err
	}
	res, err := sel.AllocateFeederMakerPairs(ctx, sc.Requirements(), sc.SelectorPeriod())
	if err != nil {
		metrics.RecordPairing(string(sel.Config().Strategy), false)
		return nil, nil, err
	}
	metrics.RecordPairing(string(res.Strategy), len(res.UnallocatedRequirements) == 0)
	metrics.SetSelectorCacheHitRate(sel.CacheStats().HitRate)
	return res, sel, nil
}

// Optimize 在选机结果给出的候选机台间优化数量分配
func (s *Service) Optimize(ctx context.Context, sc *scenario.Scenario, opts OptimizeOptions) (*optimizer.Result, *selector.PairingResult, error) {
	pairing, sel, err := s.Pair(ctx, sc, PairingOptions{})
	if err != nil {
		return nil, nil, err
	}
	out, err := s.optimize(ctx, sc, sel, pairing, opts)
	if err != nil {
		return nil, nil, err
	}
	return out, pairing, nil
}

func (s *Service) optimize(ctx context.Context, sc *scenario.Scenario, sel *selector.Selector, pairing *selector.PairingResult, opts OptimizeOptions) (*optimizer.Result, error) {
	resources, candidates, err := sel.ResourcesFor(pairing)
	if err != nil {
		return nil, err
	}
	req := optimizer.Request{
		Plans:      sc.Plans,
		Resources:  resources,
		Candidates: candidates,
		Objectives: opts.Objectives,
		TimeLimit:  opts.TimeLimit,
	}
	if opts.Strategy != "" {
		if req.Strategy, err = optimizer.ParseStrategy(opts.Strategy); err != nil {
			return nil, err
		}
	}
	out, err := optimizer.New(s.cfg.OptimizerOptions()).OptimizeResourceAllocation(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.RecordOptimization(string(out.Strategy), out.IsFeasible, out.IterationsPerformed, out.ExecutionTime)
	return out, nil
}

// Solve 由场景生成约束与变量并求解
func (s *Service) Solve(ctx context.Context, sc *scenario.Scenario, objectives map[string]float64, prefs solver.Preferences) (*solver.Solution, error) {
	if sc == nil {
		return nil, errors.InvalidInput("scenario", "不能为空")
	}
	days, err := sc.CalendarDays()
	if err != nil {
		return nil, err
	}
	machines, err := s.MachineConfigs(sc)
	if err != nil {
		return nil, err
	}
	cfg, strategy := s.cfg.SolverOptions()
	if prefs.Strategy == "" {
		prefs.Strategy = strategy
	}
	if prefs.Config.MaxSolvingTime <= 0 {
		prefs.Config = cfg
	}
	sol, err := solver.New().OptimizeWithConstraints(ctx, sc.Plans, machines, days, objectives, prefs)
	if err != nil {
		return nil, err
	}
	metrics.RecordSolve(string(sol.Strategy), sol.IsFeasible(), sol.Objective)
	return sol, nil
}

// MachineConfigs 由场景计算各卷包机的月产能与速率
// 速率取该机台各产品速率的最大值
func (s *Service) MachineConfigs(sc *scenario.Scenario) ([]solver.MachineConfig, error) {
	sel, err := s.selector(sc, PairingOptions{})
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64)
	for _, sp := range sc.Speeds {
		if r := sp.SpeedPerHour * effOr(sp.Efficiency, 1); r > rates[sp.MachineCode] {
			rates[sp.MachineCode] = r
		}
	}
	var out []solver.MachineConfig
	for _, m := range sc.Machines {
		if m.Type != model.MachineMaker {
			continue
		}
		info, err := sel.CalculateMachineCapacity(m.Code, sc.Period.Year, sc.Month())
		if err != nil {
			return nil, err
		}
		out = append(out, solver.MachineConfig{
			Code:               m.Code,
			Capacity:           info.EffectiveHours * rates[m.Code],
			RatePerHour:        rates[m.Code],
			Efficiency:         info.Efficiency,
			MaintenanceWindows: sc.Maintenance[m.Code],
		})
	}
	return out, nil
}

func effOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// Capacity 场景内全部机台的月产能
func (s *Service) Capacity(sc *scenario.Scenario) ([]*selector.CapacityInfo, error) {
	sel, err := s.selector(sc, PairingOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*selector.CapacityInfo, 0, len(sc.Machines))
	for _, m := range sc.Machines {
		info, err := sel.CalculateMachineCapacity(m.Code, sc.Period.Year, sc.Month())
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Schedule 选机后生成月度时间线，可选先做资源优化
func (s *Service) Schedule(ctx context.Context, sc *scenario.Scenario, opts TimelineOptions) (*Plan, error) {
	start := time.Now()
	if sc.Name != "" {
		ctx = context.WithValue(ctx, logger.BatchIDKey, sc.Name)
	}
	pairing, sel, err := s.Pair(ctx, sc, PairingOptions{})
	if err != nil {
		return nil, err
	}
	plan := &Plan{Pairing: pairing}

	data := timeline.PlanData{
		Plans:    sc.Plans,
		Pairs:    pairing.FeederMakerPairs,
		Machines: timeline.SpecsFromPairs(pairing.FeederMakerPairs, sc.Maintenance),
		Locked:   opts.Locked,
	}
	if data.Calendar, err = sc.CalendarDays(); err != nil {
		return nil, err
	}
	if opts.Optimize {
		if plan.Optimization, err = s.optimize(ctx, sc, sel, pairing, opts.OptimizeOptions); err != nil {
			return nil, err
		}
		data.Allocation = plan.Optimization.BestAllocation
	}

	cfg := s.cfg.TimelineOptions()
	if cfg.Location, err = sc.Location(); err != nil {
		return nil, err
	}
	mode := timeline.Mode(firstNonEmpty(opts.Mode, sc.Timeline.Mode))
	formats := opts.Formats
	if len(formats) == 0 {
		formats = sc.Timeline.Formats
	}
	out := make([]timeline.OutputFormat, 0, len(formats))
	for _, f := range formats {
		out = append(out, timeline.OutputFormat(f))
	}

	res, err := timeline.New(cfg).GenerateTimeline(ctx, data, sc.Period.Year, sc.Month(), mode, out)
	if err != nil {
		metrics.RecordTimeline(string(mode), false, 0, time.Since(start))
		return nil, err
	}
	metrics.RecordTimeline(string(res.Mode), true, len(res.Conflicts), res.ExecutionTime)
	plan.Timeline = res

	logger.WithContext(ctx).Info().
		Str("timeline_id", res.TimelineID).
		Int("tasks", len(res.ScheduledTasks)).
		Int("conflicts", len(res.Conflicts)).
		Dur("duration", time.Since(start)).
		Msg("排产完成")
	return plan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
