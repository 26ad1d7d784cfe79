package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/stats"
)

// FeederMakerPair 一个需求在一台喂料机下的卷包机组合
type FeederMakerPair struct {
	RequirementID string             `json:"requirement_id"`
	PlanID        string             `json:"plan_id"`
	ArticleNr     string             `json:"article_nr"`
	FeederCode    string             `json:"feeder_code"`
	MakerCodes    []string           `json:"maker_codes"`
	Quantities    map[string]float64 `json:"quantities"` // maker -> qty
	Rates         map[string]float64 `json:"rates"`      // maker -> 件/小时
	Hours         float64            `json:"hours"`      // 并行生产时长
	Score         float64            `json:"score"`
}

// Quantity 组合分配总量
func (p *FeederMakerPair) Quantity() float64 {
	total := 0.0
	for _, q := range p.Quantities {
		total += q
	}
	return total
}

// UnallocatedRequirement 无法分配的需求
type UnallocatedRequirement struct {
	Requirement model.ProductionRequirement `json:"requirement"`
	Reason      string                      `json:"reason"`
}

// MachineLoad 机台负载
type MachineLoad struct {
	MachineID      string  `json:"machine_id"`
	AllocatedHours float64 `json:"allocated_hours"`
	CapacityHours  float64 `json:"capacity_hours"`
	LoadRate       float64 `json:"load_rate"`
}

// LoadAnalysis 负载分析
type LoadAnalysis struct {
	Machines   map[string]MachineLoad `json:"machines"`
	MeanLoad   float64                `json:"mean_load"`
	Variance   float64                `json:"variance"`
	Overloaded []string               `json:"overloaded"`
	Idle       []string               `json:"idle"`
}

// PairingResult 选机结果
type PairingResult struct {
	Period                  Period                   `json:"period"`
	Strategy                SelectionStrategy        `json:"strategy"`
	Objective               SelectionObjective       `json:"objective"`
	FeederMakerPairs        []FeederMakerPair        `json:"feeder_maker_pairs"`
	LoadAnalysis            LoadAnalysis             `json:"load_analysis"`
	UnallocatedRequirements []UnallocatedRequirement `json:"unallocated_requirements"`
	OptimizationSuggestions []string                 `json:"optimization_suggestions"`
	ExecutionTime           time.Duration            `json:"execution_time"`
}

// PairsFor 返回某计划的全部组合
func (r *PairingResult) PairsFor(planID string) []FeederMakerPair {
	var out []FeederMakerPair
	for _, p := range r.FeederMakerPairs {
		if p.PlanID == planID {
			out = append(out, p)
		}
	}
	return out
}

// candidate 候选卷包机
type candidate struct {
	machine *model.Machine
	rate    float64
	free    float64 // 剩余小时
	score   float64
}

// pairingState 一次选机过程中的负载状态（每次调用独立）
type pairingState struct {
	capacity map[string]float64
	used     map[string]float64
	articles map[string]map[string]bool
}

func (st *pairingState) loadRate(code string) float64 {
	if st.capacity[code] <= 0 {
		if st.used[code] > 0 {
			return 1
		}
		return 0
	}
	return st.used[code] / st.capacity[code]
}

// AllocateFeederMakerPairs 为需求选择喂料机与卷包机组合
func (s *Selector) AllocateFeederMakerPairs(ctx context.Context, requirements []model.ProductionRequirement, period Period) (*PairingResult, error) {
	if len(requirements) == 0 {
		return nil, errors.Validation("requirements", "不能为空")
	}
	ve := &errors.ValidationErrors{}
	for i, r := range requirements {
		if r.PlanID == "" {
			ve.Add(fmt.Sprintf("requirements[%d].plan_id", i), "不能为空")
		}
		if r.ArticleNr == "" {
			ve.Add(fmt.Sprintf("requirements[%d].article_nr", i), "不能为空")
		}
		if r.TargetQuantity <= 0 {
			ve.Add(fmt.Sprintf("requirements[%d].target_quantity", i), "必须大于0")
		}
	}
	if period.Month < time.January || period.Month > time.December || period.Year <= 0 {
		ve.Add("period", "年月无效")
	}
	if ve.HasErrors() {
		return nil, ve.ToAppError()
	}

	start := time.Now()
	runID := model.NewID()
	s.logger.RunStart(runID, len(requirements), len(s.machines()))

	ordered := append([]model.ProductionRequirement(nil), requirements...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.TargetQuantity != b.TargetQuantity {
			return a.TargetQuantity > b.TargetQuantity
		}
		return a.RequirementID < b.RequirementID
	})

	st := &pairingState{
		capacity: make(map[string]float64),
		used:     make(map[string]float64),
		articles: make(map[string]map[string]bool),
	}
	for _, m := range s.machines() {
		if !m.IsActive() {
			continue
		}
		info, err := s.CalculateMachineCapacity(m.Code, period.Year, period.Month)
		if err != nil {
			return nil, err
		}
		st.capacity[m.Code] = info.EffectiveHours
	}

	result := &PairingResult{
		Period:                  period,
		Strategy:                s.cfg.Strategy,
		Objective:               s.cfg.Objective,
		FeederMakerPairs:        make([]FeederMakerPair, 0),
		UnallocatedRequirements: make([]UnallocatedRequirement, 0),
	}

	for i, req := range ordered {
		if err := ctx.Err(); err != nil {
			for _, rest := range ordered[i:] {
				result.UnallocatedRequirements = append(result.UnallocatedRequirements,
					UnallocatedRequirement{Requirement: rest, Reason: "计算超时或被取消"})
			}
			s.logger.Degraded(runID, err.Error())
			break
		}
		pairs, reason := s.allocateOne(req, st)
		if reason != "" {
			result.UnallocatedRequirements = append(result.UnallocatedRequirements,
				UnallocatedRequirement{Requirement: req, Reason: reason})
			continue
		}
		result.FeederMakerPairs = append(result.FeederMakerPairs, pairs...)
	}

	result.LoadAnalysis = s.analyzeLoad(st)
	result.OptimizationSuggestions = s.suggest(result, st)
	result.ExecutionTime = time.Since(start)

	s.logger.RunComplete(runID, result.ExecutionTime, float64(len(result.FeederMakerPairs)))
	return result, nil
}

// allocateOne 为单个需求选机，返回组合或不可分配原因
func (s *Selector) allocateOne(req model.ProductionRequirement, st *pairingState) ([]FeederMakerPair, string) {
	rel := s.relations()
	explicit := len(req.PreferredMakers) > 0

	feederAllowed := func(f string) bool {
		if len(req.PreferredFeeders) == 0 {
			return true
		}
		for _, pf := range req.PreferredFeeders {
			if pf == f {
				return true
			}
		}
		return false
	}

	makerCodes := req.PreferredMakers
	if !explicit {
		for _, m := range s.machines() {
			if m.Type == model.MachineMaker {
				makerCodes = append(makerCodes, m.Code)
			}
		}
	}

	var cands []*candidate
	for _, code := range makerCodes {
		m, err := s.machine(code)
		if err != nil || !m.IsActive() {
			continue
		}
		hasFeeder := false
		for _, f := range rel.feeders[code] {
			if feederAllowed(f) && s.feederActive(f) {
				hasFeeder = true
				break
			}
		}
		if !hasFeeder {
			continue
		}
		r, err := s.rate(m, req.ArticleNr)
		if err != nil {
			continue
		}
		cands = append(cands, &candidate{
			machine: m,
			rate:    r,
			free:    math.Max(0, st.capacity[code]-st.used[code]),
		})
	}
	if len(cands) == 0 {
		return nil, fmt.Sprintf("没有可生产产品 %s 且有可用喂料机的卷包机", req.ArticleNr)
	}

	s.scoreCandidates(req, cands, st)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].machine.Code < cands[j].machine.Code
	})

	var chosen []*candidate
	if explicit {
		chosen = cands
		if !absorbs(req.TargetQuantity, chosen) {
			return nil, fmt.Sprintf("指定卷包机剩余产能不足以生产 %.0f", req.TargetQuantity)
		}
	} else {
		for _, c := range cands {
			if c.free <= 0 {
				continue
			}
			chosen = append(chosen, c)
			if absorbs(req.TargetQuantity, chosen) {
				break
			}
		}
		if len(chosen) == 0 || !absorbs(req.TargetQuantity, chosen) {
			return nil, fmt.Sprintf("候选卷包机剩余产能不足以生产 %.0f", req.TargetQuantity)
		}
	}

	// 按编码排序后拆分数量，最后一台承担余数
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].machine.Code < chosen[j].machine.Code })
	totalRate := 0.0
	for _, c := range chosen {
		totalRate += c.rate
	}
	hours := req.TargetQuantity / totalRate
	quantities := make(map[string]float64, len(chosen))
	assigned := 0.0
	for i, c := range chosen {
		q := math.Floor(req.TargetQuantity * c.rate / totalRate)
		if i == len(chosen)-1 {
			q = req.TargetQuantity - assigned
		}
		quantities[c.machine.Code] = q
		assigned += q
	}

	// 按喂料机分组，喂料机选负载最低者
	byFeeder := make(map[string]*FeederMakerPair)
	var feeders []string
	for _, c := range chosen {
		f := s.pickFeeder(c.machine.Code, feederAllowed, st)
		pair, ok := byFeeder[f]
		if !ok {
			pair = &FeederMakerPair{
				RequirementID: req.RequirementID,
				PlanID:        req.PlanID,
				ArticleNr:     req.ArticleNr,
				FeederCode:    f,
				Quantities:    make(map[string]float64),
				Rates:         make(map[string]float64),
				Hours:         hours,
			}
			byFeeder[f] = pair
			feeders = append(feeders, f)
		}
		pair.MakerCodes = append(pair.MakerCodes, c.machine.Code)
		pair.Quantities[c.machine.Code] = quantities[c.machine.Code]
		pair.Rates[c.machine.Code] = c.rate
		pair.Score += c.score

		st.used[c.machine.Code] += quantities[c.machine.Code] / c.rate
		if st.articles[c.machine.Code] == nil {
			st.articles[c.machine.Code] = make(map[string]bool)
		}
		st.articles[c.machine.Code][req.ArticleNr] = true
	}

	sort.Strings(feeders)
	pairs := make([]FeederMakerPair, 0, len(feeders))
	for _, f := range feeders {
		p := byFeeder[f]
		p.Score /= float64(len(p.MakerCodes))
		st.used[f] += hours
		pairs = append(pairs, *p)
	}
	return pairs, ""
}

// absorbs 并行生产时长不超过任一机台剩余小时
func absorbs(qty float64, chosen []*candidate) bool {
	totalRate, minFree := 0.0, math.Inf(1)
	for _, c := range chosen {
		totalRate += c.rate
		minFree = math.Min(minFree, c.free)
	}
	if totalRate <= 0 {
		return false
	}
	return qty/totalRate <= minFree+model.Epsilon
}

func (s *Selector) feederActive(code string) bool {
	m, err := s.machine(code)
	return err == nil && m.IsActive()
}

func (s *Selector) pickFeeder(maker string, allowed func(string) bool, st *pairingState) string {
	best, bestLoad := "", math.Inf(1)
	for _, f := range s.relations().feeders[maker] {
		if !allowed(f) || !s.feederActive(f) {
			continue
		}
		if l := st.loadRate(f); l < bestLoad-model.Epsilon {
			best, bestLoad = f, l
		}
	}
	return best
}

// scoreCandidates 按策略打分，目标作为 0.3 权重的修正项
func (s *Selector) scoreCandidates(req model.ProductionRequirement, cands []*candidate, st *pairingState) {
	maxRate, maxCost := 0.0, 0.0
	for _, c := range cands {
		maxRate = math.Max(maxRate, c.rate)
		maxCost = math.Max(maxCost, c.machine.CostPerUnit)
	}

	for _, c := range cands {
		code := c.machine.Code
		capHours := st.capacity[code]
		var base float64
		switch s.cfg.Strategy {
		case StrategyEfficiencyOptimal:
			base = c.rate / maxRate
		case StrategyBalanceOptimal:
			base = 1 - s.varianceAfter(code, req.TargetQuantity/c.rate, st)
		case StrategyMaintenanceAware:
			base = headroom(c.free, capHours)
			if !req.Window.IsZero() && req.Window.DurationHours() > 0 {
				overlap := req.Window.OverlapHours(s.provider.MaintenanceWindows(code))
				base -= overlap / req.Window.DurationHours()
			}
		default:
			base = headroom(c.free, capHours)
		}

		var mod float64
		switch s.cfg.Objective {
		case ObjectiveMinimizeCost:
			if maxCost > 0 {
				mod = 1 - c.machine.CostPerUnit/maxCost
			} else {
				mod = 1
			}
		case ObjectiveBalanceLoad:
			mod = 1 - st.loadRate(code)
		case ObjectiveMinimizeSetup:
			if st.articles[code][req.ArticleNr] {
				mod = 1
			}
		default:
			mod = c.rate / maxRate
		}
		c.score = base + 0.3*mod
	}
}

func headroom(free, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return free / capacity
}

// varianceAfter 假设机台增加 hours 后的负载率方差
func (s *Selector) varianceAfter(code string, hours float64, st *pairingState) float64 {
	var rates []float64
	for m, capHours := range st.capacity {
		used := st.used[m]
		if m == code {
			used += hours
		}
		if capHours > 0 {
			rates = append(rates, used/capHours)
		}
	}
	sort.Float64s(rates)
	return stats.Variance(rates, stats.Mean(rates))
}

func (s *Selector) analyzeLoad(st *pairingState) LoadAnalysis {
	la := LoadAnalysis{Machines: make(map[string]MachineLoad)}
	rates := make(map[string]float64)
	for code, capHours := range st.capacity {
		ml := MachineLoad{
			MachineID:      code,
			AllocatedHours: st.used[code],
			CapacityHours:  capHours,
			LoadRate:       st.loadRate(code),
		}
		la.Machines[code] = ml
		rates[code] = ml.LoadRate
		if ml.LoadRate > s.cfg.HighLoadThreshold {
			la.Overloaded = append(la.Overloaded, code)
		}
		if ml.LoadRate < s.cfg.LowLoadThreshold {
			la.Idle = append(la.Idle, code)
		}
	}
	sort.Strings(la.Overloaded)
	sort.Strings(la.Idle)
	m := stats.AnalyzeLoads(rates)
	la.MeanLoad = m.Mean
	la.Variance = m.Variance
	return la
}

func (s *Selector) suggest(r *PairingResult, st *pairingState) []string {
	var out []string
	for _, code := range r.LoadAnalysis.Overloaded {
		out = append(out, fmt.Sprintf("机台 %s 负载率 %.0f%% 超过 %.0f%%，建议分流到其他机台",
			code, st.loadRate(code)*100, s.cfg.HighLoadThreshold*100))
	}
	if len(r.LoadAnalysis.Overloaded) > 0 && len(r.LoadAnalysis.Idle) > 0 {
		out = append(out, fmt.Sprintf("机台 %v 负载偏低，可承接高负载机台的任务", r.LoadAnalysis.Idle))
	}
	if n := len(r.UnallocatedRequirements); n > 0 {
		out = append(out, fmt.Sprintf("%d 个需求未能分配，建议增加班次、放宽指定机台或拆分到下月", n))
	}
	if r.LoadAnalysis.Variance > 0.1 {
		out = append(out, "机台负载差异较大，建议使用 balance_optimal 策略")
	}
	return out
}
