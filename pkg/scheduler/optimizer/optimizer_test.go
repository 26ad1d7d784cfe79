package optimizer

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

func resource(id string, capacity, cost, eff float64) *model.ResourceCapacity {
	return &model.ResourceCapacity{
		ResourceID:        id,
		ResourceType:      model.MachineMaker,
		TotalCapacity:     capacity,
		AvailableCapacity: capacity,
		CostPerUnit:       cost,
		EfficiencyFactor:  eff,
	}
}

func plan(id string, qty float64) model.PlanItem {
	return model.PlanItem{PlanID: id, ArticleNr: "ART-" + id, TargetQuantity: qty, Priority: model.PriorityNormal}
}

func testOptimizer() *Optimizer {
	search := DefaultOptConfig()
	search.MaxIterations = 300
	search.PlateauThreshold = 50
	return New(Config{TimeLimit: 5 * time.Second, Search: search})
}

var allStrategies = []Strategy{StrategyHeuristic, StrategyExact, StrategyHybrid}

func assertConserved(t *testing.T, alloc *model.ResourceAllocation) {
	t.Helper()
	for plan, target := range alloc.PlanTargets {
		if len(alloc.Candidates[plan]) == 0 {
			continue
		}
		if got := alloc.PlanTotal(plan); math.Abs(got-target) > 1e-6 {
			t.Errorf("计划 %s 分配总量 = %v, 期望 %v", plan, got, target)
		}
	}
}

func TestOptimizeInfeasibleCapacity(t *testing.T) {
	o := testOptimizer()
	for _, s := range allStrategies {
		t.Run(string(s), func(t *testing.T) {
			res, err := o.OptimizeResourceAllocation(context.Background(), Request{
				Plans:     []model.PlanItem{plan("P1", 100000)},
				Resources: []*model.ResourceCapacity{resource("M1", 80000, 1, 0.9)},
				Strategy:  s,
			})
			if err != nil {
				t.Fatalf("不可行不应返回错误: %v", err)
			}
			best := res.BestAllocation
			if res.IsFeasible || best.IsFeasible() {
				t.Error("产能不足时应不可行")
			}
			if d := best.ConstraintViolations["capacity:M1"]; math.Abs(d-0.25) > 1e-9 {
				t.Errorf("capacity:M1 违反度 = %v, 期望 0.25", d)
			}
			if best.FeasibilityScore >= 100 {
				t.Errorf("FeasibilityScore = %v, 应小于100", best.FeasibilityScore)
			}
			if len(res.OptimizationRecommendations) == 0 {
				t.Error("应给出优化建议")
			}
			assertConserved(t, best)
		})
	}
}

func TestOptimizeConservationAndCapacity(t *testing.T) {
	o := testOptimizer()
	req := Request{
		Plans: []model.PlanItem{plan("P1", 3000), plan("P2", 1001), plan("P3", 2500)},
		Resources: []*model.ResourceCapacity{
			resource("M1", 4000, 1.0, 0.9),
			resource("M2", 3000, 1.2, 0.95),
			resource("M3", 2000, 0.8, 0.8),
		},
		Candidates: map[string][]string{
			"P1": {"M1", "M2"},
			"P2": {"M2", "M3"},
		},
	}
	for _, s := range allStrategies {
		t.Run(string(s), func(t *testing.T) {
			req.Strategy = s
			res, err := o.OptimizeResourceAllocation(context.Background(), req)
			if err != nil {
				t.Fatalf("OptimizeResourceAllocation() error = %v", err)
			}
			best := res.BestAllocation
			assertConserved(t, best)
			if !res.IsFeasible {
				t.Errorf("产能充足时应可行, violations = %v", best.ConstraintViolations)
			}
			if best.FeasibilityScore != 100 {
				t.Errorf("FeasibilityScore = %v, 期望 100", best.FeasibilityScore)
			}
			for _, r := range req.Resources {
				if load := best.ResourceTotal(r.ResourceID); load > r.Usable()+1e-6 {
					t.Errorf("资源 %s 负载 %v 超出 %v", r.ResourceID, load, r.Usable())
				}
			}
			if best.Get("M3", "P1") != 0 {
				t.Error("P1 不应分配到非候选资源 M3")
			}
			if best.OptimizationScore < 0 || best.OptimizationScore > 100 {
				t.Errorf("OptimizationScore = %v 超出 [0,100]", best.OptimizationScore)
			}
			for _, alt := range res.AlternativeAllocations {
				assertConserved(t, alt)
			}
		})
	}
}

func TestOptimizeCostObjective(t *testing.T) {
	o := testOptimizer()
	for _, s := range []Strategy{StrategyHeuristic, StrategyExact} {
		t.Run(string(s), func(t *testing.T) {
			res, err := o.OptimizeResourceAllocation(context.Background(), Request{
				Plans: []model.PlanItem{plan("P1", 1000)},
				Resources: []*model.ResourceCapacity{
					resource("CHEAP", 5000, 1, 0.9),
					resource("DEAR", 5000, 2, 0.9),
				},
				Objectives: map[Objective]float64{ObjectiveMinimizeCost: 1},
				Strategy:   s,
			})
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got := res.BestAllocation.Get("CHEAP", "P1"); math.Abs(got-1000) > 1e-6 {
				t.Errorf("CHEAP 分配 = %v, 期望 1000", got)
			}
			if got := res.BestAllocation.ObjectiveValues[string(ObjectiveMinimizeCost)]; math.Abs(got-100) > 1e-6 {
				t.Errorf("成本得分 = %v, 期望 100", got)
			}
		})
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	req := Request{
		Plans: []model.PlanItem{plan("P1", 3000), plan("P2", 2000)},
		Resources: []*model.ResourceCapacity{
			resource("M1", 3000, 1, 0.9),
			resource("M2", 3000, 1.1, 0.85),
		},
		Strategy: StrategyHeuristic,
	}
	a, err := testOptimizer().OptimizeResourceAllocation(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := testOptimizer().OptimizeResourceAllocation(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range []string{"M1", "M2"} {
		for _, p := range []string{"P1", "P2"} {
			if a.BestAllocation.Get(res, p) != b.BestAllocation.Get(res, p) {
				t.Errorf("相同种子结果不一致: %s/%s %v vs %v", res, p,
					a.BestAllocation.Get(res, p), b.BestAllocation.Get(res, p))
			}
		}
	}
}

func TestOptimizeValidation(t *testing.T) {
	o := testOptimizer()
	res := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9)}
	tests := []struct {
		name string
		req  Request
	}{
		{"空计划", Request{Resources: res}},
		{"空资源", Request{Plans: []model.PlanItem{plan("P1", 10)}}},
		{"负权重", Request{Plans: []model.PlanItem{plan("P1", 10)}, Resources: res,
			Objectives: map[Objective]float64{ObjectiveBalanceLoad: -1}}},
		{"未知目标", Request{Plans: []model.PlanItem{plan("P1", 10)}, Resources: res,
			Objectives: map[Objective]float64{"maximize_profit": 1}}},
		{"重复计划", Request{Plans: []model.PlanItem{plan("P1", 10), plan("P1", 20)}, Resources: res}},
		{"未知候选资源", Request{Plans: []model.PlanItem{plan("P1", 10)}, Resources: res,
			Candidates: map[string][]string{"P1": {"M9"}}}},
		{"目标量为零", Request{Plans: []model.PlanItem{plan("P1", 0)}, Resources: res}},
		{"未知策略", Request{Plans: []model.PlanItem{plan("P1", 10)}, Resources: res, Strategy: "GENETIC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.OptimizeResourceAllocation(context.Background(), tt.req)
			if err == nil {
				t.Fatal("期望返回错误")
			}
			if !errors.IsValidation(err) {
				t.Errorf("期望校验错误, got code %s", errors.GetCode(err))
			}
		})
	}
}

func TestOptimizeUnassignablePlan(t *testing.T) {
	o := testOptimizer()
	res, err := o.OptimizeResourceAllocation(context.Background(), Request{
		Plans:     []model.PlanItem{{PlanID: "P1", ArticleNr: "A", TargetQuantity: 10, MakerCodes: []string{"M9"}}},
		Resources: []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9)},
		Strategy:  StrategyHeuristic,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.BestAllocation.ConstraintViolations["unassignable:P1"] != 1 {
		t.Errorf("violations = %v, 期望 unassignable:P1", res.BestAllocation.ConstraintViolations)
	}
	if res.IsFeasible {
		t.Error("无候选资源时应不可行")
	}
}

func TestOptimizeCancelledContext(t *testing.T) {
	o := testOptimizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("精确策略回退贪心", func(t *testing.T) {
		res, err := o.OptimizeResourceAllocation(ctx, Request{
			Plans:     []model.PlanItem{plan("P1", 500)},
			Resources: []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9)},
			Strategy:  StrategyExact,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.BestAllocation.AlgorithmUsed != "greedy" {
			t.Errorf("AlgorithmUsed = %s, 期望 greedy", res.BestAllocation.AlgorithmUsed)
		}
		found := false
		for _, r := range res.OptimizationRecommendations {
			if strings.Contains(r, "精确求解") {
				found = true
			}
		}
		if !found {
			t.Errorf("应说明精确求解未完成: %v", res.OptimizationRecommendations)
		}
		assertConserved(t, res.BestAllocation)
	})

	t.Run("混合策略仍返回结果", func(t *testing.T) {
		res, err := o.OptimizeResourceAllocation(ctx, Request{
			Plans:     []model.PlanItem{plan("P1", 500)},
			Resources: []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9)},
			Strategy:  StrategyHybrid,
		})
		if err != nil {
			t.Fatal(err)
		}
		assertConserved(t, res.BestAllocation)
	})
}

func TestNormalizeWeights(t *testing.T) {
	w, err := NormalizeWeights(map[Objective]float64{ObjectiveMinimizeCost: 2, ObjectiveMaximizeEfficiency: 2})
	if err != nil {
		t.Fatal(err)
	}
	if w[ObjectiveMinimizeCost] != 0.5 || w[ObjectiveMaximizeEfficiency] != 0.5 || w[ObjectiveBalanceLoad] != 0 {
		t.Errorf("归一化结果 = %v", w)
	}

	def, err := NormalizeWeights(nil)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, v := range def {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 || def[ObjectiveMinimizeCost] != 0.3 {
		t.Errorf("默认权重 = %v", def)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyHybrid, false},
		{"heuristic_only", StrategyHeuristic, false},
		{"EXACT_ONLY", StrategyExact, false},
		{"genetic", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func buildAllocation(targets map[string]float64, cands map[string][]string, qty map[string]map[string]float64) *model.ResourceAllocation {
	a := model.NewAllocation("test")
	for p, v := range targets {
		a.PlanTargets[p] = v
	}
	for p, list := range cands {
		a.Candidates[p] = list
	}
	for res, byPlan := range qty {
		for p, q := range byPlan {
			a.Set(res, p, q)
		}
	}
	return a
}

func TestBalanceWorkload(t *testing.T) {
	o := testOptimizer()
	resources := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 1000, 1, 0.9)}
	alloc := buildAllocation(
		map[string]float64{"P1": 1000},
		map[string][]string{"P1": {"M1", "M2"}},
		map[string]map[string]float64{"M1": {"P1": 900}, "M2": {"P1": 100}},
	)

	out, err := o.BalanceWorkload(alloc, resources, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	assertConserved(t, out)
	u1 := out.ResourceTotal("M1") / 1000
	u2 := out.ResourceTotal("M2") / 1000
	if math.Abs(u1-u2) > 0.1+1e-9 {
		t.Errorf("均衡后利用率差 %v 超过阈值", math.Abs(u1-u2))
	}
	if out.ParentID != alloc.AllocationID || out.Version != alloc.Version+1 {
		t.Error("应派生新版本")
	}
	if alloc.Get("M1", "P1") != 900 {
		t.Error("原分配不应被修改")
	}

	t.Run("不超出转入方产能", func(t *testing.T) {
		small := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 150, 1, 0.9)}
		out, err := o.BalanceWorkload(alloc, small, 0.1)
		if err != nil {
			t.Fatal(err)
		}
		if out.ResourceTotal("M2") > 150+1e-9 {
			t.Errorf("M2 负载 %v 超出 150", out.ResourceTotal("M2"))
		}
		assertConserved(t, out)
	})

	t.Run("负阈值", func(t *testing.T) {
		if _, err := o.BalanceWorkload(alloc, resources, -1); !errors.IsValidation(err) {
			t.Errorf("期望校验错误, got %v", err)
		}
	})
}

func TestGetOptimizationSuggestions(t *testing.T) {
	resources := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 1000, 1, 0.9)}
	alloc := buildAllocation(
		map[string]float64{"P1": 1080},
		nil,
		map[string]map[string]float64{"M1": {"P1": 980}, "M2": {"P1": 100}},
	)
	got := strings.Join(GetOptimizationSuggestions(alloc, resources), "\n")
	if !strings.Contains(got, "M1") || !strings.Contains(got, "接近饱和") {
		t.Errorf("缺少饱和提示: %s", got)
	}
	if !strings.Contains(got, "M2") || !strings.Contains(got, "其他资源已饱和") {
		t.Errorf("缺少低利用率提示: %s", got)
	}
}

func TestEvaluateAllocationQuality(t *testing.T) {
	o := testOptimizer()
	resources := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 1000, 1, 0.9)}
	alloc := buildAllocation(
		map[string]float64{"P1": 1000},
		nil,
		map[string]map[string]float64{"M1": {"P1": 500}, "M2": {"P1": 500}},
	)

	q, err := o.EvaluateAllocationQuality(alloc, resources, nil)
	if err != nil {
		t.Fatal(err)
	}
	if q.FeasibilityScore != 100 {
		t.Errorf("FeasibilityScore = %v, 期望 100", q.FeasibilityScore)
	}
	if math.Abs(q.BalanceScore-100) > 1e-9 || q.LoadVariance != 0 {
		t.Errorf("完全均衡时 BalanceScore = %v, LoadVariance = %v", q.BalanceScore, q.LoadVariance)
	}
	if math.Abs(q.AverageUtilization-50) > 1e-9 {
		t.Errorf("AverageUtilization = %v, 期望 50", q.AverageUtilization)
	}
	if math.Abs(q.EfficiencyScore-90) > 1e-9 {
		t.Errorf("EfficiencyScore = %v, 期望 90", q.EfficiencyScore)
	}

	hard := []*constraint.Constraint{{
		ID:     "cap-M1",
		Type:   constraint.TypeMachineCapacity,
		IsHard: true,
		Params: constraint.Params{MaxCapacity: 400},
		Scope:  constraint.Scope{Machines: []string{"M1"}},
	}}
	q2, err := o.EvaluateAllocationQuality(alloc, resources, hard)
	if err != nil {
		t.Fatal(err)
	}
	if q2.FeasibilityScore >= 100 {
		t.Errorf("硬约束违反时 FeasibilityScore = %v, 应小于 100", q2.FeasibilityScore)
	}
	if _, ok := q2.Violations["cap-M1"]; !ok {
		t.Errorf("violations = %v, 期望包含 cap-M1", q2.Violations)
	}
	if q2.OverallScore >= q.OverallScore {
		t.Errorf("违反约束后总分 %v 应低于 %v", q2.OverallScore, q.OverallScore)
	}
}

func TestRealTimeAdjustment(t *testing.T) {
	o := testOptimizer()
	resources := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 1000, 2, 0.9)}
	base, err := o.OptimizeResourceAllocation(context.Background(), Request{
		Plans:      []model.PlanItem{plan("P1", 800), plan("P2", 200)},
		Resources:  resources,
		Objectives: map[Objective]float64{ObjectiveMinimizeCost: 1},
		Strategy:   StrategyExact,
	})
	if err != nil {
		t.Fatal(err)
	}
	alloc := base.BestAllocation
	if alloc.ResourceTotal("M1") != 1000 {
		t.Fatalf("基准分配 M1 = %v, 期望 1000", alloc.ResourceTotal("M1"))
	}

	t.Run("产能下降时增量转移", func(t *testing.T) {
		changed := *resources[0]
		changed.AvailableCapacity = 600
		res, err := o.RealTimeAdjustment(context.Background(), alloc, resources, Changes{
			ResourceChanges: []model.ResourceCapacity{changed},
		}, AdjustIncremental)
		if err != nil {
			t.Fatal(err)
		}
		out := res.Allocation
		assertConserved(t, out)
		if !out.IsFeasible() {
			t.Errorf("调整后应可行: %v", out.ConstraintViolations)
		}
		if math.Abs(res.MovedQuantity-400) > 1e-6 {
			t.Errorf("MovedQuantity = %v, 期望 400", res.MovedQuantity)
		}
		if res.CostDelta <= 0 {
			t.Errorf("转到高成本机台后 CostDelta = %v, 应为正", res.CostDelta)
		}
		if out.ParentID != alloc.AllocationID {
			t.Error("应基于原分配派生")
		}
	})

	t.Run("取消与新增计划", func(t *testing.T) {
		res, err := o.RealTimeAdjustment(context.Background(), alloc, resources, Changes{
			CancelledPlans: []string{"P2"},
			NewPlans:       []model.PlanItem{plan("P3", 300)},
		}, AdjustIncremental)
		if err != nil {
			t.Fatal(err)
		}
		out := res.Allocation
		if _, ok := out.PlanTargets["P2"]; ok {
			t.Error("取消的计划应被移除")
		}
		if got := out.PlanTotal("P3"); math.Abs(got-300) > 1e-6 {
			t.Errorf("新计划 P3 分配 = %v, 期望 300", got)
		}
		assertConserved(t, out)
	})

	t.Run("全量重算", func(t *testing.T) {
		res, err := o.RealTimeAdjustment(context.Background(), alloc, resources, Changes{
			NewPlans: []model.PlanItem{plan("P3", 500)},
		}, AdjustFull)
		if err != nil {
			t.Fatal(err)
		}
		assertConserved(t, res.Allocation)
		if res.Strategy != AdjustFull {
			t.Errorf("Strategy = %s", res.Strategy)
		}
	})

	t.Run("取消不存在的计划", func(t *testing.T) {
		_, err := o.RealTimeAdjustment(context.Background(), alloc, resources, Changes{CancelledPlans: []string{"P9"}}, "")
		if errors.GetCode(err) != errors.CodeNotFound {
			t.Errorf("期望 NOT_FOUND, got %v", err)
		}
	})
}

func TestBoltzmannProbability(t *testing.T) {
	tests := []struct {
		name        string
		delta, temp float64
		want        float64
	}{
		{"更优解", -1, 10, 1},
		{"零温度", 5, 0, 0},
		{"常规", 10, 10, math.Exp(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoltzmannProbability(tt.delta, tt.temp); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("BoltzmannProbability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTabuList(t *testing.T) {
	tl := NewTabuList(2)
	tl.Add(1)
	tl.Add(2)
	tl.Add(2)
	tl.Add(3)
	if tl.Contains(1) {
		t.Error("最旧的键应被移除")
	}
	if !tl.Contains(2) || !tl.Contains(3) {
		t.Error("新键应保留")
	}
	if tl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tl.Len())
	}
}

func TestParallelEvaluatorMatchesSerial(t *testing.T) {
	weights, _ := NormalizeWeights(nil)
	prob := newProblem(
		[]planInfo{{id: "P1", target: 100}, {id: "P2", target: 50}},
		[]*model.ResourceCapacity{resource("M1", 100, 1, 0.9), resource("M2", 100, 2, 0.8)},
		nil, nil, weights,
	)
	batch := make([]matrix, 0, 16)
	for i := 0; i < 16; i++ {
		m := prob.newMatrix()
		m[0][0] = float64(i * 5)
		m[0][1] = 100 - float64(i*5)
		m[1][1] = 50
		batch = append(batch, m)
	}
	serial := NewParallelEvaluator(1, prob, 1000).EvaluateBatch(context.Background(), batch)
	parallel := NewParallelEvaluator(4, prob, 1000).EvaluateBatch(context.Background(), batch)
	for i := range batch {
		if serial[i].Eval.energy != parallel[i].Eval.energy {
			t.Errorf("下标 %d 评估不一致: %v vs %v", i, serial[i].Eval.energy, parallel[i].Eval.energy)
		}
	}
	best := NewParallelEvaluator(4, prob, 1000).FindBest(parallel)
	if best == nil || best.Eval.degreeSum > 0 {
		t.Errorf("最优结果应可行: %+v", best)
	}
}

func TestAdjustmentKeepsPlanPriorities(t *testing.T) {
	o := testOptimizer()
	resources := []*model.ResourceCapacity{resource("M1", 1000, 1, 0.9), resource("M2", 1000, 2, 0.9)}
	urgent, low := plan("P1", 600), plan("P2", 700)
	urgent.Priority = model.PriorityUrgent
	low.Priority = model.PriorityLow
	base, err := o.OptimizeResourceAllocation(context.Background(), Request{
		Plans:     []model.PlanItem{urgent, low},
		Resources: resources,
		Strategy:  StrategyHeuristic,
	})
	if err != nil {
		t.Fatal(err)
	}
	alloc := base.BestAllocation
	if alloc.PlanPriority("P1") != model.PriorityUrgent || alloc.PlanPriority("P2") != model.PriorityLow {
		t.Fatalf("PlanPriorities = %v", alloc.PlanPriorities)
	}

	p := problemFromAllocation(alloc, resources)
	if len(p.plans) != 2 || p.plans[0].id != "P1" || p.plans[0].priority != model.PriorityUrgent {
		t.Errorf("还原的计划顺序 = %+v, 期望 P1(URGENT) 在前", p.plans)
	}

	for _, strategy := range []AdjustStrategy{AdjustIncremental, AdjustFull} {
		t.Run(string(strategy), func(t *testing.T) {
			res, err := o.RealTimeAdjustment(context.Background(), alloc, resources, Changes{
				NewPlans: []model.PlanItem{plan("P3", 100)},
			}, strategy)
			if err != nil {
				t.Fatal(err)
			}
			out := res.Allocation
			if out.PlanPriority("P1") != model.PriorityUrgent || out.PlanPriority("P2") != model.PriorityLow {
				t.Errorf("调整后 PlanPriorities = %v", out.PlanPriorities)
			}
			if out.PlanPriority("P3") != model.PriorityNormal {
				t.Errorf("新计划优先级 = %v, 期望 NORMAL", out.PlanPriority("P3"))
			}
		})
	}
}

func TestWithAllocatedResourcesCopies(t *testing.T) {
	resources := make([]*model.ResourceCapacity, 1, 4)
	resources[0] = resource("M1", 100, 1, 1)
	a := buildAllocation(
		map[string]float64{"P1": 50},
		map[string][]string{"P1": {"M1", "M2"}},
		map[string]map[string]float64{"M2": {"P1": 50}},
	)

	out := withAllocatedResources(resources, a)
	if len(out) != 2 || out[1].ResourceID != "M2" {
		t.Fatalf("补齐后资源 = %d", len(out))
	}
	if resources[:2][1] != nil {
		t.Error("不应写入调用方的底层数组")
	}
}
