package solver

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func hour(h float64) time.Time {
	return day.Add(time.Duration(h * float64(time.Hour)))
}

func window(from, to float64) *model.TimeWindow {
	return &model.TimeWindow{Start: hour(from), End: hour(to)}
}

func capacity(id, machine string, limit float64) *constraint.Constraint {
	return &constraint.Constraint{
		ID: id, Type: constraint.TypeMachineCapacity, IsHard: true,
		Params: constraint.Params{MaxCapacity: limit},
		Scope:  constraint.Scope{Machines: []string{machine}},
	}
}

func demand(id, plan string, qty float64) *constraint.Constraint {
	return &constraint.Constraint{
		ID: id, Type: constraint.TypePlanDemand, IsHard: true,
		Params: constraint.Params{Demand: qty},
		Scope:  constraint.Scope{Plans: []string{plan}},
	}
}

func qtyVar(plan, machine string, upper float64) Variable {
	return Variable{ID: "qty:" + plan + ":" + machine, Kind: KindQuantity, Machine: machine, Plan: plan, Upper: upper}
}

func startVar(plan, machine string, upper, dur float64) Variable {
	return Variable{
		ID: "start:" + plan + ":" + machine, Kind: KindStartTime, Machine: machine, Plan: plan,
		Upper: upper, Origin: day, DurationHours: dur,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxSolvingTime = 5 * time.Second
	cfg.MaxIterations = 1500
	return cfg
}

var allStrategies = []Strategy{StrategyHeuristic, StrategyExact, StrategyHybrid}

func TestSolveEmptyInputs(t *testing.T) {
	s := New()
	tests := []struct {
		name        string
		constraints []*constraint.Constraint
		variables   []Variable
	}{
		{"约束为空", nil, []Variable{qtyVar("P1", "M1", 10)}},
		{"变量为空", []*constraint.Constraint{capacity("c1", "M1", 10)}, nil},
		{"全部为空", nil, nil},
		{"变量重复", []*constraint.Constraint{capacity("c1", "M1", 10)}, []Variable{qtyVar("P1", "M1", 10), qtyVar("P1", "M1", 10)}},
		{"下界大于上界", []*constraint.Constraint{capacity("c1", "M1", 10)}, []Variable{{ID: "x", Kind: KindQuantity, Machine: "M1", Plan: "P1", Lower: 5, Upper: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol, err := s.SolveConstraints(context.Background(), tt.constraints, tt.variables, StrategyHybrid, testConfig())
			if err == nil {
				t.Fatal("期望返回错误")
			}
			if sol != nil {
				t.Error("校验失败时不应返回方案")
			}
			if !errors.Is(err, errors.CodeValidationFail) {
				t.Errorf("错误码 = %s, 期望 %s", errors.GetCode(err), errors.CodeValidationFail)
			}
		})
	}
}

func TestSolveQuantitiesFeasible(t *testing.T) {
	s := New()
	constraints := []*constraint.Constraint{
		capacity("cap-M1", "M1", 1000),
		capacity("cap-M2", "M2", 1000),
		demand("dem-P1", "P1", 1500),
	}
	vars := []Variable{qtyVar("P1", "M1", 1500), qtyVar("P1", "M2", 1500)}

	for _, st := range allStrategies {
		t.Run(string(st), func(t *testing.T) {
			sol, err := s.SolveConstraints(context.Background(), constraints, vars, st, testConfig())
			if err != nil {
				t.Fatalf("求解失败: %v", err)
			}
			if !sol.IsFeasible() {
				t.Fatalf("应可行, 硬违反 = %+v", sol.HardViolations)
			}
			if sol.FeasibilityScore != 100 {
				t.Errorf("FeasibilityScore = %v, 期望 100", sol.FeasibilityScore)
			}
			total := sol.Quantities["M1"]["P1"] + sol.Quantities["M2"]["P1"]
			if math.Abs(total-1500) > 1e-6 {
				t.Errorf("总量 = %v, 期望 1500", total)
			}
			for _, m := range []string{"M1", "M2"} {
				if q := sol.Quantities[m]["P1"]; q > 1000+1e-6 {
					t.Errorf("%s 数量 %v 超过产能", m, q)
				}
			}
			if !sol.Validation.IsValid || !sol.Validation.IsFeasible {
				t.Errorf("校验结果 = %+v", sol.Validation)
			}
		})
	}
}

func TestSolveInfeasibleReturnsData(t *testing.T) {
	s := New()
	constraints := []*constraint.Constraint{
		capacity("cap-M1", "M1", 1000),
		capacity("cap-M2", "M2", 1000),
		demand("dem-P1", "P1", 3000),
	}
	vars := []Variable{qtyVar("P1", "M1", 3000), qtyVar("P1", "M2", 3000)}

	for _, st := range allStrategies {
		t.Run(string(st), func(t *testing.T) {
			sol, err := s.SolveConstraints(context.Background(), constraints, vars, st, testConfig())
			if err != nil {
				t.Fatalf("不可行不应返回错误: %v", err)
			}
			if sol.IsFeasible() || sol.Validation.IsFeasible {
				t.Error("需求超过总产能时应不可行")
			}
			if sol.FeasibilityScore >= 100 {
				t.Errorf("FeasibilityScore = %v, 应小于100", sol.FeasibilityScore)
			}
			if len(sol.ConstraintViolations) == 0 {
				t.Error("应记录约束违反度")
			}
			if len(sol.Validation.Recommendations) == 0 {
				t.Error("应给出调整建议")
			}
		})
	}
}

func TestSolveStartTimes(t *testing.T) {
	s := New()
	tw := &constraint.Constraint{
		ID: "tw-P1", Type: constraint.TypeTimeWindow, IsHard: true,
		Scope: constraint.Scope{Machines: []string{"M1"}, Plans: []string{"P1"}, Window: window(8, 16)},
	}
	maintenance := &constraint.Constraint{
		ID: "mw-M1", Type: constraint.TypeMaintenanceWindow, IsHard: true,
		Params: constraint.Params{Windows: []model.TimeWindow{*window(8, 10)}},
		Scope:  constraint.Scope{Machines: []string{"M1"}},
	}

	tests := []struct {
		name        string
		constraints []*constraint.Constraint
		want        float64
	}{
		{"时间窗口内最早开工", []*constraint.Constraint{tw}, 8},
		{"避开维护窗口", []*constraint.Constraint{tw, maintenance}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := []Variable{startVar("P1", "M1", 20, 4)}
			sol, err := s.SolveConstraints(context.Background(), tt.constraints, vars, StrategyExact, testConfig())
			if err != nil {
				t.Fatalf("求解失败: %v", err)
			}
			if got := sol.Values["start:P1:M1"]; math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("开工时间 = %v, 期望 %v", got, tt.want)
			}
			if !sol.IsFeasible() {
				t.Errorf("应可行, 硬违反 = %+v", sol.HardViolations)
			}
			w := sol.Windows["M1"]["P1"]
			if !w.Start.Equal(hour(tt.want)) || !w.End.Equal(hour(tt.want+4)) {
				t.Errorf("窗口 = %v - %v", w.Start, w.End)
			}
		})
	}

	t.Run("启发式可行", func(t *testing.T) {
		vars := []Variable{startVar("P1", "M1", 20, 4)}
		sol, err := s.SolveConstraints(context.Background(), []*constraint.Constraint{tw, maintenance}, vars, StrategyHeuristic, testConfig())
		if err != nil {
			t.Fatalf("求解失败: %v", err)
		}
		if !sol.IsFeasible() {
			t.Errorf("应可行, 开工 = %v", sol.Values["start:P1:M1"])
		}
	})
}

func TestSolvePhases(t *testing.T) {
	s := New()
	sol, err := s.SolveConstraints(context.Background(),
		[]*constraint.Constraint{capacity("c1", "M1", 100)},
		[]Variable{qtyVar("P1", "M1", 50)}, "", testConfig())
	if err != nil {
		t.Fatalf("求解失败: %v", err)
	}
	want := []Phase{PhaseInputValidated, PhaseSolving, PhaseSolutionProduced, PhaseValidated}
	if !reflect.DeepEqual(sol.Phases, want) {
		t.Errorf("Phases = %v, 期望 %v", sol.Phases, want)
	}
	if sol.Phase != PhaseValidated {
		t.Errorf("Phase = %s", sol.Phase)
	}
	if sol.Strategy != StrategyHybrid {
		t.Errorf("默认策略 = %s, 期望 HYBRID", sol.Strategy)
	}
	if sol.SolutionID == "" {
		t.Error("SolutionID 不应为空")
	}
}

func TestValidateSolutionIdempotent(t *testing.T) {
	s := New()
	constraints := []*constraint.Constraint{
		capacity("cap-M1", "M1", 1000),
		demand("dem-P1", "P1", 1500),
	}
	sol, err := s.SolveConstraints(context.Background(), constraints,
		[]Variable{qtyVar("P1", "M1", 1500)}, StrategyExact, testConfig())
	if err != nil {
		t.Fatalf("求解失败: %v", err)
	}
	first := ValidateSolution(sol, constraints)
	second := ValidateSolution(sol, constraints)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("两次校验结果不同:\n%+v\n%+v", first, second)
	}
	if first.IsFeasible {
		t.Error("超产方案不应可行")
	}
	if len(first.HardViolations) == 0 {
		t.Error("应报告硬约束违反")
	}
	if !first.IsValid {
		t.Errorf("结构应合法: %v", first.Problems)
	}
}

func TestValidateSolutionMalformed(t *testing.T) {
	sol := &Solution{
		Quantities: map[string]map[string]float64{"M1": {"P1": -5}},
		Windows:    map[string]map[string]model.TimeWindow{"M1": {"P1": {Start: hour(10), End: hour(8)}}},
	}
	report := ValidateSolution(sol, []*constraint.Constraint{capacity("c1", "M1", 100)})
	if report.IsValid {
		t.Error("负数量与倒置窗口应判为不合法")
	}
	if len(report.Problems) != 2 {
		t.Errorf("Problems = %v, 期望 2 项", report.Problems)
	}
	if ValidateSolution(nil, nil).IsValid {
		t.Error("空方案应不合法")
	}
}

func TestAnalyzeConstraintConflicts(t *testing.T) {
	twA := &constraint.Constraint{
		ID: "tw-a", Type: constraint.TypeTimeWindow, IsHard: true,
		Scope: constraint.Scope{Machines: []string{"M1"}, Window: window(8, 16)},
	}
	twB := &constraint.Constraint{
		ID: "tw-b", Type: constraint.TypeTimeWindow, IsHard: true,
		Scope: constraint.Scope{Machines: []string{"M1"}, Window: window(14, 20)},
	}

	t.Run("重叠的硬时间窗口", func(t *testing.T) {
		out := AnalyzeConstraintConflicts([]*constraint.Constraint{twA, twB})
		if !out.HasConflicts {
			t.Fatal("应检测到冲突")
		}
		if len(out.ConflictGroups) != 1 {
			t.Fatalf("冲突组 = %d, 期望 1", len(out.ConflictGroups))
		}
		if got := out.ConflictGroups[0].ConstraintIDs; !reflect.DeepEqual(got, []string{"tw-a", "tw-b"}) {
			t.Errorf("ConstraintIDs = %v", got)
		}
		if !reflect.DeepEqual(out.IrreconcilableConstraints, []string{"tw-a", "tw-b"}) {
			t.Errorf("IrreconcilableConstraints = %v", out.IrreconcilableConstraints)
		}
		if out.ConflictSeverity != SeverityMedium {
			t.Errorf("ConflictSeverity = %s, 期望 medium", out.ConflictSeverity)
		}
		if len(out.SuggestedResolutions) == 0 {
			t.Error("应给出解决建议")
		}
	})

	t.Run("一条降级为软约束", func(t *testing.T) {
		soft := *twB
		soft.IsHard = false
		if out := AnalyzeConstraintConflicts([]*constraint.Constraint{twA, &soft}); out.HasConflicts {
			t.Errorf("软约束不应构成冲突: %+v", out.ConflictGroups)
		}
	})

	t.Run("不同机台", func(t *testing.T) {
		other := *twB
		other.Scope.Machines = []string{"M2"}
		if out := AnalyzeConstraintConflicts([]*constraint.Constraint{twA, &other}); out.HasConflicts {
			t.Error("不同机台不应冲突")
		}
	})

	t.Run("维护窗口覆盖时间窗口", func(t *testing.T) {
		mw := &constraint.Constraint{
			ID: "mw", Type: constraint.TypeMaintenanceWindow, IsHard: true,
			Params: constraint.Params{Windows: []model.TimeWindow{*window(6, 18)}},
			Scope:  constraint.Scope{Machines: []string{"M1"}},
		}
		out := AnalyzeConstraintConflicts([]*constraint.Constraint{twA, mw})
		if !out.HasConflicts || out.ConflictSeverity != SeverityHigh {
			t.Errorf("期望高严重度冲突, 得到 %+v", out)
		}
	})

	t.Run("传递合并为一组", func(t *testing.T) {
		twC := &constraint.Constraint{
			ID: "tw-c", Type: constraint.TypeTimeWindow, IsHard: true,
			Scope: constraint.Scope{Machines: []string{"M1"}, Window: window(22, 23)},
		}
		out := AnalyzeConstraintConflicts([]*constraint.Constraint{twC, twB, twA})
		if len(out.ConflictGroups) != 1 || len(out.ConflictGroups[0].ConstraintIDs) != 3 {
			t.Errorf("冲突组 = %+v", out.ConflictGroups)
		}
		if out.ConflictSeverity != SeverityHigh {
			t.Errorf("不重叠窗口应为高严重度, 得到 %s", out.ConflictSeverity)
		}
	})

	t.Run("缺少窗口的时间窗口约束", func(t *testing.T) {
		noWin1 := &constraint.Constraint{ID: "tw-x", Type: constraint.TypeTimeWindow, IsHard: true}
		noWin2 := &constraint.Constraint{ID: "tw-y", Type: constraint.TypeTimeWindow, IsHard: true}
		out := AnalyzeConstraintConflicts([]*constraint.Constraint{noWin1, noWin2, twA})
		if out.HasConflicts {
			t.Errorf("不合法约束不应参与冲突分析: %+v", out.ConflictGroups)
		}
		if len(out.MalformedConstraints) != 2 {
			t.Fatalf("MalformedConstraints = %+v, 期望 2 项", out.MalformedConstraints)
		}
		for _, m := range out.MalformedConstraints {
			if m.Reason == "" {
				t.Errorf("%s 缺少原因", m.ConstraintID)
			}
		}
	})

	t.Run("无冲突", func(t *testing.T) {
		out := AnalyzeConstraintConflicts([]*constraint.Constraint{twA, capacity("c1", "M1", 10)})
		if out.HasConflicts || out.ConflictSeverity != SeverityNone {
			t.Errorf("不应有冲突: %+v", out)
		}
	})
}

func TestBetterTieBreak(t *testing.T) {
	now := time.Now()
	base := func() *candidate {
		return &candidate{
			objective:  10,
			hard:       1,
			feasible:   90,
			result:     &constraint.Result{TotalPenalty: 10},
			generation: now,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *candidate)
	}{
		{"目标值更小", func(c *candidate) { c.objective = 5 }},
		{"硬违反更少", func(c *candidate) { c.hard = 0 }},
		{"可行性更高", func(c *candidate) { c.feasible = 95 }},
		{"总惩罚更低", func(c *candidate) { c.result = &constraint.Result{TotalPenalty: 5} }},
		{"生成更早", func(c *candidate) { c.generation = now.Add(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base(), base()
			tt.mutate(a)
			if !better(a, b) {
				t.Error("a 应优于 b")
			}
			if better(b, a) {
				t.Error("b 不应优于 a")
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"heuristic", StrategyHeuristic, false},
		{"EXACT", StrategyExact, false},
		{" Hybrid ", StrategyHybrid, false},
		{"", StrategyHybrid, false},
		{"genetic", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %s, 期望 %s", tt.in, got, tt.want)
		}
	}
}

func TestOptimizeWithConstraints(t *testing.T) {
	s := New()
	plans := []model.PlanItem{{
		PlanID:         "P1",
		ArticleNr:      "A1",
		TargetQuantity: 1500,
		MakerCodes:     []string{"M1", "M2"},
		PlannedStart:   hour(8),
		PlannedEnd:     hour(24),
		Priority:       model.PriorityHigh,
	}}
	machines := []MachineConfig{
		{Code: "M1", Capacity: 1000, RatePerHour: 100, Efficiency: 1},
		{Code: "M2", Capacity: 1000, RatePerHour: 100, Efficiency: 1},
	}
	days := calendar.BuildMonth(2024, time.January, calendar.MonthOptions{})
	prefs := Preferences{HardTimeWindows: true, Strategy: StrategyExact, Config: testConfig()}

	sol, err := s.OptimizeWithConstraints(context.Background(), plans, machines, days, map[string]float64{ObjectiveEarlyStart: 2}, prefs)
	if err != nil {
		t.Fatalf("求解失败: %v", err)
	}
	if !sol.IsFeasible() {
		t.Fatalf("应可行, 硬违反 = %+v", sol.HardViolations)
	}
	total := sol.Quantities["M1"]["P1"] + sol.Quantities["M2"]["P1"]
	if math.Abs(total-1500) > 1e-6 {
		t.Errorf("总量 = %v, 期望 1500", total)
	}
	for _, m := range []string{"M1", "M2"} {
		w, ok := sol.Windows[m]["P1"]
		if !ok {
			t.Fatalf("%s 缺少开工窗口", m)
		}
		if w.Start.Before(hour(8)) || w.End.After(hour(24)) {
			t.Errorf("%s 窗口 %v - %v 超出计划窗口", m, w.Start, w.End)
		}
	}

	t.Run("未知目标", func(t *testing.T) {
		_, err := s.OptimizeWithConstraints(context.Background(), plans, machines, days, map[string]float64{"makespan": 1}, prefs)
		if !errors.IsValidation(err) {
			t.Errorf("期望校验错误, 得到 %v", err)
		}
	})

	t.Run("无机台", func(t *testing.T) {
		_, err := s.OptimizeWithConstraints(context.Background(), plans, nil, days, nil, prefs)
		if !errors.IsValidation(err) {
			t.Errorf("期望校验错误, 得到 %v", err)
		}
	})
}

func TestBuildProblem(t *testing.T) {
	plans := []model.PlanItem{{PlanID: "P1", ArticleNr: "A1", TargetQuantity: 800, MakerCodes: []string{"M2", "M9"}}}
	machines := []MachineConfig{
		{Code: "M1", Capacity: 1000, RatePerHour: 100, Efficiency: 0.8},
		{Code: "M2", Capacity: 1000, RatePerHour: 100, Efficiency: 0.8,
			MaintenanceWindows: []model.TimeWindow{*window(0, 4)}},
	}
	days := calendar.BuildMonth(2024, time.January, calendar.MonthOptions{})
	cs, vars, err := BuildProblem(plans, machines, days, Preferences{MinEfficiency: 0.9})
	if err != nil {
		t.Fatalf("BuildProblem 失败: %v", err)
	}
	ids := make(map[string]constraint.Type)
	for _, c := range cs {
		ids[c.ID] = c.Type
	}
	want := map[string]constraint.Type{
		"capacity:M1":    constraint.TypeMachineCapacity,
		"capacity:M2":    constraint.TypeMachineCapacity,
		"maintenance:M2": constraint.TypeMaintenanceWindow,
		"calendar":       constraint.TypeWorkCalendar,
		"quality":        constraint.TypeQualityStandard,
		"demand:P1":      constraint.TypePlanDemand,
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("约束 = %v", ids)
	}
	if len(vars) != 2 {
		t.Fatalf("变量数 = %d, 期望 2 (仅 M2)", len(vars))
	}
	for _, v := range vars {
		if v.Machine != "M2" {
			t.Errorf("变量 %s 机台 = %s", v.ID, v.Machine)
		}
		if v.Kind == KindStartTime && v.DurationHours != 10 {
			t.Errorf("时长 = %v, 期望 10", v.DurationHours)
		}
	}
}
