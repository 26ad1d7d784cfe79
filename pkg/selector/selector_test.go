package selector

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

var jan2024 = Period{Year: 2024, Month: time.January}

// newLineProvider 一台喂料机 F1 对应三台卷包机 M1-M3
func newLineProvider() *calendar.MemoryProvider {
	p := calendar.NewMemoryProvider()
	p.AddMachine(model.Machine{Code: "F1", Type: model.MachineFeeder, Status: model.StatusActive, Efficiency: 1})
	for _, code := range []string{"M1", "M2", "M3"} {
		p.AddMachine(model.Machine{Code: code, Type: model.MachineMaker, Status: model.StatusActive, Efficiency: 0.9, CostPerUnit: 0.1})
		p.SetSpeed(model.MachineSpeed{MachineCode: code, ArticleNr: "A1", SpeedPerHour: 100, Efficiency: 0.9})
	}
	p.SetRelation("F1", "M1", "M2", "M3")
	return p
}

func TestCalculateMachineCapacity(t *testing.T) {
	p := newLineProvider()
	p.AddMaintenance("M1", model.TimeWindow{
		Start: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	s := New(p, DefaultConfig())

	info, err := s.CalculateMachineCapacity("M1", 2024, time.January)
	if err != nil {
		t.Fatalf("CalculateMachineCapacity err: %v", err)
	}
	if info.WorkingDays != 23 {
		t.Errorf("WorkingDays = %d, want 23", info.WorkingDays)
	}
	want := 23*16*0.9 - 2
	if math.Abs(info.EffectiveHours-want) > 1e-9 {
		t.Errorf("EffectiveHours = %v, want %v", info.EffectiveHours, want)
	}

	if _, err := s.CalculateMachineCapacity("M99", 2024, time.January); !errors.Is(err, errors.CodeNotFound) {
		t.Errorf("未知机台 err = %v, want NOT_FOUND", err)
	}
}

func TestGetAvailableMachines(t *testing.T) {
	p := newLineProvider()
	p.AddMachine(model.Machine{Code: "M4", Type: model.MachineMaker, Status: model.StatusMaintenance})
	s := New(p, DefaultConfig())

	tests := []struct {
		name   string
		filter MachineFilter
		want   int
	}{
		{"全部", MachineFilter{}, 5},
		{"卷包机", MachineFilter{Type: model.MachineMaker}, 4},
		{"可用卷包机", MachineFilter{Type: model.MachineMaker, Status: model.StatusActive}, 3},
		{"维护中", MachineFilter{Status: model.StatusMaintenance}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.GetAvailableMachines(tt.filter); len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestAllocateFeederMakerPairs_ParallelSplit(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())
	req := model.ProductionRequirement{
		RequirementID:    "R1",
		PlanID:           "P1",
		ArticleNr:        "A1",
		TargetQuantity:   3000,
		Priority:         model.PriorityNormal,
		PreferredFeeders: []string{"F1"},
		PreferredMakers:  []string{"M1", "M2", "M3"},
	}

	result, err := s.AllocateFeederMakerPairs(context.Background(), []model.ProductionRequirement{req}, jan2024)
	if err != nil {
		t.Fatalf("AllocateFeederMakerPairs err: %v", err)
	}
	if len(result.UnallocatedRequirements) != 0 {
		t.Fatalf("不应有未分配需求: %+v", result.UnallocatedRequirements)
	}
	if len(result.FeederMakerPairs) != 1 {
		t.Fatalf("组合数 = %d, want 1", len(result.FeederMakerPairs))
	}

	pair := result.FeederMakerPairs[0]
	if pair.FeederCode != "F1" || len(pair.MakerCodes) != 3 {
		t.Errorf("组合 = %s %v", pair.FeederCode, pair.MakerCodes)
	}
	if pair.Quantity() != 3000 {
		t.Errorf("数量合计 = %v, want 3000", pair.Quantity())
	}
	for _, mk := range pair.MakerCodes {
		if pair.Quantities[mk] != 1000 {
			t.Errorf("%s 数量 = %v, want 1000", mk, pair.Quantities[mk])
		}
	}
}

func TestAllocateFeederMakerPairs_Conservation(t *testing.T) {
	p := newLineProvider()
	p.SetSpeed(model.MachineSpeed{MachineCode: "M2", ArticleNr: "A1", SpeedPerHour: 70, Efficiency: 0.9})
	s := New(p, DefaultConfig())

	req := model.ProductionRequirement{
		RequirementID: "R1", PlanID: "P1", ArticleNr: "A1", TargetQuantity: 1001,
		PreferredMakers: []string{"M1", "M2", "M3"},
	}
	result, err := s.AllocateFeederMakerPairs(context.Background(), []model.ProductionRequirement{req}, jan2024)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	total := 0.0
	for _, pair := range result.PairsFor("P1") {
		total += pair.Quantity()
	}
	if total != 1001 {
		t.Errorf("数量合计 = %v, want 1001", total)
	}
}

func TestAllocateFeederMakerPairs_Strategies(t *testing.T) {
	strategies := []SelectionStrategy{
		StrategyCapacityOptimal, StrategyEfficiencyOptimal, StrategyBalanceOptimal, StrategyMaintenanceAware,
	}
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Strategy = strategy
			s := New(newLineProvider(), cfg)

			reqs := []model.ProductionRequirement{
				{RequirementID: "R1", PlanID: "P1", ArticleNr: "A1", TargetQuantity: 500, Priority: model.PriorityHigh},
				{RequirementID: "R2", PlanID: "P2", ArticleNr: "A1", TargetQuantity: 800, Priority: model.PriorityLow},
			}
			result, err := s.AllocateFeederMakerPairs(context.Background(), reqs, jan2024)
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			for _, r := range reqs {
				pairs := result.PairsFor(r.PlanID)
				if len(pairs) == 0 {
					t.Fatalf("计划 %s 未分配", r.PlanID)
				}
				if got := pairs[0].Quantity(); got != r.TargetQuantity {
					t.Errorf("%s 数量 = %v, want %v", r.PlanID, got, r.TargetQuantity)
				}
			}
		})
	}
}

func TestAllocateFeederMakerPairs_Unallocated(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())
	reqs := []model.ProductionRequirement{
		{RequirementID: "R1", PlanID: "P1", ArticleNr: "A1", TargetQuantity: 1e9},
		{RequirementID: "R2", PlanID: "P2", ArticleNr: "UNKNOWN", TargetQuantity: 100},
	}

	result, err := s.AllocateFeederMakerPairs(context.Background(), reqs, jan2024)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(result.UnallocatedRequirements) != 2 {
		t.Errorf("未分配 = %d, want 2", len(result.UnallocatedRequirements))
	}
	if len(result.OptimizationSuggestions) == 0 {
		t.Error("应给出优化建议")
	}
}

func TestAllocateFeederMakerPairs_Validation(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())

	if _, err := s.AllocateFeederMakerPairs(context.Background(), nil, jan2024); !errors.IsValidation(err) {
		t.Errorf("空需求 err = %v, want 校验错误", err)
	}
	bad := []model.ProductionRequirement{{RequirementID: "R1", PlanID: "P1", ArticleNr: "A1", TargetQuantity: -1}}
	if _, err := s.AllocateFeederMakerPairs(context.Background(), bad, jan2024); !errors.IsValidation(err) {
		t.Errorf("负数量 err = %v, want 校验错误", err)
	}
}

func TestSelectorCache(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())

	for i := 0; i < 5; i++ {
		if _, err := s.CalculateMachineCapacity("M1", 2024, time.January); err != nil {
			t.Fatal(err)
		}
	}
	st := s.CacheStats()
	if st.Hits < 4 {
		t.Errorf("Hits = %d, want >= 4", st.Hits)
	}
	if st.HitRate <= 0 || st.HitRate > 1 {
		t.Errorf("HitRate = %v", st.HitRate)
	}

	s.ClearCache()
	st = s.CacheStats()
	if st.Entries != 0 || st.Generation != 1 {
		t.Errorf("清除后 Entries=%d Generation=%d", st.Entries, st.Generation)
	}

	// 清除后回源仍返回正确结果
	info, err := s.CalculateMachineCapacity("M1", 2024, time.January)
	if err != nil || info.EffectiveHours <= 0 {
		t.Errorf("清除后回源失败: %v", err)
	}
}

func TestSelectorCache_ConcurrentMisses(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CalculateMachineCapacity("M2", 2024, time.January); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if st := s.CacheStats(); st.Hits+st.Misses < 20 {
		t.Errorf("访问次数 = %d, want >= 20", st.Hits+st.Misses)
	}
}

func TestCheckMachineConstraints(t *testing.T) {
	p := newLineProvider()
	p.AddMaintenance("M1", model.TimeWindow{
		Start: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	s := New(p, DefaultConfig())
	window := model.TimeWindow{
		Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC),
	}

	t.Run("全部满足但有维护告警", func(t *testing.T) {
		report, err := s.CheckMachineConstraints("M1", "A1", 300, window)
		if err != nil {
			t.Fatal(err)
		}
		if !report.OverallSatisfaction {
			t.Errorf("应满足, violations = %+v", report.Violations)
		}
		if len(report.Warnings) == 0 {
			t.Error("应有维护告警")
		}
		if report.SatisfactionRate != 1 {
			t.Errorf("SatisfactionRate = %v, want 1", report.SatisfactionRate)
		}
	})

	t.Run("产能不足", func(t *testing.T) {
		report, err := s.CheckMachineConstraints("M1", "A1", 5000, window, CheckCapacity)
		if err != nil {
			t.Fatal(err)
		}
		if report.OverallSatisfaction || report.SatisfactionRate != 0 {
			t.Errorf("应违反产能约束: %+v", report)
		}
	})

	t.Run("产品不兼容", func(t *testing.T) {
		report, err := s.CheckMachineConstraints("M1", "B9", 10, window, CheckCompatibility, CheckAvailability)
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 1 || report.Violations[0].Check != CheckCompatibility {
			t.Errorf("violations = %+v", report.Violations)
		}
		if report.SatisfactionRate != 0.5 {
			t.Errorf("SatisfactionRate = %v, want 0.5", report.SatisfactionRate)
		}
	})

	t.Run("未知机台", func(t *testing.T) {
		if _, err := s.CheckMachineConstraints("X", "A1", 10, window); !errors.Is(err, errors.CodeNotFound) {
			t.Errorf("err = %v, want NOT_FOUND", err)
		}
	})
}

func TestResourcesFor(t *testing.T) {
	s := New(newLineProvider(), DefaultConfig())
	req := model.ProductionRequirement{
		RequirementID: "R1", PlanID: "P1", ArticleNr: "A1", TargetQuantity: 3000,
		PreferredMakers: []string{"M1", "M2", "M3"},
	}
	pairing, err := s.AllocateFeederMakerPairs(context.Background(), []model.ProductionRequirement{req}, jan2024)
	if err != nil {
		t.Fatal(err)
	}

	resources, candidates, err := s.ResourcesFor(pairing)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 3 || len(candidates["P1"]) != 3 {
		t.Fatalf("resources=%d candidates=%v", len(resources), candidates["P1"])
	}
	for _, r := range resources {
		if err := r.Validate(); err != nil {
			t.Errorf("资源 %s 校验失败: %v", r.ResourceID, err)
		}
		if r.AvailableCapacity <= 0 {
			t.Errorf("资源 %s 产能应为正", r.ResourceID)
		}
	}
}
