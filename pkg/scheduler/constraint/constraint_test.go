package constraint

import (
	"math"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/model"
)

func hour(h int) time.Time {
	return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour)
}

func window(from, to int) model.TimeWindow {
	return model.TimeWindow{Start: hour(from), End: hour(to)}
}

func TestEvaluateViolation(t *testing.T) {
	w := window(8, 16)

	tests := []struct {
		name       string
		constraint Constraint
		state      func() *State
		want       float64
	}{
		{
			name:       "产能超出25%",
			constraint: Constraint{ID: "c1", Type: TypeMachineCapacity, IsHard: true, Params: Params{MaxCapacity: 80000}},
			state: func() *State {
				s := NewState()
				s.SetQuantity("M1", "P1", 100000)
				return s
			},
			want: 0.25,
		},
		{
			name:       "产能未超出",
			constraint: Constraint{ID: "c1", Type: TypeMachineCapacity, IsHard: true, Params: Params{MaxCapacity: 80000}},
			state: func() *State {
				s := NewState()
				s.SetQuantity("M1", "P1", 50000)
				return s
			},
			want: 0,
		},
		{
			name:       "时间窗口内",
			constraint: Constraint{ID: "c2", Type: TypeTimeWindow, IsHard: true, Scope: Scope{Window: &w}},
			state: func() *State {
				s := NewState()
				s.SetWindow("M1", "P1", window(9, 12))
				return s
			},
			want: 0,
		},
		{
			name:       "超出时间窗口2小时",
			constraint: Constraint{ID: "c2", Type: TypeTimeWindow, IsHard: true, Scope: Scope{Window: &w}},
			state: func() *State {
				s := NewState()
				s.SetWindow("M1", "P1", window(14, 18))
				return s
			},
			want: 0.25,
		},
		{
			name: "维护窗口重叠一半",
			constraint: Constraint{
				ID: "c3", Type: TypeMaintenanceWindow, IsHard: true,
				Scope:  Scope{Machines: []string{"M1"}},
				Params: Params{Windows: []model.TimeWindow{window(10, 12)}},
			},
			state: func() *State {
				s := NewState()
				s.SetWindow("M1", "P1", window(8, 12))
				s.SetWindow("M2", "P1", window(8, 12))
				return s
			},
			want: 0.5,
		},
		{
			name: "工作日历外",
			constraint: Constraint{
				ID: "c4", Type: TypeWorkCalendar,
				Params: Params{Windows: []model.TimeWindow{window(8, 24)}},
			},
			state: func() *State {
				s := NewState()
				s.SetWindow("M1", "P1", window(20, 28))
				return s
			},
			want: 0.5,
		},
		{
			name: "效率低于标准",
			constraint: Constraint{
				ID: "c5", Type: TypeQualityStandard,
				Params: Params{MinEfficiency: 0.8, Efficiency: map[string]float64{"M1": 0.6}},
			},
			state: func() *State {
				s := NewState()
				s.SetQuantity("M1", "P1", 10)
				return s
			},
			want: 0.25,
		},
		{
			name: "需求未满足",
			constraint: Constraint{
				ID: "c6", Type: TypePlanDemand, IsHard: true,
				Scope:  Scope{Plans: []string{"P1"}},
				Params: Params{Demand: 3000},
			},
			state: func() *State {
				s := NewState()
				s.SetQuantity("M1", "P1", 1000)
				s.SetQuantity("M2", "P1", 1250)
				return s
			},
			want: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.constraint.EvaluateViolation(tt.state())
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EvaluateViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConstraint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       Constraint
		wantErr bool
	}{
		{"缺少ID", Constraint{Type: TypeMachineCapacity}, true},
		{"负惩罚", Constraint{ID: "c", Type: TypeMachineCapacity, ViolationPenalty: -1}, true},
		{"时间窗口缺失", Constraint{ID: "c", Type: TypeTimeWindow}, true},
		{"未知类型", Constraint{ID: "c", Type: Type("SOMETHING")}, true},
		{"正常产能约束", Constraint{ID: "c", Type: TypeMachineCapacity, Params: Params{MaxCapacity: 10}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_RegisterOrdering(t *testing.T) {
	manager := NewManager()
	manager.Register(&Constraint{ID: "soft", Type: TypeQualityStandard})
	manager.Register(&Constraint{ID: "hard-low", Type: TypeMachineCapacity, IsHard: true, Priority: 1})
	manager.Register(&Constraint{ID: "hard-high", Type: TypeMachineCapacity, IsHard: true, Priority: 5})

	all := manager.GetAll()
	if all[0].ID != "hard-high" || all[1].ID != "hard-low" || all[2].ID != "soft" {
		t.Errorf("排序错误: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	manager.Register(&Constraint{ID: "soft", Type: TypeQualityStandard, Priority: 9})
	if manager.Count() != 3 {
		t.Errorf("同ID应替换, Count = %d", manager.Count())
	}

	manager.Unregister("soft")
	if len(manager.GetByCategory(CategorySoft)) != 0 {
		t.Error("注销后不应有软约束")
	}
}

func TestManager_Evaluate(t *testing.T) {
	manager := NewManagerWith([]*Constraint{
		{ID: "cap", Type: TypeMachineCapacity, IsHard: true, Params: Params{MaxCapacity: 80000}},
		{ID: "quality", Type: TypeQualityStandard, Params: Params{MinEfficiency: 0.8, Efficiency: map[string]float64{"M1": 0.6}}},
	}, 1000, 10)

	s := NewState()
	s.SetQuantity("M1", "P1", 100000)

	result := manager.Evaluate(s)
	if result.IsValid {
		t.Error("存在硬约束违反时不应有效")
	}
	if len(result.HardViolations) != 1 || len(result.SoftViolations) != 1 {
		t.Fatalf("违反 = %d/%d, want 1/1", len(result.HardViolations), len(result.SoftViolations))
	}
	wantPenalty := 0.25*1000 + 0.25*10
	if math.Abs(result.TotalPenalty-wantPenalty) > 1e-9 {
		t.Errorf("TotalPenalty = %v, want %v", result.TotalPenalty, wantPenalty)
	}
	if result.Score <= 0 || result.Score >= 100 {
		t.Errorf("Score = %v, want (0,100)", result.Score)
	}

	again := manager.Evaluate(s)
	if again.IsValid != result.IsValid || again.TotalPenalty != result.TotalPenalty {
		t.Error("重复评估结果应一致")
	}
}
