package stats

import (
	"math"
	"testing"
	"time"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name        string
		values      []float64
		wantMean    float64
		wantBalance float64
	}{
		{"空集合", nil, 0, 100},
		{"完全均衡", []float64{50, 50, 50}, 50, 100},
		{"一半空闲", []float64{100, 0}, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Analyze(tt.values)
			if math.Abs(m.Mean-tt.wantMean) > 1e-9 {
				t.Errorf("Mean = %v, want %v", m.Mean, tt.wantMean)
			}
			if math.Abs(m.BalanceScore-tt.wantBalance) > 1e-9 {
				t.Errorf("BalanceScore = %v, want %v", m.BalanceScore, tt.wantBalance)
			}
		})
	}
}

func TestGini(t *testing.T) {
	if g := Gini([]float64{10, 10, 10, 10}); g != 0 {
		t.Errorf("均衡分布基尼系数应为0, got %v", g)
	}
	if g := Gini([]float64{0, 0, 0, 100}); g < 0.7 {
		t.Errorf("集中分布基尼系数应接近1, got %v", g)
	}
}

func TestAnalyzeLoads_OrderIndependent(t *testing.T) {
	a := AnalyzeLoads(map[string]float64{"M1": 10, "M2": 40, "M3": 70})
	b := AnalyzeLoads(map[string]float64{"M3": 70, "M1": 10, "M2": 40})
	if a != b {
		t.Errorf("结果不应依赖遍历顺序: %+v vs %+v", a, b)
	}
}

func TestBusyHoursAndMakespan(t *testing.T) {
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	spans := []Span{
		{Start: base.Add(8 * time.Hour), End: base.Add(12 * time.Hour)},
		{Start: base.Add(10 * time.Hour), End: base.Add(14 * time.Hour)},
		{Start: base.Add(16 * time.Hour), End: base.Add(18 * time.Hour)},
	}

	if got := BusyHours(spans); got != 8 {
		t.Errorf("BusyHours = %v, want 8", got)
	}
	_, _, hours := Makespan(spans)
	if hours != 10 {
		t.Errorf("Makespan = %v, want 10", hours)
	}
	if got := Utilization(8, 10); got != 80 {
		t.Errorf("Utilization = %v, want 80", got)
	}
}
