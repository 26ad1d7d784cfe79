package planning

import (
	"context"
	"math"
	"testing"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
	"github.com/paiban/prodsched/pkg/timeline"
)

func loadLine(t *testing.T) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Load("../scenario/testdata/line.yaml")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	return sc
}

func TestSchedule(t *testing.T) {
	sc := loadLine(t)
	svc := NewService(nil)

	plan, err := svc.Schedule(context.Background(), sc, TimelineOptions{})
	if err != nil {
		t.Fatalf("Schedule err: %v", err)
	}
	if plan.Optimization != nil {
		t.Error("未要求优化时不应有优化结果")
	}
	res := plan.Timeline
	if res.Mode != timeline.ModeStandard {
		t.Errorf("模式 = %s, want 场景中的 STANDARD", res.Mode)
	}
	if res.GanttData == nil || len(res.WorkOrders) != len(res.ScheduledTasks) {
		t.Error("应按场景输出甘特图与工单")
	}

	loc, _ := sc.Location()
	byPlan := make(map[string]float64)
	for _, task := range res.ScheduledTasks {
		byPlan[task.PlanID] += task.AllocatedQuantity
		if task.StartTime.In(loc).Day() == 1 {
			t.Errorf("%s 在元旦开工", task.TaskID)
		}
	}
	if math.Abs(byPlan["P1"]-3000) > 1e-6 || math.Abs(byPlan["P2"]-800) > 1e-6 {
		t.Errorf("计划数量 = %v", byPlan)
	}
}

func TestScheduleWithOptimization(t *testing.T) {
	sc := loadLine(t)
	cfg := config.Default()
	cfg.Optimizer.MaxIterations = 100

	plan, err := NewService(cfg).Schedule(context.Background(), sc, TimelineOptions{
		Mode:     "fast",
		Formats:  []string{"work_orders"},
		Optimize: true,
		OptimizeOptions: OptimizeOptions{
			Strategy:   "heuristic_only",
			Objectives: map[optimizer.Objective]float64{optimizer.ObjectiveBalanceLoad: 1},
		},
	})
	if err != nil {
		t.Fatalf("Schedule err: %v", err)
	}
	if plan.Optimization == nil || plan.Optimization.BestAllocation == nil {
		t.Fatal("应返回优化结果")
	}
	if plan.Timeline.Mode != timeline.ModeFast || plan.Timeline.GanttData != nil {
		t.Errorf("模式 = %s, 甘特图 = %v", plan.Timeline.Mode, plan.Timeline.GanttData != nil)
	}
}

func TestInvalidOptions(t *testing.T) {
	sc := loadLine(t)
	svc := NewService(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"未知选机策略", func() error {
			_, _, err := svc.Pair(ctx, sc, PairingOptions{Strategy: "random"})
			return err
		}},
		{"未知优化策略", func() error {
			_, _, err := svc.Optimize(ctx, sc, OptimizeOptions{Strategy: "magic"})
			return err
		}},
		{"未知时间线模式", func() error {
			_, err := svc.Schedule(ctx, sc, TimelineOptions{Mode: "slow"})
			return err
		}},
		{"空场景", func() error {
			_, _, err := svc.Pair(ctx, nil, PairingOptions{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, errors.CodeInvalidInput) && !errors.IsValidation(err) {
				t.Errorf("err = %v, want 输入错误", err)
			}
		})
	}
}

func TestMachineConfigsAndCapacity(t *testing.T) {
	sc := loadLine(t)
	svc := NewService(nil)

	machines, err := svc.MachineConfigs(sc)
	if err != nil {
		t.Fatalf("MachineConfigs err: %v", err)
	}
	if len(machines) != 3 {
		t.Fatalf("卷包机数 = %d, want 3", len(machines))
	}
	for _, m := range machines {
		if m.Capacity <= 0 || m.RatePerHour != 90 {
			t.Errorf("%s 产能 = %v 速率 = %v", m.Code, m.Capacity, m.RatePerHour)
		}
	}
	if len(machines[1].MaintenanceWindows) != 1 {
		t.Errorf("M2 维护窗口 = %d, want 1", len(machines[1].MaintenanceWindows))
	}

	caps, err := svc.Capacity(sc)
	if err != nil {
		t.Fatalf("Capacity err: %v", err)
	}
	if len(caps) != len(sc.Machines) {
		t.Errorf("产能条目 = %d, want %d", len(caps), len(sc.Machines))
	}
}

func TestSolve(t *testing.T) {
	sc := loadLine(t)
	sol, err := NewService(nil).Solve(context.Background(), sc, nil, solver.Preferences{Strategy: solver.StrategyHeuristic})
	if err != nil {
		t.Fatalf("Solve err: %v", err)
	}
	if sol.Strategy != solver.StrategyHeuristic || len(sol.Quantities) == 0 {
		t.Errorf("solution = %+v", sol)
	}
	if _, err := NewService(nil).Solve(context.Background(), sc, map[string]float64{"unknown": 1}, solver.Preferences{}); !errors.IsValidation(err) {
		t.Errorf("未知目标 err = %v, want 校验错误", err)
	}
}
