package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
)

const linePath = "../../internal/scenario/testdata/line.yaml"

func setupLine(t *testing.T) (*planning.Service, *scenario.Scenario) {
	t.Helper()
	color.NoColor = true
	sc, err := scenario.Load(linePath)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	return planning.NewService(nil), sc
}

func TestRunSchedule(t *testing.T) {
	svc, sc := setupLine(t)
	out := filepath.Join(t.TempDir(), "timeline.json")

	var buf bytes.Buffer
	if err := runSchedule(context.Background(), svc, sc, planning.TimelineOptions{}, out, &buf, false); err != nil {
		t.Fatalf("runSchedule err: %v", err)
	}
	text := buf.String()
	for _, want := range []string{"一号线一月计划", "模式 STANDARD", "任务", "指标", "M1"} {
		if !strings.Contains(text, want) {
			t.Errorf("输出缺少 %q:\n%s", want, text)
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("读取输出文件失败: %v", err)
	}
	var plan struct {
		Timeline struct {
			ScheduledTasks []json.RawMessage `json:"scheduled_tasks"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("解析输出文件失败: %v", err)
	}
	if len(plan.Timeline.ScheduledTasks) == 0 {
		t.Error("输出文件缺少任务")
	}
}

func TestRunScheduleJSON(t *testing.T) {
	svc, sc := setupLine(t)
	var buf bytes.Buffer
	if err := runSchedule(context.Background(), svc, sc, planning.TimelineOptions{Mode: "FAST"}, "", &buf, true); err != nil {
		t.Fatalf("runSchedule err: %v", err)
	}
	var plan planning.Plan
	if err := json.Unmarshal(buf.Bytes(), &plan); err != nil {
		t.Fatalf("解析 JSON 失败: %v", err)
	}
	if plan.Timeline == nil || string(plan.Timeline.Mode) != "FAST" {
		t.Errorf("时间线 = %+v", plan.Timeline)
	}
}

func TestRunAnalyze(t *testing.T) {
	svc, sc := setupLine(t)
	prefs := solver.Preferences{HardTimeWindows: true, HardCalendar: true, Strategy: solver.StrategyHeuristic}

	var buf bytes.Buffer
	if err := runAnalyze(context.Background(), svc, sc, prefs, true, &buf, false); err != nil {
		t.Fatalf("runAnalyze err: %v", err)
	}
	text := buf.String()
	for _, want := range []string{"约束", "机台产能", "计划需求", "冲突分析", "求解", "HEURISTIC"} {
		if !strings.Contains(text, want) {
			t.Errorf("输出缺少 %q:\n%s", want, text)
		}
	}

	buf.Reset()
	if err := runAnalyze(context.Background(), svc, sc, prefs, false, &buf, true); err != nil {
		t.Fatalf("runAnalyze err: %v", err)
	}
	var out analyzeOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("解析 JSON 失败: %v", err)
	}
	if len(out.Constraints) == 0 || out.Analysis == nil || out.Solution != nil {
		t.Errorf("输出 = %+v", out)
	}
}

func TestRunCapacity(t *testing.T) {
	svc, sc := setupLine(t)
	var buf bytes.Buffer
	if err := runCapacity(context.Background(), svc, sc, &buf, true); err != nil {
		t.Fatalf("runCapacity err: %v", err)
	}
	var out capacityOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("解析 JSON 失败: %v", err)
	}
	if len(out.Machines) != 4 {
		t.Fatalf("机台数 = %d, want 4", len(out.Machines))
	}
	for _, m := range out.Machines {
		if m.WorkingDays == 0 || m.EffectiveHours <= 0 {
			t.Errorf("%s 产能 = %+v", m.MachineID, m)
		}
		if m.MachineID == "M2" && m.MaintenanceHours != 8 {
			t.Errorf("M2 维护小时 = %v, want 8", m.MaintenanceHours)
		}
	}

	buf.Reset()
	if err := runCapacity(context.Background(), svc, sc, &buf, false); err != nil {
		t.Fatalf("runCapacity err: %v", err)
	}
	if !strings.Contains(buf.String(), "月度产能") || !strings.Contains(buf.String(), "平均负载") {
		t.Errorf("输出:\n%s", buf.String())
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"缺少场景文件", []string{"schedule"}},
		{"场景文件不存在", []string{"capacity", "missing.yaml", "--no-color"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&bytes.Buffer{})
			rootCmd.SetErr(&bytes.Buffer{})
			if err := rootCmd.Execute(); err == nil {
				t.Error("应返回错误")
			}
		})
	}
}
