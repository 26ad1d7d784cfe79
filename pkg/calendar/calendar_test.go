package calendar

import (
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

func TestBuildMonth(t *testing.T) {
	days := BuildMonth(2024, time.January, MonthOptions{
		Holidays:        []time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		MaintenanceDays: []time.Time{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
	})

	if len(days) != 31 {
		t.Fatalf("天数 = %d, want 31", len(days))
	}

	counts := map[model.DayType]int{}
	for _, d := range days {
		counts[d.DayType]++
	}
	// 2024年1月: 23个工作日，其中1日假期、10日维护
	if counts[model.DayWorkday] != 21 {
		t.Errorf("工作日 = %d, want 21", counts[model.DayWorkday])
	}
	if counts[model.DayWeekend] != 8 {
		t.Errorf("周末 = %d, want 8", counts[model.DayWeekend])
	}
	if counts[model.DayHoliday] != 1 || counts[model.DayMaintenance] != 1 {
		t.Errorf("假期/维护 = %d/%d", counts[model.DayHoliday], counts[model.DayMaintenance])
	}

	d := days[1] // 1月2日 周二
	if !d.IsWorking || d.TotalHours != 16 || d.CapacityFactor != 1 {
		t.Errorf("工作日配置错误: %+v", d)
	}
}

func TestWorkingWindows_MergesAdjacentShifts(t *testing.T) {
	days := BuildMonth(2024, time.January, MonthOptions{})
	windows := WorkingWindows(days[1:2])

	if len(windows) != 1 {
		t.Fatalf("窗口数 = %d, want 1", len(windows))
	}
	if windows[0].DurationHours() != 16 {
		t.Errorf("窗口时长 = %v, want 16", windows[0].DurationHours())
	}
}

func TestSubtractWindows(t *testing.T) {
	base := []model.TimeWindow{{
		Start: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 24, 0, 0, 0, time.UTC),
	}}
	holes := []model.TimeWindow{{
		Start: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
	}}

	got := SubtractWindows(base, holes)
	if len(got) != 2 {
		t.Fatalf("窗口数 = %d, want 2", len(got))
	}
	if got[0].DurationHours() != 4 || got[1].DurationHours() != 10 {
		t.Errorf("切分结果 = %v", got)
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	p.AddMachine(model.Machine{Code: "F1", Type: model.MachineFeeder, Status: model.StatusActive})
	p.AddMachine(model.Machine{Code: "M1", Type: model.MachineMaker, Status: model.StatusActive})
	p.SetRelation("F1", "M1")
	p.SetSpeed(model.MachineSpeed{MachineCode: "M1", ArticleNr: "A1", SpeedPerHour: 100, Efficiency: 0.9})

	t.Run("未知机台", func(t *testing.T) {
		if _, err := p.Machine("M99"); !errors.Is(err, errors.CodeNotFound) {
			t.Errorf("err = %v, want NOT_FOUND", err)
		}
	})

	t.Run("不可生产的产品", func(t *testing.T) {
		if _, err := p.Speed("M1", "A2"); !errors.Is(err, errors.CodeNotFound) {
			t.Errorf("err = %v, want NOT_FOUND", err)
		}
	})

	t.Run("关系图快照", func(t *testing.T) {
		rel := p.Relations()
		rel["F1"][0] = "X"
		if p.Relations()["F1"][0] != "M1" {
			t.Error("修改快照不应影响数据源")
		}
	})

	t.Run("默认生成月历", func(t *testing.T) {
		if len(p.MonthCalendar(2024, time.February)) != 29 {
			t.Error("2024年2月应有29天")
		}
	})
}
