package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/timeline"
)

func TestRunsQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    ListFilter
		wantWhere string
		wantOrder string
		args      int
	}{
		{"默认", DefaultListFilter(), "", "ORDER BY generated_at DESC LIMIT $1 OFFSET $2", 2},
		{"按年月", DefaultListFilter().WithPeriod(2024, 1), "WHERE year = $1 AND month = $2", "LIMIT $3 OFFSET $4", 4},
		{"按模式升序", ListFilter{Mode: "fast", OrderBy: "score", OrderDir: "asc"}, "WHERE mode = $1", "ORDER BY score ASC", 3},
		{"非法排序列", ListFilter{OrderBy: "id; DROP TABLE x"}, "", "ORDER BY generated_at DESC", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := runsQuery(tt.filter)
			if tt.wantWhere != "" && !strings.Contains(query, tt.wantWhere) {
				t.Errorf("query 缺少 %q: %s", tt.wantWhere, query)
			}
			if tt.wantWhere == "" && strings.Contains(query, "WHERE") {
				t.Errorf("不应有 WHERE: %s", query)
			}
			if !strings.Contains(query, tt.wantOrder) {
				t.Errorf("query 缺少 %q: %s", tt.wantOrder, query)
			}
			if len(args) != tt.args {
				t.Errorf("参数数 = %d, want %d", len(args), tt.args)
			}
		})
	}

	_, args := runsQuery(ListFilter{Mode: "fast", Limit: 1000, Offset: -5})
	if args[0] != "FAST" || args[1] != 20 || args[2] != 0 {
		t.Errorf("参数 = %v, want [FAST 20 0]", args)
	}
}

func TestRunFromResult(t *testing.T) {
	res := &timeline.Result{
		TimelineID: "tl-1",
		Year:       2024,
		Month:      time.March,
		Mode:       timeline.ModeStandard,
		ScheduledTasks: []*model.ScheduledTask{
			{TaskID: "P1@M1"}, {TaskID: "P1@M2"},
		},
		Conflicts:           []model.Conflict{{ConflictID: "capacity:P1@M1"}},
		OptimizationMetrics: timeline.OptimizationMetrics{TotalMakespan: 12, OptimizationScore: 88},
		ExecutionTime:       1500 * time.Millisecond,
	}
	run := RunFromResult(res)
	if run.ID != "tl-1" || run.Month != 3 || run.Mode != "STANDARD" {
		t.Errorf("run = %+v", run)
	}
	if run.TaskCount != 2 || run.ConflictCount != 1 || run.MakespanHours != 12 || run.Score != 88 {
		t.Errorf("统计字段 = %+v", run)
	}
}
