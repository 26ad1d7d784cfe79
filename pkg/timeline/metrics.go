package timeline

import (
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/stats"
)

// OptimizationMetrics 时间线优化指标，全部由任务列表推导
type OptimizationMetrics struct {
	TotalMakespan      float64 `json:"total_makespan"`      // 小时
	SetupTimeRatio     float64 `json:"setup_time_ratio"`    // 换产时长 / 任务总时长
	ScheduleEfficiency float64 `json:"schedule_efficiency"` // 0-100
	OptimizationScore  float64 `json:"optimization_score"`  // 0-100
}

// computeMetrics 计算优化指标
// ScheduleEfficiency = 各机台生产小时 / (跨度 × 机台数)
// OptimizationScore = 0.5×效率 + 0.3×(1-换产比)×100 + 0.2×冲突得分
func computeMetrics(tasks []*model.ScheduledTask, conflicts []model.Conflict) OptimizationMetrics {
	var m OptimizationMetrics
	if len(tasks) == 0 {
		return m
	}
	spans := make([]stats.Span, 0, len(tasks))
	byMachine := make(map[string][]stats.Span)
	total, setup := 0.0, 0.0
	for _, t := range tasks {
		s := stats.Span{Start: t.StartTime, End: t.EndTime}
		spans = append(spans, s)
		byMachine[t.MachineID] = append(byMachine[t.MachineID], s)
		total += t.DurationHours()
		setup += t.SetupHours
	}
	_, _, m.TotalMakespan = stats.Makespan(spans)
	if total > 0 {
		m.SetupTimeRatio = setup / total
	}
	busy := 0.0
	for _, list := range byMachine {
		busy += stats.BusyHours(list)
	}
	busy -= setup
	m.ScheduleEfficiency = stats.Utilization(busy, m.TotalMakespan*float64(len(byMachine)))

	penalty := 0.0
	for _, c := range conflicts {
		penalty += c.Severity
	}
	conflictScore := 100 * (1 - clamp01(penalty/float64(len(tasks))))
	m.OptimizationScore = 0.5*m.ScheduleEfficiency + 0.3*100*(1-m.SetupTimeRatio) + 0.2*conflictScore
	return m
}

// MachineWindow 机台上的一段占用
type MachineWindow struct {
	MachineID string    `json:"machine_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"` // setup / production / maintenance
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// machineWindows 按机台与开始时间排序的占用列表
func machineWindows(tasks []*model.ScheduledTask, maintenance map[string][]model.TimeWindow, horizon model.TimeWindow) []MachineWindow {
	var out []MachineWindow
	for _, t := range tasks {
		prod := t.StartTime
		if t.SetupHours > 0 {
			prod = t.StartTime.Add(hoursToDuration(t.SetupHours))
			out = append(out, MachineWindow{MachineID: t.MachineID, TaskID: t.TaskID, Kind: "setup", Start: t.StartTime, End: prod})
		}
		out = append(out, MachineWindow{MachineID: t.MachineID, TaskID: t.TaskID, Kind: "production", Start: prod, End: t.EndTime})
	}
	for m, list := range maintenance {
		for _, w := range list {
			if !w.Overlaps(horizon) {
				continue
			}
			out = append(out, MachineWindow{MachineID: m, Kind: "maintenance", Start: w.Start, End: w.End})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MachineID != out[j].MachineID {
			return out[i].MachineID < out[j].MachineID
		}
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// GanttBlock 甘特图中的一个块
type GanttBlock struct {
	TaskID    string         `json:"task_id"`
	MachineID string         `json:"machine_id"`
	Label     string         `json:"label"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Quantity  float64        `json:"quantity"`
	Priority  model.Priority `json:"priority"`
	Setup     float64        `json:"setup_hours,omitempty"`
}

// TimeAxis 甘特图时间轴
type TimeAxis struct {
	Start time.Time   `json:"start"`
	End   time.Time   `json:"end"`
	Ticks []time.Time `json:"ticks"` // 每日零点
}

// GanttData 甘特图数据，不假设渲染方式
type GanttData struct {
	TimeAxis TimeAxis     `json:"time_axis"`
	Machines []string     `json:"machines"`
	Blocks   []GanttBlock `json:"blocks"`
}

func buildGantt(tasks []*model.ScheduledTask, horizon model.TimeWindow) *GanttData {
	g := &GanttData{TimeAxis: TimeAxis{Start: horizon.Start, End: horizon.End}, Blocks: make([]GanttBlock, 0, len(tasks))}
	machines := make(map[string]bool)
	for _, t := range sortByStart(tasks) {
		machines[t.MachineID] = true
		if t.EndTime.After(g.TimeAxis.End) {
			g.TimeAxis.End = t.EndTime
		}
		label := t.ArticleNr
		if t.WorkOrderNr != "" {
			label = t.WorkOrderNr + " " + t.ArticleNr
		}
		g.Blocks = append(g.Blocks, GanttBlock{
			TaskID: t.TaskID, MachineID: t.MachineID, Label: label,
			Start: t.StartTime, End: t.EndTime, Quantity: t.AllocatedQuantity,
			Priority: t.Priority, Setup: t.SetupHours,
		})
	}
	g.Machines = sortedKeys(machines)
	for d := g.TimeAxis.Start; d.Before(g.TimeAxis.End); d = d.AddDate(0, 0, 1) {
		g.TimeAxis.Ticks = append(g.TimeAxis.Ticks, d)
	}
	return g
}

// WorkOrders 生成下发执行系统的工单，按开始时间与机台排序
func WorkOrders(r *Result) []model.WorkOrder {
	out := make([]model.WorkOrder, 0, len(r.ScheduledTasks))
	for _, t := range sortByStart(r.ScheduledTasks) {
		out = append(out, model.WorkOrderFromTask(t))
	}
	return out
}

// BasicStats 时间线基本统计
type BasicStats struct {
	TotalTasks    int       `json:"total_tasks"`
	TotalQuantity float64   `json:"total_quantity"`
	MachineCount  int       `json:"machine_count"`
	ConflictCount int       `json:"conflict_count"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	MakespanHours float64   `json:"makespan_hours"`
}

// ProductStat 产品统计
type ProductStat struct {
	TaskCount     int     `json:"task_count"`
	TotalQuantity float64 `json:"total_quantity"`
}

// TimelineStatistics 时间线统计
type TimelineStatistics struct {
	BasicStats         BasicStats             `json:"basic_stats"`
	MachineUtilization map[string]float64     `json:"machine_utilization"` // 百分比
	ProductStatistics  map[string]ProductStat `json:"product_statistics"`
}

// GetTimelineStatistics 统计任务、机台利用率与产品产量
// 利用率以排产周期内的可用小时为分母
func GetTimelineStatistics(r *Result) TimelineStatistics {
	st := TimelineStatistics{
		MachineUtilization: make(map[string]float64),
		ProductStatistics:  make(map[string]ProductStat),
	}
	if r == nil {
		return st
	}
	spans := make([]stats.Span, 0, len(r.ScheduledTasks))
	byMachine := make(map[string][]stats.Span)
	for _, t := range r.ScheduledTasks {
		s := stats.Span{Start: t.StartTime, End: t.EndTime}
		spans = append(spans, s)
		byMachine[t.MachineID] = append(byMachine[t.MachineID], s)
		st.BasicStats.TotalQuantity += t.AllocatedQuantity
		p := st.ProductStatistics[t.ArticleNr]
		p.TaskCount++
		p.TotalQuantity += t.AllocatedQuantity
		st.ProductStatistics[t.ArticleNr] = p
	}
	st.BasicStats.TotalTasks = len(r.ScheduledTasks)
	st.BasicStats.MachineCount = len(byMachine)
	st.BasicStats.ConflictCount = len(r.Conflicts)
	st.BasicStats.StartTime, st.BasicStats.EndTime, st.BasicStats.MakespanHours = stats.Makespan(spans)

	horizon := r.AvailableHours
	if horizon <= 0 {
		horizon = r.Horizon.DurationHours()
	}
	for m, list := range byMachine {
		st.MachineUtilization[m] = stats.Utilization(stats.BusyHours(list), horizon)
	}
	return st
}
