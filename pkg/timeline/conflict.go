package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paiban/prodsched/pkg/model"
)

// DetectorConfig 冲突检测配置
type DetectorConfig struct {
	Maintenance  map[string][]model.TimeWindow // 机台 -> 维护窗口
	PlanWindows  map[string]model.TimeWindow   // 计划 -> 时间窗口
	HorizonEnd   time.Time                     // 排产周期结束，零值不检查
	CheckFeeder  bool
	CheckWindows bool
}

// DefaultDetectorConfig 返回默认配置
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		Maintenance:  make(map[string][]model.TimeWindow),
		PlanWindows:  make(map[string]model.TimeWindow),
		CheckFeeder:  true,
		CheckWindows: true,
	}
}

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	config *DetectorConfig
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &ConflictDetector{config: config}
}

// autoResolvable 可通过平移任务自动修复的冲突类型
func autoResolvable(t model.ConflictType) bool {
	switch t {
	case model.ConflictOverlap, model.ConflictFeeder, model.ConflictParallelSync, model.ConflictMaintenance:
		return true
	}
	return false
}

// DetectAll 检测所有冲突，结果按类型与标识排序
func (d *ConflictDetector) DetectAll(tasks []*model.ScheduledTask) []model.Conflict {
	var conflicts []model.Conflict

	byMachine := make(map[string][]*model.ScheduledTask)
	byFeeder := make(map[string][]*model.ScheduledTask)
	byGroup := make(map[string][]*model.ScheduledTask)
	for _, t := range tasks {
		byMachine[t.MachineID] = append(byMachine[t.MachineID], t)
		if t.FeederID != "" {
			byFeeder[t.FeederID] = append(byFeeder[t.FeederID], t)
		}
		byGroup[groupOf(t)] = append(byGroup[groupOf(t)], t)
	}

	for machine, list := range byMachine {
		conflicts = append(conflicts, d.detectOverlaps(machine, list)...)
		conflicts = append(conflicts, d.detectMaintenance(machine, list)...)
	}
	if d.config.CheckFeeder {
		for feeder, list := range byFeeder {
			conflicts = append(conflicts, d.detectFeeder(feeder, list)...)
		}
	}
	for _, list := range byGroup {
		conflicts = append(conflicts, d.detectParallelSync(list)...)
	}
	for _, t := range tasks {
		conflicts = append(conflicts, d.detectWindow(t)...)
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ConflictID < conflicts[j].ConflictID })
	return conflicts
}

// DetectForTask 检测单个任务与现有任务之间的冲突
func (d *ConflictDetector) DetectForTask(task *model.ScheduledTask, existing []*model.ScheduledTask) []model.Conflict {
	var out []model.Conflict
	for _, c := range d.DetectAll(append(append([]*model.ScheduledTask(nil), existing...), task)) {
		for _, id := range c.TaskIDs {
			if id == task.TaskID {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// detectOverlaps 同机台不同组的任务时间重叠
func (d *ConflictDetector) detectOverlaps(machine string, tasks []*model.ScheduledTask) []model.Conflict {
	var conflicts []model.Conflict
	sorted := sortByStart(tasks)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if !b.StartTime.Before(a.EndTime) {
				break
			}
			conflicts = append(conflicts, newConflict(model.ConflictOverlap, overlapSeverity(a, b),
				fmt.Sprintf("机台 %s 上任务 %s 与 %s 时间重叠 %.1f 小时", machine, a.TaskID, b.TaskID, overlapHours(a, b)),
				[]string{a.TaskID, b.TaskID}, []string{machine}))
		}
	}
	return conflicts
}

// detectFeeder 共用喂料机的不同组任务不能同时生产
func (d *ConflictDetector) detectFeeder(feeder string, tasks []*model.ScheduledTask) []model.Conflict {
	var conflicts []model.Conflict
	sorted := sortByStart(tasks)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if !b.StartTime.Before(a.EndTime) {
				break
			}
			if groupOf(a) == groupOf(b) || a.MachineID == b.MachineID {
				continue
			}
			conflicts = append(conflicts, newConflict(model.ConflictFeeder, overlapSeverity(a, b),
				fmt.Sprintf("喂料机 %s 同时供应任务 %s 与 %s", feeder, a.TaskID, b.TaskID),
				[]string{a.TaskID, b.TaskID}, []string{feeder, a.MachineID, b.MachineID}))
		}
	}
	return conflicts
}

// detectParallelSync 同组任务的开始与结束时间必须一致
func (d *ConflictDetector) detectParallelSync(tasks []*model.ScheduledTask) []model.Conflict {
	if len(tasks) < 2 {
		return nil
	}
	sorted := sortByStart(tasks)
	first := sorted[0]
	var ids, machines []string
	worst := 0.0
	for _, t := range sorted {
		ids = append(ids, t.TaskID)
		machines = append(machines, t.MachineID)
		if t.StartTime.Equal(first.StartTime) && t.EndTime.Equal(first.EndTime) {
			continue
		}
		gap := t.StartTime.Sub(first.StartTime).Hours() + absHours(t.EndTime.Sub(first.EndTime))
		if s := gap / maxFloat(first.DurationHours(), 1); s > worst {
			worst = s
		}
	}
	if worst == 0 {
		return nil
	}
	return []model.Conflict{newConflict(model.ConflictParallelSync, clamp01(worst),
		fmt.Sprintf("组 %s 的 %d 个任务开始或结束时间不一致", groupOf(first), len(sorted)), ids, machines)}
}

// detectMaintenance 任务落入维护窗口
func (d *ConflictDetector) detectMaintenance(machine string, tasks []*model.ScheduledTask) []model.Conflict {
	var conflicts []model.Conflict
	windows := d.config.Maintenance[machine]
	for _, t := range sortByStart(tasks) {
		h := t.Window().OverlapHours(windows)
		if h <= 0 {
			continue
		}
		conflicts = append(conflicts, newConflict(model.ConflictMaintenance, clamp01(h/maxFloat(t.DurationHours(), 1e-9)),
			fmt.Sprintf("任务 %s 与机台 %s 维护窗口重叠 %.1f 小时", t.TaskID, machine, h),
			[]string{t.TaskID}, []string{machine}))
	}
	return conflicts
}

// detectWindow 超出计划时间窗口或排产周期
func (d *ConflictDetector) detectWindow(t *model.ScheduledTask) []model.Conflict {
	var conflicts []model.Conflict
	if !d.config.HorizonEnd.IsZero() && t.EndTime.After(d.config.HorizonEnd) {
		over := t.EndTime.Sub(d.config.HorizonEnd).Hours()
		conflicts = append(conflicts, newConflict(model.ConflictCapacity, clamp01(over/maxFloat(t.DurationHours(), 1e-9)),
			fmt.Sprintf("机台 %s 在本月剩余时间内无法完成任务 %s，超出 %.1f 小时", t.MachineID, t.TaskID, over),
			[]string{t.TaskID}, []string{t.MachineID}))
	}
	if !d.config.CheckWindows {
		return conflicts
	}
	w, ok := d.config.PlanWindows[t.PlanID]
	if !ok || w.IsZero() {
		return conflicts
	}
	outside := t.DurationHours()
	if in, ok := t.Window().Intersection(w); ok {
		outside -= in.DurationHours()
	}
	if outside > 1e-9 {
		conflicts = append(conflicts, newConflict(model.ConflictTimeWindow, clamp01(outside/maxFloat(t.DurationHours(), 1e-9)),
			fmt.Sprintf("任务 %s 超出计划 %s 时间窗口 %.1f 小时", t.TaskID, t.PlanID, outside),
			[]string{t.TaskID}, []string{t.MachineID}))
	}
	return conflicts
}

// newConflict 冲突标识由类型与任务决定，同一冲突重复检测得到相同标识
func newConflict(typ model.ConflictType, severity float64, desc string, taskIDs, resources []string) model.Conflict {
	ids := append([]string(nil), taskIDs...)
	sort.Strings(ids)
	return model.Conflict{
		ConflictID:     string(typ) + ":" + strings.Join(ids, "+"),
		Type:           typ,
		Severity:       severity,
		Description:    desc,
		AutoResolvable: autoResolvable(typ),
		TaskIDs:        ids,
		ResourceIDs:    uniqueSorted(resources),
	}
}

func sortByStart(tasks []*model.ScheduledTask) []*model.ScheduledTask {
	sorted := make([]*model.ScheduledTask, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].TaskID < sorted[j].TaskID
	})
	return sorted
}

func overlapHours(a, b *model.ScheduledTask) float64 {
	if in, ok := a.Window().Intersection(b.Window()); ok {
		return in.DurationHours()
	}
	return 0
}

// overlapSeverity 重叠时长占较短任务的比例
func overlapSeverity(a, b *model.ScheduledTask) float64 {
	shorter := a.DurationHours()
	if b.DurationHours() < shorter {
		shorter = b.DurationHours()
	}
	return clamp01(overlapHours(a, b) / maxFloat(shorter, 1e-9))
}

func uniqueSorted(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	return model.Clamp(v, 0, 1)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absHours(d time.Duration) float64 {
	if d < 0 {
		d = -d
	}
	return d.Hours()
}
