package timeline

import (
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

const defaultRepairRounds = 20

// ResolverOptions 冲突修复上下文
type ResolverOptions struct {
	Machines    []MachineSpec
	PlanWindows map[string]model.TimeWindow
	Horizon     model.TimeWindow   // 零值不检查周期
	Working     []model.TimeWindow // 允许开工的时段，为空不限制
	MaxRounds   int
}

// Resolver 冲突修复器，通过平移任务组修复可自动修复的冲突，从不删除任务
type Resolver struct {
	detector    *ConflictDetector
	maintenance map[string][]model.TimeWindow
	planWindows map[string]model.TimeWindow
	horizonEnd  time.Time
	working     []model.TimeWindow
	maxRounds   int
}

// NewResolver 创建冲突修复器
func NewResolver(opts ResolverOptions) *Resolver {
	maintenance := make(map[string][]model.TimeWindow, len(opts.Machines))
	for _, m := range opts.Machines {
		if len(m.MaintenanceWindows) > 0 {
			maintenance[m.Code] = m.MaintenanceWindows
		}
	}
	windows := opts.PlanWindows
	if windows == nil {
		windows = make(map[string]model.TimeWindow)
	}
	rounds := opts.MaxRounds
	if rounds <= 0 {
		rounds = defaultRepairRounds
	}
	cfg := DefaultDetectorConfig()
	cfg.Maintenance = maintenance
	cfg.PlanWindows = windows
	cfg.HorizonEnd = opts.Horizon.End
	return &Resolver{
		detector:    NewConflictDetector(cfg),
		maintenance: maintenance,
		planWindows: windows,
		horizonEnd:  opts.Horizon.End,
		working:     opts.Working,
		maxRounds:   rounds,
	}
}

// Detector 修复器使用的冲突检测器
func (r *Resolver) Detector() *ConflictDetector {
	return r.detector
}

// ResolveConflicts 就地平移任务修复冲突，返回仍未解决的冲突
// 任务数量保持不变；默认修复器不知道维护窗口、计划窗口与排产周期，这些冲突原样返回
func ResolveConflicts(conflicts []model.Conflict, tasks []*model.ScheduledTask) []model.Conflict {
	return NewResolver(ResolverOptions{}).ResolveConflicts(conflicts, tasks)
}

// ResolveConflicts 就地平移任务修复冲突，返回仍未解决的冲突
// 输入冲突只有在复查确认已消失时才被移除，复查中新出现的冲突一并返回
func (r *Resolver) ResolveConflicts(conflicts []model.Conflict, tasks []*model.ScheduledTask) []model.Conflict {
	pending := dedupeConflicts(conflicts)
	for round := 0; round < r.maxRounds; round++ {
		progress := false
		for _, c := range orderConflicts(pending) {
			if c.AutoResolvable && r.resolve(c, tasks) {
				progress = true
			}
		}
		pending = r.recheck(pending, tasks)
		if !progress {
			break
		}
	}
	return pending
}

// recheck 用当前任务重新检测，只移除检测器能够复查且已不存在的冲突
func (r *Resolver) recheck(pending []model.Conflict, tasks []*model.ScheduledTask) []model.Conflict {
	detected := r.detector.DetectAll(tasks)
	fresh := make(map[string]model.Conflict, len(detected))
	for _, c := range detected {
		fresh[c.ConflictID] = c
	}
	byID := make(map[string]*model.ScheduledTask, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	out := make([]model.Conflict, 0, len(pending)+len(detected))
	seen := make(map[string]bool, len(pending))
	for _, c := range pending {
		seen[c.ConflictID] = true
		if f, ok := fresh[c.ConflictID]; ok {
			out = append(out, f)
			continue
		}
		if !r.canRecheck(c, byID) {
			out = append(out, c)
		}
	}
	for _, c := range detected {
		if !seen[c.ConflictID] {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConflictID < out[j].ConflictID })
	return out
}

// canRecheck 冲突涉及的任务都在且检测器掌握判断它所需的上下文
func (r *Resolver) canRecheck(c model.Conflict, byID map[string]*model.ScheduledTask) bool {
	if len(c.TaskIDs) == 0 {
		return false
	}
	for _, id := range c.TaskIDs {
		t := byID[id]
		if t == nil {
			return false
		}
		switch c.Type {
		case model.ConflictMaintenance:
			if len(r.maintenance[t.MachineID]) == 0 {
				return false
			}
		case model.ConflictTimeWindow:
			if w, ok := r.planWindows[t.PlanID]; !ok || w.IsZero() {
				return false
			}
		case model.ConflictCapacity:
			if r.horizonEnd.IsZero() {
				return false
			}
		}
	}
	switch c.Type {
	case model.ConflictOverlap, model.ConflictFeeder, model.ConflictParallelSync,
		model.ConflictMaintenance, model.ConflictTimeWindow, model.ConflictCapacity:
		return true
	}
	return false
}

func dedupeConflicts(conflicts []model.Conflict) []model.Conflict {
	seen := make(map[string]bool, len(conflicts))
	out := make([]model.Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if seen[c.ConflictID] {
			continue
		}
		seen[c.ConflictID] = true
		out = append(out, c)
	}
	return out
}

// orderConflicts 严重程度高的先处理
func orderConflicts(conflicts []model.Conflict) []model.Conflict {
	sorted := append([]model.Conflict(nil), conflicts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity > sorted[j].Severity
		}
		return sorted[i].ConflictID < sorted[j].ConflictID
	})
	return sorted
}

func (r *Resolver) resolve(c model.Conflict, tasks []*model.ScheduledTask) bool {
	byID := make(map[string]*model.ScheduledTask, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	switch c.Type {
	case model.ConflictOverlap, model.ConflictFeeder:
		if len(c.TaskIDs) != 2 {
			return false
		}
		a, b := byID[c.TaskIDs[0]], byID[c.TaskIDs[1]]
		if a == nil || b == nil {
			return false
		}
		// 让路的一方移不出去时冲突保持未解决
		victim, _ := yieldOrder(a, b)
		return r.shiftGroup(groupOf(victim), tasks, victim.StartTime, true)

	case model.ConflictParallelSync:
		var latest time.Time
		var group string
		for _, id := range c.TaskIDs {
			t := byID[id]
			if t == nil {
				continue
			}
			group = groupOf(t)
			if t.StartTime.After(latest) {
				latest = t.StartTime
			}
		}
		if group == "" {
			return false
		}
		return r.shiftGroup(group, tasks, latest, false)

	case model.ConflictMaintenance:
		for _, id := range c.TaskIDs {
			if t := byID[id]; t != nil {
				return r.shiftGroup(groupOf(t), tasks, t.StartTime, false)
			}
		}
	}
	return false
}

// yieldOrder 优先级低的让路；同优先级时开始晚的让路，再按组标识
func yieldOrder(a, b *model.ScheduledTask) (victim, keeper *model.ScheduledTask) {
	switch {
	case a.Priority != b.Priority:
		if a.Priority < b.Priority {
			return a, b
		}
		return b, a
	case !a.StartTime.Equal(b.StartTime):
		if a.StartTime.After(b.StartTime) {
			return a, b
		}
		return b, a
	case groupOf(a) > groupOf(b):
		return a, b
	}
	return b, a
}

// shiftGroup 把整组任务移到不早于 lb 的下一个空闲时段，组内开始与结束保持一致
// checkDeadline 时不允许移出计划窗口或排产周期
func (r *Resolver) shiftGroup(group string, tasks []*model.ScheduledTask, lb time.Time, checkDeadline bool) bool {
	var members []*model.ScheduledTask
	for _, t := range tasks {
		if groupOf(t) == group {
			members = append(members, t)
		}
	}
	if len(members) == 0 {
		return false
	}

	b := boardFor(tasks, r.maintenance, r.working, 0)
	b.removeGroup(group)
	req := groupRequest(members)
	start, d, _ := b.earliest(req, lb)
	end := start.Add(d)

	if checkDeadline {
		if !r.horizonEnd.IsZero() && end.After(r.horizonEnd) {
			return false
		}
		if w, ok := r.planWindows[members[0].PlanID]; ok && !w.IsZero() && end.After(w.End) {
			return false
		}
	}

	moved := false
	for _, t := range members {
		if !t.StartTime.Equal(start) || !t.EndTime.Equal(end) {
			moved = true
		}
	}
	if !moved {
		return false
	}
	for _, t := range members {
		t.StartTime = start
		t.EndTime = end
	}
	return true
}

// groupRequest 已排任务组的占用请求，时长取组内最长
func groupRequest(members []*model.ScheduledTask) slotRequest {
	req := slotRequest{group: groupOf(members[0]), article: members[0].ArticleNr, fixed: true}
	var longest time.Duration
	for _, t := range members {
		if d := t.EndTime.Sub(t.StartTime); d > longest {
			longest = d
		}
		if !containsStr(req.machines, t.MachineID) {
			req.machines = append(req.machines, t.MachineID)
		}
		if t.FeederID != "" && !containsStr(req.feeders, t.FeederID) {
			req.feeders = append(req.feeders, t.FeederID)
		}
		if t.SetupHours > req.setup {
			req.setup = t.SetupHours
		}
	}
	req.hours = longest.Hours() - req.setup
	return req
}

// InsertEmergencyTask 使用默认修复器插入紧急任务
func InsertEmergencyTask(task *model.ScheduledTask, schedule []*model.ScheduledTask, windows []model.TimeWindow) ([]*model.ScheduledTask, []model.Conflict, error) {
	return NewResolver(ResolverOptions{}).InsertEmergencyTask(task, schedule, windows)
}

// InsertEmergencyTask 按要求的时间插入紧急任务，同机台上优先级更低的任务组整体后移
// windows 为允许的时间窗口，任务放在不早于要求开始时间的第一个能容纳它的窗口；
// 输入的 schedule 不被修改，返回新的任务列表与新产生的冲突
func (r *Resolver) InsertEmergencyTask(task *model.ScheduledTask, schedule []*model.ScheduledTask, windows []model.TimeWindow) ([]*model.ScheduledTask, []model.Conflict, error) {
	if task == nil {
		return nil, nil, errors.Validation("task", "不能为空")
	}
	if task.MachineID == "" {
		return nil, nil, errors.Validation("machine_id", "不能为空")
	}
	if _, err := model.NewTimeWindow(task.StartTime, task.EndTime); err != nil {
		return nil, nil, err
	}

	em := task.Clone()
	if em.TaskID == "" {
		em.TaskID = model.NewID()
	}
	if em.GroupID == "" {
		em.GroupID = em.TaskID
	}
	if em.Priority == 0 {
		em.Priority = model.PriorityUrgent
	}

	var manual []model.Conflict
	if len(windows) > 0 {
		if start, ok := fitWindow(em.StartTime, em.EndTime.Sub(em.StartTime), windows); ok {
			em.MoveTo(start)
		} else {
			manual = append(manual, newConflict(model.ConflictTimeWindow, 1,
				"紧急任务 "+em.TaskID+" 无法放入给定的时间窗口", []string{em.TaskID}, []string{em.MachineID}))
		}
	}

	out := model.CloneTasks(schedule)
	before := make(map[string]bool)
	for _, c := range r.detector.DetectAll(out) {
		before[c.ConflictID] = true
	}

	b := boardFor(out, r.maintenance, r.working, 0)
	b.add(em)
	for _, g := range bumpedGroups(out, em) {
		var members []*model.ScheduledTask
		for _, t := range out {
			if groupOf(t) == g {
				members = append(members, t)
			}
		}
		b.removeGroup(g)
		req := groupRequest(members)
		lb := em.EndTime
		if members[0].StartTime.After(lb) {
			lb = members[0].StartTime
		}
		start, d, _ := b.earliest(req, lb)
		for _, t := range members {
			t.StartTime = start
			t.EndTime = start.Add(d)
			b.add(t)
		}
	}
	out = append(out, em)

	var fresh []model.Conflict
	for _, c := range r.detector.DetectAll(out) {
		if !before[c.ConflictID] {
			fresh = append(fresh, c)
		}
	}
	return out, append(fresh, manual...), nil
}

// bumpedGroups 与紧急任务重叠且优先级更低的同机台任务组，按开始时间排序
func bumpedGroups(tasks []*model.ScheduledTask, em *model.ScheduledTask) []string {
	type hit struct {
		group string
		start time.Time
	}
	var hits []hit
	seen := make(map[string]bool)
	w := em.Window()
	for _, t := range tasks {
		if t.MachineID != em.MachineID || t.Priority >= em.Priority || !t.Window().Overlaps(w) {
			continue
		}
		g := groupOf(t)
		if seen[g] {
			continue
		}
		seen[g] = true
		hits = append(hits, hit{group: g, start: t.StartTime})
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].start.Equal(hits[j].start) {
			return hits[i].start.Before(hits[j].start)
		}
		return hits[i].group < hits[j].group
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.group
	}
	return out
}

// fitWindow 不早于 start 且能容纳 d 的第一个窗口位置
func fitWindow(start time.Time, d time.Duration, windows []model.TimeWindow) (time.Time, bool) {
	sorted := append([]model.TimeWindow(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	for _, w := range sorted {
		s := start
		if w.Start.After(s) {
			s = w.Start
		}
		if w.ContainsWindow(model.TimeWindow{Start: s, End: s.Add(d)}) {
			return s, true
		}
	}
	return time.Time{}, false
}
