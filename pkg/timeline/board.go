package timeline

import (
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/model"
)

// busy 占用区间，同组区间互不冲突
type busy struct {
	start, end time.Time
	group      string
	article    string
}

// board 机台与喂料机的占用表，一次排产或修复独占
type board struct {
	machines    map[string][]busy
	feeders     map[string][]busy
	maintenance map[string][]model.TimeWindow
	working     []model.TimeWindow // 为空表示不限制开工时段
	setupHours  float64
}

func newBoard(maintenance map[string][]model.TimeWindow, working []model.TimeWindow, setupHours float64) *board {
	return &board{
		machines:    make(map[string][]busy),
		feeders:     make(map[string][]busy),
		maintenance: maintenance,
		working:     working,
		setupHours:  setupHours,
	}
}

// boardFor 以已有任务初始化占用表
func boardFor(tasks []*model.ScheduledTask, maintenance map[string][]model.TimeWindow, working []model.TimeWindow, setupHours float64) *board {
	b := newBoard(maintenance, working, setupHours)
	for _, t := range tasks {
		b.add(t)
	}
	return b
}

func (b *board) add(t *model.ScheduledTask) {
	e := busy{start: t.StartTime, end: t.EndTime, group: groupOf(t), article: t.ArticleNr}
	b.machines[t.MachineID] = insertBusy(b.machines[t.MachineID], e)
	if t.FeederID != "" {
		b.feeders[t.FeederID] = insertBusy(b.feeders[t.FeederID], e)
	}
}

// removeGroup 移除一组任务的全部占用
func (b *board) removeGroup(group string) {
	drop := func(m map[string][]busy) {
		for k, list := range m {
			kept := list[:0]
			for _, e := range list {
				if e.group != group {
					kept = append(kept, e)
				}
			}
			m[k] = kept
		}
	}
	drop(b.machines)
	drop(b.feeders)
}

func insertBusy(list []busy, e busy) []busy {
	i := sort.Search(len(list), func(i int) bool { return list[i].start.After(e.start) })
	list = append(list, busy{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

// needsSetup 机台上在 start 之前的最近任务生产不同产品时需要换产
func (b *board) needsSetup(machine, article string, start time.Time) bool {
	var last *busy
	for i := range b.machines[machine] {
		e := &b.machines[machine][i]
		if e.end.After(start) {
			break
		}
		last = e
	}
	return last != nil && last.article != article
}

// slotRequest 一组需要同时开工、同时完工的占用
type slotRequest struct {
	group    string
	article  string
	machines []string
	feeders  []string
	hours    float64 // 生产时长
	fixed    bool    // 不重新计算换产时间
	setup    float64 // fixed 时使用
}

// duration 在 start 开工时的总时长与换产时长
func (b *board) duration(req slotRequest, start time.Time) (time.Duration, float64) {
	setup := req.setup
	if !req.fixed {
		setup = 0
		for _, m := range req.machines {
			if b.needsSetup(m, req.article, start) {
				setup = b.setupHours
				break
			}
		}
	}
	return hoursToDuration(req.hours + setup), setup
}

// free 判断 [start, start+d) 在全部相关机台、喂料机与维护窗口上是否空闲
func (b *board) free(req slotRequest, start time.Time, d time.Duration) bool {
	w := model.TimeWindow{Start: start, End: start.Add(d)}
	for _, m := range req.machines {
		if overlapsBusy(b.machines[m], w, req.group) {
			return false
		}
		for _, mw := range b.maintenance[m] {
			if mw.Overlaps(w) {
				return false
			}
		}
	}
	for _, f := range req.feeders {
		if overlapsBusy(b.feeders[f], w, req.group) {
			return false
		}
	}
	return true
}

func overlapsBusy(list []busy, w model.TimeWindow, group string) bool {
	for _, e := range list {
		if e.group == group {
			continue
		}
		if e.start.Before(w.End) && w.Start.Before(e.end) {
			return true
		}
	}
	return false
}

func (b *board) inWorkingTime(t time.Time) bool {
	if len(b.working) == 0 {
		return true
	}
	for _, w := range b.working {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// earliest 不早于 lb 的最早可用开工时间；候选点为 lb、相关占用与维护的结束、工作时段开始
// 工作时段用尽后退化为所有占用结束之后
func (b *board) earliest(req slotRequest, lb time.Time) (time.Time, time.Duration, float64) {
	points := []time.Time{lb}
	latest := lb
	push := func(t time.Time) {
		if t.After(lb) {
			points = append(points, t)
		}
		if t.After(latest) {
			latest = t
		}
	}
	for _, m := range req.machines {
		for _, e := range b.machines[m] {
			if e.group != req.group {
				push(e.end)
			}
		}
		for _, mw := range b.maintenance[m] {
			push(mw.End)
		}
	}
	for _, f := range req.feeders {
		for _, e := range b.feeders[f] {
			if e.group != req.group {
				push(e.end)
			}
		}
	}
	for _, w := range b.working {
		if w.Start.After(lb) {
			points = append(points, w.Start)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	for i, t := range points {
		if i > 0 && t.Equal(points[i-1]) {
			continue
		}
		if !b.inWorkingTime(t) {
			continue
		}
		d, setup := b.duration(req, t)
		if b.free(req, t, d) {
			return t, d, setup
		}
	}
	d, setup := b.duration(req, latest)
	return latest, d, setup
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour)).Round(time.Second)
}

// groupOf 任务所属组，未设置时任务自成一组
func groupOf(t *model.ScheduledTask) string {
	if t.GroupID != "" {
		return t.GroupID
	}
	return t.TaskID
}
