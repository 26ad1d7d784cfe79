// Package timeline 把资源分配转换为具体的机台时间段，检测并修复冲突
package timeline

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
)

// Mode 排产模式
type Mode string

const (
	ModeFast          Mode = "FAST"          // 单次贪心放置
	ModeStandard      Mode = "STANDARD"      // 贪心 + 冲突修复
	ModeBalanced      Mode = "BALANCED"      // 多种排序，取冲突最少者
	ModeComprehensive Mode = "COMPREHENSIVE" // 时限内并行尝试更多排序
)

// ParseMode 解析排产模式（不区分大小写），空字符串为 BALANCED
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeFast, ModeStandard, ModeBalanced, ModeComprehensive:
		return m, nil
	case "":
		return ModeBalanced, nil
	}
	return "", errors.InvalidInput("optimization_mode", fmt.Sprintf("未知排产模式 %q", s))
}

// OutputFormat 附加输出
type OutputFormat string

const (
	FormatGantt      OutputFormat = "gantt"
	FormatWorkOrders OutputFormat = "work_orders"
)

// Config 时间线配置
type Config struct {
	Mode       Mode          `json:"mode" yaml:"mode"`
	SetupHours float64       `json:"setup_hours" yaml:"setup_hours"` // 换产时长
	TimeLimit  time.Duration `json:"time_limit" yaml:"time_limit"`
	Shuffles   int           `json:"shuffles" yaml:"shuffles"` // COMPREHENSIVE 随机排序数
	Workers    int           `json:"workers" yaml:"workers"`
	RandomSeed int64         `json:"random_seed" yaml:"random_seed"`
	Location   *time.Location
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Mode:       ModeBalanced,
		SetupHours: 0.5,
		TimeLimit:  10 * time.Second,
		Shuffles:   8,
		Workers:    4,
		RandomSeed: 42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.SetupHours < 0 {
		c.SetupHours = def.SetupHours
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = def.TimeLimit
	}
	if c.Shuffles <= 0 {
		c.Shuffles = def.Shuffles
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Result 时间线结果
type Result struct {
	TimelineID          string                 `json:"timeline_id"`
	Year                int                    `json:"year"`
	Month               time.Month             `json:"month"`
	Mode                Mode                   `json:"mode"`
	ScheduledTasks      []*model.ScheduledTask `json:"scheduled_tasks"`
	TimeWindows         []MachineWindow        `json:"time_windows"`
	Conflicts           []model.Conflict       `json:"conflicts"`
	OptimizationMetrics OptimizationMetrics    `json:"optimization_metrics"`
	GanttData           *GanttData             `json:"gantt_data,omitempty"`
	WorkOrders          []model.WorkOrder      `json:"work_orders,omitempty"`
	Horizon             model.TimeWindow       `json:"horizon"`
	AvailableHours      float64                `json:"available_hours"` // 周期内可开工小时，无日历时为 0
	Attempts            int                    `json:"attempts"`
	ExecutionTime       time.Duration          `json:"execution_time"`
	GeneratedAt         time.Time              `json:"generated_at"`
}

// Generator 时间线生成器，可并发使用
type Generator struct {
	cfg    Config
	logger *logger.ComponentLogger
}

// New 创建时间线生成器
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg.withDefaults(), logger: logger.NewComponentLogger("timeline")}
}

// Config 返回生效配置
func (g *Generator) Config() Config {
	return g.cfg
}

// attempt 一种排序得到的排产结果
type attempt struct {
	index     int
	tasks     []*model.ScheduledTask
	conflicts []model.Conflict
}

// run 单次排产的只读上下文
type run struct {
	groups      []*group
	locked      []*model.ScheduledTask
	maintenance map[string][]model.TimeWindow
	working     []model.TimeWindow
	horizon     model.TimeWindow
	setupHours  float64
	resolver    *Resolver
}

// GenerateTimeline 生成月度时间线
// 超出时限时返回已完成尝试中的最优结果
func (g *Generator) GenerateTimeline(ctx context.Context, data PlanData, year int, month time.Month, mode Mode, formats []OutputFormat) (*Result, error) {
	start := time.Now()
	if year <= 0 || month < time.January || month > time.December {
		return nil, errors.InvalidInput("period", fmt.Sprintf("无效年月 %d-%d", year, month))
	}
	if mode == "" {
		mode = g.cfg.Mode
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	groups, machines, err := buildGroups(&data)
	if err != nil {
		return nil, err
	}

	r := g.prepare(groups, machines, &data, year, month)
	id := model.NewID()
	g.logger.RunStart(id, len(groups), len(machines))

	runCtx, cancel := context.WithTimeout(ctx, g.cfg.TimeLimit)
	defer cancel()

	orders, repair := g.orderings(groups, mode)
	var attempts []*attempt
	if mode == ModeComprehensive {
		attempts = g.parallel(runCtx, r, orders)
	} else {
		for i, order := range orders {
			if i > 0 && runCtx.Err() != nil {
				g.logger.Degraded(id, "时限内未完成全部排序尝试")
				break
			}
			attempts = append(attempts, r.place(i, order, repair))
		}
	}
	best := pickBest(attempts)

	res := &Result{
		TimelineID:     id,
		Year:           year,
		Month:          month,
		Mode:           mode,
		ScheduledTasks: best.tasks,
		Conflicts:      best.conflicts,
		Horizon:        r.horizon,
		Attempts:       len(attempts),
		GeneratedAt:    time.Now(),
	}
	for _, w := range r.working {
		if in, ok := w.Intersection(r.horizon); ok {
			res.AvailableHours += in.DurationHours()
		}
	}
	res.TimeWindows = machineWindows(best.tasks, r.maintenance, r.horizon)
	res.OptimizationMetrics = computeMetrics(best.tasks, best.conflicts)
	if len(formats) == 0 {
		formats = []OutputFormat{FormatGantt}
	}
	for _, f := range formats {
		switch f {
		case FormatGantt:
			res.GanttData = buildGantt(best.tasks, r.horizon)
		case FormatWorkOrders:
			res.WorkOrders = WorkOrders(res)
		default:
			return nil, errors.InvalidInput("output_formats", fmt.Sprintf("未知输出格式 %q", f))
		}
	}
	res.ExecutionTime = time.Since(start)

	if len(res.Conflicts) > 0 {
		g.logger.Degraded(id, fmt.Sprintf("%d 个冲突未解决", len(res.Conflicts)))
	}
	g.logger.RunComplete(id, res.ExecutionTime, res.OptimizationMetrics.OptimizationScore)
	return res, nil
}

func (g *Generator) prepare(groups []*group, machines map[string]*MachineSpec, data *PlanData, year int, month time.Month) *run {
	horizon := calendar.MonthWindow(year, month, g.cfg.Location)
	maintenance := make(map[string][]model.TimeWindow)
	specs := make([]MachineSpec, 0, len(machines))
	for _, code := range sortedKeys(machines) {
		m := machines[code]
		specs = append(specs, *m)
		if len(m.MaintenanceWindows) > 0 {
			maintenance[code] = m.MaintenanceWindows
		}
	}
	windows := make(map[string]model.TimeWindow, len(groups))
	for _, gr := range groups {
		windows[gr.plan.PlanID] = gr.plan.Window()
	}
	working := calendar.WorkingWindows(data.Calendar)
	return &run{
		groups:      groups,
		locked:      model.CloneTasks(data.Locked),
		maintenance: maintenance,
		working:     working,
		horizon:     horizon,
		setupHours:  g.cfg.SetupHours,
		resolver: NewResolver(ResolverOptions{
			Machines:    specs,
			PlanWindows: windows,
			Horizon:     horizon,
			Working:     working,
		}),
	}
}

// orderings 各模式尝试的组排序，以及是否做冲突修复
func (g *Generator) orderings(groups []*group, mode Mode) ([][]*group, bool) {
	base := sortGroups(groups, byPriority)
	switch mode {
	case ModeFast:
		return [][]*group{base}, false
	case ModeStandard:
		return [][]*group{base}, true
	}
	orders := [][]*group{base, sortGroups(groups, byDeadline), sortGroups(groups, byLongest)}
	if mode == ModeComprehensive {
		rng := rand.New(rand.NewSource(g.cfg.RandomSeed))
		for i := 0; i < g.cfg.Shuffles; i++ {
			perm := append([]*group(nil), base...)
			rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
			orders = append(orders, perm)
		}
	}
	return orders, true
}

// parallel 并行执行各排序；时限到达后未开始的尝试被丢弃，第一种排序总会完成
func (g *Generator) parallel(ctx context.Context, r *run, orders [][]*group) []*attempt {
	results := make([]*attempt, len(orders))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for i, order := range orders {
		eg.Go(func() error {
			if i > 0 && ectx.Err() != nil {
				return nil
			}
			results[i] = r.place(i, order, true)
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]*attempt, 0, len(results))
	for _, a := range results {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// place 按顺序把每组放到最早可用时段
func (r *run) place(index int, order []*group, repair bool) *attempt {
	tasks := model.CloneTasks(r.locked)
	b := boardFor(tasks, r.maintenance, r.working, r.setupHours)
	for _, gr := range order {
		lb := r.horizon.Start
		if ps := gr.plan.PlannedStart; !ps.IsZero() && ps.After(lb) {
			lb = ps
		}
		start, d, setup := b.earliest(gr.request(), lb)
		for _, t := range gr.toTasks(start, d, setup) {
			b.add(t)
			tasks = append(tasks, t)
		}
	}
	conflicts := r.resolver.Detector().DetectAll(tasks)
	if repair && len(conflicts) > 0 {
		conflicts = r.resolver.ResolveConflicts(conflicts, tasks)
	}
	return &attempt{index: index, tasks: tasks, conflicts: conflicts}
}

// pickBest 冲突严重度之和、跨度、换产时长、排序序号依次比较
func pickBest(attempts []*attempt) *attempt {
	type key struct {
		severity, makespan, setup float64
	}
	keyOf := func(a *attempt) key {
		k := key{}
		for _, c := range a.conflicts {
			k.severity += c.Severity
		}
		m := computeMetrics(a.tasks, nil)
		k.makespan = m.TotalMakespan
		for _, t := range a.tasks {
			k.setup += t.SetupHours
		}
		return k
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		ki, kj := keyOf(attempts[i]), keyOf(attempts[j])
		switch {
		case ki.severity != kj.severity:
			return ki.severity < kj.severity
		case ki.makespan != kj.makespan:
			return ki.makespan < kj.makespan
		case ki.setup != kj.setup:
			return ki.setup < kj.setup
		}
		return attempts[i].index < attempts[j].index
	})
	return attempts[0]
}

type groupLess func(a, b *group) bool

func byPriority(a, b *group) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.plan.PlannedStart.Equal(b.plan.PlannedStart) {
		return a.plan.PlannedStart.Before(b.plan.PlannedStart)
	}
	if a.totalQty != b.totalQty {
		return a.totalQty > b.totalQty
	}
	return a.id < b.id
}

func byDeadline(a, b *group) bool {
	ea, eb := a.plan.PlannedEnd, b.plan.PlannedEnd
	if ea.IsZero() != eb.IsZero() {
		return !ea.IsZero()
	}
	if !ea.Equal(eb) {
		return ea.Before(eb)
	}
	return byPriority(a, b)
}

func byLongest(a, b *group) bool {
	if a.hours != b.hours {
		return a.hours > b.hours
	}
	return byPriority(a, b)
}

func sortGroups(groups []*group, less groupLess) []*group {
	out := append([]*group(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
