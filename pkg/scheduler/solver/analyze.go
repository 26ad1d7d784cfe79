package solver

import (
	"fmt"
	"math"
	"sort"

	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// ConflictSeverity 冲突严重程度
type ConflictSeverity string

const (
	SeverityNone   ConflictSeverity = "none"
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

func (s ConflictSeverity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// ConflictGroup 互相冲突的一组约束
type ConflictGroup struct {
	GroupID       string           `json:"group_id"`
	ConstraintIDs []string         `json:"constraint_ids"`
	Machines      []string         `json:"machines,omitempty"`
	Reasons       []string         `json:"reasons"`
	Severity      ConflictSeverity `json:"severity"`
}

// ConflictAnalysis 约束冲突分析结果
type ConflictAnalysis struct {
	HasConflicts              bool             `json:"has_conflicts"`
	ConflictGroups            []ConflictGroup  `json:"conflict_groups"`
	ConflictSeverity          ConflictSeverity `json:"conflict_severity"`
	IrreconcilableConstraints []string         `json:"irreconcilable_constraints"`
	SuggestedResolutions      []string         `json:"suggested_resolutions"`
	MalformedConstraints      []Malformed      `json:"malformed_constraints"`
}

// Malformed 未通过校验、不参与分析的约束
type Malformed struct {
	ConstraintID string `json:"constraint_id"`
	Reason       string `json:"reason"`
}

// pairConflict 两两比较得到的冲突
type pairConflict struct {
	a, b           int
	reason         string
	severity       ConflictSeverity
	irreconcilable bool
	resolution     string
}

// AnalyzeConstraintConflicts 两两分析硬约束之间的矛盾，并按连通关系合并为冲突组
// 只读取约束，不依赖任何方案状态；校验失败的约束列入 MalformedConstraints
func AnalyzeConstraintConflicts(constraints []*constraint.Constraint) *ConflictAnalysis {
	out := &ConflictAnalysis{
		ConflictGroups:            make([]ConflictGroup, 0),
		ConflictSeverity:          SeverityNone,
		IrreconcilableConstraints: make([]string, 0),
		SuggestedResolutions:      make([]string, 0),
		MalformedConstraints:      make([]Malformed, 0),
	}

	hard := make([]*constraint.Constraint, 0, len(constraints))
	for _, c := range constraints {
		if c == nil {
			continue
		}
		if err := c.Validate(); err != nil {
			out.MalformedConstraints = append(out.MalformedConstraints, Malformed{ConstraintID: c.ID, Reason: err.Error()})
			continue
		}
		if c.IsHard {
			hard = append(hard, c)
		}
	}
	sort.SliceStable(hard, func(i, j int) bool { return hard[i].ID < hard[j].ID })

	var pairs []pairConflict
	for i := 0; i < len(hard); i++ {
		for j := i + 1; j < len(hard); j++ {
			if pc, ok := comparePair(hard[i], hard[j]); ok {
				pc.a, pc.b = i, j
				pairs = append(pairs, pc)
			}
		}
	}
	if len(pairs) == 0 {
		return out
	}

	uf := newUnionFind(len(hard))
	for _, pc := range pairs {
		uf.union(pc.a, pc.b)
	}

	groups := make(map[int]*ConflictGroup)
	var roots []int
	irreconcilable := make(map[string]bool)
	resolutions := make(map[string]bool)
	for _, pc := range pairs {
		root := uf.find(pc.a)
		g, ok := groups[root]
		if !ok {
			g = &ConflictGroup{Severity: SeverityNone}
			groups[root] = g
			roots = append(roots, root)
		}
		g.Reasons = append(g.Reasons, pc.reason)
		if pc.severity.rank() > g.Severity.rank() {
			g.Severity = pc.severity
		}
		if pc.irreconcilable {
			irreconcilable[hard[pc.a].ID] = true
			irreconcilable[hard[pc.b].ID] = true
		}
		if !resolutions[pc.resolution] {
			resolutions[pc.resolution] = true
			out.SuggestedResolutions = append(out.SuggestedResolutions, pc.resolution)
		}
	}

	sort.Ints(roots)
	for n, root := range roots {
		g := groups[root]
		machines := make(map[string]bool)
		for i, c := range hard {
			if uf.find(i) != root {
				continue
			}
			g.ConstraintIDs = append(g.ConstraintIDs, c.ID)
			for _, m := range c.Scope.Machines {
				machines[m] = true
			}
		}
		g.Machines = sortedKeys(machines)
		g.GroupID = fmt.Sprintf("conflict-%d", n+1)
		out.ConflictGroups = append(out.ConflictGroups, *g)
		if g.Severity.rank() > out.ConflictSeverity.rank() {
			out.ConflictSeverity = g.Severity
		}
	}
	out.IrreconcilableConstraints = sortedKeys(irreconcilable)
	out.HasConflicts = true
	return out
}

// comparePair 判断两条硬约束是否矛盾
func comparePair(a, b *constraint.Constraint) (pairConflict, bool) {
	if !sharesScope(a.Scope.Machines, b.Scope.Machines) || !sharesScope(a.Scope.Plans, b.Scope.Plans) {
		return pairConflict{}, false
	}
	if b.Type < a.Type {
		a, b = b, a
	}

	switch {
	case a.Type == constraint.TypeTimeWindow && b.Type == constraint.TypeTimeWindow:
		wa, wb := *a.Scope.Window, *b.Scope.Window
		if wa.Start.Equal(wb.Start) && wa.End.Equal(wb.End) {
			return pairConflict{}, false
		}
		pc := pairConflict{
			irreconcilable: true,
			severity:       SeverityMedium,
			resolution:     fmt.Sprintf("将 %s 或 %s 降级为软约束，或合并为两窗口的交集", a.ID, b.ID),
		}
		if in, ok := wa.Intersection(wb); ok {
			pc.reason = fmt.Sprintf("硬时间窗口 %s 与 %s 不一致，仅 %.1f 小时重叠", a.ID, b.ID, in.DurationHours())
		} else {
			pc.severity = SeverityHigh
			pc.reason = fmt.Sprintf("硬时间窗口 %s 与 %s 完全不重叠", a.ID, b.ID)
		}
		return pc, true

	case a.Type == constraint.TypeMaintenanceWindow && b.Type == constraint.TypeTimeWindow:
		win := *b.Scope.Window
		blocked := win.OverlapHours(a.Params.Windows)
		if blocked < win.DurationHours()-model.Epsilon {
			return pairConflict{}, false
		}
		return pairConflict{
			reason:         fmt.Sprintf("时间窗口 %s 被维护窗口 %s 完全覆盖", b.ID, a.ID),
			severity:       SeverityHigh,
			irreconcilable: true,
			resolution:     fmt.Sprintf("调整维护计划 %s 或放宽时间窗口 %s", a.ID, b.ID),
		}, true

	case a.Type == constraint.TypeTimeWindow && b.Type == constraint.TypeWorkCalendar:
		win := *a.Scope.Window
		if len(b.Params.Windows) == 0 || win.OverlapHours(b.Params.Windows) > model.Epsilon {
			return pairConflict{}, false
		}
		return pairConflict{
			reason:         fmt.Sprintf("时间窗口 %s 内没有 %s 的工作时段", a.ID, b.ID),
			severity:       SeverityHigh,
			irreconcilable: true,
			resolution:     fmt.Sprintf("为时间窗口 %s 增加班次或改期", a.ID),
		}, true

	case a.Type == constraint.TypeMachineCapacity && b.Type == constraint.TypeMachineCapacity:
		if math.Abs(a.Params.MaxCapacity-b.Params.MaxCapacity) <= model.Epsilon {
			return pairConflict{}, false
		}
		return pairConflict{
			reason:     fmt.Sprintf("产能约束 %s(%.0f) 与 %s(%.0f) 上限不同", a.ID, a.Params.MaxCapacity, b.ID, b.Params.MaxCapacity),
			severity:   SeverityLow,
			resolution: fmt.Sprintf("合并产能约束 %s 与 %s，以较小上限为准", a.ID, b.ID),
		}, true

	case a.Type == constraint.TypePlanDemand && b.Type == constraint.TypePlanDemand:
		if math.Abs(a.Params.Demand-b.Params.Demand) <= model.Epsilon {
			return pairConflict{}, false
		}
		return pairConflict{
			reason:         fmt.Sprintf("需求约束 %s(%.0f) 与 %s(%.0f) 要求不同数量", a.ID, a.Params.Demand, b.ID, b.Params.Demand),
			severity:       SeverityHigh,
			irreconcilable: true,
			resolution:     fmt.Sprintf("保留 %s 与 %s 中的一条需求约束", a.ID, b.ID),
		}, true
	}
	return pairConflict{}, false
}

// sharesScope 两个适用范围是否相交，空列表表示全部
func sharesScope(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union 以较小下标为根，保证分组顺序稳定
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
