package model

import (
	"sort"
	"time"
)

// ResourceAllocation 资源分配结果
// 返回后视为不可变，改进步骤通过 Derive 生成新版本
type ResourceAllocation struct {
	AllocationID             string                        `json:"allocation_id"`
	Version                  int                           `json:"version"`
	ParentID                 string                        `json:"parent_id,omitempty"`
	Allocations              map[string]map[string]float64 `json:"allocations"` // resource -> plan -> qty
	Costs                    map[string]map[string]float64 `json:"costs"`
	PlanTargets              map[string]float64            `json:"plan_targets"`
	PlanPriorities           map[string]Priority           `json:"plan_priorities,omitempty"`
	Candidates               map[string][]string           `json:"candidates,omitempty"` // plan -> resources
	ObjectiveValues          map[string]float64            `json:"objective_values"`
	Weights                  map[string]float64            `json:"weights,omitempty"` // 归一化后的目标权重
	ConstraintViolations     map[string]float64            `json:"constraint_violations"`
	TotalCost                float64                       `json:"total_cost"`
	TotalCapacityUtilization float64                       `json:"total_capacity_utilization"`
	OptimizationScore        float64                       `json:"optimization_score"`
	FeasibilityScore         float64                       `json:"feasibility_score"`
	AlgorithmUsed            string                        `json:"algorithm_used"`
	GenerationTime           time.Time                     `json:"generation_time"`
}

// NewAllocation 创建空分配
func NewAllocation(algorithm string) *ResourceAllocation {
	return &ResourceAllocation{
		AllocationID:         NewID(),
		Version:              1,
		Allocations:          make(map[string]map[string]float64),
		Costs:                make(map[string]map[string]float64),
		PlanTargets:          make(map[string]float64),
		PlanPriorities:       make(map[string]Priority),
		Candidates:           make(map[string][]string),
		ObjectiveValues:      make(map[string]float64),
		Weights:              make(map[string]float64),
		ConstraintViolations: make(map[string]float64),
		AlgorithmUsed:        algorithm,
		GenerationTime:       time.Now(),
	}
}

// Clone 深拷贝（保留标识）
func (a *ResourceAllocation) Clone() *ResourceAllocation {
	c := *a
	c.Allocations = cloneNested(a.Allocations)
	c.Costs = cloneNested(a.Costs)
	c.PlanTargets = cloneFlat(a.PlanTargets)
	c.PlanPriorities = make(map[string]Priority, len(a.PlanPriorities))
	for k, v := range a.PlanPriorities {
		c.PlanPriorities[k] = v
	}
	c.ObjectiveValues = cloneFlat(a.ObjectiveValues)
	c.Weights = cloneFlat(a.Weights)
	c.ConstraintViolations = cloneFlat(a.ConstraintViolations)
	c.Candidates = make(map[string][]string, len(a.Candidates))
	for k, v := range a.Candidates {
		c.Candidates[k] = append([]string(nil), v...)
	}
	return &c
}

// PlanPriority 计划优先级，未记录时为 NORMAL
func (a *ResourceAllocation) PlanPriority(plan string) Priority {
	if p, ok := a.PlanPriorities[plan]; ok && p != 0 {
		return p
	}
	return PriorityNormal
}

// Derive 基于当前分配生成新版本
func (a *ResourceAllocation) Derive(algorithm string) *ResourceAllocation {
	c := a.Clone()
	c.AllocationID = NewID()
	c.ParentID = a.AllocationID
	c.Version = a.Version + 1
	c.GenerationTime = time.Now()
	if algorithm != "" {
		c.AlgorithmUsed = algorithm
	}
	return c
}

// Set 设置分配量，仅用于构建中的新版本
func (a *ResourceAllocation) Set(resource, plan string, qty float64) {
	if qty <= Epsilon {
		if m, ok := a.Allocations[resource]; ok {
			delete(m, plan)
			if len(m) == 0 {
				delete(a.Allocations, resource)
			}
		}
		return
	}
	m, ok := a.Allocations[resource]
	if !ok {
		m = make(map[string]float64)
		a.Allocations[resource] = m
	}
	m[plan] = qty
}

// Get 获取分配量
func (a *ResourceAllocation) Get(resource, plan string) float64 {
	return a.Allocations[resource][plan]
}

// PlanTotal 计划在所有资源上的分配总量
func (a *ResourceAllocation) PlanTotal(plan string) float64 {
	total := 0.0
	for _, m := range a.Allocations {
		total += m[plan]
	}
	return total
}

// ResourceTotal 资源上的分配总量
func (a *ResourceAllocation) ResourceTotal(resource string) float64 {
	total := 0.0
	for _, q := range a.Allocations[resource] {
		total += q
	}
	return total
}

// Resources 已分配资源（排序）
func (a *ResourceAllocation) Resources() []string {
	return sortedKeys(a.Allocations)
}

// Plans 目标计划（排序）
func (a *ResourceAllocation) Plans() []string {
	return sortedKeys(a.PlanTargets)
}

// PlanResources 计划使用的资源（排序）
func (a *ResourceAllocation) PlanResources(plan string) []string {
	var out []string
	for res, m := range a.Allocations {
		if m[plan] > Epsilon {
			out = append(out, res)
		}
	}
	sort.Strings(out)
	return out
}

// IsFeasible 无任何硬约束违反
func (a *ResourceAllocation) IsFeasible() bool {
	for _, d := range a.ConstraintViolations {
		if d > Epsilon {
			return false
		}
	}
	return true
}

func cloneNested(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for k, m := range in {
		out[k] = cloneFlat(m)
	}
	return out
}

func cloneFlat(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
