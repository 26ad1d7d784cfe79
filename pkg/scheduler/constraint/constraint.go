// Package constraint 定义排产约束与约束管理器
package constraint

import (
	"fmt"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

// Type 约束类型标识
type Type string

const (
	TypeMachineCapacity   Type = "MACHINE_CAPACITY"
	TypeTimeWindow        Type = "TIME_WINDOW"
	TypeWorkCalendar      Type = "WORK_CALENDAR"
	TypeQualityStandard   Type = "QUALITY_STANDARD"
	TypeMaintenanceWindow Type = "MAINTENANCE_WINDOW"
	TypePlanDemand        Type = "PLAN_DEMAND"
)

// KnownTypes 已支持的约束类型
var KnownTypes = []Type{
	TypeMachineCapacity,
	TypeTimeWindow,
	TypeWorkCalendar,
	TypeQualityStandard,
	TypeMaintenanceWindow,
	TypePlanDemand,
}

// Category 约束类别
type Category string

const (
	CategoryHard Category = "hard" // 硬约束（必须满足）
	CategorySoft Category = "soft" // 软约束（尽量满足）
)

// Scope 约束适用范围，空列表表示全部
type Scope struct {
	Machines []string          `json:"machines,omitempty"`
	Plans    []string          `json:"plans,omitempty"`
	Window   *model.TimeWindow `json:"window,omitempty"`
}

// Params 按约束类型解释的参数
type Params struct {
	MaxCapacity   float64            `json:"max_capacity,omitempty"`   // MACHINE_CAPACITY
	Windows       []model.TimeWindow `json:"windows,omitempty"`        // WORK_CALENDAR 允许窗口 / MAINTENANCE_WINDOW 禁止窗口
	MinEfficiency float64            `json:"min_efficiency,omitempty"` // QUALITY_STANDARD
	Efficiency    map[string]float64 `json:"efficiency,omitempty"`     // QUALITY_STANDARD 机台效率
	Demand        float64            `json:"demand,omitempty"`         // PLAN_DEMAND
}

// Constraint 约束值对象，评估时不会被修改
type Constraint struct {
	ID               string  `json:"constraint_id"`
	Name             string  `json:"name,omitempty"`
	Type             Type    `json:"type"`
	IsHard           bool    `json:"is_hard"`
	Priority         int     `json:"priority"`
	ViolationPenalty float64 `json:"violation_penalty"` // 相对权重，0 视为 1
	Params           Params  `json:"params"`
	Scope            Scope   `json:"scope"`
}

// Category 返回约束类别
func (c *Constraint) Category() Category {
	if c.IsHard {
		return CategoryHard
	}
	return CategorySoft
}

// Weight 惩罚权重
func (c *Constraint) Weight() float64 {
	if c.ViolationPenalty <= 0 {
		return 1
	}
	return c.ViolationPenalty
}

// DisplayName 显示名称
func (c *Constraint) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s[%s]", c.Type, c.ID)
}

// AppliesToMachine 是否作用于该机台
func (c *Constraint) AppliesToMachine(machine string) bool {
	return contains(c.Scope.Machines, machine)
}

// AppliesToPlan 是否作用于该计划
func (c *Constraint) AppliesToPlan(plan string) bool {
	return contains(c.Scope.Plans, plan)
}

// Validate 校验约束定义
func (c *Constraint) Validate() error {
	if c.ID == "" {
		return errors.Validation("constraint_id", "不能为空")
	}
	if c.ViolationPenalty < 0 {
		return errors.Validation("violation_penalty", "不能为负数").WithField("constraint", c.ID)
	}
	switch c.Type {
	case TypeMachineCapacity:
		if c.Params.MaxCapacity < 0 {
			return errors.Validation("max_capacity", "不能为负数").WithField("constraint", c.ID)
		}
	case TypeTimeWindow:
		if c.Scope.Window == nil {
			return errors.Validation("scope.window", "TIME_WINDOW 约束必须指定窗口").WithField("constraint", c.ID)
		}
		if err := c.Scope.Window.Validate(); err != nil {
			return err
		}
	case TypeWorkCalendar, TypeMaintenanceWindow:
		for _, w := range c.Params.Windows {
			if err := w.Validate(); err != nil {
				return err
			}
		}
	case TypeQualityStandard:
		if c.Params.MinEfficiency < 0 || c.Params.MinEfficiency > 1 {
			return errors.Validation("min_efficiency", "必须在 [0,1] 区间").WithField("constraint", c.ID)
		}
	case TypePlanDemand:
		if c.Params.Demand <= 0 {
			return errors.Validation("demand", "必须大于0").WithField("constraint", c.ID)
		}
	default:
		return errors.Validation("type", fmt.Sprintf("未知约束类型 %q", c.Type)).WithField("constraint", c.ID)
	}
	return nil
}

func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Violation 约束违反详情
type Violation struct {
	ConstraintID   string  `json:"constraint_id"`
	ConstraintType Type    `json:"constraint_type"`
	ConstraintName string  `json:"constraint_name"`
	IsHard         bool    `json:"is_hard"`
	Degree         float64 `json:"degree"`
	Penalty        float64 `json:"penalty"`
	Message        string  `json:"message"`
}

// Result 约束评估结果
type Result struct {
	IsValid        bool               `json:"is_valid"`
	TotalPenalty   float64            `json:"total_penalty"`
	HardViolations []Violation        `json:"hard_violations"`
	SoftViolations []Violation        `json:"soft_violations"`
	Degrees        map[string]float64 `json:"degrees"`
	Score          float64            `json:"score"` // 0-100
}

// CalculateScore 计算约束满足度得分
func (r *Result) CalculateScore(maxPenalty float64) {
	if maxPenalty == 0 {
		r.Score = 100.0
		return
	}
	r.Score = 100.0 * (maxPenalty - r.TotalPenalty) / maxPenalty
	if r.Score < 0 {
		r.Score = 0
	}
}

// SatisfactionRate 未违反约束的比例
func (r *Result) SatisfactionRate() float64 {
	if len(r.Degrees) == 0 {
		return 1
	}
	ok := 0
	for _, d := range r.Degrees {
		if d <= model.Epsilon {
			ok++
		}
	}
	return float64(ok) / float64(len(r.Degrees))
}
