// Package constraints 排产约束库，供接口与命令行展示可用约束及其参数
package constraints

import (
	"sort"

	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// ConstraintParam 约束参数定义
type ConstraintParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // int, float, string, bool, array, window
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`
	Min         string `json:"min,omitempty"`
	Max         string `json:"max,omitempty"`
}

// ConstraintDefinition 约束定义
type ConstraintDefinition struct {
	Name        constraint.Type   `json:"name"`
	DisplayName string            `json:"display_name"`
	Type        string            `json:"type"` // 默认类别 hard / soft
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Scopes      []string          `json:"scopes"` // 可用的作用范围
	Params      []ConstraintParam `json:"params"`
}

// LibraryResponse 约束库响应
type LibraryResponse struct {
	Library []ConstraintDefinition `json:"library"`
}

var penaltyParam = ConstraintParam{
	Name: "violation_penalty", Type: "float", Description: "违反权重，实际罚分 = 违反度 × 权重 × 类别罚分", Default: "1", Min: "0",
}

// GetLibrary 获取完整的约束库，按名称排序
func GetLibrary() []ConstraintDefinition {
	lib := []ConstraintDefinition{
		{
			Name:        constraint.TypeMachineCapacity,
			DisplayName: "机台产能",
			Type:        "hard",
			Category:    "产能",
			Description: "机台在周期内分配的总数量不得超过最大产能，违反度为超出部分占产能的比例。",
			Scopes:      []string{"machines"},
			Params: []ConstraintParam{
				{Name: "max_capacity", Type: "float", Description: "最大产能(件)", Min: "0"},
				penaltyParam,
			},
		},
		{
			Name:        constraint.TypeTimeWindow,
			DisplayName: "计划时间窗口",
			Type:        "hard",
			Category:    "时间",
			Description: "作用范围内的任务必须在窗口内开工并完工，违反度为超出窗口的时长占任务时长的比例。",
			Scopes:      []string{"machines", "plans", "window"},
			Params:      []ConstraintParam{{Name: "window", Type: "window", Description: "允许的开始与结束时间"}, penaltyParam},
		},
		{
			Name:        constraint.TypeWorkCalendar,
			DisplayName: "工作日历",
			Type:        "hard",
			Category:    "时间",
			Description: "任务开工时间必须落在工作日班次内，节假日与维护日不可开工。",
			Scopes:      []string{"machines", "plans"},
			Params:      []ConstraintParam{{Name: "windows", Type: "array", Description: "允许开工的时间段"}, penaltyParam},
		},
		{
			Name:        constraint.TypeQualityStandard,
			DisplayName: "质量标准",
			Type:        "soft",
			Category:    "质量",
			Description: "分配到效率低于阈值的机台的数量按效率差距计入违反度。",
			Scopes:      []string{"machines", "plans"},
			Params: []ConstraintParam{
				{Name: "min_efficiency", Type: "float", Description: "最低效率", Default: "0.7", Min: "0", Max: "1"},
				{Name: "efficiency", Type: "object", Description: "机台 -> 效率"},
				penaltyParam,
			},
		},
		{
			Name:        constraint.TypeMaintenanceWindow,
			DisplayName: "维护窗口",
			Type:        "hard",
			Category:    "设备",
			Description: "任务不得与机台维护窗口重叠，违反度为重叠时长占任务时长的比例。",
			Scopes:      []string{"machines"},
			Params:      []ConstraintParam{{Name: "windows", Type: "array", Description: "禁止生产的时间段"}, penaltyParam},
		},
		{
			Name:        constraint.TypePlanDemand,
			DisplayName: "计划需求",
			Type:        "hard",
			Category:    "产能",
			Description: "计划在各机台上分配的数量之和必须等于需求量，违反度为缺口或超出部分占需求的比例。",
			Scopes:      []string{"plans"},
			Params:      []ConstraintParam{{Name: "demand", Type: "float", Description: "需求数量(件)", Min: "0"}, penaltyParam},
		},
	}
	sort.Slice(lib, func(i, j int) bool { return lib[i].Name < lib[j].Name })
	return lib
}

// Find 按约束类型查找定义
func Find(t constraint.Type) (ConstraintDefinition, bool) {
	for _, d := range GetLibrary() {
		if d.Name == t {
			return d, true
		}
	}
	return ConstraintDefinition{}, false
}

// ByCategory 按分类分组
func ByCategory() map[string][]ConstraintDefinition {
	out := make(map[string][]ConstraintDefinition)
	for _, d := range GetLibrary() {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}
