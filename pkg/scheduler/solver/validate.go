package solver

import (
	"fmt"
	"sort"

	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

// ValidationReport 方案校验结果
type ValidationReport struct {
	IsValid                    bool                   `json:"is_valid"`
	IsFeasible                 bool                   `json:"is_feasible"`
	QualityScore               float64                `json:"quality_score"`
	ConstraintSatisfactionRate float64                `json:"constraint_satisfaction_rate"`
	HardViolations             []constraint.Violation `json:"hard_violations"`
	SoftViolations             []constraint.Violation `json:"soft_violations"`
	Problems                   []string               `json:"problems,omitempty"` // 结构性问题
	Recommendations            []string               `json:"recommendations"`
}

// ValidateSolution 以方案状态重新评估约束；同一输入的结果总是相同
// is_valid 表示方案结构完整（数量非负、窗口合法），is_feasible 表示无硬约束违反
func ValidateSolution(sol *Solution, constraints []*constraint.Constraint) *ValidationReport {
	report := &ValidationReport{
		HardViolations:  make([]constraint.Violation, 0),
		SoftViolations:  make([]constraint.Violation, 0),
		Recommendations: make([]string, 0),
	}
	if sol == nil {
		report.Problems = append(report.Problems, "方案为空")
		return report
	}

	for _, m := range sortedKeys(sol.Quantities) {
		for _, p := range sortedKeys(sol.Quantities[m]) {
			if q := sol.Quantities[m][p]; q < 0 {
				report.Problems = append(report.Problems, fmt.Sprintf("机台 %s 计划 %s 数量为负: %.2f", m, p, q))
			}
		}
	}
	for _, m := range sortedKeys(sol.Windows) {
		for _, p := range sortedKeys(sol.Windows[m]) {
			if err := sol.Windows[m][p].Validate(); err != nil {
				report.Problems = append(report.Problems, fmt.Sprintf("机台 %s 计划 %s 窗口无效", m, p))
			}
		}
	}
	report.IsValid = len(report.Problems) == 0

	mgr := constraint.NewManagerWith(constraints, 0, 0)
	res := mgr.Evaluate(sol.State())
	mgr.LogViolations(res)
	report.HardViolations = append(report.HardViolations, res.HardViolations...)
	report.SoftViolations = append(report.SoftViolations, res.SoftViolations...)
	report.IsFeasible = len(res.HardViolations) == 0
	report.QualityScore = res.Score
	report.ConstraintSatisfactionRate = res.SatisfactionRate()
	report.Recommendations = recommend(res)
	return report
}

// recommend 按违反类型给出调整建议，硬约束在前
func recommend(res *constraint.Result) []string {
	out := make([]string, 0)
	for _, list := range [][]constraint.Violation{res.HardViolations, res.SoftViolations} {
		for _, v := range list {
			kind := "软约束"
			if v.IsHard {
				kind = "硬约束"
			}
			var hint string
			switch v.ConstraintType {
			case constraint.TypeMachineCapacity:
				hint = "减少该机台数量或转移到其他机台"
			case constraint.TypeTimeWindow:
				hint = "调整开工时间或放宽计划时间窗口"
			case constraint.TypeWorkCalendar:
				hint = "把任务移到工作时段或增加班次"
			case constraint.TypeMaintenanceWindow:
				hint = "避开维护窗口或调整维护计划"
			case constraint.TypeQualityStandard:
				hint = "改用效率更高的机台"
			case constraint.TypePlanDemand:
				hint = "补足或削减分配使之与需求一致"
			}
			out = append(out, fmt.Sprintf("%s %s 违反度 %.2f：%s", kind, v.ConstraintName, v.Degree, hint))
		}
	}
	if len(out) == 0 {
		out = append(out, "方案满足全部约束")
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
