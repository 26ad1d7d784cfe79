package selector

import (
	"fmt"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

// CheckType 机台约束检查项
type CheckType string

const (
	CheckCapacity        CheckType = "capacity"
	CheckAvailability    CheckType = "availability"
	CheckMaintenance     CheckType = "maintenance"
	CheckCompatibility   CheckType = "compatibility"
	CheckEfficiency      CheckType = "efficiency"
	CheckSetupTime       CheckType = "setup_time"
	CheckWorkingCalendar CheckType = "working_calendar"
	CheckLoadBalance     CheckType = "load_balance"
)

// AllChecks 全部检查项
var AllChecks = []CheckType{
	CheckCapacity,
	CheckAvailability,
	CheckMaintenance,
	CheckCompatibility,
	CheckEfficiency,
	CheckSetupTime,
	CheckWorkingCalendar,
	CheckLoadBalance,
}

// ConstraintIssue 检查发现的问题
type ConstraintIssue struct {
	Check   CheckType `json:"check"`
	Message string    `json:"message"`
}

// ConstraintReport 机台约束检查报告
type ConstraintReport struct {
	MachineID           string            `json:"machine_id"`
	ArticleNr           string            `json:"article_nr"`
	Quantity            float64           `json:"quantity"`
	OverallSatisfaction bool              `json:"overall_satisfaction"`
	Violations          []ConstraintIssue `json:"violations"`
	Warnings            []ConstraintIssue `json:"warnings"`
	Checked             []CheckType       `json:"checked"`
	SatisfactionRate    float64           `json:"satisfaction_rate"`
}

// CheckMachineConstraints 检查机台在时间窗口内生产指定数量是否满足约束
func (s *Selector) CheckMachineConstraints(machineID, articleNr string, quantity float64, window model.TimeWindow, checks ...CheckType) (*ConstraintReport, error) {
	m, err := s.machine(machineID)
	if err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, errors.InvalidInput("quantity", "不能为负数")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		checks = AllChecks
	}

	report := &ConstraintReport{
		MachineID:  machineID,
		ArticleNr:  articleNr,
		Quantity:   quantity,
		Violations: make([]ConstraintIssue, 0),
		Warnings:   make([]ConstraintIssue, 0),
	}

	rate, rateErr := s.rate(m, articleNr)
	requiredHours := 0.0
	if rateErr == nil {
		requiredHours = quantity / rate
	}

	days := s.provider.MonthCalendar(window.Start.Year(), window.Start.Month())
	if window.End.Month() != window.Start.Month() || window.End.Year() != window.Start.Year() {
		days = append(days, s.provider.MonthCalendar(window.End.Year(), window.End.Month())...)
	}
	maintenance := s.provider.MaintenanceWindows(machineID)
	working := calendar.WorkingWindows(days)
	usable := calendar.SubtractWindows(working, maintenance)
	workingInWindow := window.OverlapHours(working)
	usableInWindow := window.OverlapHours(usable)

	failed := 0
	for _, c := range checks {
		before := len(report.Violations)
		switch c {
		case CheckCapacity:
			if rateErr == nil && requiredHours > usableInWindow+model.Epsilon {
				report.Violations = append(report.Violations, ConstraintIssue{c,
					fmt.Sprintf("需要 %.1f 小时，窗口内可用 %.1f 小时", requiredHours, usableInWindow)})
			}
		case CheckAvailability:
			if !m.IsActive() {
				report.Violations = append(report.Violations, ConstraintIssue{c,
					fmt.Sprintf("机台状态为 %s", m.Status)})
			}
		case CheckMaintenance:
			overlap := window.OverlapHours(maintenance)
			switch {
			case overlap >= window.DurationHours()-model.Epsilon:
				report.Violations = append(report.Violations, ConstraintIssue{c, "时间窗口完全处于维护期"})
			case overlap > 0:
				report.Warnings = append(report.Warnings, ConstraintIssue{c,
					fmt.Sprintf("时间窗口内有 %.1f 小时维护", overlap)})
			}
		case CheckCompatibility:
			if rateErr != nil {
				report.Violations = append(report.Violations, ConstraintIssue{c,
					fmt.Sprintf("机台不能生产产品 %s", articleNr)})
			}
		case CheckEfficiency:
			if eff := s.efficiencyOf(m); eff < s.cfg.MinEfficiency {
				report.Warnings = append(report.Warnings, ConstraintIssue{c,
					fmt.Sprintf("机台效率 %.2f 低于 %.2f", eff, s.cfg.MinEfficiency)})
			}
		case CheckSetupTime:
			if rateErr == nil && requiredHours+s.cfg.SetupHours > usableInWindow+model.Epsilon && requiredHours <= usableInWindow+model.Epsilon {
				report.Warnings = append(report.Warnings, ConstraintIssue{c,
					fmt.Sprintf("加上换产时间 %.1f 小时后窗口不足", s.cfg.SetupHours)})
			}
		case CheckWorkingCalendar:
			switch {
			case workingInWindow <= model.Epsilon:
				report.Violations = append(report.Violations, ConstraintIssue{c, "时间窗口内没有工作时段"})
			case workingInWindow < window.DurationHours()-model.Epsilon:
				report.Warnings = append(report.Warnings, ConstraintIssue{c,
					fmt.Sprintf("窗口 %.1f 小时中仅 %.1f 小时为工作时段", window.DurationHours(), workingInWindow)})
			}
		case CheckLoadBalance:
			info, err := s.CalculateMachineCapacity(machineID, window.Start.Year(), window.Start.Month())
			if err == nil && info.EffectiveHours > 0 && requiredHours/info.EffectiveHours > s.cfg.HighLoadThreshold {
				report.Warnings = append(report.Warnings, ConstraintIssue{c,
					fmt.Sprintf("该任务将占用月度产能的 %.0f%%", requiredHours/info.EffectiveHours*100)})
			}
		default:
			return nil, errors.InvalidInput("constraint_types", fmt.Sprintf("未知检查项 %q", c))
		}
		if len(report.Violations) > before {
			failed++
		}
		report.Checked = append(report.Checked, c)
	}

	report.OverallSatisfaction = len(report.Violations) == 0
	report.SatisfactionRate = float64(len(checks)-failed) / float64(len(checks))
	return report, nil
}
