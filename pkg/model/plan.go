package model

import (
	"time"

	"github.com/paiban/prodsched/pkg/errors"
)

// PlanItem 月度生产计划条目（调度开始后只读）
type PlanItem struct {
	PlanID         string    `json:"plan_id" yaml:"plan_id"`
	BatchID        string    `json:"batch_id,omitempty" yaml:"batch_id"`
	WorkOrderNr    string    `json:"work_order_nr" yaml:"work_order_nr"`
	ArticleNr      string    `json:"article_nr" yaml:"article_nr"`
	ArticleName    string    `json:"article_name,omitempty" yaml:"article_name"`
	TargetQuantity float64   `json:"target_quantity" yaml:"target_quantity"`
	PlannedBoxes   int       `json:"planned_boxes,omitempty" yaml:"planned_boxes"`
	FeederCodes    []string  `json:"feeder_codes,omitempty" yaml:"feeder_codes"`
	MakerCodes     []string  `json:"maker_codes,omitempty" yaml:"maker_codes"`
	PlannedStart   time.Time `json:"planned_start" yaml:"planned_start"`
	PlannedEnd     time.Time `json:"planned_end" yaml:"planned_end"`
	Priority       Priority  `json:"priority" yaml:"priority"`
}

// Window 计划时间窗口
func (p *PlanItem) Window() TimeWindow {
	return TimeWindow{Start: p.PlannedStart, End: p.PlannedEnd}
}

// Validate 校验计划条目
func (p *PlanItem) Validate() error {
	ve := &errors.ValidationErrors{}
	if p.PlanID == "" {
		ve.Add("plan_id", "不能为空")
	}
	if p.ArticleNr == "" {
		ve.Add("article_nr", "不能为空")
	}
	if p.TargetQuantity <= 0 {
		ve.Add("target_quantity", "必须大于0")
	}
	if !p.PlannedStart.IsZero() || !p.PlannedEnd.IsZero() {
		if err := p.Window().Validate(); err != nil {
			ve.Add("planned_window", err.Error())
		}
	}
	if ve.HasErrors() {
		return ve.ToAppError().WithField("plan", p.PlanID)
	}
	return nil
}

// EffectivePriority 未设置时视为 NORMAL
func (p *PlanItem) EffectivePriority() Priority {
	if p.Priority == 0 {
		return PriorityNormal
	}
	return p.Priority
}

// ProductionRequirement 机台选择的输入需求
type ProductionRequirement struct {
	RequirementID    string     `json:"requirement_id"`
	PlanID           string     `json:"plan_id"`
	ArticleNr        string     `json:"article_nr"`
	TargetQuantity   float64    `json:"target_quantity"`
	Window           TimeWindow `json:"window"`
	Priority         Priority   `json:"priority"`
	PreferredFeeders []string   `json:"preferred_feeders,omitempty"`
	PreferredMakers  []string   `json:"preferred_makers,omitempty"`
}

// RequirementFromPlan 由计划条目生成需求
func RequirementFromPlan(p *PlanItem) ProductionRequirement {
	return ProductionRequirement{
		RequirementID:    "REQ-" + p.PlanID,
		PlanID:           p.PlanID,
		ArticleNr:        p.ArticleNr,
		TargetQuantity:   p.TargetQuantity,
		Window:           p.Window(),
		Priority:         p.EffectivePriority(),
		PreferredFeeders: append([]string(nil), p.FeederCodes...),
		PreferredMakers:  append([]string(nil), p.MakerCodes...),
	}
}
