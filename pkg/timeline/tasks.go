package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/selector"
)

// MachineSpec 排产用的机台信息
type MachineSpec struct {
	Code               string             `json:"code" yaml:"code"`
	FeederCode         string             `json:"feeder_code,omitempty" yaml:"feeder_code"`
	RatePerHour        float64            `json:"rate_per_hour" yaml:"rate_per_hour"`
	Rates              map[string]float64 `json:"rates,omitempty" yaml:"rates"` // 产品 -> 件/小时
	MaintenanceWindows []model.TimeWindow `json:"maintenance_windows,omitempty" yaml:"maintenance_windows"`
}

func (m *MachineSpec) rate(article string) float64 {
	if r, ok := m.Rates[article]; ok && r > 0 {
		return r
	}
	return m.RatePerHour
}

// PlanData 排产输入
// 数量来源依次为 Allocation、Pairs、计划的 MakerCodes 均分
type PlanData struct {
	Plans      []model.PlanItem           `json:"plans"`
	Allocation *model.ResourceAllocation  `json:"allocation,omitempty"`
	Pairs      []selector.FeederMakerPair `json:"pairs,omitempty"`
	Machines   []MachineSpec              `json:"machines"`
	Calendar   []model.CalendarDay        `json:"calendar,omitempty"`
	Locked     []*model.ScheduledTask     `json:"locked,omitempty"` // 已下达的任务，保持原时间
}

// SpecsFromPairs 由选机结果汇总卷包机的喂料机与各产品速率
// 同一卷包机出现在多个组合时喂料机取第一个
func SpecsFromPairs(pairs []selector.FeederMakerPair, maintenance map[string][]model.TimeWindow) []MachineSpec {
	byCode := make(map[string]*MachineSpec)
	for _, p := range pairs {
		for _, mk := range p.MakerCodes {
			m, ok := byCode[mk]
			if !ok {
				m = &MachineSpec{Code: mk, FeederCode: p.FeederCode, Rates: make(map[string]float64)}
				byCode[mk] = m
			}
			if r := p.Rates[mk]; r > 0 {
				m.Rates[p.ArticleNr] = r
				if r > m.RatePerHour {
					m.RatePerHour = r
				}
			}
		}
	}
	out := make([]MachineSpec, 0, len(byCode))
	for _, code := range sortedKeys(byCode) {
		m := byCode[code]
		m.MaintenanceWindows = maintenance[code]
		out = append(out, *m)
	}
	return out
}

// piece 组内一台机台的任务
type piece struct {
	machine string
	feeder  string
	qty     float64
	hours   float64
}

// group 同一计划拆分到多台机的任务，共享开始与结束时间
type group struct {
	id       string
	plan     *model.PlanItem
	priority model.Priority
	pieces   []piece
	hours    float64
	totalQty float64
}

func (g *group) request() slotRequest {
	req := slotRequest{group: g.id, article: g.plan.ArticleNr, hours: g.hours}
	for _, p := range g.pieces {
		req.machines = append(req.machines, p.machine)
		if p.feeder != "" && !containsStr(req.feeders, p.feeder) {
			req.feeders = append(req.feeders, p.feeder)
		}
	}
	return req
}

// buildGroups 校验输入并按计划生成任务组
func buildGroups(data *PlanData) ([]*group, map[string]*MachineSpec, error) {
	ve := &errors.ValidationErrors{}
	if len(data.Plans) == 0 {
		ve.Add("plans", "不能为空")
	}
	if len(data.Machines) == 0 {
		ve.Add("machines", "不能为空")
	}
	if ve.HasErrors() {
		return nil, nil, ve.ToAppError()
	}

	machines := make(map[string]*MachineSpec, len(data.Machines))
	for i := range data.Machines {
		m := &data.Machines[i]
		if m.Code == "" {
			return nil, nil, errors.Validation(fmt.Sprintf("machines[%d].code", i), "不能为空")
		}
		if _, dup := machines[m.Code]; dup {
			return nil, nil, errors.Validation("machines", fmt.Sprintf("机台 %s 重复", m.Code))
		}
		machines[m.Code] = m
	}

	pairFeeder := make(map[string]map[string]string) // plan -> maker -> feeder
	pairQty := make(map[string]map[string]float64)
	for _, p := range data.Pairs {
		if pairFeeder[p.PlanID] == nil {
			pairFeeder[p.PlanID] = make(map[string]string)
			pairQty[p.PlanID] = make(map[string]float64)
		}
		for _, mk := range p.MakerCodes {
			pairFeeder[p.PlanID][mk] = p.FeederCode
			pairQty[p.PlanID][mk] += p.Quantities[mk]
		}
	}

	seen := make(map[string]bool, len(data.Plans))
	groups := make([]*group, 0, len(data.Plans))
	for i := range data.Plans {
		plan := &data.Plans[i]
		if err := plan.Validate(); err != nil {
			return nil, nil, err
		}
		if seen[plan.PlanID] {
			return nil, nil, errors.Validation("plans", fmt.Sprintf("计划 %s 重复", plan.PlanID))
		}
		seen[plan.PlanID] = true

		quantities := planQuantities(plan, data.Allocation, pairQty[plan.PlanID])
		if len(quantities) == 0 {
			return nil, nil, errors.Validation("plans", fmt.Sprintf("计划 %s 没有分配机台", plan.PlanID))
		}

		g := &group{id: plan.PlanID, plan: plan, priority: plan.EffectivePriority()}
		for _, code := range sortedKeys(quantities) {
			m, ok := machines[code]
			if !ok {
				return nil, nil, errors.Validation("machines", fmt.Sprintf("计划 %s 使用的机台 %s 未配置", plan.PlanID, code))
			}
			rate := m.rate(plan.ArticleNr)
			if rate <= 0 {
				return nil, nil, errors.Validation("machines", fmt.Sprintf("机台 %s 没有产品 %s 的速率", code, plan.ArticleNr))
			}
			feeder := m.FeederCode
			if f, ok := pairFeeder[plan.PlanID][code]; ok && f != "" {
				feeder = f
			}
			qty := quantities[code]
			hours := math.Ceil(qty/rate*60) / 60
			g.pieces = append(g.pieces, piece{machine: code, feeder: feeder, qty: qty, hours: hours})
			g.totalQty += qty
			g.hours = math.Max(g.hours, hours)
		}
		groups = append(groups, g)
	}
	return groups, machines, nil
}

// planQuantities 计划在各机台上的数量
func planQuantities(plan *model.PlanItem, alloc *model.ResourceAllocation, fromPairs map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	if alloc != nil {
		for _, res := range alloc.PlanResources(plan.PlanID) {
			if q := alloc.Get(res, plan.PlanID); q > model.Epsilon {
				out[res] = q
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	for mk, q := range fromPairs {
		if q > model.Epsilon {
			out[mk] = q
		}
	}
	if len(out) > 0 {
		return out
	}

	makers := uniqueSorted(plan.MakerCodes)
	if len(makers) == 0 {
		return out
	}
	share := math.Floor(plan.TargetQuantity / float64(len(makers)))
	rest := plan.TargetQuantity
	for i, mk := range makers {
		if i == len(makers)-1 {
			out[mk] = rest
			break
		}
		out[mk] = share
		rest -= share
	}
	return out
}

// toTasks 组在 start 开工时生成的任务，所有任务共享开始与结束
func (g *group) toTasks(start time.Time, d time.Duration, setup float64) []*model.ScheduledTask {
	tasks := make([]*model.ScheduledTask, 0, len(g.pieces))
	for _, p := range g.pieces {
		tasks = append(tasks, &model.ScheduledTask{
			TaskID:            g.id + "@" + p.machine,
			GroupID:           g.id,
			PlanID:            g.plan.PlanID,
			WorkOrderNr:       g.plan.WorkOrderNr,
			ArticleNr:         g.plan.ArticleNr,
			MachineID:         p.machine,
			FeederID:          p.feeder,
			StartTime:         start,
			EndTime:           start.Add(d),
			AllocatedQuantity: p.qty,
			Priority:          g.priority,
			SetupHours:        setup,
		})
	}
	return tasks
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
