package selector

import (
	"sort"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/model"
)

// ResourcesFor 将选机结果转换为资源优化的输入：卷包机产能快照与计划候选资源
// 产能以件计，使用该机在本次选机中各产品速率的数量加权平均
func (s *Selector) ResourcesFor(pairing *PairingResult) ([]*model.ResourceCapacity, map[string][]string, error) {
	type agg struct {
		qty   float64
		hours float64
	}
	byMaker := make(map[string]*agg)
	candidates := make(map[string][]string)

	for _, p := range pairing.FeederMakerPairs {
		for _, mk := range p.MakerCodes {
			a, ok := byMaker[mk]
			if !ok {
				a = &agg{}
				byMaker[mk] = a
			}
			q := p.Quantities[mk]
			a.qty += q
			if r := p.Rates[mk]; r > 0 {
				a.hours += q / r
			}
			candidates[p.PlanID] = appendUnique(candidates[p.PlanID], mk)
		}
	}

	makers := make([]string, 0, len(byMaker))
	for mk := range byMaker {
		makers = append(makers, mk)
	}
	sort.Strings(makers)

	days := s.provider.MonthCalendar(pairing.Period.Year, pairing.Period.Month)
	working := calendar.WorkingWindows(days)

	resources := make([]*model.ResourceCapacity, 0, len(makers))
	for _, mk := range makers {
		m, err := s.machine(mk)
		if err != nil {
			return nil, nil, err
		}
		info, err := s.CalculateMachineCapacity(mk, pairing.Period.Year, pairing.Period.Month)
		if err != nil {
			return nil, nil, err
		}
		a := byMaker[mk]
		rate := 0.0
		if a.hours > 0 {
			rate = a.qty / a.hours
		}
		total := info.EffectiveHours * rate
		maintenance := s.provider.MaintenanceWindows(mk)
		resources = append(resources, &model.ResourceCapacity{
			ResourceID:          mk,
			ResourceType:        m.Type,
			TotalCapacity:       total,
			AvailableCapacity:   total,
			Unit:                "件",
			CostPerUnit:         m.CostPerUnit,
			EfficiencyFactor:    info.Efficiency,
			AvailabilityWindows: calendar.SubtractWindows(working, maintenance),
			MaintenanceWindows:  maintenance,
		})
	}

	for plan := range candidates {
		sort.Strings(candidates[plan])
	}
	return resources, candidates, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
