// Package selector 为生产需求选择喂料机与卷包机组合，并计算机台月度产能
package selector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paiban/prodsched/pkg/calendar"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
)

// SelectionStrategy 选机策略
type SelectionStrategy string

const (
	StrategyCapacityOptimal   SelectionStrategy = "capacity_optimal"
	StrategyEfficiencyOptimal SelectionStrategy = "efficiency_optimal"
	StrategyBalanceOptimal    SelectionStrategy = "balance_optimal"
	StrategyMaintenanceAware  SelectionStrategy = "maintenance_aware"
)

// SelectionObjective 选机目标
type SelectionObjective string

const (
	ObjectiveMaximizeThroughput SelectionObjective = "maximize_throughput"
	ObjectiveMinimizeCost       SelectionObjective = "minimize_cost"
	ObjectiveBalanceLoad        SelectionObjective = "balance_load"
	ObjectiveMinimizeSetup      SelectionObjective = "minimize_setup"
)

// ParseStrategy 解析选机策略
func ParseStrategy(s string) (SelectionStrategy, error) {
	switch v := SelectionStrategy(s); v {
	case StrategyCapacityOptimal, StrategyEfficiencyOptimal, StrategyBalanceOptimal, StrategyMaintenanceAware:
		return v, nil
	case "":
		return StrategyCapacityOptimal, nil
	}
	return "", errors.InvalidInput("strategy", fmt.Sprintf("未知选机策略 %q", s))
}

// ParseObjective 解析选机目标
func ParseObjective(s string) (SelectionObjective, error) {
	switch v := SelectionObjective(s); v {
	case ObjectiveMaximizeThroughput, ObjectiveMinimizeCost, ObjectiveBalanceLoad, ObjectiveMinimizeSetup:
		return v, nil
	case "":
		return ObjectiveMaximizeThroughput, nil
	}
	return "", errors.InvalidInput("objective", fmt.Sprintf("未知选机目标 %q", s))
}

// Config 选机配置
type Config struct {
	Strategy          SelectionStrategy
	Objective         SelectionObjective
	DefaultEfficiency float64 // 机台未配置效率时使用
	HighLoadThreshold float64 // 高负载阈值 (0-1)
	LowLoadThreshold  float64 // 低负载阈值 (0-1)
	SetupHours        float64 // 换产时间
	MinEfficiency     float64 // 效率告警阈值
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyCapacityOptimal,
		Objective:         ObjectiveMaximizeThroughput,
		DefaultEfficiency: 0.85,
		HighLoadThreshold: 0.9,
		LowLoadThreshold:  0.2,
		SetupHours:        0.5,
		MinEfficiency:     0.7,
	}
}

// Period 排产周期
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// Window 周期对应的月份窗口
func (p Period) Window() model.TimeWindow {
	return calendar.MonthWindow(p.Year, p.Month, time.UTC)
}

// Selector 机台选择器
type Selector struct {
	provider calendar.Provider
	cfg      Config
	cache    *lookupCache
	logger   *logger.ComponentLogger
}

// New 创建选择器
func New(provider calendar.Provider, cfg Config) *Selector {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.Objective == "" {
		cfg.Objective = def.Objective
	}
	if cfg.DefaultEfficiency <= 0 || cfg.DefaultEfficiency > 1 {
		cfg.DefaultEfficiency = def.DefaultEfficiency
	}
	if cfg.HighLoadThreshold <= 0 {
		cfg.HighLoadThreshold = def.HighLoadThreshold
	}
	if cfg.LowLoadThreshold <= 0 {
		cfg.LowLoadThreshold = def.LowLoadThreshold
	}
	if cfg.SetupHours < 0 {
		cfg.SetupHours = def.SetupHours
	}
	if cfg.MinEfficiency <= 0 {
		cfg.MinEfficiency = def.MinEfficiency
	}
	return &Selector{
		provider: provider,
		cfg:      cfg,
		cache:    newLookupCache(),
		logger:   logger.NewComponentLogger("selector"),
	}
}

// Config 返回当前配置
func (s *Selector) Config() Config {
	return s.cfg
}

// ClearCache 使缓存失效
func (s *Selector) ClearCache() {
	s.cache.clear()
}

// CacheStats 缓存统计
func (s *Selector) CacheStats() CacheStats {
	return s.cache.stats()
}

// CapacityInfo 机台月度产能
type CapacityInfo struct {
	MachineID        string            `json:"machine_id"`
	MachineType      model.MachineType `json:"machine_type"`
	Year             int               `json:"year"`
	Month            time.Month        `json:"month"`
	WorkingDays      int               `json:"working_days"`
	WorkingHours     float64           `json:"working_hours"` // Σ 工作小时 × 产能系数
	Efficiency       float64           `json:"efficiency"`
	MaintenanceHours float64           `json:"maintenance_hours"`
	EffectiveHours   float64           `json:"effective_hours"`
}

// CalculateMachineCapacity 计算机台月度有效产能
// effective = max(0, Σ(total_hours × capacity_factor) × efficiency − 维护小时)
func (s *Selector) CalculateMachineCapacity(machineID string, year int, month time.Month) (*CapacityInfo, error) {
	key := fmt.Sprintf("capacity:%s:%04d-%02d", machineID, year, int(month))
	v, err := s.cache.get(key, func() (interface{}, error) {
		m, err := s.provider.Machine(machineID)
		if err != nil {
			return nil, err
		}
		days := s.provider.MonthCalendar(year, month)

		info := &CapacityInfo{
			MachineID:   m.Code,
			MachineType: m.Type,
			Year:        year,
			Month:       month,
			Efficiency:  s.efficiencyOf(m),
		}
		for _, d := range days {
			if !d.IsWorking {
				continue
			}
			info.WorkingDays++
			info.WorkingHours += d.TotalHours * d.CapacityFactor
		}

		working := calendar.WorkingWindows(days)
		for _, mw := range s.provider.MaintenanceWindows(machineID) {
			info.MaintenanceHours += mw.OverlapHours(working)
		}
		info.EffectiveHours = math.Max(0, info.WorkingHours*info.Efficiency-info.MaintenanceHours)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*CapacityInfo)
	return &c, nil
}

func (s *Selector) efficiencyOf(m *model.Machine) float64 {
	if m.Efficiency > 0 && m.Efficiency <= 1 {
		return m.Efficiency
	}
	return s.cfg.DefaultEfficiency
}

// MachineFilter 机台过滤条件
type MachineFilter struct {
	Type   model.MachineType   `json:"type,omitempty"`
	Status model.MachineStatus `json:"status,omitempty"`
}

// MachineInfo 机台信息
type MachineInfo struct {
	model.Machine
	Efficiency float64  `json:"effective_efficiency"`
	Related    []string `json:"related"` // 喂料机对应的卷包机，或卷包机对应的喂料机
}

// GetAvailableMachines 按类型与状态过滤机台
func (s *Selector) GetAvailableMachines(filter MachineFilter) []MachineInfo {
	machines := s.machines()
	relations := s.relations()

	var result []MachineInfo
	for i := range machines {
		m := machines[i]
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.Status != "" {
			if m.Status != filter.Status && !(filter.Status == model.StatusActive && m.IsActive()) {
				continue
			}
		}
		info := MachineInfo{Machine: m, Efficiency: s.efficiencyOf(&m)}
		if m.Type == model.MachineFeeder {
			info.Related = append([]string(nil), relations.makers[m.Code]...)
		} else {
			info.Related = append([]string(nil), relations.feeders[m.Code]...)
		}
		result = append(result, info)
	}
	return result
}

func (s *Selector) machines() []model.Machine {
	v, _ := s.cache.get("machines", func() (interface{}, error) {
		return s.provider.Machines(), nil
	})
	return v.([]model.Machine)
}

func (s *Selector) machine(code string) (*model.Machine, error) {
	for _, m := range s.machines() {
		if m.Code == code {
			return &m, nil
		}
	}
	return s.provider.Machine(code)
}

type relationIndex struct {
	makers  map[string][]string // feeder -> makers
	feeders map[string][]string // maker -> feeders
}

func (s *Selector) relations() *relationIndex {
	v, _ := s.cache.get("relations", func() (interface{}, error) {
		idx := &relationIndex{
			makers:  make(map[string][]string),
			feeders: make(map[string][]string),
		}
		for feeder, makers := range s.provider.Relations() {
			sorted := append([]string(nil), makers...)
			sort.Strings(sorted)
			idx.makers[feeder] = sorted
			for _, mk := range sorted {
				idx.feeders[mk] = append(idx.feeders[mk], feeder)
			}
		}
		for mk := range idx.feeders {
			sort.Strings(idx.feeders[mk])
		}
		return idx, nil
	})
	return v.(*relationIndex)
}

func (s *Selector) speed(machineCode, articleNr string) (model.MachineSpeed, error) {
	v, err := s.cache.get("speed:"+machineCode+":"+articleNr, func() (interface{}, error) {
		return s.provider.Speed(machineCode, articleNr)
	})
	if err != nil {
		return model.MachineSpeed{}, err
	}
	return v.(model.MachineSpeed), nil
}

// rate 有效产出速率：速度 × 效率（速度记录未给效率时用机台效率）
func (s *Selector) rate(m *model.Machine, articleNr string) (float64, error) {
	sp, err := s.speed(m.Code, articleNr)
	if err != nil {
		return 0, err
	}
	eff := sp.Efficiency
	if eff <= 0 || eff > 1 {
		eff = s.efficiencyOf(m)
	}
	r := sp.SpeedPerHour * eff
	if r <= 0 {
		return 0, errors.NotFound("机台产品速度", m.Code+"/"+articleNr)
	}
	return r, nil
}
