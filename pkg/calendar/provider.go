package calendar

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
)

// Provider 机台与日历数据来源
// 求解期间不会回调外部 I/O，调用方在求解前准备好数据
type Provider interface {
	Machines() []model.Machine
	Machine(code string) (*model.Machine, error)
	// Relations 喂料机 -> 卷包机
	Relations() map[string][]string
	Speed(machineCode, articleNr string) (model.MachineSpeed, error)
	MonthCalendar(year int, month time.Month) []model.CalendarDay
	MaintenanceWindows(machineCode string) []model.TimeWindow
}

// MemoryProvider 内存实现，读取时返回快照
type MemoryProvider struct {
	mu          sync.RWMutex
	machines    map[string]model.Machine
	relations   map[string][]string
	speeds      map[string]map[string]model.MachineSpeed // machine -> article
	calendars   map[string][]model.CalendarDay
	maintenance map[string][]model.TimeWindow
	monthOpts   MonthOptions
}

// NewMemoryProvider 创建内存数据源
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		machines:    make(map[string]model.Machine),
		relations:   make(map[string][]string),
		speeds:      make(map[string]map[string]model.MachineSpeed),
		calendars:   make(map[string][]model.CalendarDay),
		maintenance: make(map[string][]model.TimeWindow),
	}
}

// AddMachine 添加或覆盖机台
func (p *MemoryProvider) AddMachine(m model.Machine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.machines[m.Code] = m
}

// SetRelation 设置喂料机对应的卷包机
func (p *MemoryProvider) SetRelation(feeder string, makers ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relations[feeder] = append([]string(nil), makers...)
}

// SetSpeed 设置机台对产品的速度
func (p *MemoryProvider) SetSpeed(s model.MachineSpeed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.speeds[s.MachineCode]
	if !ok {
		m = make(map[string]model.MachineSpeed)
		p.speeds[s.MachineCode] = m
	}
	m[s.ArticleNr] = s
}

// SetCalendar 设置指定月份的日历
func (p *MemoryProvider) SetCalendar(year int, month time.Month, days []model.CalendarDay) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calendars[monthKey(year, month)] = append([]model.CalendarDay(nil), days...)
}

// SetMonthOptions 未显式设置日历时用于生成月历
func (p *MemoryProvider) SetMonthOptions(opts MonthOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monthOpts = opts
}

// AddMaintenance 追加维护窗口
func (p *MemoryProvider) AddMaintenance(machineCode string, windows ...model.TimeWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maintenance[machineCode] = append(p.maintenance[machineCode], windows...)
}

// Machines 返回所有机台（按编码排序）
func (p *MemoryProvider) Machines() []model.Machine {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Machine, 0, len(p.machines))
	for _, m := range p.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Machine 查询机台
func (p *MemoryProvider) Machine(code string) (*model.Machine, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.machines[code]
	if !ok {
		return nil, errors.NotFound("机台", code)
	}
	return &m, nil
}

// Relations 返回关系图快照
func (p *MemoryProvider) Relations() map[string][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]string, len(p.relations))
	for k, v := range p.relations {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Speed 查询速度，产品不可生产时返回 NOT_FOUND
func (p *MemoryProvider) Speed(machineCode, articleNr string) (model.MachineSpeed, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.machines[machineCode]; !ok {
		return model.MachineSpeed{}, errors.NotFound("机台", machineCode)
	}
	s, ok := p.speeds[machineCode][articleNr]
	if !ok {
		return model.MachineSpeed{}, errors.NotFound("机台产品速度", fmt.Sprintf("%s/%s", machineCode, articleNr))
	}
	return s, nil
}

// MonthCalendar 返回月历
func (p *MemoryProvider) MonthCalendar(year int, month time.Month) []model.CalendarDay {
	p.mu.RLock()
	days, ok := p.calendars[monthKey(year, month)]
	opts := p.monthOpts
	p.mu.RUnlock()
	if ok {
		return append([]model.CalendarDay(nil), days...)
	}
	return BuildMonth(year, month, opts)
}

// MaintenanceWindows 返回机台维护窗口
func (p *MemoryProvider) MaintenanceWindows(machineCode string) []model.TimeWindow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.TimeWindow(nil), p.maintenance[machineCode]...)
}

func monthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}
