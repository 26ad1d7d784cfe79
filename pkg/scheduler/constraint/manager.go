package constraint

import (
	"sort"
	"sync"

	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
)

const (
	DefaultHardPenalty = 1000.0
	DefaultSoftPenalty = 10.0
)

// Manager 约束管理器
type Manager struct {
	constraints []*Constraint
	hardPenalty float64
	softPenalty float64
	mu          sync.RWMutex
	logger      *logger.ComponentLogger
}

// NewManager 创建约束管理器
func NewManager() *Manager {
	return &Manager{
		constraints: make([]*Constraint, 0),
		hardPenalty: DefaultHardPenalty,
		softPenalty: DefaultSoftPenalty,
		logger:      logger.NewComponentLogger("constraint"),
	}
}

// NewManagerWith 创建并注册一组约束
func NewManagerWith(constraints []*Constraint, hardPenalty, softPenalty float64) *Manager {
	m := NewManager()
	m.SetPenalties(hardPenalty, softPenalty)
	for _, c := range constraints {
		m.Register(c)
	}
	return m
}

// SetPenalties 设置硬/软约束惩罚系数，非正值保持默认
func (m *Manager) SetPenalties(hard, soft float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hard > 0 {
		m.hardPenalty = hard
	}
	if soft > 0 {
		m.softPenalty = soft
	}
}

// Register 注册约束，同ID替换
func (m *Manager) Register(c *Constraint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.constraints {
		if existing.ID == c.ID {
			m.constraints[i] = c
			return
		}
	}

	m.constraints = append(m.constraints, c)

	// 硬约束在前，优先级高的在前，最后按ID
	sort.SliceStable(m.constraints, func(i, j int) bool {
		ci, cj := m.constraints[i], m.constraints[j]
		if ci.IsHard != cj.IsHard {
			return ci.IsHard
		}
		if ci.Priority != cj.Priority {
			return ci.Priority > cj.Priority
		}
		return ci.ID < cj.ID
	})
}

// Unregister 注销约束
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.constraints {
		if c.ID == id {
			m.constraints = append(m.constraints[:i], m.constraints[i+1:]...)
			return
		}
	}
}

// GetConstraint 获取约束
func (m *Manager) GetConstraint(id string) *Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.constraints {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// GetAll 获取所有约束
func (m *Manager) GetAll() []*Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Constraint, len(m.constraints))
	copy(result, m.constraints)
	return result
}

// GetByCategory 按类别获取约束
func (m *Manager) GetByCategory(cat Category) []*Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Constraint
	for _, c := range m.constraints {
		if c.Category() == cat {
			result = append(result, c)
		}
	}
	return result
}

// PenaltyFor 约束的单位违反惩罚
func (m *Manager) PenaltyFor(c *Constraint) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c.IsHard {
		return m.hardPenalty * c.Weight()
	}
	return m.softPenalty * c.Weight()
}

// Evaluate 评估所有约束
func (m *Manager) Evaluate(s *State) *Result {
	constraints := m.GetAll()

	result := &Result{
		IsValid:        true,
		HardViolations: make([]Violation, 0),
		SoftViolations: make([]Violation, 0),
		Degrees:        make(map[string]float64, len(constraints)),
	}

	maxPenalty := 0.0
	for _, c := range constraints {
		unit := m.PenaltyFor(c)
		maxPenalty += unit

		degree, reason := c.EvaluateViolation(s)
		result.Degrees[c.ID] = degree
		if degree <= model.Epsilon {
			continue
		}

		v := Violation{
			ConstraintID:   c.ID,
			ConstraintType: c.Type,
			ConstraintName: c.DisplayName(),
			IsHard:         c.IsHard,
			Degree:         degree,
			Penalty:        degree * unit,
			Message:        reason,
		}
		result.TotalPenalty += v.Penalty
		if c.IsHard {
			result.IsValid = false
			result.HardViolations = append(result.HardViolations, v)
		} else {
			result.SoftViolations = append(result.SoftViolations, v)
		}
	}

	result.CalculateScore(maxPenalty)
	return result
}

// LogViolations 记录硬约束违反（Evaluate 不写日志）
func (m *Manager) LogViolations(r *Result) {
	for _, v := range r.HardViolations {
		m.logger.ConstraintViolation(v.ConstraintID, v.Message)
	}
}

// Clear 清除所有约束
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = make([]*Constraint, 0)
}

// Count 返回约束数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.constraints)
}

// Summary 返回约束摘要
func (m *Manager) Summary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hard := 0
	soft := 0
	byType := make(map[Type]int)
	for _, c := range m.constraints {
		if c.IsHard {
			hard++
		} else {
			soft++
		}
		byType[c.Type]++
	}

	return map[string]interface{}{
		"total":   len(m.constraints),
		"hard":    hard,
		"soft":    soft,
		"by_type": byType,
	}
}
