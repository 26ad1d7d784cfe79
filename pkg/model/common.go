// Package model 定义排产引擎的核心数据模型
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/prodsched/pkg/errors"
)

// Epsilon 数量比较容差
const Epsilon = 1e-6

// NewID 生成新的标识
func NewID() string {
	return uuid.NewString()
}

// TimeWindow 时间窗口 [Start, End)
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// NewTimeWindow 创建时间窗口，要求 Start < End
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate 校验窗口
func (w TimeWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return errors.InvalidTimeRange(fmt.Sprintf("时间窗口开始 %s 必须早于结束 %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}
	return nil
}

// IsZero 是否为空窗口
func (w TimeWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Duration 返回窗口时长
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// DurationHours 返回窗口时长（小时）
func (w TimeWindow) DurationHours() float64 {
	return w.Duration().Hours()
}

// Contains 检查窗口是否包含某个时间点（左闭右开）
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ContainsWindow 检查窗口是否完整包含另一个窗口
func (w TimeWindow) ContainsWindow(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

// Overlaps 检查两个窗口是否重叠
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Intersection 求交集
func (w TimeWindow) Intersection(o TimeWindow) (TimeWindow, bool) {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !start.Before(end) {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: start, End: end}, true
}

// Shift 平移窗口
func (w TimeWindow) Shift(d time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// OverlapHours 计算窗口与一组窗口重叠的总小时数
func (w TimeWindow) OverlapHours(others []TimeWindow) float64 {
	total := 0.0
	for _, o := range others {
		if in, ok := w.Intersection(o); ok {
			total += in.DurationHours()
		}
	}
	return total
}

// Priority 优先级（有序）
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// String 返回优先级名称
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return "P" + strconv.Itoa(int(p))
	}
}

// ParsePriority 解析优先级，支持名称或数字
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NORMAL", "MEDIUM":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT", "CRITICAL":
		return PriorityUrgent, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < int(PriorityLow) || n > int(PriorityUrgent) {
		return 0, errors.InvalidInput("priority", fmt.Sprintf("未知优先级 %q", s))
	}
	return Priority(n), nil
}

// MarshalText 以名称序列化，未设置时为空
func (p Priority) MarshalText() ([]byte, error) {
	if p == 0 {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText 从名称或数字反序列化
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Round 按小数位四舍五入
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// Clamp 将值限制在 [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
