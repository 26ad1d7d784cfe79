package stats

import (
	"sort"
	"time"
)

// Span 时间段
type Span struct {
	Start time.Time
	End   time.Time
}

// BusyHours 计算一组时间段并集的小时数
func BusyHours(spans []Span) float64 {
	if len(spans) == 0 {
		return 0
	}
	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	total := 0.0
	cur := sorted[0]
	for _, s := range sorted[1:] {
		if !s.Start.After(cur.End) {
			if s.End.After(cur.End) {
				cur.End = s.End
			}
			continue
		}
		total += cur.End.Sub(cur.Start).Hours()
		cur = s
	}
	total += cur.End.Sub(cur.Start).Hours()
	return total
}

// Makespan 首个开始到最后结束的跨度
func Makespan(spans []Span) (start, end time.Time, hours float64) {
	if len(spans) == 0 {
		return
	}
	start, end = spans[0].Start, spans[0].End
	for _, s := range spans[1:] {
		if s.Start.Before(start) {
			start = s.Start
		}
		if s.End.After(end) {
			end = s.End
		}
	}
	return start, end, end.Sub(start).Hours()
}

// Utilization 利用率百分比 busy/horizon*100
func Utilization(busy, horizon float64) float64 {
	if horizon <= 0 {
		return 0
	}
	u := busy / horizon * 100
	if u > 100 {
		return 100
	}
	return u
}
