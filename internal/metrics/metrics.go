// Package metrics 提供Prometheus文本格式的进程内监控指标
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// 指标名称
const (
	HTTPRequests        = "prodsched_http_requests_total"
	HTTPDuration        = "prodsched_http_request_duration_seconds"
	PairingRuns         = "prodsched_pairing_runs_total"
	OptimizerRuns       = "prodsched_optimizer_runs_total"
	OptimizerDuration   = "prodsched_optimizer_duration_seconds"
	OptimizerIterations = "prodsched_optimizer_iterations_total"
	SolverRuns          = "prodsched_solver_runs_total"
	SolverObjective     = "prodsched_solver_objective"
	TimelineRuns        = "prodsched_timeline_runs_total"
	TimelineDuration    = "prodsched_timeline_duration_seconds"
	TimelineConflicts   = "prodsched_timeline_conflicts"
	SelectorCacheHit    = "prodsched_selector_cache_hit_rate"
	DBConnections       = "prodsched_db_connections"
)

// MetricsRegistry 指标注册表
type MetricsRegistry struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// Counter 计数器
type Counter struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Gauge 仪表盘
type Gauge struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Histogram 直方图
type Histogram struct {
	Name    string
	Help    string
	Labels  []string
	Buckets []float64
	counts  map[string][]int
	sums    map[string]float64
	mu      sync.RWMutex
}

var (
	registry *MetricsRegistry
	once     sync.Once
)

// NewRegistry 创建空注册表
func NewRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// GetRegistry 获取全局注册表
func GetRegistry() *MetricsRegistry {
	once.Do(func() {
		registry = NewRegistry()
		registerDefaults(registry)
	})
	return registry
}

var runBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

func registerDefaults(r *MetricsRegistry) {
	r.NewCounter(HTTPRequests, "HTTP请求总数", []string{"method", "path", "status"})
	r.NewHistogram(HTTPDuration, "HTTP请求延迟", []string{"method", "path"},
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})

	r.NewCounter(PairingRuns, "选机次数", []string{"strategy", "status"})
	r.NewCounter(OptimizerRuns, "资源优化次数", []string{"strategy", "feasible"})
	r.NewHistogram(OptimizerDuration, "资源优化耗时", []string{"strategy"}, runBuckets)
	r.NewCounter(OptimizerIterations, "资源优化迭代次数", []string{"strategy"})
	r.NewCounter(SolverRuns, "约束求解次数", []string{"strategy", "feasible"})
	r.NewGauge(SolverObjective, "最近一次求解目标值", []string{"strategy"})
	r.NewCounter(TimelineRuns, "时间线生成次数", []string{"mode", "status"})
	r.NewHistogram(TimelineDuration, "时间线生成耗时", []string{"mode"}, runBuckets)
	r.NewGauge(TimelineConflicts, "最近一次时间线未解决冲突数", []string{"mode"})
	r.NewGauge(SelectorCacheHit, "选机查询缓存命中率", nil)
	r.NewGauge(DBConnections, "数据库连接数", []string{"state"})
}

// NewCounter 创建计数器
func (r *MetricsRegistry) NewCounter(name, help string, labels []string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter := &Counter{Name: name, Help: help, Labels: labels, values: make(map[string]float64)}
	r.counters[name] = counter
	return counter
}

// NewGauge 创建仪表盘
func (r *MetricsRegistry) NewGauge(name, help string, labels []string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	gauge := &Gauge{Name: name, Help: help, Labels: labels, values: make(map[string]float64)}
	r.gauges[name] = gauge
	return gauge
}

// NewHistogram 创建直方图
func (r *MetricsRegistry) NewHistogram(name, help string, labels []string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	histogram := &Histogram{
		Name:    name,
		Help:    help,
		Labels:  labels,
		Buckets: buckets,
		counts:  make(map[string][]int),
		sums:    make(map[string]float64),
	}
	r.histograms[name] = histogram
	return histogram
}

// GetCounter 获取计数器
func (r *MetricsRegistry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge 获取仪表盘
func (r *MetricsRegistry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram 获取直方图
func (r *MetricsRegistry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// Inc 增加计数
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add 增加指定值
func (c *Counter) Add(value float64, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[labelKey(labelValues)] += value
}

// Value 当前值
func (c *Counter) Value(labelValues ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labelKey(labelValues)]
}

// Set 设置值
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[labelKey(labelValues)] = value
}

// Value 当前值
func (g *Gauge) Value(labelValues ...string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labelKey(labelValues)]
}

// Observe 记录观测值
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := labelKey(labelValues)
	if _, exists := h.counts[key]; !exists {
		h.counts[key] = make([]int, len(h.Buckets)+1)
	}
	// 按桶记录非累计计数，输出时累加
	i := sort.SearchFloat64s(h.Buckets, value)
	h.counts[key][i]++
	h.sums[key] += value
}

// labelKey 标签值以 \x1f 拼接
func labelKey(labels []string) string {
	return strings.Join(labels, "\x1f")
}

// Handler 返回Prometheus格式的指标HTTP处理器
func Handler() http.Handler {
	return GetRegistry().Handler()
}

// Handler 输出本注册表的指标
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Render(w)
	})
}

// Render 按名称与标签排序输出全部指标
func (r *MetricsRegistry) Render(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedNames(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.Name, c.Help, c.Name)
		c.mu.RLock()
		for _, key := range sortedNames(c.values) {
			fmt.Fprintf(w, "%s%s %s\n", c.Name, braces(formatLabels(c.Labels, key)), formatValue(c.values[key]))
		}
		c.mu.RUnlock()
	}

	for _, name := range sortedNames(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", g.Name, g.Help, g.Name)
		g.mu.RLock()
		for _, key := range sortedNames(g.values) {
			fmt.Fprintf(w, "%s%s %s\n", g.Name, braces(formatLabels(g.Labels, key)), formatValue(g.values[key]))
		}
		g.mu.RUnlock()
	}

	for _, name := range sortedNames(r.histograms) {
		h := r.histograms[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.Name, h.Help, h.Name)
		h.mu.RLock()
		for _, key := range sortedNames(h.counts) {
			labels := formatLabels(h.Labels, key)
			prefix := labels
			if prefix != "" {
				prefix += ","
			}
			counts := h.counts[key]
			cumulative := 0
			for i, bucket := range h.Buckets {
				cumulative += counts[i]
				fmt.Fprintf(w, "%s_bucket{%sle=\"%s\"} %d\n", h.Name, prefix, formatValue(bucket), cumulative)
			}
			cumulative += counts[len(h.Buckets)]
			fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", h.Name, prefix, cumulative)
			fmt.Fprintf(w, "%s_sum%s %s\n", h.Name, braces(labels), formatValue(h.sums[key]))
			fmt.Fprintf(w, "%s_count%s %d\n", h.Name, braces(labels), cumulative)
		}
		h.mu.RUnlock()
	}
}

func formatLabels(names []string, key string) string {
	if len(names) == 0 {
		return ""
	}
	vals := strings.Split(key, "\x1f")
	parts := make([]string, len(names))
	for i, name := range names {
		val := ""
		if i < len(vals) {
			val = vals[i]
		}
		parts[i] = fmt.Sprintf("%s=%q", name, val)
	}
	return strings.Join(parts, ",")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RecordRequestMetrics 记录请求指标
func RecordRequestMetrics(method, path string, status int, duration time.Duration) {
	r := GetRegistry()
	r.GetCounter(HTTPRequests).Inc(method, path, strconv.Itoa(status))
	r.GetHistogram(HTTPDuration).Observe(duration.Seconds(), method, path)
}

// RecordPairing 记录选机
func RecordPairing(strategy string, success bool) {
	GetRegistry().GetCounter(PairingRuns).Inc(strategy, status(success))
}

// RecordOptimization 记录资源优化
func RecordOptimization(strategy string, feasible bool, iterations int, duration time.Duration) {
	r := GetRegistry()
	r.GetCounter(OptimizerRuns).Inc(strategy, strconv.FormatBool(feasible))
	r.GetCounter(OptimizerIterations).Add(float64(iterations), strategy)
	r.GetHistogram(OptimizerDuration).Observe(duration.Seconds(), strategy)
}

// RecordSolve 记录约束求解
func RecordSolve(strategy string, feasible bool, objective float64) {
	r := GetRegistry()
	r.GetCounter(SolverRuns).Inc(strategy, strconv.FormatBool(feasible))
	r.GetGauge(SolverObjective).Set(objective, strategy)
}

// RecordTimeline 记录时间线生成
func RecordTimeline(mode string, success bool, conflicts int, duration time.Duration) {
	r := GetRegistry()
	r.GetCounter(TimelineRuns).Inc(mode, status(success))
	r.GetHistogram(TimelineDuration).Observe(duration.Seconds(), mode)
	if success {
		r.GetGauge(TimelineConflicts).Set(float64(conflicts), mode)
	}
}

// SetSelectorCacheHitRate 设置选机缓存命中率
func SetSelectorCacheHitRate(rate float64) {
	GetRegistry().GetGauge(SelectorCacheHit).Set(rate)
}

// SetDBConnections 设置数据库连接数
func SetDBConnections(open, inUse, idle int) {
	g := GetRegistry().GetGauge(DBConnections)
	g.Set(float64(open), "open")
	g.Set(float64(inUse), "in_use")
	g.Set(float64(idle), "idle")
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
