// Package stats 提供负载与利用率统计
package stats

import (
	"math"
	"sort"
)

// LoadMetrics 负载分布指标
type LoadMetrics struct {
	Mean         float64 `json:"mean"`
	Variance     float64 `json:"variance"`
	StdDev       float64 `json:"std_dev"`
	CV           float64 `json:"cv"`   // 变异系数
	Gini         float64 `json:"gini"` // 0=完全均衡, 1=完全不均衡
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Range        float64 `json:"range"`
	BalanceScore float64 `json:"balance_score"` // 0-100
}

// AnalyzeLoads 分析一组负载（按键排序后计算，与迭代顺序无关）
func AnalyzeLoads(loads map[string]float64) LoadMetrics {
	keys := make([]string, 0, len(loads))
	for k := range loads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = loads[k]
	}
	return Analyze(values)
}

// Analyze 分析一组数值
func Analyze(values []float64) LoadMetrics {
	if len(values) == 0 {
		return LoadMetrics{BalanceScore: 100}
	}
	mean := Mean(values)
	variance := Variance(values, mean)
	min, max := Range(values)
	cv := CV(values)
	return LoadMetrics{
		Mean:         mean,
		Variance:     variance,
		StdDev:       math.Sqrt(variance),
		CV:           cv,
		Gini:         Gini(values),
		Min:          min,
		Max:          max,
		Range:        max - min,
		BalanceScore: BalanceScore(values),
	}
}

// Mean 计算平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance 计算方差
func Variance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// CV 变异系数，均值为0时返回0
func CV(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return math.Sqrt(Variance(values, mean)) / math.Abs(mean)
}

// Range 计算极值
func Range(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// Gini 计算基尼系数
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}

	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}

// BalanceScore 均衡得分 100*(1-cv)，下限0
func BalanceScore(values []float64) float64 {
	return math.Max(0, 100*(1-CV(values)))
}
