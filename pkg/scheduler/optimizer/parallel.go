package optimizer

import (
	"context"
	"sync"
)

// parallelThreshold 邻域小于该数量时串行评估
const parallelThreshold = 8

// ParallelEvaluator 并行评估器
type ParallelEvaluator struct {
	workers     int
	prob        *problem
	hardPenalty float64
}

// NewParallelEvaluator 创建并行评估器
func NewParallelEvaluator(workers int, prob *problem, hardPenalty float64) *ParallelEvaluator {
	if workers <= 0 {
		workers = 4
	}
	return &ParallelEvaluator{
		workers:     workers,
		prob:        prob,
		hardPenalty: hardPenalty,
	}
}

// EvaluationResult 评估结果，按输入下标返回
type EvaluationResult struct {
	Index int
	X     matrix
	Eval  *evaluation
}

// EvaluateBatch 并行评估一批分配矩阵；ctx 取消后未评估的结果 Eval 为 nil
func (p *ParallelEvaluator) EvaluateBatch(ctx context.Context, batch []matrix) []EvaluationResult {
	if len(batch) == 0 {
		return nil
	}
	results := make([]EvaluationResult, len(batch))
	for i, x := range batch {
		results[i] = EvaluationResult{Index: i, X: x}
	}

	if p.workers == 1 || len(batch) < parallelThreshold {
		for i := range results {
			if ctx.Err() != nil {
				break
			}
			results[i].Eval = p.prob.evaluate(results[i].X, p.hardPenalty)
		}
		return results
	}

	jobChan := make(chan int, len(batch))
	for i := range batch {
		jobChan <- i
	}
	close(jobChan)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				// 每个下标只由一个协程写入
				results[idx].Eval = p.prob.evaluate(results[idx].X, p.hardPenalty)
			}
		}()
	}
	wg.Wait()
	return results
}

// FindBest 找出最优结果
func (p *ParallelEvaluator) FindBest(results []EvaluationResult) *EvaluationResult {
	var best *EvaluationResult
	for i := range results {
		if results[i].Eval == nil {
			continue
		}
		if best == nil || better(results[i].Eval, best.Eval) {
			best = &results[i]
		}
	}
	return best
}
