// Package flow 实现最小费用流（逐次最短路），用于运输型分配问题的精确求解
package flow

import (
	"context"
	"math"
)

const eps = 1e-9

// Inf 无限容量
var Inf = math.Inf(1)

type edge struct {
	to   int
	rev  int
	cap  float64
	cost float64
}

// Graph 有向网络
type Graph struct {
	adj  [][]edge
	refs [][2]int // 边ID -> (from, index)
	// Augmentations 增广次数
	Augmentations int
}

// New 创建 n 个节点的网络
func New(n int) *Graph {
	return &Graph{adj: make([][]edge, n)}
}

// AddEdge 添加边，返回边ID
func (g *Graph) AddEdge(from, to int, capacity, cost float64) int {
	g.adj[from] = append(g.adj[from], edge{to: to, rev: len(g.adj[to]), cap: capacity, cost: cost})
	g.adj[to] = append(g.adj[to], edge{to: from, rev: len(g.adj[from]) - 1, cap: 0, cost: -cost})
	g.refs = append(g.refs, [2]int{from, len(g.adj[from]) - 1})
	return len(g.refs) - 1
}

// Flow 返回边上的流量
func (g *Graph) Flow(id int) float64 {
	ref := g.refs[id]
	e := g.adj[ref[0]][ref[1]]
	return g.adj[e.to][e.rev].cap
}

// MinCostFlow 从 s 到 t 推送至多 maxFlow 的最小费用流
// ctx 取消时返回已推送的部分结果与 ctx.Err()
func (g *Graph) MinCostFlow(ctx context.Context, s, t int, maxFlow float64) (float64, float64, error) {
	n := len(g.adj)
	flow, cost := 0.0, 0.0
	dist := make([]float64, n)
	inQueue := make([]bool, n)
	prevNode := make([]int, n)
	prevEdge := make([]int, n)

	for flow < maxFlow-eps {
		if err := ctx.Err(); err != nil {
			return flow, cost, err
		}

		// SPFA 求残量网络最短路
		for i := range dist {
			dist[i] = Inf
			prevNode[i] = -1
		}
		dist[s] = 0
		queue := []int{s}
		inQueue[s] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false
			for i, e := range g.adj[u] {
				if e.cap <= eps {
					continue
				}
				if nd := dist[u] + e.cost; nd < dist[e.to]-eps {
					dist[e.to] = nd
					prevNode[e.to] = u
					prevEdge[e.to] = i
					if !inQueue[e.to] {
						inQueue[e.to] = true
						queue = append(queue, e.to)
					}
				}
			}
		}
		if math.IsInf(dist[t], 1) {
			break
		}

		push := maxFlow - flow
		for v := t; v != s; v = prevNode[v] {
			e := g.adj[prevNode[v]][prevEdge[v]]
			if e.cap < push {
				push = e.cap
			}
		}
		if math.IsInf(push, 1) || push <= eps {
			break
		}
		for v := t; v != s; v = prevNode[v] {
			e := &g.adj[prevNode[v]][prevEdge[v]]
			e.cap -= push
			g.adj[v][e.rev].cap += push
		}
		flow += push
		cost += push * dist[t]
		g.Augmentations++
	}
	return flow, cost, nil
}
