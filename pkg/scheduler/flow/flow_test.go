package flow

import (
	"context"
	"math"
	"testing"
)

func TestMinCostFlow_Transportation(t *testing.T) {
	// 0=源 1=计划 2,3=资源 4=汇
	g := New(5)
	g.AddEdge(0, 1, 100, 0)
	cheap := g.AddEdge(1, 2, Inf, 1)
	dear := g.AddEdge(1, 3, Inf, 3)
	g.AddEdge(2, 4, 60, 0)
	g.AddEdge(3, 4, 60, 0)

	flow, cost, err := g.MinCostFlow(context.Background(), 0, 4, 100)
	if err != nil {
		t.Fatalf("MinCostFlow err: %v", err)
	}
	if flow != 100 {
		t.Errorf("flow = %v, want 100", flow)
	}
	if math.Abs(cost-(60*1+40*3)) > 1e-9 {
		t.Errorf("cost = %v, want 180", cost)
	}
	if g.Flow(cheap) != 60 || g.Flow(dear) != 40 {
		t.Errorf("边流量 = %v/%v, want 60/40", g.Flow(cheap), g.Flow(dear))
	}
}

func TestMinCostFlow_Overflow(t *testing.T) {
	g := New(4)
	g.AddEdge(0, 1, 100000, 0)
	g.AddEdge(1, 2, Inf, 1)
	normal := g.AddEdge(2, 3, 80000, 0)
	over := g.AddEdge(2, 3, Inf, 1e6)

	flow, _, err := g.MinCostFlow(context.Background(), 0, 3, 100000)
	if err != nil {
		t.Fatalf("MinCostFlow err: %v", err)
	}
	if flow != 100000 {
		t.Errorf("flow = %v, want 100000", flow)
	}
	if g.Flow(normal) != 80000 || g.Flow(over) != 20000 {
		t.Errorf("正常/超额 = %v/%v, want 80000/20000", g.Flow(normal), g.Flow(over))
	}
}

func TestMinCostFlow_Cancelled(t *testing.T) {
	g := New(2)
	g.AddEdge(0, 1, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.MinCostFlow(ctx, 0, 1, 10); err == nil {
		t.Error("已取消的上下文应返回错误")
	}
}
