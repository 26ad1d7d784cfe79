package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
	"github.com/paiban/prodsched/pkg/timeline"
)

var (
	scheduleMode     string
	scheduleFormats  []string
	scheduleOptimize bool
	scheduleStrategy string
	scheduleOut      string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <scenario.yaml>",
	Short: "选机并生成月度时间线",
	Long: `为场景中的计划选机，可选先做资源优化，然后生成月度时间线。

示例:
  planctl schedule line.yaml --mode comprehensive --optimize --out timeline.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, sc, err := setup(args)
		if err != nil {
			return err
		}
		opts := planning.TimelineOptions{
			Mode:     scheduleMode,
			Formats:  scheduleFormats,
			Optimize: scheduleOptimize,
			OptimizeOptions: planning.OptimizeOptions{
				Strategy:   scheduleStrategy,
				Objectives: map[optimizer.Objective]float64{optimizer.ObjectiveBalanceLoad: 0.5, optimizer.ObjectiveMinimizeCost: 0.5},
			},
		}
		return runSchedule(ctx, svc, sc, opts, scheduleOut, stdout(), jsonOutput)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleMode, "mode", "", "排产模式 FAST/STANDARD/BALANCED/COMPREHENSIVE（默认取场景）")
	scheduleCmd.Flags().StringSliceVar(&scheduleFormats, "format", nil, "附加输出 gantt,work_orders（默认取场景）")
	scheduleCmd.Flags().BoolVar(&scheduleOptimize, "optimize", false, "先做资源优化再排时间线")
	scheduleCmd.Flags().StringVar(&scheduleStrategy, "strategy", "", "资源优化策略 HEURISTIC_ONLY/EXACT_ONLY/HYBRID")
	scheduleCmd.Flags().StringVar(&scheduleOut, "out", "", "将完整结果写入 JSON 文件")
}

// signalContext 收到中断信号时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSchedule(ctx context.Context, svc *planning.Service, sc *scenario.Scenario, opts planning.TimelineOptions, outFile string, w io.Writer, jsonOut bool) error {
	plan, err := svc.Schedule(ctx, sc, opts)
	if err != nil {
		return err
	}
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		if err := writeJSON(f, plan); err != nil {
			return err
		}
	}
	if jsonOut {
		return writeJSON(w, plan)
	}
	printPlan(w, sc, plan)
	return nil
}

func printPlan(w io.Writer, sc *scenario.Scenario, plan *planning.Plan) {
	res := plan.Timeline
	loc, _ := sc.Location()

	fmt.Fprintf(w, "%s %04d-%02d  模式 %s  %s\n", bold(sc.Name), res.Year, int(res.Month), res.Mode, gray(res.TimelineID))

	if len(plan.Pairing.UnallocatedRequirements) > 0 {
		header(w, "未分配需求")
		for _, u := range plan.Pairing.UnallocatedRequirements {
			fmt.Fprintf(w, "  %s %s\n", red(u.Requirement.PlanID), u.Reason)
		}
	}
	if plan.Optimization != nil {
		status := green("可行")
		if !plan.Optimization.IsFeasible {
			status = red("不可行")
		}
		fmt.Fprintf(w, "资源优化: %s  策略 %s  迭代 %d\n", status, plan.Optimization.Strategy, plan.Optimization.IterationsPerformed)
	}

	header(w, "任务")
	tasks := append([]*model.ScheduledTask(nil), res.ScheduledTasks...)
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].MachineID != tasks[j].MachineID {
			return tasks[i].MachineID < tasks[j].MachineID
		}
		return tasks[i].StartTime.Before(tasks[j].StartTime)
	})
	for _, t := range tasks {
		fmt.Fprintf(w, "  %-6s %-12s %-8s %s ~ %s  %8.0f\n", t.MachineID, t.TaskID, t.ArticleNr,
			t.StartTime.In(loc).Format("01-02 15:04"), t.EndTime.In(loc).Format("01-02 15:04"), t.AllocatedQuantity)
	}

	m := res.OptimizationMetrics
	header(w, "指标")
	fmt.Fprintf(w, "  跨度 %.1f 小时  换产占比 %.1f%%  效率 %.1f  得分 %s\n",
		m.TotalMakespan, m.SetupTimeRatio*100, m.ScheduleEfficiency, scoreColor(m.OptimizationScore))

	stats := timeline.GetTimelineStatistics(res)
	for _, code := range sortedKeys(stats.MachineUtilization) {
		fmt.Fprintf(w, "  %-6s 利用率 %5.1f%%\n", code, stats.MachineUtilization[code])
	}

	if len(res.Conflicts) == 0 {
		fmt.Fprintf(w, "\n%s\n", green("无冲突"))
		return
	}
	header(w, fmt.Sprintf("冲突 (%d)", len(res.Conflicts)))
	for _, c := range res.Conflicts {
		tag := yellow("可自动处理")
		if !c.AutoResolvable {
			tag = red("需人工处理")
		}
		fmt.Fprintf(w, "  [%s] %s %s\n", c.Type, c.Description, tag)
	}
}

func scoreColor(score float64) string {
	s := fmt.Sprintf("%.1f", score)
	switch {
	case score >= 80:
		return green(s)
	case score >= 60:
		return yellow(s)
	default:
		return red(s)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
