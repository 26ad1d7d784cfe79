package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/paiban/prodsched/internal/constraints"
	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
)

var (
	analyzeSolve         bool
	analyzeStrategy      string
	analyzeHardWindows   bool
	analyzeMinEfficiency float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <scenario.yaml>",
	Short: "生成约束并分析冲突，可选求解",
	Long: `由场景生成产能、需求、时间窗口、工作日历、维护与质量约束，
两两分析硬约束之间的矛盾。加 --solve 时继续求解并校验方案。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, sc, err := setup(args)
		if err != nil {
			return err
		}
		prefs := solver.Preferences{
			HardTimeWindows: analyzeHardWindows,
			HardCalendar:    true,
			MinEfficiency:   analyzeMinEfficiency,
		}
		if analyzeStrategy != "" {
			if prefs.Strategy, err = solver.ParseStrategy(analyzeStrategy); err != nil {
				return err
			}
		}
		return runAnalyze(ctx, svc, sc, prefs, analyzeSolve, stdout(), jsonOutput)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeSolve, "solve", false, "分析后求解")
	analyzeCmd.Flags().StringVar(&analyzeStrategy, "strategy", "", "求解策略 HEURISTIC/EXACT/HYBRID")
	analyzeCmd.Flags().BoolVar(&analyzeHardWindows, "hard-windows", true, "计划时间窗口作为硬约束")
	analyzeCmd.Flags().Float64Var(&analyzeMinEfficiency, "min-efficiency", 0, "质量约束的最低效率（0 为默认）")
}

// analyzeOutput analyze 的 JSON 输出
type analyzeOutput struct {
	Constraints []*constraint.Constraint `json:"constraints"`
	Analysis    *solver.ConflictAnalysis `json:"analysis"`
	Solution    *solver.Solution         `json:"solution,omitempty"`
}

func runAnalyze(ctx context.Context, svc *planning.Service, sc *scenario.Scenario, prefs solver.Preferences, solve bool, w io.Writer, jsonOut bool) error {
	days, err := sc.CalendarDays()
	if err != nil {
		return err
	}
	machines, err := svc.MachineConfigs(sc)
	if err != nil {
		return err
	}
	list, _, err := solver.BuildProblem(sc.Plans, machines, days, prefs)
	if err != nil {
		return err
	}
	out := analyzeOutput{Constraints: list, Analysis: solver.AnalyzeConstraintConflicts(list)}
	if solve {
		if out.Solution, err = svc.Solve(ctx, sc, nil, prefs); err != nil {
			return err
		}
	}
	if jsonOut {
		return writeJSON(w, out)
	}

	header(w, fmt.Sprintf("约束 (%d)", len(list)))
	counts := make(map[constraint.Type][2]int)
	for _, c := range list {
		n := counts[c.Type]
		if c.IsHard {
			n[0]++
		} else {
			n[1]++
		}
		counts[c.Type] = n
	}
	for _, typ := range constraint.KnownTypes {
		n, ok := counts[typ]
		if !ok {
			continue
		}
		name := string(typ)
		if d, found := constraints.Find(typ); found {
			name = d.DisplayName
		}
		fmt.Fprintf(w, "  %-10s 硬 %d  软 %d\n", name, n[0], n[1])
	}

	a := out.Analysis
	header(w, "冲突分析")
	if !a.HasConflicts {
		fmt.Fprintf(w, "  %s\n", green("硬约束之间无矛盾"))
	} else {
		fmt.Fprintf(w, "  严重程度 %s，冲突组 %d\n", red(string(a.ConflictSeverity)), len(a.ConflictGroups))
		for _, g := range a.ConflictGroups {
			fmt.Fprintf(w, "  %s %v\n", yellow(g.GroupID), g.ConstraintIDs)
			for _, reason := range g.Reasons {
				fmt.Fprintf(w, "    %s\n", reason)
			}
		}
		for _, s := range a.SuggestedResolutions {
			fmt.Fprintf(w, "  建议: %s\n", s)
		}
	}
	for _, m := range a.MalformedConstraints {
		fmt.Fprintf(w, "  %s %s: %s\n", red("无效约束"), m.ConstraintID, m.Reason)
	}

	if out.Solution != nil {
		printSolution(w, out.Solution)
	}
	return nil
}

func printSolution(w io.Writer, sol *solver.Solution) {
	header(w, "求解")
	status := green("可行")
	if !sol.IsFeasible() {
		status = red("不可行")
	}
	fmt.Fprintf(w, "  %s  策略 %s  算法 %s  迭代 %d\n", status, sol.Strategy, sol.AlgorithmUsed, sol.Iterations)
	fmt.Fprintf(w, "  目标 %.2f  可行度 %.1f  优化得分 %s\n", sol.Objective, sol.FeasibilityScore, scoreColor(sol.OptimizationScore))
	for _, v := range sol.HardViolations {
		fmt.Fprintf(w, "  %s %s\n", red("硬"), v.Message)
	}
	for _, v := range sol.SoftViolations {
		fmt.Fprintf(w, "  %s %s\n", yellow("软"), v.Message)
	}
}
