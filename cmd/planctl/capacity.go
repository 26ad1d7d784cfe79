package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/selector"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity <scenario.yaml>",
	Short: "机台月度产能与选机负载",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, sc, err := setup(args)
		if err != nil {
			return err
		}
		return runCapacity(ctx, svc, sc, stdout(), jsonOutput)
	},
}

func init() {
	rootCmd.AddCommand(capacityCmd)
}

// capacityOutput capacity 的 JSON 输出
type capacityOutput struct {
	Machines    []*selector.CapacityInfo `json:"machines"`
	Load        selector.LoadAnalysis    `json:"load_analysis"`
	Suggestions []string                 `json:"suggestions,omitempty"`
}

func runCapacity(ctx context.Context, svc *planning.Service, sc *scenario.Scenario, w io.Writer, jsonOut bool) error {
	caps, err := svc.Capacity(sc)
	if err != nil {
		return err
	}
	pairing, _, err := svc.Pair(ctx, sc, planning.PairingOptions{})
	if err != nil {
		return err
	}
	out := capacityOutput{Machines: caps, Load: pairing.LoadAnalysis, Suggestions: pairing.OptimizationSuggestions}
	if jsonOut {
		return writeJSON(w, out)
	}

	header(w, "月度产能")
	fmt.Fprintf(w, "  %-6s %-7s %4s %8s %6s %8s %8s\n", "机台", "类型", "天数", "工作时", "效率", "维护时", "有效时")
	for _, c := range caps {
		fmt.Fprintf(w, "  %-6s %-7s %4d %8.1f %6.2f %8.1f %8.1f\n",
			c.MachineID, c.MachineType, c.WorkingDays, c.WorkingHours, c.Efficiency, c.MaintenanceHours, c.EffectiveHours)
	}

	header(w, "选机负载")
	for _, code := range sortedKeys(out.Load.Machines) {
		l := out.Load.Machines[code]
		rate := fmt.Sprintf("%5.1f%%", l.LoadRate*100)
		switch {
		case contains(out.Load.Overloaded, code):
			rate = red(rate)
		case contains(out.Load.Idle, code):
			rate = gray(rate)
		default:
			rate = green(rate)
		}
		fmt.Fprintf(w, "  %-6s %8.1f / %-8.1f %s\n", code, l.AllocatedHours, l.CapacityHours, rate)
	}
	fmt.Fprintf(w, "  平均负载 %.1f%%  方差 %.4f\n", out.Load.MeanLoad*100, out.Load.Variance)
	for _, s := range out.Suggestions {
		fmt.Fprintf(w, "  %s %s\n", yellow("建议"), s)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
