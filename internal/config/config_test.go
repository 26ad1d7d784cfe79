package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
	"github.com/paiban/prodsched/pkg/timeline"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile err: %v", err)
	}
	if cfg.App.Port != 7012 || cfg.Metrics.Path != "/metrics" {
		t.Errorf("默认值错误: port=%d path=%s", cfg.App.Port, cfg.Metrics.Path)
	}
	if cfg.Database.Enabled() {
		t.Error("默认不应启用数据库")
	}
	if got := cfg.TimelineOptions().Mode; got != timeline.ModeBalanced {
		t.Errorf("时间线模式 = %s", got)
	}
}

func TestLoadFile_Precedence(t *testing.T) {
	path := writeFile(t, `
app:
  port: 8080
solver:
  strategy: exact
  max_solving_time: 3s
timeline:
  mode: fast
  time_limit: 2s
`)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("TIMELINE_MODE", "COMPREHENSIVE")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile err: %v", err)
	}
	if cfg.App.Port != 9090 {
		t.Errorf("环境变量应覆盖文件, port = %d", cfg.App.Port)
	}
	if cfg.Solver.MaxSolvingTime != 3*time.Second {
		t.Errorf("max_solving_time = %v", cfg.Solver.MaxSolvingTime)
	}
	sc, strategy := cfg.SolverOptions()
	if strategy != solver.StrategyExact || sc.MaxSolvingTime != 3*time.Second {
		t.Errorf("求解配置 = %s %v", strategy, sc.MaxSolvingTime)
	}
	tl := cfg.TimelineOptions()
	if tl.Mode != timeline.ModeComprehensive || tl.TimeLimit != 2*time.Second {
		t.Errorf("时间线配置 = %s %v", tl.Mode, tl.TimeLimit)
	}
	if cfg.Optimizer.TimeLimit <= 0 {
		t.Error("未在文件中出现的字段应保留默认值")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"未知求解策略", func(c *Config) { c.Solver.Strategy = "genetic" }},
		{"未知排产模式", func(c *Config) { c.Timeline.Mode = "slow" }},
		{"未知选机策略", func(c *Config) { c.Selector.Strategy = "random" }},
		{"时限为0", func(c *Config) { c.Optimizer.TimeLimit = 0 }},
		{"罚分为负", func(c *Config) { c.Solver.HardPenalty = -1 }},
		{"端口无效", func(c *Config) { c.App.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.CodeValidationFail) {
				t.Errorf("err = %v, want VALIDATION_FAILED", err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("默认配置应通过校验: %v", err)
	}
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := writeFile(t, "app: [1, 2")
	if _, err := LoadFile(path); err == nil {
		t.Error("非法 YAML 应返回错误")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("文件不存在应返回错误")
	}
}
