package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/logger"
)

var (
	configFile string
	jsonOutput bool
	noColor    bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "planctl",
	Short: "月度排产命令行工具",
	Long: `planctl 读取 YAML 排产场景（机台、喂卷关系、速度、日历与月度计划），
在本地运行排产流水线并输出结果。

环境变量与服务端一致，CONFIG_FILE 指定配置文件，--config 优先。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
		logger.Init(logger.Config{Level: logLevel, Format: "console", Output: "stderr"})
	},
}

// Execute 运行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径（覆盖 CONFIG_FILE）")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "输出 JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "关闭彩色输出")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "日志级别")
}

// loadConfig 读取配置，--config 优先于 CONFIG_FILE
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// setup 读取配置与场景文件
func setup(args []string) (*planning.Service, *scenario.Scenario, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	sc, err := scenario.Load(args[0])
	if err != nil {
		return nil, nil, err
	}
	return planning.NewService(cfg), sc, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", cyan(title))
}

func stdout() io.Writer {
	return os.Stdout
}
