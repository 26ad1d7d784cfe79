// Package config 提供配置管理
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
	"github.com/paiban/prodsched/pkg/selector"
	"github.com/paiban/prodsched/pkg/timeline"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Selector  SelectorConfig  `yaml:"selector"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Solver    SolverConfig    `yaml:"solver"`
	Timeline  TimelineConfig  `yaml:"timeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig 数据库配置，Host 为空时不持久化结果
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Enabled 是否配置了数据库
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// APIConfig API配置
type APIConfig struct {
	RateLimit float64       `yaml:"rate_limit"` // 每秒请求数
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// SelectorConfig 机台选择配置
type SelectorConfig struct {
	Strategy          string  `yaml:"strategy"`
	Objective         string  `yaml:"objective"`
	DefaultEfficiency float64 `yaml:"default_efficiency"`
	HighLoadThreshold float64 `yaml:"high_load_threshold"`
}

// OptimizerConfig 资源优化配置
type OptimizerConfig struct {
	Strategy         string        `yaml:"strategy"`
	TimeLimit        time.Duration `yaml:"time_limit"`
	MaxIterations    int           `yaml:"max_iterations"`
	BalanceThreshold float64       `yaml:"balance_threshold"`
	RandomSeed       int64         `yaml:"random_seed"`
}

// SolverConfig 约束求解配置
type SolverConfig struct {
	Strategy       string        `yaml:"strategy"`
	MaxSolvingTime time.Duration `yaml:"max_solving_time"`
	SolutionLimit  int           `yaml:"solution_limit"`
	HardPenalty    float64       `yaml:"hard_penalty"`
	SoftPenalty    float64       `yaml:"soft_penalty"`
}

// TimelineConfig 时间线配置
type TimelineConfig struct {
	Mode       string        `yaml:"mode"`
	SetupHours float64       `yaml:"setup_hours"`
	TimeLimit  time.Duration `yaml:"time_limit"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 默认配置
func Default() *Config {
	opt := optimizer.DefaultConfig()
	sol := solver.DefaultConfig()
	sel := selector.DefaultConfig()
	tl := timeline.DefaultConfig()
	return &Config{
		App: AppConfig{Name: "prodsched", Env: "development", Port: 7012, LogLevel: "info"},
		Database: DatabaseConfig{
			Port:            5432,
			Name:            "prodsched",
			User:            "prodsched",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			RateLimit: 50,
			Burst:     100,
			Timeout:   60 * time.Second,
			CORS:      CORSConfig{Enabled: true, Origins: []string{"*"}},
		},
		Selector: SelectorConfig{
			Strategy:          string(sel.Strategy),
			Objective:         string(sel.Objective),
			DefaultEfficiency: sel.DefaultEfficiency,
			HighLoadThreshold: sel.HighLoadThreshold,
		},
		Optimizer: OptimizerConfig{
			Strategy:         string(opt.Strategy),
			TimeLimit:        opt.TimeLimit,
			MaxIterations:    opt.Search.MaxIterations,
			BalanceThreshold: opt.BalanceThreshold,
			RandomSeed:       opt.Search.RandomSeed,
		},
		Solver: SolverConfig{
			Strategy:       string(solver.StrategyHybrid),
			MaxSolvingTime: sol.MaxSolvingTime,
			SolutionLimit:  sol.SolutionLimit,
			HardPenalty:    sol.HardPenalty,
			SoftPenalty:    sol.SoftPenalty,
		},
		Timeline: TimelineConfig{Mode: string(tl.Mode), SetupHours: tl.SetupHours, TimeLimit: tl.TimeLimit},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load 加载配置：默认值 < CONFIG_FILE 指定的 YAML < 环境变量
// 当前目录存在 .env 时先载入
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile 从指定 YAML 文件加载配置，path 为空时只使用默认值与环境变量
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)
	c.App.LogLevel = getEnv("APP_LOG_LEVEL", c.App.LogLevel)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.API.RateLimit = getEnvFloat("API_RATE_LIMIT", c.API.RateLimit)
	c.API.Burst = getEnvInt("API_BURST", c.API.Burst)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.CORS.Enabled = getEnvBool("API_CORS_ENABLED", c.API.CORS.Enabled)

	c.Selector.Strategy = getEnv("SELECTOR_STRATEGY", c.Selector.Strategy)
	c.Selector.Objective = getEnv("SELECTOR_OBJECTIVE", c.Selector.Objective)

	c.Optimizer.Strategy = getEnv("OPTIMIZER_STRATEGY", c.Optimizer.Strategy)
	c.Optimizer.TimeLimit = getEnvDuration("OPTIMIZER_TIME_LIMIT", c.Optimizer.TimeLimit)
	c.Optimizer.MaxIterations = getEnvInt("OPTIMIZER_MAX_ITERATIONS", c.Optimizer.MaxIterations)

	c.Solver.Strategy = getEnv("SOLVER_STRATEGY", c.Solver.Strategy)
	c.Solver.MaxSolvingTime = getEnvDuration("SOLVER_MAX_SOLVING_TIME", c.Solver.MaxSolvingTime)

	c.Timeline.Mode = getEnv("TIMELINE_MODE", c.Timeline.Mode)
	c.Timeline.SetupHours = getEnvFloat("TIMELINE_SETUP_HOURS", c.Timeline.SetupHours)
	c.Timeline.TimeLimit = getEnvDuration("TIMELINE_TIME_LIMIT", c.Timeline.TimeLimit)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("METRICS_PATH", c.Metrics.Path)
}

// Validate 校验时限、罚分与策略名称
func (c *Config) Validate() error {
	ve := &errors.ValidationErrors{}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		ve.Add("app.port", "端口无效")
	}
	if c.API.RateLimit <= 0 || c.API.Burst <= 0 {
		ve.Add("api.rate_limit", "限流参数必须大于0")
	}
	if _, err := selector.ParseStrategy(c.Selector.Strategy); err != nil {
		ve.Add("selector.strategy", err.Error())
	}
	if _, err := selector.ParseObjective(c.Selector.Objective); err != nil {
		ve.Add("selector.objective", err.Error())
	}
	if _, err := optimizer.ParseStrategy(c.Optimizer.Strategy); err != nil {
		ve.Add("optimizer.strategy", err.Error())
	}
	if c.Optimizer.TimeLimit <= 0 {
		ve.Add("optimizer.time_limit", "必须大于0")
	}
	if _, err := solver.ParseStrategy(c.Solver.Strategy); err != nil {
		ve.Add("solver.strategy", err.Error())
	}
	if c.Solver.MaxSolvingTime <= 0 {
		ve.Add("solver.max_solving_time", "必须大于0")
	}
	if c.Solver.HardPenalty <= 0 || c.Solver.SoftPenalty <= 0 {
		ve.Add("solver.penalty", "罚分必须大于0")
	}
	if _, err := timeline.ParseMode(c.Timeline.Mode); err != nil {
		ve.Add("timeline.mode", err.Error())
	}
	if c.Timeline.TimeLimit <= 0 {
		ve.Add("timeline.time_limit", "必须大于0")
	}
	if c.Timeline.SetupHours < 0 {
		ve.Add("timeline.setup_hours", "不能为负")
	}
	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

// SelectorOptions 转换为选择器配置
func (c *Config) SelectorOptions() selector.Config {
	out := selector.DefaultConfig()
	out.Strategy, _ = selector.ParseStrategy(c.Selector.Strategy)
	out.Objective, _ = selector.ParseObjective(c.Selector.Objective)
	if c.Selector.DefaultEfficiency > 0 {
		out.DefaultEfficiency = c.Selector.DefaultEfficiency
	}
	if c.Selector.HighLoadThreshold > 0 {
		out.HighLoadThreshold = c.Selector.HighLoadThreshold
	}
	out.SetupHours = c.Timeline.SetupHours
	return out
}

// OptimizerOptions 转换为资源优化器配置
func (c *Config) OptimizerOptions() optimizer.Config {
	search := optimizer.DefaultOptConfig()
	if c.Optimizer.MaxIterations > 0 {
		search.MaxIterations = c.Optimizer.MaxIterations
	}
	search.RandomSeed = c.Optimizer.RandomSeed
	strategy, _ := optimizer.ParseStrategy(c.Optimizer.Strategy)
	return optimizer.Config{
		Strategy:         strategy,
		TimeLimit:        c.Optimizer.TimeLimit,
		BalanceThreshold: c.Optimizer.BalanceThreshold,
		Search:           search,
	}
}

// SolverOptions 转换为求解配置与策略
func (c *Config) SolverOptions() (solver.Config, solver.Strategy) {
	out := solver.DefaultConfig()
	out.MaxSolvingTime = c.Solver.MaxSolvingTime
	if c.Solver.SolutionLimit > 0 {
		out.SolutionLimit = c.Solver.SolutionLimit
	}
	out.HardPenalty = c.Solver.HardPenalty
	out.SoftPenalty = c.Solver.SoftPenalty
	strategy, _ := solver.ParseStrategy(c.Solver.Strategy)
	return out, strategy
}

// TimelineOptions 转换为时间线配置
func (c *Config) TimelineOptions() timeline.Config {
	out := timeline.DefaultConfig()
	out.Mode, _ = timeline.ParseMode(c.Timeline.Mode)
	out.SetupHours = c.Timeline.SetupHours
	out.TimeLimit = c.Timeline.TimeLimit
	return out
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
