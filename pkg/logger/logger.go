// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

type ctxKey string

const (
	// RequestIDKey 请求ID上下文键
	RequestIDKey ctxKey = "request_id"
	// BatchIDKey 计划批次上下文键
	BatchIDKey ctxKey = "batch_id"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(cfg.Level))

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			output = os.Stdout
			if cfg.FilePath != "" {
				if f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
					output = f
				}
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	Init(DefaultConfig())
	return &logger
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	if batchID, ok := ctx.Value(BatchIDKey).(string); ok {
		l = l.With().Str("batch_id", batchID).Logger()
	}

	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// ComponentLogger 排产组件专用日志器
type ComponentLogger struct {
	base *zerolog.Logger
}

// NewComponentLogger 创建组件日志器（selector/optimizer/solver/timeline）
func NewComponentLogger(component string) *ComponentLogger {
	l := Get().With().Str("component", component).Logger()
	return &ComponentLogger{base: &l}
}

// Base 返回底层日志器
func (l *ComponentLogger) Base() *zerolog.Logger {
	return l.base
}

// RunStart 记录一次求解开始
func (l *ComponentLogger) RunStart(runID string, items, resources int) {
	l.base.Info().
		Str("run_id", runID).
		Int("items", items).
		Int("resources", resources).
		Msg("开始计算")
}

// ConstraintViolation 记录约束违反
func (l *ComponentLogger) ConstraintViolation(constraintID, details string) {
	l.base.Debug().
		Str("constraint", constraintID).
		Str("details", details).
		Msg("约束违反")
}

// Degraded 记录降级（超时、不可行等以数据形式返回的情况）
func (l *ComponentLogger) Degraded(runID, reason string) {
	l.base.Warn().
		Str("run_id", runID).
		Str("reason", reason).
		Msg("结果降级返回")
}

// RunComplete 记录一次求解完成
func (l *ComponentLogger) RunComplete(runID string, duration time.Duration, score float64) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Float64("score", score).
		Msg("计算完成")
}
