// ProdSched 月度排产引擎服务
// 主程序入口

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/database"
	"github.com/paiban/prodsched/internal/handler"
	"github.com/paiban/prodsched/internal/metrics"
	"github.com/paiban/prodsched/internal/middleware"
	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/repository"
	"github.com/paiban/prodsched/pkg/logger"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	format := "json"
	if cfg.IsDevelopment() {
		format = "console"
	}
	logger.Init(logger.Config{Level: cfg.App.LogLevel, Format: format})

	fmt.Printf("ProdSched 排产引擎 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	// 可选的结果持久化
	var repo repository.TimelineRepositoryInterface
	var db *database.DB
	if cfg.Database.Enabled() {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logger.Error().Err(err).Msg("数据库连接失败")
			os.Exit(1)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("数据库迁移失败")
			os.Exit(1)
		}
		repo = repository.NewTimelineRepository(db)
	} else {
		logger.Warn().Msg("未配置数据库，排产结果不会保存")
	}

	mux := http.NewServeMux()

	// ========================================
	// 系统端点
	// ========================================

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "service": cfg.App.Name}
		code := http.StatusOK
		if db != nil {
			db.Stats() // 刷新连接数指标
			if err := db.Health(r.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","build_time":"%s","git_commit":"%s"}`, Version, BuildTime, GitCommit)
	})

	// ========================================
	// API v1 端点
	// ========================================

	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"message": "ProdSched 排产引擎 API v1",
			"endpoints": {
				"pairing": "POST /api/v1/pairing",
				"optimize": "POST /api/v1/optimize",
				"capacity": "POST /api/v1/capacity",
				"constraints": {
					"analyze": "POST /api/v1/constraints/analyze",
					"solve": "POST /api/v1/constraints/solve",
					"library": "GET /api/v1/constraints/library"
				},
				"timeline": {
					"generate": "POST /api/v1/timeline/generate",
					"runs": "GET /api/v1/timeline/runs",
					"run": "GET /api/v1/timeline/runs/{id}"
				}
			}
		}`))
	})

	handler.NewPlanningHandler(planning.NewService(cfg), repo).Register(mux)

	// ========================================
	// 监控端点
	// ========================================

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// 中间件执行顺序：requestID -> rateLimit -> cors -> logging -> timeout -> handler
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.RateLimit(cfg.API.RateLimit, cfg.API.Burst),
		middleware.CORS(cfg.API.CORS),
		middleware.Logging,
		middleware.Timeout(cfg.API.Timeout),
	)

	port := fmt.Sprintf("%d", cfg.App.Port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Str("port", port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Bool("persistence", repo != nil).
			Str("api_docs", fmt.Sprintf("http://localhost:%s/api/v1/", port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		os.Exit(1)
	}

	logger.Info().Msg("服务器已关闭")
}
