// Package database 管理排产结果库的连接、迁移与慢查询观测
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/metrics"
	"github.com/paiban/prodsched/pkg/logger"

	_ "github.com/lib/pq" // PostgreSQL 驱动
)

// 超过该耗时的语句记录慢查询日志
const slowQueryThreshold = 100 * time.Millisecond

// DB 结果库连接
type DB struct {
	*sql.DB
	cfg  *config.DatabaseConfig
	slow time.Duration
}

// New 打开连接池并确认数据库可达
func New(cfg *config.DatabaseConfig) (*DB, error) {
	pool, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{DB: pool, cfg: cfg, slow: slowQueryThreshold}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Health(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("结果库已连接")
	return db, nil
}

// Close 关闭连接池
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	logger.Info().Str("database", db.cfg.Name).Msg("关闭结果库连接")
	return db.DB.Close()
}

// Health 连通性检查
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Stats 返回连接池统计并同步到连接数指标
func (db *DB) Stats() sql.DBStats {
	st := db.DB.Stats()
	metrics.SetDBConnections(st.OpenConnections, st.InUse, st.Idle)
	return st
}

// schema 排产结果表，只保存输出
var schema = []string{
	`CREATE TABLE IF NOT EXISTS timeline_runs (
		id              TEXT PRIMARY KEY,
		year            INTEGER NOT NULL,
		month           INTEGER NOT NULL,
		mode            TEXT NOT NULL,
		task_count      INTEGER NOT NULL,
		conflict_count  INTEGER NOT NULL,
		makespan_hours  DOUBLE PRECISION NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		conflicts       JSONB,
		execution_ms    BIGINT NOT NULL,
		generated_at    TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_runs_period ON timeline_runs (year, month)`,
	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		timeline_id     TEXT NOT NULL REFERENCES timeline_runs(id) ON DELETE CASCADE,
		task_id         TEXT NOT NULL,
		group_id        TEXT NOT NULL,
		plan_id         TEXT NOT NULL,
		work_order_nr   TEXT NOT NULL,
		article_nr      TEXT NOT NULL,
		machine_id      TEXT NOT NULL,
		feeder_id       TEXT NOT NULL,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL,
		quantity        DOUBLE PRECISION NOT NULL,
		priority        INTEGER NOT NULL,
		setup_hours     DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (timeline_id, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_machine ON scheduled_tasks (machine_id, start_time)`,
}

// Migrate 创建结果表，可重复执行
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("数据库迁移第%d条语句失败: %w", i+1, err)
		}
	}
	logger.Info().Int("statements", len(schema)).Msg("数据库迁移完成")
	return nil
}

// ExecContext 执行语句
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer db.observe(time.Now(), query)
	return db.DB.ExecContext(ctx, query, args...)
}

// QueryContext 执行查询
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer db.observe(time.Now(), query)
	return db.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext 执行单行查询
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer db.observe(time.Now(), query)
	return db.DB.QueryRowContext(ctx, query, args...)
}

// observe 记录慢查询
func (db *DB) observe(start time.Time, query string) {
	if d := time.Since(start); d > db.slow {
		logger.Warn().
			Str("query", truncateQuery(query)).
			Dur("duration", d).
			Msg("慢SQL查询")
	}
}

func truncateQuery(query string) string {
	const limit = 200
	if len(query) > limit {
		return query[:limit] + "..."
	}
	return query
}
