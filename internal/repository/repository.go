// Package repository 提供排产结果的数据访问层
package repository

import (
	"context"
	"database/sql"
	"time"
)

// ListFilter 列表查询过滤器
type ListFilter struct {
	Year     int       `json:"year,omitempty"`
	Month    int       `json:"month,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Offset   int       `json:"offset"`
	Limit    int       `json:"limit"`
	OrderBy  string    `json:"order_by,omitempty"`
	OrderDir string    `json:"order_dir,omitempty"` // asc/desc
}

// DefaultListFilter 返回默认过滤器
func DefaultListFilter() ListFilter {
	return ListFilter{
		Offset:   0,
		Limit:    20,
		OrderBy:  "generated_at",
		OrderDir: "desc",
	}
}

// WithLimit 设置限制
func (f ListFilter) WithLimit(limit int) ListFilter {
	f.Limit = limit
	return f
}

// WithOffset 设置偏移
func (f ListFilter) WithOffset(offset int) ListFilter {
	f.Offset = offset
	return f
}

// WithPeriod 设置排产年月
func (f ListFilter) WithPeriod(year, month int) ListFilter {
	f.Year = year
	f.Month = month
	return f
}

// WithMode 设置排产模式过滤
func (f ListFilter) WithMode(mode string) ListFilter {
	f.Mode = mode
	return f
}

// DB 数据库接口
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxDB 支持事务的数据库
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Scanner 行扫描接口
type Scanner interface {
	Scan(dest ...interface{}) error
}
