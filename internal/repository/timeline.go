package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/timeline"
)

// TimelineRun 一次时间线生成的记录
type TimelineRun struct {
	ID            string           `json:"id"`
	Year          int              `json:"year"`
	Month         int              `json:"month"`
	Mode          string           `json:"mode"`
	TaskCount     int              `json:"task_count"`
	ConflictCount int              `json:"conflict_count"`
	MakespanHours float64          `json:"makespan_hours"`
	Score         float64          `json:"score"`
	Conflicts     []model.Conflict `json:"conflicts,omitempty"`
	ExecutionTime time.Duration    `json:"execution_time"`
	GeneratedAt   time.Time        `json:"generated_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

// RunFromResult 由时间线结果生成记录
func RunFromResult(r *timeline.Result) *TimelineRun {
	return &TimelineRun{
		ID:            r.TimelineID,
		Year:          r.Year,
		Month:         int(r.Month),
		Mode:          string(r.Mode),
		TaskCount:     len(r.ScheduledTasks),
		ConflictCount: len(r.Conflicts),
		MakespanHours: r.OptimizationMetrics.TotalMakespan,
		Score:         r.OptimizationMetrics.OptimizationScore,
		Conflicts:     r.Conflicts,
		ExecutionTime: r.ExecutionTime,
		GeneratedAt:   r.GeneratedAt,
	}
}

// TimelineRepositoryInterface 时间线结果仓储接口
type TimelineRepositoryInterface interface {
	SaveTimeline(ctx context.Context, r *timeline.Result) error
	GetRun(ctx context.Context, id string) (*TimelineRun, error)
	GetTasks(ctx context.Context, timelineID string) ([]*model.ScheduledTask, error)
	ListRuns(ctx context.Context, filter ListFilter) ([]*TimelineRun, int, error)
}

// TimelineRepository 时间线结果仓储实现
type TimelineRepository struct {
	db TxDB
}

// NewTimelineRepository 创建时间线结果仓储
func NewTimelineRepository(db TxDB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

var taskColumns = []string{
	"timeline_id", "task_id", "group_id", "plan_id", "work_order_nr", "article_nr",
	"machine_id", "feeder_id", "start_time", "end_time", "quantity", "priority", "setup_hours",
}

// SaveTimeline 在一个事务中写入运行记录与全部任务
func (r *TimelineRepository) SaveTimeline(ctx context.Context, res *timeline.Result) error {
	if res == nil || res.TimelineID == "" {
		return errors.Validation("timeline_id", "不能为空")
	}
	run := RunFromResult(res)
	conflictsJSON, err := json.Marshal(run.Conflicts)
	if err != nil {
		return fmt.Errorf("序列化冲突失败: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "开始事务失败")
	}
	defer tx.Rollback() //nolint:errcheck // 提交后回滚为空操作

	_, err = tx.ExecContext(ctx, `
		INSERT INTO timeline_runs (
			id, year, month, mode, task_count, conflict_count,
			makespan_hours, score, conflicts, execution_ms, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID, run.Year, run.Month, run.Mode, run.TaskCount, run.ConflictCount,
		run.MakespanHours, run.Score, conflictsJSON, run.ExecutionTime.Milliseconds(), run.GeneratedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "写入时间线记录失败")
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("scheduled_tasks", taskColumns...))
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "准备批量写入失败")
	}
	for _, t := range res.ScheduledTasks {
		if _, err := stmt.ExecContext(ctx,
			run.ID, t.TaskID, t.GroupID, t.PlanID, t.WorkOrderNr, t.ArticleNr,
			t.MachineID, t.FeederID, t.StartTime, t.EndTime, t.AllocatedQuantity, int(t.Priority), t.SetupHours,
		); err != nil {
			stmt.Close()
			return errors.Wrap(err, errors.CodeDatabaseError, "写入任务失败")
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.Wrap(err, errors.CodeDatabaseError, "批量写入任务失败")
	}
	if err := stmt.Close(); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "批量写入任务失败")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "提交事务失败")
	}
	return nil
}

const runColumns = `id, year, month, mode, task_count, conflict_count,
	makespan_hours, score, conflicts, execution_ms, generated_at, created_at`

// GetRun 获取运行记录
func (r *TimelineRepository) GetRun(ctx context.Context, id string) (*TimelineRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM timeline_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("timeline", id)
	}
	return run, err
}

// GetTasks 获取一次运行的全部任务，按开始时间与机台排序
func (r *TimelineRepository) GetTasks(ctx context.Context, timelineID string) ([]*model.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, group_id, plan_id, work_order_nr, article_nr, machine_id, feeder_id,
			start_time, end_time, quantity, priority, setup_hours
		FROM scheduled_tasks
		WHERE timeline_id = $1
		ORDER BY start_time, machine_id, task_id
	`, timelineID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "查询任务失败")
	}
	defer rows.Close()

	var tasks []*model.ScheduledTask
	for rows.Next() {
		t := &model.ScheduledTask{}
		var priority int
		if err := rows.Scan(&t.TaskID, &t.GroupID, &t.PlanID, &t.WorkOrderNr, &t.ArticleNr, &t.MachineID, &t.FeederID,
			&t.StartTime, &t.EndTime, &t.AllocatedQuantity, &priority, &t.SetupHours); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "读取任务失败")
		}
		t.Priority = model.Priority(priority)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListRuns 分页查询运行记录，返回记录与总数
func (r *TimelineRepository) ListRuns(ctx context.Context, filter ListFilter) ([]*TimelineRun, int, error) {
	where, args := runsWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeDatabaseError, "统计运行记录失败")
	}

	query, args := runsQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeDatabaseError, "查询运行记录失败")
	}
	defer rows.Close()

	var runs []*TimelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// runsWhere 过滤条件
func runsWhere(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Year > 0 {
		add("year = $%d", f.Year)
	}
	if f.Month > 0 {
		add("month = $%d", f.Month)
	}
	if f.Mode != "" {
		add("mode = $%d", strings.ToUpper(f.Mode))
	}
	if !f.Since.IsZero() {
		add("generated_at >= $%d", f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var orderColumns = map[string]bool{
	"generated_at": true, "score": true, "conflict_count": true, "makespan_hours": true,
}

// runsQuery 分页查询语句，排序列只允许白名单
func runsQuery(f ListFilter) (string, []interface{}) {
	where, args := runsWhere(f)
	def := DefaultListFilter()
	order := f.OrderBy
	if !orderColumns[order] {
		order = def.OrderBy
	}
	dir := "DESC"
	if strings.EqualFold(f.OrderDir, "asc") {
		dir = "ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = def.Limit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM timeline_runs%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		runColumns, where, order, dir, len(args)-1, len(args))
	return query, args
}

func scanRun(s Scanner) (*TimelineRun, error) {
	run := &TimelineRun{}
	var conflicts []byte
	var execMS int64
	err := s.Scan(&run.ID, &run.Year, &run.Month, &run.Mode, &run.TaskCount, &run.ConflictCount,
		&run.MakespanHours, &run.Score, &conflicts, &execMS, &run.GeneratedAt, &run.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "读取运行记录失败")
	}
	run.ExecutionTime = time.Duration(execMS) * time.Millisecond
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &run.Conflicts); err != nil {
			return nil, fmt.Errorf("解析冲突失败: %w", err)
		}
	}
	return run, nil
}
