package model

import "time"

// ScheduledTask 时间线上的一个任务
type ScheduledTask struct {
	TaskID            string    `json:"task_id"`
	GroupID           string    `json:"group_id"` // 同一计划拆分到多台机的任务共享
	PlanID            string    `json:"plan_id"`
	WorkOrderNr       string    `json:"work_order_nr"`
	ArticleNr         string    `json:"article_nr"`
	MachineID         string    `json:"machine_id"`
	FeederID          string    `json:"feeder_id,omitempty"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	AllocatedQuantity float64   `json:"allocated_quantity"`
	Priority          Priority  `json:"priority"`
	SetupHours        float64   `json:"setup_hours,omitempty"`
}

// Window 任务时间窗口
func (t *ScheduledTask) Window() TimeWindow {
	return TimeWindow{Start: t.StartTime, End: t.EndTime}
}

// DurationHours 任务时长
func (t *ScheduledTask) DurationHours() float64 {
	return t.EndTime.Sub(t.StartTime).Hours()
}

// MoveTo 将任务平移到新的开始时间
func (t *ScheduledTask) MoveTo(start time.Time) {
	w := t.Window().Shift(start.Sub(t.StartTime))
	t.StartTime, t.EndTime = w.Start, w.End
}

// Clone 拷贝任务
func (t *ScheduledTask) Clone() *ScheduledTask {
	c := *t
	return &c
}

// CloneTasks 拷贝任务列表
func CloneTasks(tasks []*ScheduledTask) []*ScheduledTask {
	out := make([]*ScheduledTask, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictOverlap      ConflictType = "overlap"       // 同机台重叠
	ConflictFeeder       ConflictType = "feeder"        // 共用喂料机重叠
	ConflictParallelSync ConflictType = "parallel_sync" // 同组任务时间不一致
	ConflictTimeWindow   ConflictType = "time_window"   // 超出计划窗口
	ConflictMaintenance  ConflictType = "maintenance"   // 落入维护窗口
	ConflictCapacity     ConflictType = "capacity"      // 产能不足
)

// Conflict 调度冲突
type Conflict struct {
	ConflictID     string       `json:"conflict_id"`
	Type           ConflictType `json:"conflict_type"`
	Severity       float64      `json:"severity"`
	Description    string       `json:"description"`
	AutoResolvable bool         `json:"auto_resolvable"`
	TaskIDs        []string     `json:"task_ids"`
	ResourceIDs    []string     `json:"resource_ids"`
}

// WorkOrder 下发执行系统的工单
type WorkOrder struct {
	WorkOrderNr  string    `json:"work_order_nr"`
	TaskID       string    `json:"task_id"`
	MachineCode  string    `json:"machine_code"`
	FeederCode   string    `json:"feeder_code,omitempty"`
	ProductCode  string    `json:"product_code"`
	Quantity     float64   `json:"quantity"`
	PlannedStart time.Time `json:"planned_start"`
	PlannedEnd   time.Time `json:"planned_end"`
	Priority     Priority  `json:"priority"`
}

// WorkOrderFromTask 由任务生成工单
func WorkOrderFromTask(t *ScheduledTask) WorkOrder {
	nr := t.WorkOrderNr
	if nr == "" {
		nr = t.PlanID
	}
	return WorkOrder{
		WorkOrderNr:  nr + "-" + t.MachineID,
		TaskID:       t.TaskID,
		MachineCode:  t.MachineID,
		FeederCode:   t.FeederID,
		ProductCode:  t.ArticleNr,
		Quantity:     t.AllocatedQuantity,
		PlannedStart: t.StartTime,
		PlannedEnd:   t.EndTime,
		Priority:     t.Priority,
	}
}
