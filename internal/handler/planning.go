// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/paiban/prodsched/internal/constraints"
	"github.com/paiban/prodsched/internal/planning"
	"github.com/paiban/prodsched/internal/repository"
	"github.com/paiban/prodsched/internal/scenario"
	"github.com/paiban/prodsched/pkg/errors"
	"github.com/paiban/prodsched/pkg/logger"
	"github.com/paiban/prodsched/pkg/model"
	"github.com/paiban/prodsched/pkg/scheduler/constraint"
	"github.com/paiban/prodsched/pkg/scheduler/optimizer"
	"github.com/paiban/prodsched/pkg/scheduler/solver"
	"github.com/paiban/prodsched/pkg/selector"
)

// PlanningHandler 排产处理器
type PlanningHandler struct {
	svc  *planning.Service
	repo repository.TimelineRepositoryInterface // 未配置数据库时为 nil
}

// NewPlanningHandler 创建排产处理器
func NewPlanningHandler(svc *planning.Service, repo repository.TimelineRepositoryInterface) *PlanningHandler {
	return &PlanningHandler{svc: svc, repo: repo}
}

// Register 注册路由
func (h *PlanningHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/pairing", h.Pairing)
	mux.HandleFunc("/api/v1/optimize", h.Optimize)
	mux.HandleFunc("/api/v1/capacity", h.Capacity)
	mux.HandleFunc("/api/v1/constraints/analyze", h.AnalyzeConstraints)
	mux.HandleFunc("/api/v1/constraints/solve", h.Solve)
	mux.HandleFunc("/api/v1/constraints/library", h.ConstraintLibrary)
	mux.HandleFunc("/api/v1/timeline/generate", h.GenerateTimeline)
	mux.HandleFunc("/api/v1/timeline/runs", h.ListRuns)
	mux.HandleFunc("/api/v1/timeline/runs/{id}", h.GetRun)
}

// PairingRequest 选机请求
type PairingRequest struct {
	Scenario *scenario.Scenario `json:"scenario"`
	planning.PairingOptions
}

// OptimizeRequest 资源优化请求
type OptimizeRequest struct {
	Scenario         *scenario.Scenario              `json:"scenario"`
	Strategy         string                          `json:"strategy,omitempty"`
	Objectives       map[optimizer.Objective]float64 `json:"objectives,omitempty"`
	TimeLimitSeconds float64                         `json:"time_limit_seconds,omitempty"`
}

// OptimizeResponse 资源优化响应
type OptimizeResponse struct {
	Pairing      *selector.PairingResult `json:"pairing"`
	Optimization *optimizer.Result       `json:"optimization"`
}

// AnalyzeRequest 约束冲突分析请求
// 未给出约束时由场景生成
type AnalyzeRequest struct {
	Constraints []*constraint.Constraint `json:"constraints,omitempty"`
	Scenario    *scenario.Scenario       `json:"scenario,omitempty"`
	Preferences solver.Preferences       `json:"preferences"`
}

// AnalyzeResponse 约束冲突分析响应
type AnalyzeResponse struct {
	ConstraintCount int                      `json:"constraint_count"`
	Analysis        *solver.ConflictAnalysis `json:"analysis"`
}

// SolveRequest 约束求解请求
type SolveRequest struct {
	Scenario    *scenario.Scenario `json:"scenario"`
	Objectives  map[string]float64 `json:"objectives,omitempty"`
	Preferences solver.Preferences `json:"preferences"`
}

// TimelineRequest 时间线生成请求
type TimelineRequest struct {
	Scenario *scenario.Scenario `json:"scenario"`
	planning.TimelineOptions
	TimeLimitSeconds float64 `json:"time_limit_seconds,omitempty"`
	Persist          bool    `json:"persist,omitempty"`
}

// TimelineResponse 时间线生成响应
type TimelineResponse struct {
	*planning.Plan
	Persisted bool   `json:"persisted"`
	Duration  string `json:"duration"`
}

// RunResponse 运行记录详情
type RunResponse struct {
	Run   *repository.TimelineRun `json:"run"`
	Tasks []*model.ScheduledTask  `json:"tasks"`
}

// ListRunsResponse 运行记录列表
type ListRunsResponse struct {
	Runs  []*repository.TimelineRun `json:"runs"`
	Total int                       `json:"total"`
}

// Pairing 为计划分配喂料机与卷包机
func (h *PlanningHandler) Pairing(w http.ResponseWriter, r *http.Request) {
	var req PairingRequest
	if !decodePost(w, r, &req) {
		return
	}
	sc, ok := validScenario(w, req.Scenario)
	if !ok {
		return
	}
	res, _, err := h.svc.Pair(r.Context(), sc, req.PairingOptions)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Optimize 选机后在候选机台间优化数量分配
func (h *PlanningHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !decodePost(w, r, &req) {
		return
	}
	sc, ok := validScenario(w, req.Scenario)
	if !ok {
		return
	}
	out, pairing, err := h.svc.Optimize(r.Context(), sc, planning.OptimizeOptions{
		Strategy:   req.Strategy,
		Objectives: req.Objectives,
		TimeLimit:  seconds(req.TimeLimitSeconds),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OptimizeResponse{Pairing: pairing, Optimization: out})
}

// Capacity 机台月度产能
func (h *PlanningHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	var req PairingRequest
	if !decodePost(w, r, &req) {
		return
	}
	sc, ok := validScenario(w, req.Scenario)
	if !ok {
		return
	}
	caps, err := h.svc.Capacity(sc)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"machines": caps})
}

// AnalyzeConstraints 分析硬约束之间的矛盾
func (h *PlanningHandler) AnalyzeConstraints(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodePost(w, r, &req) {
		return
	}
	list := req.Constraints
	if len(list) == 0 {
		sc, ok := validScenario(w, req.Scenario)
		if !ok {
			return
		}
		built, err := h.buildConstraints(sc, req.Preferences)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		list = built
	}
	for _, c := range list {
		if err := c.Validate(); err != nil {
			respondErr(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, AnalyzeResponse{
		ConstraintCount: len(list),
		Analysis:        solver.AnalyzeConstraintConflicts(list),
	})
}

func (h *PlanningHandler) buildConstraints(sc *scenario.Scenario, prefs solver.Preferences) ([]*constraint.Constraint, error) {
	days, err := sc.CalendarDays()
	if err != nil {
		return nil, err
	}
	machines, err := h.svc.MachineConfigs(sc)
	if err != nil {
		return nil, err
	}
	list, _, err := solver.BuildProblem(sc.Plans, machines, days, prefs)
	return list, err
}

// Solve 由场景生成约束并求解
func (h *PlanningHandler) Solve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if !decodePost(w, r, &req) {
		return
	}
	sc, ok := validScenario(w, req.Scenario)
	if !ok {
		return
	}
	sol, err := h.svc.Solve(r.Context(), sc, req.Objectives, req.Preferences)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sol)
}

// ConstraintLibrary 返回支持的约束及参数定义
func (h *PlanningHandler) ConstraintLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}
	respondJSON(w, http.StatusOK, constraints.LibraryResponse{Library: constraints.GetLibrary()})
}

// GenerateTimeline 选机并生成月度时间线
func (h *PlanningHandler) GenerateTimeline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req TimelineRequest
	if !decodePost(w, r, &req) {
		return
	}
	sc, ok := validScenario(w, req.Scenario)
	if !ok {
		return
	}
	if req.Persist && h.repo == nil {
		respondError(w, errors.New(errors.CodeInvalidInput, "未配置数据库，无法保存结果"))
		return
	}

	ctx := r.Context()
	if d := seconds(req.TimeLimitSeconds); d > 0 {
		req.TimeLimit = d
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	plan, err := h.svc.Schedule(ctx, sc, req.TimelineOptions)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	resp := TimelineResponse{Plan: plan}
	if req.Persist {
		if err := h.repo.SaveTimeline(r.Context(), plan.Timeline); err != nil {
			respondErr(w, r, err)
			return
		}
		resp.Persisted = true
	}
	resp.Duration = time.Since(start).String()
	respondJSON(w, http.StatusOK, resp)
}

// ListRuns 分页查询已保存的时间线
func (h *PlanningHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}
	if h.repo == nil {
		respondError(w, errors.NotFound("repository", "timeline"))
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	runs, total, err := h.repo.ListRuns(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Total: total})
}

// GetRun 查询一次时间线及其任务
func (h *PlanningHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}
	if h.repo == nil {
		respondError(w, errors.NotFound("repository", "timeline"))
		return
	}
	id := r.PathValue("id")
	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tasks, err := h.repo.GetTasks(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RunResponse{Run: run, Tasks: tasks})
}

func parseListFilter(r *http.Request) (repository.ListFilter, error) {
	f := repository.DefaultListFilter()
	q := r.URL.Query()
	ints := []struct {
		key string
		dst *int
	}{
		{"year", &f.Year}, {"month", &f.Month}, {"limit", &f.Limit}, {"offset", &f.Offset},
	}
	for _, p := range ints {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.InvalidInput(p.key, fmt.Sprintf("%q 不是整数", v))
		}
		*p.dst = n
	}
	f.Mode = q.Get("mode")
	if v := q.Get("order_by"); v != "" {
		f.OrderBy = v
	}
	if v := q.Get("order_dir"); v != "" {
		f.OrderDir = v
	}
	return f, nil
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// decodePost 校验方法并解析请求体
func decodePost(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败"))
		return false
	}
	return true
}

func validScenario(w http.ResponseWriter, sc *scenario.Scenario) (*scenario.Scenario, bool) {
	if sc == nil {
		respondError(w, errors.Validation("scenario", "不能为空"))
		return nil, false
	}
	if err := sc.Validate(); err != nil {
		respondErr(w, nil, err)
		return nil, false
	}
	return sc, true
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondErr 返回任意错误，非 AppError 作为内部错误记录日志
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Wrap(err, errors.CodeInternal, "内部错误")
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		l := logger.Get()
		if r != nil {
			l = logger.WithContext(r.Context())
		}
		l.Error().Err(err).Str("code", string(appErr.Code)).Msg("请求失败")
	}
	respondError(w, appErr)
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, err *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
		"fields":  err.Fields,
	})
}
