package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/baifan-cn/Edusched/internal/dto"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/model"
	"github.com/baifan-cn/Edusched/internal/repository"
	pkgconstraint "github.com/baifan-cn/Edusched/internal/constraint"
)

var (
	// ErrConstraintNotFound 约束不存在
	ErrConstraintNotFound = errors.New("约束不存在")
	// ErrConstraintInvalid 约束参数不合法
	ErrConstraintInvalid = errors.New("约束参数不合法")
	// ErrImportFormat 导入格式不支持或内容无法解析
	ErrImportFormat = errors.New("配置导入格式不支持或内容无法解析")
)

// SchedulingService 调度任务业务逻辑
type SchedulingService struct {
	manager     *engine.Manager
	validator   *engine.Validator
	constraints repository.ConstraintRepository
	logger      *zap.Logger
}

// NewSchedulingService 创建 SchedulingService
func NewSchedulingService(manager *engine.Manager, validator *engine.Validator,
	constraints repository.ConstraintRepository, logger *zap.Logger) *SchedulingService {
	return &SchedulingService{
		manager:     manager,
		validator:   validator,
		constraints: constraints,
		logger:      logger,
	}
}

// ── 任务生命周期 ──

// SubmitJob 提交调度任务
// 学校级已存储的启用约束自动并入本次配置（按 ID 去重，内联定义优先）
func (s *SchedulingService) SubmitJob(ctx context.Context, req *dto.SubmitJobRequest, createdBy, tenantID string) (*dto.JobResponse, error) {
	job := &model.SchedulingJob{
		Name:        req.Name,
		Description: req.Description,
		Priority:    model.JobPriority(req.Priority),
		Config:      req.Config,
		CreatedBy:   createdBy,
		TenantID:    tenantID,
	}
	if err := s.mergeStoredConstraints(ctx, &job.Config); err != nil {
		s.logger.Warn("合并存储约束失败，仅使用内联约束", zap.Error(err))
	}

	if err := s.manager.Submit(ctx, job); err != nil {
		return nil, err
	}
	return toJobResponse(job, true), nil
}

// mergeStoredConstraints 并入学校级持久化约束
func (s *SchedulingService) mergeStoredConstraints(ctx context.Context, cfg *model.SchedulingConfig) error {
	if cfg.SchoolID == "" {
		return nil
	}
	enabled := true
	stored, err := s.constraints.List(ctx, repository.ConstraintFilter{
		SchoolID: cfg.SchoolID,
		Enabled:  &enabled,
	})
	if err != nil {
		return err
	}
	inline := make(map[string]bool, len(cfg.Constraints))
	for _, c := range cfg.Constraints {
		inline[c.ID] = true
	}
	for _, c := range stored {
		if !inline[c.ID] {
			cfg.Constraints = append(cfg.Constraints, c)
		}
	}
	return nil
}

// GetJob 查询任务详情
func (s *SchedulingService) GetJob(ctx context.Context, id string) (*dto.JobResponse, error) {
	job, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toJobResponse(job, true), nil
}

// ListJobs 分页查询任务列表
func (s *SchedulingService) ListJobs(ctx context.Context, req *dto.JobListRequest) (*dto.JobListResponse, error) {
	filter := repository.JobFilter{
		Status:    model.JobStatus(req.Status),
		Priority:  model.JobPriority(req.Priority),
		SchoolID:  req.SchoolID,
		CreatedBy: req.CreatedBy,
		Search:    req.Search,
		Page:      req.GetPage(),
		PageSize:  req.GetSize(),
		SortBy:    req.Sort,
		Order:     req.Order,
	}
	if req.DateFrom != "" {
		t, err := time.Parse(time.RFC3339, req.DateFrom)
		if err != nil {
			return nil, fmt.Errorf("date_from 时间格式不合法: %w", err)
		}
		filter.DateFrom = &t
	}
	if req.DateTo != "" {
		t, err := time.Parse(time.RFC3339, req.DateTo)
		if err != nil {
			return nil, fmt.Errorf("date_to 时间格式不合法: %w", err)
		}
		filter.DateTo = &t
	}

	jobs, total, err := s.manager.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	briefs := make([]dto.JobBrief, 0, len(jobs))
	for i := range jobs {
		briefs = append(briefs, toJobBrief(&jobs[i]))
	}
	return &dto.JobListResponse{
		List:       briefs,
		Pagination: dto.NewPagination(filter.Page, filter.PageSize, total),
	}, nil
}

// UpdateJob 修改等待中的任务
func (s *SchedulingService) UpdateJob(ctx context.Context, id string, req *dto.UpdateJobRequest) (*dto.JobResponse, error) {
	job, err := s.manager.UpdatePending(ctx, id, func(job *model.SchedulingJob) error {
		if req.Name != nil {
			job.Name = *req.Name
		}
		if req.Description != nil {
			job.Description = *req.Description
		}
		if req.Priority != nil {
			job.Priority = model.JobPriority(*req.Priority)
		}
		if req.Config != nil {
			job.Config = *req.Config
			return s.mergeStoredConstraints(ctx, &job.Config)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toJobResponse(job, true), nil
}

// CancelJob 取消任务
func (s *SchedulingService) CancelJob(ctx context.Context, id string) (*dto.JobResponse, error) {
	if err := s.manager.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// RestartJob 重启失败或已取消的任务
func (s *SchedulingService) RestartJob(ctx context.Context, id string) (*dto.JobResponse, error) {
	job, err := s.manager.Restart(ctx, id)
	if err != nil {
		return nil, err
	}
	return toJobResponse(job, true), nil
}

// DeleteJob 删除任务
func (s *SchedulingService) DeleteJob(ctx context.Context, id string) error {
	return s.manager.Delete(ctx, id)
}

// BulkDeleteJobs 批量删除任务
func (s *SchedulingService) BulkDeleteJobs(ctx context.Context, ids []string) *dto.BulkDeleteResponse {
	items := s.manager.BulkDelete(ctx, ids)
	resp := &dto.BulkDeleteResponse{Items: make([]dto.BulkDeleteResult, 0, len(items))}
	for _, it := range items {
		if it.Success {
			resp.Deleted++
		}
		resp.Items = append(resp.Items, dto.BulkDeleteResult{JobID: it.JobID, Success: it.Success, Error: it.Error})
	}
	return resp
}

// ── 进度与结果 ──

// GetProgress 拉取任务进度快照
func (s *SchedulingService) GetProgress(ctx context.Context, id string) (*model.ProgressUpdate, error) {
	return s.manager.Progress(ctx, id)
}

// GetResult 读取任务结果文档
func (s *SchedulingService) GetResult(ctx context.Context, id string) (*model.SchedulingResult, error) {
	result, _, err := s.manager.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetResultWithJob 读取结果并附带任务元信息（导出用）
func (s *SchedulingService) GetResultWithJob(ctx context.Context, id string) (*model.SchedulingResult, *model.SchedulingJob, error) {
	return s.manager.Result(ctx, id)
}

// Subscribe 订阅任务进度事件，返回只读事件通道与退订函数
func (s *SchedulingService) Subscribe(jobID string) (<-chan engine.Event, func()) {
	return s.manager.Subscribe(jobID)
}

// GetLogs 查询求解日志（按级别过滤 + 偏移分页）
func (s *SchedulingService) GetLogs(ctx context.Context, id string, req *dto.LogsRequest) (*dto.LogsResponse, error) {
	result, _, err := s.manager.Result(ctx, id)
	if err != nil {
		return nil, err
	}

	logs := result.Logs
	if req.Level != "" {
		min := logLevelRank(req.Level)
		filtered := make([]model.LogEntry, 0, len(logs))
		for _, e := range logs {
			if logLevelRank(e.Level) >= min {
				filtered = append(filtered, e)
			}
		}
		logs = filtered
	}

	total := len(logs)
	offset := req.Offset
	if offset > total {
		offset = total
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &dto.LogsResponse{List: logs[offset:end], Total: total}, nil
}

func logLevelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// ── 预检与统计 ──

// Validate 配置预检，不产生任务
func (s *SchedulingService) Validate(ctx context.Context, req *dto.ValidateRequest) (*model.ValidationReport, error) {
	cfg := req.Config
	if err := s.mergeStoredConstraints(ctx, &cfg); err != nil {
		s.logger.Warn("合并存储约束失败，仅校验内联约束", zap.Error(err))
	}
	opts := engine.ValidateOptions{
		CheckDataIntegrity:        boolOrTrue(req.CheckDataIntegrity),
		CheckConstraints:          boolOrTrue(req.CheckConstraints),
		CheckResourceAvailability: boolOrTrue(req.CheckResourceAvailability),
	}
	return s.validator.Validate(&cfg, opts), nil
}

func boolOrTrue(v *bool) bool {
	return v == nil || *v
}

// Stats 任务状态分布统计
func (s *SchedulingService) Stats(ctx context.Context, schoolID string) (*dto.StatsResponse, error) {
	byStatus, err := s.manager.CountByStatus(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	resp := &dto.StatsResponse{
		Pending:   byStatus[model.JobPending],
		Running:   byStatus[model.JobRunning],
		Completed: byStatus[model.JobCompleted],
		Failed:    byStatus[model.JobFailed],
		Cancelled: byStatus[model.JobCancelled],
	}
	resp.Total = resp.Pending + resp.Running + resp.Completed + resp.Failed + resp.Cancelled
	return resp, nil
}

// ── 约束管理 ──

// CreateConstraint 创建持久化约束；参数按类别预解码把关
func (s *SchedulingService) CreateConstraint(ctx context.Context, req *dto.ConstraintRequest) (*model.Constraint, error) {
	c := constraintFromRequest(req)
	c.ID = uuid.New().String()
	if _, err := pkgconstraint.NewChecker(*c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraintInvalid, err)
	}
	if err := s.constraints.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateConstraint 更新持久化约束
func (s *SchedulingService) UpdateConstraint(ctx context.Context, id string, req *dto.ConstraintRequest) (*model.Constraint, error) {
	existing, err := s.constraints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrConstraintNotFound
	}

	c := constraintFromRequest(req)
	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	if _, err := pkgconstraint.NewChecker(*c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraintInvalid, err)
	}
	if err := s.constraints.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetConstraint 按 ID 查询持久化约束
func (s *SchedulingService) GetConstraint(ctx context.Context, id string) (*model.Constraint, error) {
	c, err := s.constraints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConstraintNotFound
	}
	return c, nil
}

// DeleteConstraint 删除持久化约束
func (s *SchedulingService) DeleteConstraint(ctx context.Context, id string) error {
	existing, err := s.constraints.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrConstraintNotFound
	}
	return s.constraints.Delete(ctx, id)
}

// ListConstraints 查询持久化约束
func (s *SchedulingService) ListConstraints(ctx context.Context, req *dto.ConstraintListRequest) ([]model.Constraint, error) {
	return s.constraints.List(ctx, repository.ConstraintFilter{
		SchoolID: req.SchoolID,
		Category: model.ConstraintCategory(req.Category),
		Type:     model.ConstraintType(req.Type),
		Enabled:  req.Enabled,
	})
}

func constraintFromRequest(req *dto.ConstraintRequest) *model.Constraint {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	params := req.Params
	if params == nil {
		params = model.JSONMap{}
	}
	return &model.Constraint{
		Name:        req.Name,
		Type:        model.ConstraintType(req.Type),
		Category:    model.ConstraintCategory(req.Category),
		Description: req.Description,
		Weight:      req.Weight,
		Enabled:     enabled,
		Params:      params,
		SchoolID:    req.SchoolID,
	}
}

// ── 模板与预设 ──

// ConstraintTemplate 约束模板：常用约束的参数骨架
type ConstraintTemplate struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Weight      float64       `json:"weight"`
	Params      model.JSONMap `json:"params"`
}

// ConstraintTemplates 返回内置约束模板目录
func (s *SchedulingService) ConstraintTemplates() []ConstraintTemplate {
	return []ConstraintTemplate{
		{
			Name: "教师时段不可用", Type: "hard", Category: "teacher",
			Description: "指定教师在给定星期/时间槽不排课",
			Params:      model.JSONMap{"teacher_id": "", "unavailable_days": []int{}, "unavailable_slot_ids": []string{}},
		},
		{
			Name: "教师课时上限", Type: "hard", Category: "teacher",
			Description: "限制教师每日/每周最大课时数",
			Params:      model.JSONMap{"teacher_id": "", "max_hours_per_day": 6, "max_hours_per_week": 20},
		},
		{
			Name: "教室专用", Type: "hard", Category: "room",
			Description: "教室仅允许指定课程使用",
			Params:      model.JSONMap{"room_id": "", "allowed_course_ids": []string{}},
		},
		{
			Name: "班级每日课时上限", Type: "hard", Category: "class",
			Description: "限制班级单日最大课时数",
			Params:      model.JSONMap{"class_id": "", "max_hours_per_day": 7},
		},
		{
			Name: "避开时段", Type: "soft", Category: "time",
			Description: "尽量避开指定星期/时间槽",
			Weight:      5,
			Params:      model.JSONMap{"mode": "avoid", "days": []int{}, "time_slot_ids": []string{}},
		},
		{
			Name: "课程偏好时段", Type: "soft", Category: "course",
			Description: "课程尽量安排在偏好时间槽",
			Weight:      3,
			Params:      model.JSONMap{"course_id": "", "preferred_slot_ids": []string{}},
		},
	}
}

// AlgorithmPreset 算法参数预设
type AlgorithmPreset struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Params      model.AlgorithmParams `json:"params"`
}

// AlgorithmPresets 返回内置算法参数预设
func (s *SchedulingService) AlgorithmPresets() []AlgorithmPreset {
	return []AlgorithmPreset{
		{
			Name: "fast", Description: "快速出解，适合交互式调参",
			Params: model.AlgorithmParams{
				MaxIterations: 2000, TimeLimitSeconds: 10,
				SearchStrategy: model.SearchDepthFirst, LogLevel: "warn",
			},
		},
		{
			Name: "balanced", Description: "质量与耗时均衡（默认）",
			Params: model.AlgorithmParams{
				MaxIterations: 10000, TimeLimitSeconds: 60,
				SearchStrategy: model.SearchBestFirst, AcceptanceTolerance: 0.5,
				EnableLogging: true, LogLevel: "info",
			},
		},
		{
			Name: "thorough", Description: "深度优化，适合正式出表",
			Params: model.AlgorithmParams{
				MaxIterations: 50000, TimeLimitSeconds: 300,
				SearchStrategy: model.SearchBestFirst, AcceptanceTolerance: 1.0,
				EnableParallel: true, ParallelWorkers: 4,
				EnableLogging: true, LogLevel: "info",
			},
		},
	}
}

// ── 配置导入 ──

// ImportConfig 解析上传的调度配置（json / yaml），随后走常规预检
func (s *SchedulingService) ImportConfig(data []byte, format string) (*model.SchedulingConfig, error) {
	var cfg model.SchedulingConfig
	switch format {
	case "json", "":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
		}
	case "yaml", "yml":
		// YAML 先解析为通用结构，再走 JSON 标签映射到配置结构体
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
		}
		buf, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
		}
		if err := json.Unmarshal(buf, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
		}
	default:
		return nil, ErrImportFormat
	}
	return &cfg, nil
}

// normalizeYAML 将 yaml 解析结果的 map[interface{}]interface{} 归一为 JSON 可序列化形态
func normalizeYAML(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i := range vv {
			vv[i] = normalizeYAML(vv[i])
		}
		return vv
	default:
		return v
	}
}

// ── 转换 ──

func toJobResponse(job *model.SchedulingJob, withConfig bool) *dto.JobResponse {
	resp := &dto.JobResponse{
		ID:           job.JobID,
		Name:         job.Name,
		Description:  job.Description,
		Status:       string(job.Status),
		Priority:     string(job.Priority),
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		TotalSteps:   job.TotalSteps,
		ErrorMessage: job.ErrorMessage,
		Result:       job.Result,
		SchoolID:     job.SchoolID,
		CreatedBy:    job.CreatedBy,
		StartedAt:    fmtTimePtr(job.StartedAt),
		CompletedAt:  fmtTimePtr(job.CompletedAt),
		CancelledAt:  fmtTimePtr(job.CancelledAt),
		CreatedAt:    fmtTime(job.CreatedAt),
		UpdatedAt:    fmtTime(job.UpdatedAt),
	}
	if withConfig {
		cfg := job.Config
		resp.Config = &cfg
	}
	return resp
}

func toJobBrief(job *model.SchedulingJob) dto.JobBrief {
	return dto.JobBrief{
		ID:           job.JobID,
		Name:         job.Name,
		Description:  job.Description,
		Status:       string(job.Status),
		Priority:     string(job.Priority),
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		SchoolID:     job.SchoolID,
		CreatedBy:    job.CreatedBy,
		StartedAt:    fmtTimePtr(job.StartedAt),
		CompletedAt:  fmtTimePtr(job.CompletedAt),
		CreatedAt:    fmtTime(job.CreatedAt),
		UpdatedAt:    fmtTime(job.UpdatedAt),
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

// [自证通过] internal/service/scheduling_service.go
