package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/config"
	"github.com/baifan-cn/Edusched/internal/model"
	"github.com/baifan-cn/Edusched/internal/repository"
	pkgerrors "github.com/baifan-cn/Edusched/pkg/errors"
	"github.com/baifan-cn/Edusched/pkg/metrics"
)

// InvalidConfigError 提交预检失败，附带完整校验报告
type InvalidConfigError struct {
	Report *model.ValidationReport
}

func (e *InvalidConfigError) Error() string { return ErrConfigInvalid.Error() }
func (e *InvalidConfigError) Unwrap() error { return ErrConfigInvalid }

// BulkDeleteItem 批量删除的单项结果
type BulkDeleteItem struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Manager 任务管理器：队列、工作协程池与任务状态机的唯一写入方。
// 状态迁移单调（pending → running → 终态），并发竞争通过仓储的
// TransitionStatus 条件更新仲裁，输掉仲裁的一方放弃写入
type Manager struct {
	cfg       config.EngineConfig
	repo      repository.JobRepository
	solver    *Solver
	validator *Validator
	reporter  *ProgressReporter
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *jobQueue
	queued  map[string]bool // 容量审计；出队与取消时移除
	cancels map[string]context.CancelFunc
	closed  bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager 创建任务管理器（需调用 Start 启动工作协程）
func NewManager(cfg config.EngineConfig, repo repository.JobRepository, solver *Solver,
	validator *Validator, reporter *ProgressReporter, m *metrics.Metrics, logger *zap.Logger) *Manager {

	mgr := &Manager{
		cfg:       cfg,
		repo:      repo,
		solver:    solver,
		validator: validator,
		reporter:  reporter,
		metrics:   m,
		logger:    logger,
		queue:     newJobQueue(),
		queued:    make(map[string]bool),
		cancels:   make(map[string]context.CancelFunc),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	return mgr
}

// Start 恢复遗留任务并启动工作协程池
// 进程上次退出时残留的 running 任务重置为 pending 重新入队
func (m *Manager) Start(ctx context.Context) error {
	m.baseCtx, m.stop = context.WithCancel(context.Background())

	interrupted, err := m.repo.ListByStatus(ctx, model.JobRunning)
	if err != nil {
		return fmt.Errorf("恢复运行中任务失败: %w", err)
	}
	for _, job := range interrupted {
		if err := m.repo.UpdateFields(ctx, job.JobID, map[string]interface{}{
			"status":     model.JobPending,
			"progress":   0,
			"started_at": nil,
		}); err != nil {
			m.logger.Warn("重置中断任务失败", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}

	pending, err := m.repo.ListByStatus(ctx, model.JobPending)
	if err != nil {
		return fmt.Errorf("恢复等待中任务失败: %w", err)
	}

	m.mu.Lock()
	for _, job := range pending {
		m.queue.Enqueue(job.JobID, job.Priority.Rank())
		m.queued[job.JobID] = true
	}
	m.metrics.QueueDepth.Set(float64(len(m.queued)))
	m.mu.Unlock()

	if len(pending) > 0 {
		m.logger.Info("恢复等待中任务", zap.Int("count", len(pending)))
	}

	workers := m.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.logger.Info("任务管理器启动", zap.Int("workers", workers), zap.Int("queue_capacity", m.cfg.QueueCapacity))
	return nil
}

// Stop 优雅停机：停止取队，等待运行中任务到 ctx 截止；
// 超时后取消运行中的求解，任务重置为 pending 供下次启动恢复
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.stop() // 强制打断剩余求解
		<-done
	}
	m.logger.Info("任务管理器已停止")
}

// ── 提交与修改 ──

// Submit 预检并入队新任务
// 预检失败返回 *InvalidConfigError；队列满返回 ErrQueueFull
func (m *Manager) Submit(ctx context.Context, job *model.SchedulingJob) error {
	if report := m.validator.Validate(&job.Config, AllChecks()); !report.Valid {
		return &InvalidConfigError{Report: report}
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if !job.Priority.Valid() {
		job.Priority = model.PriorityNormal
	}
	job.Status = model.JobPending
	job.Progress = 0
	job.TotalSteps = totalSteps
	m.applyDefaults(&job.Config.AlgorithmParams)
	job.SchoolID = job.Config.SchoolID

	m.mu.Lock()
	if m.cfg.QueueCapacity > 0 && len(m.queued) >= m.cfg.QueueCapacity {
		m.mu.Unlock()
		return ErrQueueFull
	}
	m.mu.Unlock()

	if err := m.repo.Create(ctx, job); err != nil {
		return fmt.Errorf("任务持久化失败: %w", err)
	}

	m.enqueue(job.JobID, job.Priority)
	m.metrics.JobsSubmitted.Inc()
	m.logger.Info("任务已提交",
		zap.String("job_id", job.JobID),
		zap.String("priority", string(job.Priority)),
		zap.String("school_id", job.SchoolID))
	return nil
}

// UpdatePending 修改等待中的任务；apply 在持久化前对任务做就地修改
// 修改后的配置重新预检；优先级变化时按新序值重新入队（旧队列条目惰性失效）
func (m *Manager) UpdatePending(ctx context.Context, id string, apply func(*model.SchedulingJob) error) (*model.SchedulingJob, error) {
	job, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobPending {
		return nil, ErrJobNotPending
	}

	oldPriority := job.Priority
	if err := apply(job); err != nil {
		return nil, err
	}
	if report := m.validator.Validate(&job.Config, AllChecks()); !report.Valid {
		return nil, &InvalidConfigError{Report: report}
	}
	if !job.Priority.Valid() {
		job.Priority = oldPriority
	}
	m.applyDefaults(&job.Config.AlgorithmParams)

	if err := m.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	if job.Priority != oldPriority {
		m.enqueue(job.JobID, job.Priority)
	}
	return job, nil
}

// applyDefaults 用引擎级默认值补齐缺省算法参数
func (m *Manager) applyDefaults(p *model.AlgorithmParams) {
	if p.MaxIterations <= 0 {
		p.MaxIterations = m.cfg.DefaultMaxIterations
	}
	if p.TimeLimitSeconds <= 0 {
		p.TimeLimitSeconds = m.cfg.DefaultTimeLimitSecs
	}
	if p.SearchStrategy == "" {
		p.SearchStrategy = model.SearchBestFirst
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
}

func (m *Manager) enqueue(id string, priority model.JobPriority) {
	m.mu.Lock()
	m.queue.Enqueue(id, priority.Rank())
	m.queued[id] = true
	m.metrics.QueueDepth.Set(float64(len(m.queued)))
	m.cond.Signal()
	m.mu.Unlock()
}

// ── 工作协程 ──

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for !m.closed && m.queue.Len() == 0 {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		id := m.queue.Dequeue()
		delete(m.queued, id)
		m.metrics.QueueDepth.Set(float64(len(m.queued)))
		m.mu.Unlock()

		if id != "" {
			m.runJob(id)
		}
	}
}

// runJob 执行单个任务的完整生命周期
func (m *Manager) runJob(id string) {
	job, err := m.repo.GetByID(m.baseCtx, id)
	if err != nil {
		m.logger.Error("读取任务失败", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job == nil || job.Status != model.JobPending {
		// 队列条目惰性失效：任务已被取消或删除
		return
	}

	now := time.Now()
	err = m.repo.TransitionStatus(m.baseCtx, id, []model.JobStatus{model.JobPending}, map[string]interface{}{
		"status":     model.JobRunning,
		"started_at": now,
		"progress":   0,
	})
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			m.logger.Error("任务状态迁移失败", zap.String("job_id", id), zap.Error(err))
		}
		return
	}

	jctx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
		cancel()
	}()

	m.metrics.JobsRunning.Inc()
	defer m.metrics.JobsRunning.Dec()
	m.logger.Info("任务开始执行", zap.String("job_id", id))

	progressFn := func(p, cur, tot int, name, msg string) {
		m.reporter.Publish(model.ProgressUpdate{
			JobID:       id,
			Progress:    p,
			CurrentStep: cur,
			TotalSteps:  tot,
			StepName:    name,
			Message:     msg,
			Timestamp:   time.Now(),
		})
		if err := m.repo.UpdateFields(m.baseCtx, id, map[string]interface{}{
			"progress":     p,
			"current_step": cur,
			"total_steps":  tot,
		}); err != nil {
			m.logger.Warn("进度落盘失败", zap.String("job_id", id), zap.Error(err))
		}
	}

	started := time.Now()
	result, err := m.solver.Run(jctx, &job.Config, progressFn)
	elapsed := time.Since(started)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.finishCancelled(id)
		} else {
			m.finishFailed(id, err)
		}
		return
	}
	m.finishCompleted(id, result, elapsed)
}

// finishCancelled 求解被打断后的终态写入
// 停机打断重置为 pending 供下次恢复；任务级取消写入 cancelled 终态
func (m *Manager) finishCancelled(id string) {
	if m.baseCtx.Err() != nil {
		if err := m.repo.UpdateFields(context.Background(), id, map[string]interface{}{
			"status":     model.JobPending,
			"progress":   0,
			"started_at": nil,
		}); err != nil {
			m.logger.Error("停机重置任务失败", zap.String("job_id", id), zap.Error(err))
		}
		return
	}

	now := time.Now()
	err := m.repo.TransitionStatus(m.baseCtx, id, []model.JobStatus{model.JobRunning}, map[string]interface{}{
		"status":       model.JobCancelled,
		"cancelled_at": now,
	})
	if err != nil && !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		m.logger.Error("取消终态写入失败", zap.String("job_id", id), zap.Error(err))
	}
	m.metrics.JobsFinished.WithLabelValues(string(model.JobCancelled)).Inc()
	m.reporter.Completed(id, model.JobCancelled)
	m.logger.Info("任务已取消", zap.String("job_id", id))
}

func (m *Manager) finishFailed(id string, cause error) {
	now := time.Now()
	err := m.repo.TransitionStatus(m.baseCtx, id, []model.JobStatus{model.JobRunning}, map[string]interface{}{
		"status":        model.JobFailed,
		"error_message": cause.Error(),
		"completed_at":  now,
	})
	if err != nil && !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		m.logger.Error("失败终态写入失败", zap.String("job_id", id), zap.Error(err))
	}
	m.metrics.JobsFinished.WithLabelValues(string(model.JobFailed)).Inc()
	m.reporter.Completed(id, model.JobFailed)
	m.logger.Warn("任务执行失败", zap.String("job_id", id), zap.Error(cause))
}

// finishCompleted 写入结果文档；输给并发取消时丢弃结果
func (m *Manager) finishCompleted(id string, result *model.SchedulingResult, elapsed time.Duration) {
	now := time.Now()
	err := m.repo.TransitionStatus(m.baseCtx, id, []model.JobStatus{model.JobRunning}, map[string]interface{}{
		"status":       model.JobCompleted,
		"result":       result,
		"progress":     100,
		"current_step": totalSteps,
		"completed_at": now,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			m.logger.Info("任务完成前已被取消，结果丢弃", zap.String("job_id", id))
		} else {
			m.logger.Error("完成终态写入失败", zap.String("job_id", id), zap.Error(err))
		}
		return
	}

	m.metrics.SolveDuration.Observe(elapsed.Seconds())
	m.metrics.SolveIterations.Observe(float64(result.Iterations))
	m.metrics.JobsFinished.WithLabelValues(string(model.JobCompleted)).Inc()

	m.reporter.Publish(model.ProgressUpdate{
		JobID:       id,
		Progress:    100,
		CurrentStep: totalSteps,
		TotalSteps:  totalSteps,
		StepName:    "完成",
		Timestamp:   now,
	})
	m.reporter.Completed(id, model.JobCompleted)
	m.logger.Info("任务执行完成",
		zap.String("job_id", id),
		zap.Bool("success", result.Success),
		zap.Int("assignments", result.TotalAssignments),
		zap.Duration("elapsed", elapsed))
}

// ── 查询与控制 ──

func (m *Manager) mustGet(ctx context.Context, id string) (*model.SchedulingJob, error) {
	job, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Get 查询任务详情
func (m *Manager) Get(ctx context.Context, id string) (*model.SchedulingJob, error) {
	return m.mustGet(ctx, id)
}

// List 分页查询任务
func (m *Manager) List(ctx context.Context, filter repository.JobFilter) ([]model.SchedulingJob, int64, error) {
	return m.repo.List(ctx, filter)
}

// CountByStatus 任务状态分布
func (m *Manager) CountByStatus(ctx context.Context, schoolID string) (map[model.JobStatus]int64, error) {
	return m.repo.CountByStatus(ctx, schoolID)
}

// Cancel 取消任务
// pending 直接入终态；running 打断求解由工作协程写终态；终态返回 ErrJobNotCancellable
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobNotCancellable
	}

	if job.Status == model.JobPending {
		now := time.Now()
		err := m.repo.TransitionStatus(ctx, id, []model.JobStatus{model.JobPending}, map[string]interface{}{
			"status":       model.JobCancelled,
			"cancelled_at": now,
		})
		if err == nil {
			m.mu.Lock()
			delete(m.queued, id)
			m.metrics.QueueDepth.Set(float64(len(m.queued)))
			m.mu.Unlock()
			m.metrics.JobsFinished.WithLabelValues(string(model.JobCancelled)).Inc()
			m.reporter.Completed(id, model.JobCancelled)
			return nil
		}
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return err
		}
		// 输给了并发的 pending → running 迁移，按运行中处理
	}

	m.mu.Lock()
	cancel, running := m.cancels[id]
	m.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	// 既不在队也不在跑：重读状态仲裁
	job, err = m.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobNotCancellable
	}
	return m.repo.TransitionStatus(ctx, id, []model.JobStatus{model.JobPending, model.JobRunning}, map[string]interface{}{
		"status":       model.JobCancelled,
		"cancelled_at": time.Now(),
	})
}

// Restart 重启失败或已取消的任务：复制原任务配置创建全新 pending 任务，
// 原任务保持终态不变（结果与历史可追溯）
func (m *Manager) Restart(ctx context.Context, id string) (*model.SchedulingJob, error) {
	old, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Status != model.JobFailed && old.Status != model.JobCancelled {
		return nil, ErrJobNotRestartable
	}

	job := &model.SchedulingJob{
		Name:        old.Name,
		Description: old.Description,
		Priority:    old.Priority,
		Config:      old.Config,
		SchoolID:    old.SchoolID,
		CreatedBy:   old.CreatedBy,
		TenantID:    old.TenantID,
	}
	if err := m.Submit(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Info("任务已重启", zap.String("origin_job_id", id), zap.String("job_id", job.JobID))
	return job, nil
}

// Delete 删除任务及其进度痕迹；运行中任务需先取消
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == model.JobRunning {
		return ErrJobRunning
	}

	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.queued, id)
	m.metrics.QueueDepth.Set(float64(len(m.queued)))
	m.mu.Unlock()
	m.reporter.Drop(ctx, id)
	return nil
}

// BulkDelete 批量删除，逐项返回结果，单项失败不影响其余
func (m *Manager) BulkDelete(ctx context.Context, ids []string) []BulkDeleteItem {
	out := make([]BulkDeleteItem, 0, len(ids))
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil {
			out = append(out, BulkDeleteItem{JobID: id, Success: false, Error: err.Error()})
		} else {
			out = append(out, BulkDeleteItem{JobID: id, Success: true})
		}
	}
	return out
}

// Progress 拉取任务进度；无快照时由任务的持久化字段合成
func (m *Manager) Progress(ctx context.Context, id string) (*model.ProgressUpdate, error) {
	job, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if u, ok := m.reporter.Latest(ctx, id); ok {
		return u, nil
	}
	return &model.ProgressUpdate{
		JobID:       id,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Timestamp:   job.UpdatedAt,
	}, nil
}

// Result 读取结果文档；仅 completed/failed 终态可能持有结果
func (m *Manager) Result(ctx context.Context, id string) (*model.SchedulingResult, *model.SchedulingJob, error) {
	job, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !job.Status.IsTerminal() || job.Status == model.JobCancelled || job.Result == nil {
		return nil, nil, ErrResultNotReady
	}
	return job.Result, job, nil
}

// Subscribe 订阅任务进度推送
func (m *Manager) Subscribe(jobID string) (<-chan Event, func()) {
	return m.reporter.Subscribe(jobID)
}

// [自证通过] internal/engine/manager.go
