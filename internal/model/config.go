package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ── 调度配置（任务输入，任务运行期间不可变）──

// SchedulingConfig 一次调度运行的完整输入
// 资源集合全量内嵌（见 resources 字段），任务之间不共享可变资源状态
type SchedulingConfig struct {
	SchoolID            string               `json:"school_id"`
	AcademicYear        string               `json:"academic_year"`
	Semester            string               `json:"semester"`
	WeekDays            []int                `json:"week_days"`
	TimeSlots           []TimeSlot           `json:"time_slots"`
	Constraints         []Constraint         `json:"constraints"`
	AlgorithmParams     AlgorithmParams      `json:"algorithm_params"`
	OptimizationTargets []OptimizationTarget `json:"optimization_targets"`
	Resources           Resources            `json:"resources"`
}

// Scan 实现 GORM Scanner：从 JSONB 列读取配置文档
func (c *SchedulingConfig) Scan(src interface{}) error {
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
		return fmt.Errorf("SchedulingConfig.Scan: unsupported type %T", src)
	}
	return json.Unmarshal(data, c)
}

// Value 实现 GORM Valuer：配置文档写入 JSONB 列
func (c SchedulingConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// TimeSlot 时间槽：某个教学日内的命名时间区间
type TimeSlot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	StartTime string  `json:"start_time"` // "HH:MM"
	EndTime   string  `json:"end_time"`   // "HH:MM"
	IsBreak   bool    `json:"is_break"`
	Weight    float64 `json:"weight"` // 排课偏好权重，越大越优先
}

// Overlaps 判断两个时间槽在同一天是否重叠
func (t *TimeSlot) Overlaps(other *TimeSlot) bool {
	return t.StartTime < other.EndTime && other.StartTime < t.EndTime
}

// ── 约束 ──

// ConstraintType 约束类型
type ConstraintType string

const (
	ConstraintHard ConstraintType = "hard" // 硬约束：违反即不可行
	ConstraintSoft ConstraintType = "soft" // 软约束：按权重计入扣分
)

// ConstraintCategory 约束类别，决定 params 的解释方式
type ConstraintCategory string

const (
	CategoryTeacher ConstraintCategory = "teacher"
	CategoryRoom    ConstraintCategory = "room"
	CategoryClass   ConstraintCategory = "class"
	CategoryTime    ConstraintCategory = "time"
	CategoryCourse  ConstraintCategory = "course"
	CategoryCustom  ConstraintCategory = "custom"
)

// Constraint 约束定义
// 硬约束为二元判定，weight 仅对软约束生效
type Constraint struct {
	ID          string             `gorm:"column:constraint_id;type:uuid;primaryKey" json:"id"`
	Name        string             `gorm:"not null"                                  json:"name"`
	Type        ConstraintType     `gorm:"not null"                                  json:"type"`
	Category    ConstraintCategory `gorm:"not null"                                  json:"category"`
	Description string             `gorm:"not null;default:''"                       json:"description"`
	Weight      float64            `gorm:"not null;default:0"                        json:"weight"`
	Enabled     bool               `gorm:"not null;default:true"                     json:"enabled"`
	Params      JSONMap            `gorm:"type:jsonb"                                json:"params"`
	SchoolID    string             `gorm:"index"                                     json:"school_id,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Constraint) TableName() string {
	return "scheduling_constraints"
}

// ── 算法参数 ──

// SearchStrategy 初始解构建策略
type SearchStrategy string

const (
	SearchDepthFirst   SearchStrategy = "depth_first"   // 按课节顺序逐个放置
	SearchBreadthFirst SearchStrategy = "breadth_first" // 课节间轮转，每轮各放一课时
	SearchBestFirst    SearchStrategy = "best_first"    // 最受限课节优先（可放置位置最少者先排）
)

// AlgorithmParams 求解算法参数
type AlgorithmParams struct {
	MaxIterations       int            `json:"max_iterations"`
	TimeLimitSeconds    int            `json:"time_limit_seconds"`
	SearchStrategy      SearchStrategy `json:"search_strategy"`
	EnableParallel      bool           `json:"enable_parallel"`
	ParallelWorkers     int            `json:"parallel_workers"`
	RandomSeed          *int64         `json:"random_seed,omitempty"`
	AcceptanceTolerance float64        `json:"acceptance_tolerance"` // 局部搜索可接受的分数回退幅度
	TargetScore         *float64       `json:"target_score,omitempty"`
	EnableLogging       bool           `json:"enable_logging"`
	LogLevel            string         `json:"log_level"` // debug | info | warn | error
}

// OptimizationTarget 优化目标：按方向与权重聚合到总分
type OptimizationTarget struct {
	Metric      string   `json:"metric"`
	Weight      float64  `json:"weight"`
	Direction   string   `json:"direction"` // minimize | maximize
	TargetValue *float64 `json:"target_value,omitempty"`
}

// ── 资源集合 ──

// Resources 一次调度运行的全量资源快照
type Resources struct {
	Teachers []Teacher `json:"teachers"`
	Rooms    []Room    `json:"rooms"`
	Classes  []Class   `json:"classes"`
	Sections []Section `json:"sections"`
}

// SlotRef 指向某教学日的某个时间槽
type SlotRef struct {
	DayOfWeek  int    `json:"day_of_week"`
	TimeSlotID string `json:"time_slot_id"`
}

// Teacher 教师资源
type Teacher struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	MaxHoursPerDay   int       `json:"max_hours_per_day,omitempty"`
	MaxHoursPerWeek  int       `json:"max_hours_per_week,omitempty"`
	UnavailableSlots []SlotRef `json:"unavailable_slots,omitempty"`
}

// Room 教室资源
type Room struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	RoomType string `json:"room_type,omitempty"` // normal / lab / gym 等
}

// Class 班级（学生群体）
type Class struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Section 课节：某课程对某班级由某教师授课，需排 hours_per_week 课时
type Section struct {
	ID               string `json:"id"`
	CourseID         string `json:"course_id"`
	CourseName       string `json:"course_name,omitempty"`
	TeacherID        string `json:"teacher_id"`
	ClassID          string `json:"class_id"`
	HoursPerWeek     int    `json:"hours_per_week"`
	RequiredRoomType string `json:"required_room_type,omitempty"`
}

// [自证通过] internal/model/config.go
