package model

// ── 配置预检 ──

// ValidationError 校验错误：阻塞任务提交
type ValidationError struct {
	Field   string  `json:"field"`
	Message string  `json:"message"`
	Code    string  `json:"code"`
	Details JSONMap `json:"details,omitempty"`
}

// ValidationWarning 校验警告：不阻塞提交，附带修复建议
type ValidationWarning struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Code        string   `json:"code"`
	Details     JSONMap  `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ValidationSummary 配置规模摘要
type ValidationSummary struct {
	TotalTeachers    int `json:"total_teachers"`
	TotalCourses     int `json:"total_courses"`
	TotalClasses     int `json:"total_classes"`
	TotalRooms       int `json:"total_rooms"`
	TotalTimeSlots   int `json:"total_time_slots"`
	TotalConstraints int `json:"total_constraints"`
}

// ValidationReport 预检结果
// 校验无副作用且幂等：同一配置多次校验结果一致
type ValidationReport struct {
	Valid       bool                `json:"valid"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	Suggestions []string            `json:"suggestions"`
	Summary     ValidationSummary   `json:"summary"`
}
