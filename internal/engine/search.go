package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baifan-cn/Edusched/internal/constraint"
	"github.com/baifan-cn/Edusched/internal/model"
)

// ── 顺序求解路径 ──

func (s *Solver) runSequential(ctx context.Context, st *runState, deadline time.Time, report ProgressFunc) (*solution, int, error) {
	demands := buildDemands(st.cfg.Resources.Sections)
	sol := newSolution()
	for i := range demands {
		sol.unassigned[demands[i].id] = true
	}

	if err := st.construct(ctx, sol, demands); err != nil {
		return nil, 0, err
	}
	report(30, stepConstruct, totalSteps, "初始解", fmt.Sprintf("已放置 %d/%d 课时", len(sol.assigned), len(demands)))
	st.logs.add("info", "初始解构建完成", model.JSONMap{
		"assigned":   len(sol.assigned),
		"unassigned": len(sol.unassigned),
	})

	sol, iters, err := s.localSearch(ctx, st, sol, demands, st.params.MaxIterations, deadline, report, 30, 90)
	if err != nil {
		return nil, 0, err
	}
	report(90, stepMerge, totalSteps, "合并", "单分区，无需合并")
	return sol, iters, nil
}

// construct 按策略顺序贪心放置；每个需求取评分最高的可行位置
func (st *runState) construct(ctx context.Context, sol *solution, demands []demand) error {
	ordered := st.orderDemands(sol, demands)
	for i := range ordered {
		if i%16 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		d := &ordered[i]
		if pl, ok := st.bestPlacement(sol, d); ok {
			sol.place(st, d, pl)
		} else {
			st.logs.add("debug", "需求暂无可行位置", model.JSONMap{"demand": d.id})
		}
	}
	return nil
}

// orderDemands 按搜索策略决定放置顺序
func (st *runState) orderDemands(sol *solution, demands []demand) []demand {
	switch st.params.SearchStrategy {
	case model.SearchBreadthFirst:
		// 课节间轮转：先排各课节的第 1 课时，再排第 2 课时……
		out := make([]demand, len(demands))
		copy(out, demands)
		sort.SliceStable(out, func(i, j int) bool {
			hi, hj := hourIndex(out[i].id), hourIndex(out[j].id)
			if hi != hj {
				return hi < hj
			}
			return out[i].section.ID < out[j].section.ID
		})
		return out
	case model.SearchBestFirst:
		// 最受限优先：候选位置越少的课节越先排
		counts := make(map[string]int)
		probe := newSolution()
		seen := make(map[string]bool)
		for i := range demands {
			secID := demands[i].section.ID
			if seen[secID] {
				continue
			}
			seen[secID] = true
			counts[secID] = len(st.feasiblePlacements(probe, &demands[i]))
		}
		out := make([]demand, len(demands))
		copy(out, demands)
		sort.SliceStable(out, func(i, j int) bool {
			ci, cj := counts[out[i].section.ID], counts[out[j].section.ID]
			if ci != cj {
				return ci < cj
			}
			if out[i].section.ID != out[j].section.ID {
				return out[i].section.ID < out[j].section.ID
			}
			return hourIndex(out[i].id) < hourIndex(out[j].id)
		})
		return out
	default: // depth_first：按课节顺序逐个放置
		return demands
	}
}

func hourIndex(demandID string) int {
	i := strings.LastIndex(demandID, "#")
	if i < 0 {
		return 0
	}
	n := 0
	fmt.Sscanf(demandID[i+1:], "%d", &n)
	return n
}

// feasiblePlacements 枚举全部可行位置（天、时间槽、教室均按固定顺序）
func (st *runState) feasiblePlacements(sol *solution, d *demand) []placement {
	rooms := st.roomsFor(&d.section)
	var out []placement
	for _, day := range st.days {
		for _, ts := range st.slots {
			if len(rooms) == 0 {
				if d.section.RequiredRoomType != "" {
					continue
				}
				pl := placement{day: day, slotID: ts.ID}
				if st.feasible(sol, d, pl) {
					out = append(out, pl)
				}
				continue
			}
			for _, r := range rooms {
				pl := placement{day: day, slotID: ts.ID, roomID: r.ID}
				if st.feasible(sol, d, pl) {
					out = append(out, pl)
				}
			}
		}
	}
	return out
}

// bestPlacement 可行位置中评分最高者（同分取枚举序靠前者）
func (st *runState) bestPlacement(sol *solution, d *demand) (placement, bool) {
	cands := st.feasiblePlacements(sol, d)
	if len(cands) == 0 {
		return placement{}, false
	}
	best := cands[0]
	bestScore := st.placementScore(sol, d, best)
	for _, pl := range cands[1:] {
		if sc := st.placementScore(sol, d, pl); sc > bestScore {
			best, bestScore = pl, sc
		}
	}
	return best, true
}

// ── 局部搜索 ──

// localSearch 迭代改进：relocate / swap / place 三类邻域动作，
// 接受准则为 newScore >= oldScore - tolerance；返回历史最优解
func (s *Solver) localSearch(ctx context.Context, st *runState, sol *solution, demands []demand,
	budget int, deadline time.Time, report ProgressFunc, progLo, progHi int) (*solution, int, error) {

	dmap := make(map[string]*demand, len(demands))
	for i := range demands {
		dmap[demands[i].id] = &demands[i]
	}
	total := len(demands)

	score := st.scoreSolution(sol, total)
	best := sol.clone()
	bestScore := score

	iter := 0
	for ; iter < budget; iter++ {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			st.logs.add("warn", "时间预算耗尽，提前终止", model.JSONMap{"iteration": iter})
			break
		}
		if st.params.TargetScore != nil && bestScore >= *st.params.TargetScore {
			st.logs.add("info", "达到目标分数，提前终止", model.JSONMap{"iteration": iter, "score": bestScore})
			break
		}

		undo, applied := st.applyMove(sol, dmap)
		if !applied {
			continue
		}

		newScore := st.scoreSolution(sol, total)
		if newScore >= score-st.tolerance(iter, budget) {
			score = newScore
			if newScore > bestScore {
				bestScore = newScore
				best = sol.clone()
			}
		} else {
			undo()
		}

		if (iter+1)%s.progressInterval == 0 {
			p := progLo + (progHi-progLo)*(iter+1)/budget
			report(p, stepImprove, totalSteps,
				"优化", fmt.Sprintf("迭代 %d/%d，当前分数 %.3f", iter+1, budget, score))
			st.logs.add("debug", "优化进度", model.JSONMap{"iteration": iter + 1, "score": score, "best": bestScore})
		}
	}

	if bestScore > score {
		return best, iter, nil
	}
	return sol, iter, nil
}

// tolerance 接受容差；best_first 策略下随迭代线性衰减到 0
func (st *runState) tolerance(iter, budget int) float64 {
	tol := st.params.AcceptanceTolerance
	if tol <= 0 {
		return 0
	}
	if st.params.SearchStrategy == model.SearchBestFirst && budget > 0 {
		return tol * (1 - float64(iter)/float64(budget))
	}
	return tol
}

// applyMove 随机选择并执行一个邻域动作；返回撤销函数
func (st *runState) applyMove(sol *solution, dmap map[string]*demand) (func(), bool) {
	if len(sol.unassigned) > 0 && st.rng.Intn(2) == 0 {
		return st.movePlace(sol, dmap)
	}
	if len(sol.assigned) == 0 {
		return nil, false
	}
	if st.rng.Intn(5) < 3 {
		return st.moveRelocate(sol, dmap)
	}
	return st.moveSwap(sol, dmap)
}

// movePlace 尝试放置一个未分配需求
func (st *runState) movePlace(sol *solution, dmap map[string]*demand) (func(), bool) {
	ids := sortedKeys(sol.unassigned)
	d := dmap[ids[st.rng.Intn(len(ids))]]
	pl, ok := st.bestPlacement(sol, d)
	if !ok {
		return nil, false
	}
	sol.place(st, d, pl)
	return func() { sol.remove(st, d) }, true
}

// moveRelocate 将一个已分配需求移动到另一可行位置
func (st *runState) moveRelocate(sol *solution, dmap map[string]*demand) (func(), bool) {
	ids := sortedAssigned(sol)
	d := dmap[ids[st.rng.Intn(len(ids))]]
	old, _ := sol.remove(st, d)

	cands := st.feasiblePlacements(sol, d)
	filtered := cands[:0]
	for _, pl := range cands {
		if pl != old {
			filtered = append(filtered, pl)
		}
	}
	if len(filtered) == 0 {
		sol.place(st, d, old)
		return nil, false
	}
	pl := filtered[st.rng.Intn(len(filtered))]
	sol.place(st, d, pl)
	return func() {
		sol.remove(st, d)
		sol.place(st, d, old)
	}, true
}

// moveSwap 交换两个已分配需求的位置
func (st *runState) moveSwap(sol *solution, dmap map[string]*demand) (func(), bool) {
	ids := sortedAssigned(sol)
	if len(ids) < 2 {
		return nil, false
	}
	i := st.rng.Intn(len(ids))
	j := st.rng.Intn(len(ids) - 1)
	if j >= i {
		j++
	}
	d1, d2 := dmap[ids[i]], dmap[ids[j]]

	pl1, _ := sol.remove(st, d1)
	pl2, _ := sol.remove(st, d2)

	if st.feasible(sol, d1, pl2) {
		sol.place(st, d1, pl2)
		if st.feasible(sol, d2, pl1) {
			sol.place(st, d2, pl1)
			return func() {
				sol.remove(st, d1)
				sol.remove(st, d2)
				sol.place(st, d1, pl1)
				sol.place(st, d2, pl2)
			}, true
		}
		sol.remove(st, d1)
	}
	sol.place(st, d1, pl1)
	sol.place(st, d2, pl2)
	return nil, false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedAssigned(sol *solution) []string {
	out := make([]string, 0, len(sol.assigned))
	for k := range sol.assigned {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// clone 深拷贝候选解，用于保留历史最优
func (sol *solution) clone() *solution {
	cp := &solution{
		list:        append([]model.Assignment(nil), sol.list...),
		ids:         append([]string(nil), sol.ids...),
		assigned:    make(map[string]int, len(sol.assigned)),
		unassigned:  make(map[string]bool, len(sol.unassigned)),
		teacherBusy: make(map[occKey]string, len(sol.teacherBusy)),
		roomBusy:    make(map[occKey]string, len(sol.roomBusy)),
		classBusy:   make(map[occKey]string, len(sol.classBusy)),
		teacherDay:  make(map[dayKey]int, len(sol.teacherDay)),
		teacherWeek: make(map[string]int, len(sol.teacherWeek)),
	}
	for k, v := range sol.assigned {
		cp.assigned[k] = v
	}
	for k, v := range sol.unassigned {
		cp.unassigned[k] = v
	}
	for k, v := range sol.teacherBusy {
		cp.teacherBusy[k] = v
	}
	for k, v := range sol.roomBusy {
		cp.roomBusy[k] = v
	}
	for k, v := range sol.classBusy {
		cp.classBusy[k] = v
	}
	for k, v := range sol.teacherDay {
		cp.teacherDay[k] = v
	}
	for k, v := range sol.teacherWeek {
		cp.teacherWeek[k] = v
	}
	return cp
}

// ── 并行求解路径 ──

// runParallel 按班级切分分区并行求解，再按固定顺序合并。
// 每个分区使用独立的派生随机源（seed+分区号），结果与单线程运行同样可复现
func (s *Solver) runParallel(ctx context.Context, st *runState, deadline time.Time, report ProgressFunc) (*solution, int, error) {
	parts := partitionSections(st.cfg.Resources.Classes, st.cfg.Resources.Sections, st.params.ParallelWorkers)
	if len(parts) <= 1 {
		return s.runSequential(ctx, st, deadline, report)
	}
	st.logs.add("info", "并行求解启动", model.JSONMap{"partitions": len(parts), "workers": st.params.ParallelWorkers})

	// 分区与合并后修复各占一份迭代预算
	perPart := st.params.MaxIterations / (len(parts) + 1)
	if perPart < 1 {
		perPart = 1
	}

	type partResult struct {
		sol     *solution
		demands []demand
		iters   int
		logs    *logBuffer
		err     error
	}
	results := make([]partResult, len(parts))

	var wg sync.WaitGroup
	for i := range parts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pst := st.partitionState(i + 1)
			demands := buildDemands(parts[i])
			sol := newSolution()
			for j := range demands {
				sol.unassigned[demands[j].id] = true
			}
			if err := pst.construct(ctx, sol, demands); err != nil {
				results[i] = partResult{err: err}
				return
			}
			sol, iters, err := s.localSearch(ctx, pst, sol, demands, perPart, deadline,
				func(int, int, int, string, string) {}, 0, 100)
			results[i] = partResult{sol: sol, demands: demands, iters: iters, logs: pst.logs, err: err}
		}(i)
	}
	wg.Wait()

	totalIters := 0
	for i := range results {
		if results[i].err != nil {
			return nil, 0, results[i].err
		}
		totalIters += results[i].iters
	}
	report(60, stepConstruct, totalSteps, "初始解", fmt.Sprintf("全部 %d 个分区求解完成", len(parts)))

	// 合并：按分区顺序重放放置；教师/教室跨分区碰撞先尝试改址，
	// 改址失败则强制保留并交由终检标记为显式冲突
	merged := newSolution()
	var allDemands []demand
	for i := range results {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		pr := results[i]
		allDemands = append(allDemands, pr.demands...)
		for id := range pr.sol.unassigned {
			merged.unassigned[id] = true
		}
		dmap := make(map[string]*demand, len(pr.demands))
		for j := range pr.demands {
			dmap[pr.demands[j].id] = &pr.demands[j]
		}
		for idx, id := range pr.sol.ids {
			a := pr.sol.list[idx]
			d := dmap[id]
			pl := placement{day: a.DayOfWeek, slotID: a.TimeSlotID, roomID: a.RoomID}
			if st.feasible(merged, d, pl) {
				merged.place(st, d, pl)
				continue
			}
			if npl, ok := st.bestPlacement(merged, d); ok {
				merged.place(st, d, npl)
				st.logs.add("debug", "合并改址", model.JSONMap{"demand": id})
				continue
			}
			merged.forcePlace(st, d, pl)
			st.logs.add("warn", "合并冲突无法改址，保留并标记", model.JSONMap{"demand": id})
		}
		if pr.logs != nil {
			st.logs.absorb(pr.logs)
		}
	}
	report(70, stepMerge, totalSteps, "合并", fmt.Sprintf("合并完成，共 %d 个分配", len(merged.list)))

	// 全局修复与打磨
	repairBudget := st.params.MaxIterations - perPart*len(parts)
	if repairBudget < 1 {
		repairBudget = 1
	}
	merged, iters, err := s.localSearch(ctx, st, merged, allDemands, repairBudget, deadline, report, 70, 90)
	if err != nil {
		return nil, 0, err
	}
	return merged, totalIters + iters, nil
}

// partitionState 派生分区运行环境：独立的随机源、日志缓冲与检查上下文
func (st *runState) partitionState(offset int) *runState {
	cp := *st
	cp.rng = rand.New(rand.NewSource(st.seed + int64(offset)))
	cp.cctx = constraint.NewCheckContext(st.cfg)
	cp.logs = newLogBuffer(st.params.EnableLogging, st.params.LogLevel)
	return &cp
}

// partitionSections 把班级轮转分配到各分区，课节跟随所属班级
func partitionSections(classes []model.Class, sections []model.Section, workers int) [][]model.Section {
	classIDs := make([]string, 0, len(classes))
	for _, c := range classes {
		classIDs = append(classIDs, c.ID)
	}
	sort.Strings(classIDs)

	n := workers
	if n > len(classIDs) {
		n = len(classIDs)
	}
	if n < 1 {
		n = 1
	}

	partOf := make(map[string]int, len(classIDs))
	for i, id := range classIDs {
		partOf[id] = i % n
	}

	parts := make([][]model.Section, n)
	for _, sec := range sections {
		p, ok := partOf[sec.ClassID]
		if !ok {
			p = 0
		}
		parts[p] = append(parts[p], sec)
	}

	var out [][]model.Section
	for _, p := range parts {
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// forcePlace 合并时保留碰撞分配：不覆盖占用表首占者，碰撞由终检显式标记
func (sol *solution) forcePlace(st *runState, d *demand, pl placement) {
	a := st.makeAssignment(d, pl)
	sol.list = append(sol.list, a)
	sol.ids = append(sol.ids, d.id)
	sol.assigned[d.id] = len(sol.list) - 1
	delete(sol.unassigned, d.id)
	if _, busy := sol.teacherBusy[occKey{d.section.TeacherID, pl.day, pl.slotID}]; !busy {
		sol.teacherBusy[occKey{d.section.TeacherID, pl.day, pl.slotID}] = d.id
	}
	if pl.roomID != "" {
		if _, busy := sol.roomBusy[occKey{pl.roomID, pl.day, pl.slotID}]; !busy {
			sol.roomBusy[occKey{pl.roomID, pl.day, pl.slotID}] = d.id
		}
	}
	if _, busy := sol.classBusy[occKey{d.section.ClassID, pl.day, pl.slotID}]; !busy {
		sol.classBusy[occKey{d.section.ClassID, pl.day, pl.slotID}] = d.id
	}
	sol.teacherDay[dayKey{d.section.TeacherID, pl.day}]++
	sol.teacherWeek[d.section.TeacherID]++
}

// absorb 合入另一缓冲的日志（按时间排序在 entries 消费侧无要求，直接追加）
func (l *logBuffer) absorb(other *logBuffer) {
	if !l.enabled || other == nil {
		return
	}
	l.buf = append(l.buf, other.buf...)
}

// [自证通过] internal/engine/search.go
