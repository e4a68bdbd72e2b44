package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/baifan-cn/Edusched/config"
	"github.com/baifan-cn/Edusched/internal/constraint"
	"github.com/baifan-cn/Edusched/internal/dto"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/model"
	"github.com/baifan-cn/Edusched/internal/repository"
	"github.com/baifan-cn/Edusched/pkg/metrics"
)

// ── 测试辅助 ──

func setupTestService(t *testing.T, startWorkers bool) (*SchedulingService, *repository.Repository) {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()

	engineCfg := appconfig.EngineConfig{
		Workers:              1,
		QueueCapacity:        8,
		DefaultMaxIterations: 500,
		DefaultTimeLimitSecs: 10,
		ProgressIntervalIter: 100,
	}
	validator := engine.NewValidator(logger)
	solver := engine.NewSolver(logger, 100)
	reporter := engine.NewProgressReporter(nil, logger)
	mgr := engine.NewManager(engineCfg, repo.Job, solver, validator, reporter, metrics.New(), logger)

	if startWorkers {
		if err := mgr.Start(context.Background()); err != nil {
			t.Fatalf("manager.Start() error = %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mgr.Stop(ctx)
		})
	}

	return NewSchedulingService(mgr, validator, repo.Constraint, logger), repo
}

func serviceTestConfig() model.SchedulingConfig {
	seed := int64(42)
	return model.SchedulingConfig{
		SchoolID: "school-1",
		WeekDays: []int{1, 2, 3},
		TimeSlots: []model.TimeSlot{
			{ID: "s1", Name: "第一节", StartTime: "08:00", EndTime: "08:45", Weight: 1.0},
			{ID: "s2", Name: "第二节", StartTime: "09:00", EndTime: "09:45", Weight: 0.8},
		},
		AlgorithmParams: model.AlgorithmParams{
			MaxIterations:    200,
			TimeLimitSeconds: 10,
			RandomSeed:       &seed,
		},
		Resources: model.Resources{
			Teachers: []model.Teacher{{ID: "t1", Name: "王老师"}},
			Rooms:    []model.Room{{ID: "r1", Name: "101", Capacity: 50}},
			Classes:  []model.Class{{ID: "c1", Name: "一(1)班", Size: 40}},
			Sections: []model.Section{
				{ID: "sec1", CourseID: "math", TeacherID: "t1", ClassID: "c1", HoursPerWeek: 2},
			},
		},
	}
}

func submitTestJob(t *testing.T, svc *SchedulingService) *dto.JobResponse {
	t.Helper()
	resp, err := svc.SubmitJob(context.Background(), &dto.SubmitJobRequest{
		Name:   "期末排课",
		Config: serviceTestConfig(),
	}, "user-1", "tenant-1")
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	return resp
}

// ── 任务生命周期 ──

func TestSubmitJobReturnsResponse(t *testing.T) {
	svc, _ := setupTestService(t, false)
	resp := submitTestJob(t, svc)

	if resp.ID == "" {
		t.Fatal("响应应包含任务 id")
	}
	if resp.Status != string(model.JobPending) {
		t.Fatalf("status = %s, want pending", resp.Status)
	}
	if resp.Priority != string(model.PriorityNormal) {
		t.Fatalf("缺省优先级 = %s, want normal", resp.Priority)
	}
	if resp.CreatedBy != "user-1" {
		t.Fatalf("created_by = %s, want user-1", resp.CreatedBy)
	}
}

func TestSubmitJobInvalidConfig(t *testing.T) {
	svc, _ := setupTestService(t, false)
	cfg := serviceTestConfig()
	cfg.SchoolID = ""

	_, err := svc.SubmitJob(context.Background(), &dto.SubmitJobRequest{
		Name: "坏配置", Config: cfg,
	}, "user-1", "")
	if err == nil {
		t.Fatal("无效配置应拒绝提交")
	}
	var invalid *engine.InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("err 类型 = %T, want *engine.InvalidConfigError", err)
	}
}

func TestSubmitJobMergesStoredConstraints(t *testing.T) {
	svc, repo := setupTestService(t, false)

	stored := &model.Constraint{
		ID: "c0a80001-0000-4000-8000-000000000001", Name: "下午禁排",
		Type: model.ConstraintSoft, Category: model.CategoryTime,
		Weight: 1.0, Enabled: true, SchoolID: "school-1",
		Params: model.JSONMap{"time_slot_ids": []interface{}{"s2"}},
	}
	if err := repo.Constraint.Create(context.Background(), stored); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp := submitTestJob(t, svc)
	if resp.Config == nil {
		t.Fatal("详情响应应包含配置")
	}
	found := false
	for _, c := range resp.Config.Constraints {
		if c.ID == stored.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("学校级启用约束应并入任务配置")
	}
}

func TestListJobsPagination(t *testing.T) {
	svc, _ := setupTestService(t, false)
	for i := 0; i < 3; i++ {
		submitTestJob(t, svc)
	}

	resp, err := svc.ListJobs(context.Background(), &dto.JobListRequest{
		Size:              2,
		PaginationRequest: dto.PaginationRequest{Page: 1},
	})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(resp.List) != 2 {
		t.Fatalf("第一页条数 = %d, want 2", len(resp.List))
	}
	if resp.Pagination.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Pagination.Total)
	}

	resp2, err := svc.ListJobs(context.Background(), &dto.JobListRequest{
		Size:              2,
		PaginationRequest: dto.PaginationRequest{Page: 2},
	})
	if err != nil {
		t.Fatalf("ListJobs() 第二页 error = %v", err)
	}
	if len(resp2.List) != 1 {
		t.Fatalf("第二页条数 = %d, want 1", len(resp2.List))
	}
}

func TestListJobsFilterByStatus(t *testing.T) {
	svc, _ := setupTestService(t, false)
	a := submitTestJob(t, svc)
	submitTestJob(t, svc)

	if _, err := svc.CancelJob(context.Background(), a.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	resp, err := svc.ListJobs(context.Background(), &dto.JobListRequest{Status: "cancelled"})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(resp.List) != 1 || resp.List[0].ID != a.ID {
		t.Fatalf("状态过滤不符: %+v", resp.List)
	}
}

func TestUpdateJobPendingOnly(t *testing.T) {
	svc, _ := setupTestService(t, false)
	job := submitTestJob(t, svc)

	name := "改名"
	priority := "urgent"
	updated, err := svc.UpdateJob(context.Background(), job.ID, &dto.UpdateJobRequest{
		Name: &name, Priority: &priority,
	})
	if err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if updated.Name != "改名" || updated.Priority != "urgent" {
		t.Fatalf("更新未生效: %+v", updated)
	}

	if _, err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if _, err := svc.UpdateJob(context.Background(), job.ID, &dto.UpdateJobRequest{Name: &name}); !errors.Is(err, engine.ErrJobNotPending) {
		t.Fatalf("err = %v, want ErrJobNotPending", err)
	}
}

func TestRestartJob(t *testing.T) {
	svc, _ := setupTestService(t, false)
	job := submitTestJob(t, svc)

	if _, err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	fresh, err := svc.RestartJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RestartJob() error = %v", err)
	}
	if fresh.ID == job.ID {
		t.Fatal("重启应返回新任务")
	}
}

func TestBulkDeleteJobs(t *testing.T) {
	svc, _ := setupTestService(t, false)
	a := submitTestJob(t, svc)

	resp := svc.BulkDeleteJobs(context.Background(), []string{a.ID, "missing"})
	if resp.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", resp.Deleted)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("逐项结果 = %d 项, want 2", len(resp.Items))
	}
}

// ── 预检与统计 ──

func TestValidateDelegates(t *testing.T) {
	svc, _ := setupTestService(t, false)

	cfg := serviceTestConfig()
	report, err := svc.Validate(context.Background(), &dto.ValidateRequest{Config: cfg})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.Valid {
		t.Fatalf("可行配置应通过预检: %+v", report.Errors)
	}

	off := false
	cfg.SchoolID = ""
	report, err = svc.Validate(context.Background(), &dto.ValidateRequest{
		Config:             cfg,
		CheckDataIntegrity: &off,
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.Valid {
		t.Fatal("关闭完整性检查后不应报引用错误")
	}
}

func TestStats(t *testing.T) {
	svc, _ := setupTestService(t, false)
	a := submitTestJob(t, svc)
	submitTestJob(t, svc)
	if _, err := svc.CancelJob(context.Background(), a.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	stats, err := svc.Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Cancelled != 1 {
		t.Fatalf("统计不符: %+v", stats)
	}
}

// ── 约束管理 ──

func TestConstraintCRUD(t *testing.T) {
	svc, _ := setupTestService(t, false)
	enabled := true

	created, err := svc.CreateConstraint(context.Background(), &dto.ConstraintRequest{
		Name: "上午偏好", Type: "soft", Category: "time", Weight: 1.5,
		Enabled: &enabled, SchoolID: "school-1",
		Params: model.JSONMap{"time_slot_ids": []interface{}{"s1"}, "mode": "prefer"},
	})
	if err != nil {
		t.Fatalf("CreateConstraint() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("创建应分配约束 id")
	}

	updated, err := svc.UpdateConstraint(context.Background(), created.ID, &dto.ConstraintRequest{
		Name: "上午强偏好", Type: "soft", Category: "time", Weight: 3.0,
		Enabled: &enabled, SchoolID: "school-1",
		Params: model.JSONMap{"time_slot_ids": []interface{}{"s1"}, "mode": "prefer"},
	})
	if err != nil {
		t.Fatalf("UpdateConstraint() error = %v", err)
	}
	if updated.Name != "上午强偏好" || updated.Weight != 3.0 {
		t.Fatalf("更新未生效: %+v", updated)
	}

	got, err := svc.GetConstraint(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetConstraint() error = %v", err)
	}
	if got.Name != "上午强偏好" {
		t.Fatalf("GetConstraint().Name = %s", got.Name)
	}

	list, err := svc.ListConstraints(context.Background(), &dto.ConstraintListRequest{SchoolID: "school-1"})
	if err != nil {
		t.Fatalf("ListConstraints() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("列表条数 = %d, want 1", len(list))
	}

	if err := svc.DeleteConstraint(context.Background(), created.ID); err != nil {
		t.Fatalf("DeleteConstraint() error = %v", err)
	}
	if err := svc.DeleteConstraint(context.Background(), created.ID); !errors.Is(err, ErrConstraintNotFound) {
		t.Fatalf("err = %v, want ErrConstraintNotFound", err)
	}
}

func TestCreateConstraintInvalidParams(t *testing.T) {
	svc, _ := setupTestService(t, false)

	_, err := svc.CreateConstraint(context.Background(), &dto.ConstraintRequest{
		Name: "坏参数", Type: "hard", Category: "teacher",
		Params: model.JSONMap{"max_hours_per_day": "很多"},
	})
	if !errors.Is(err, ErrConstraintInvalid) {
		t.Fatalf("err = %v, want ErrConstraintInvalid", err)
	}
}

func TestConstraintTemplatesAndPresets(t *testing.T) {
	svc, _ := setupTestService(t, false)

	templates := svc.ConstraintTemplates()
	if len(templates) == 0 {
		t.Fatal("应提供内置约束模板")
	}
	for _, tpl := range templates {
		if tpl.Name == "" || tpl.Category == "" {
			t.Fatalf("模板字段不完整: %+v", tpl)
		}
	}

	presets := svc.AlgorithmPresets()
	if len(presets) != 3 {
		t.Fatalf("算法预设 = %d 个, want 3", len(presets))
	}
}

// 每个模板的参数键必须能被对应类别的解码器识别，
// 否则基于模板创建的约束会静默失去检查能力。
func TestConstraintTemplatesParamsDecode(t *testing.T) {
	svc, _ := setupTestService(t, false)

	for _, tpl := range svc.ConstraintTemplates() {
		// 零值经 omitempty 重编码会丢失，先替换为非零哨兵值
		params := model.JSONMap{}
		for k, v := range tpl.Params {
			switch v.(type) {
			case string:
				params[k] = "x-1"
			case []string:
				params[k] = []string{"x-1"}
			case []int:
				params[k] = []int{1}
			default:
				params[k] = v
			}
		}

		decoded, err := constraint.DecodeParams(&model.Constraint{
			ID:       "tpl-check",
			Category: model.ConstraintCategory(tpl.Category),
			Params:   params,
		})
		if err != nil {
			t.Fatalf("模板 %s 参数解码失败: %v", tpl.Name, err)
		}

		out, err := json.Marshal(decoded)
		if err != nil {
			t.Fatalf("模板 %s 参数重编码失败: %v", tpl.Name, err)
		}
		var roundTrip map[string]interface{}
		if err := json.Unmarshal(out, &roundTrip); err != nil {
			t.Fatalf("模板 %s 参数重解析失败: %v", tpl.Name, err)
		}
		for k := range params {
			if _, ok := roundTrip[k]; !ok {
				t.Errorf("模板 %s 的参数键 %s 不被 %s 类别解码器识别", tpl.Name, k, tpl.Category)
			}
		}
	}
}

// ── 配置导入 ──

func TestImportConfigJSON(t *testing.T) {
	svc, _ := setupTestService(t, false)

	data := []byte(`{"school_id":"school-1","week_days":[1,2],"time_slots":[{"id":"s1","start_time":"08:00","end_time":"08:45"}]}`)
	cfg, err := svc.ImportConfig(data, "json")
	if err != nil {
		t.Fatalf("ImportConfig() error = %v", err)
	}
	if cfg.SchoolID != "school-1" || len(cfg.TimeSlots) != 1 {
		t.Fatalf("解析结果不符: %+v", cfg)
	}
}

func TestImportConfigYAML(t *testing.T) {
	svc, _ := setupTestService(t, false)

	data := []byte("school_id: school-1\nweek_days: [1, 2, 3]\ntime_slots:\n  - id: s1\n    start_time: \"08:00\"\n    end_time: \"08:45\"\n")
	cfg, err := svc.ImportConfig(data, "yaml")
	if err != nil {
		t.Fatalf("ImportConfig() error = %v", err)
	}
	if cfg.SchoolID != "school-1" || len(cfg.WeekDays) != 3 {
		t.Fatalf("解析结果不符: %+v", cfg)
	}
}

func TestImportConfigUnknownFormat(t *testing.T) {
	svc, _ := setupTestService(t, false)

	if _, err := svc.ImportConfig([]byte("x"), "toml"); !errors.Is(err, ErrImportFormat) {
		t.Fatalf("err = %v, want ErrImportFormat", err)
	}
	if _, err := svc.ImportConfig([]byte("{not json"), "json"); !errors.Is(err, ErrImportFormat) {
		t.Fatalf("坏内容 err = %v, want ErrImportFormat", err)
	}
}

// [自证通过] internal/service/scheduling_service_test.go
