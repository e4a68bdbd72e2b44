package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/baifan-cn/Edusched/config"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/model"
	"github.com/baifan-cn/Edusched/internal/repository"
	"github.com/baifan-cn/Edusched/internal/service"
	"github.com/baifan-cn/Edusched/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── 测试辅助 ──

// setupTestRouter 基于内存仓储组装最小可用路由（不启动求解协程，任务保持 pending）
func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()

	engineCfg := appconfig.EngineConfig{
		Workers:              1,
		QueueCapacity:        8,
		DefaultMaxIterations: 200,
		DefaultTimeLimitSecs: 10,
		ProgressIntervalIter: 100,
	}
	validator := engine.NewValidator(logger)
	solver := engine.NewSolver(logger, 100)
	reporter := engine.NewProgressReporter(nil, logger)
	mgr := engine.NewManager(engineCfg, repo.Job, solver, validator, reporter, metrics.New(), logger)

	svc := service.NewService(mgr, validator, repo, logger)
	h := NewHandler(svc, logger)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Set("tenant_id", "tenant-1")
	})
	scheduling := r.Group("/api/v1/scheduling")
	{
		scheduling.POST("/start", h.Scheduling.Start)
		scheduling.POST("/validate", h.Scheduling.Validate)
		scheduling.GET("/jobs", h.Scheduling.List)
		scheduling.GET("/jobs/:id", h.Scheduling.Get)
		scheduling.POST("/jobs/:id/cancel", h.Scheduling.Cancel)
		scheduling.POST("/jobs/:id/restart", h.Scheduling.Restart)
		scheduling.GET("/jobs/:id/progress", h.Scheduling.Progress)
		scheduling.GET("/jobs/:id/result", h.Scheduling.Result)
		scheduling.GET("/algorithm-presets", h.Scheduling.AlgorithmPresets)
	}
	return r
}

// envelope 统一响应信封
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("响应不是合法信封: %v\n%s", err, w.Body.String())
	}
	return w, &env
}

func submitBody() map[string]interface{} {
	return map[string]interface{}{
		"name": "期末排课",
		"config": map[string]interface{}{
			"school_id": "school-1",
			"week_days": []int{1, 2},
			"time_slots": []map[string]interface{}{
				{"id": "s1", "name": "第一节", "start_time": "08:00", "end_time": "08:45"},
				{"id": "s2", "name": "第二节", "start_time": "09:00", "end_time": "09:45"},
			},
			"resources": map[string]interface{}{
				"teachers": []map[string]interface{}{{"id": "t1", "name": "王老师"}},
				"rooms":    []map[string]interface{}{{"id": "r1", "name": "101", "capacity": 50}},
				"classes":  []map[string]interface{}{{"id": "c1", "name": "一(1)班", "size": 40}},
				"sections": []map[string]interface{}{
					{"id": "sec1", "course_id": "math", "teacher_id": "t1", "class_id": "c1", "hours_per_week": 2},
				},
			},
		},
	}
}

func submitJob(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/start", submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("提交返回 %d: %s", w.Code, w.Body.String())
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &job); err != nil || job.ID == "" {
		t.Fatalf("响应缺少任务 id: %s", env.Data)
	}
	return job.ID
}

// ── 信封与生命周期 ──

func TestStartReturnsEnvelope(t *testing.T) {
	r := setupTestRouter(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/start", submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if env.Code != 0 {
		t.Fatalf("code = %d, want 0", env.Code)
	}
	if env.Timestamp == "" {
		t.Fatal("信封应包含 timestamp")
	}
}

func TestStartInvalidConfigReturnsReport(t *testing.T) {
	r := setupTestRouter(t)

	body := submitBody()
	body["config"].(map[string]interface{})["school_id"] = ""
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/start", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if env.Code != codeConfigInvalid {
		t.Fatalf("code = %d, want %d", env.Code, codeConfigInvalid)
	}

	var report model.ValidationReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("data 应为校验报告: %v", err)
	}
	if report.Valid || len(report.Errors) == 0 {
		t.Fatalf("报告内容不符: %+v", report)
	}
}

func TestGetJobNotFound(t *testing.T) {
	r := setupTestRouter(t)

	w, env := doJSON(t, r, http.MethodGet, "/api/v1/scheduling/jobs/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env.Code != codeJobNotFound {
		t.Fatalf("code = %d, want %d", env.Code, codeJobNotFound)
	}
}

func TestCancelFlow(t *testing.T) {
	r := setupTestRouter(t)
	id := submitJob(t, r)

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/jobs/"+id+"/cancel",
		map[string]string{"reason": "配置有误"})
	if w.Code != http.StatusOK {
		t.Fatalf("取消返回 %d: %s", w.Code, w.Body.String())
	}

	// 终态再取消 → 409
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/jobs/"+id+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if env.Code != codeJobNotCancellable {
		t.Fatalf("code = %d, want %d", env.Code, codeJobNotCancellable)
	}
}

func TestRestartNonTerminal(t *testing.T) {
	r := setupTestRouter(t)
	id := submitJob(t, r)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/jobs/"+id+"/restart", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if env.Code != codeJobNotRestartable {
		t.Fatalf("code = %d, want %d", env.Code, codeJobNotRestartable)
	}
}

func TestResultNotReady(t *testing.T) {
	r := setupTestRouter(t)
	id := submitJob(t, r)

	w, env := doJSON(t, r, http.MethodGet, "/api/v1/scheduling/jobs/"+id+"/result", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if env.Code != codeResultNotReady {
		t.Fatalf("code = %d, want %d", env.Code, codeResultNotReady)
	}
}

func TestProgressPendingJob(t *testing.T) {
	r := setupTestRouter(t)
	id := submitJob(t, r)

	w, env := doJSON(t, r, http.MethodGet, "/api/v1/scheduling/jobs/"+id+"/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var u model.ProgressUpdate
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("data 应为进度快照: %v", err)
	}
	if u.Progress != 0 || u.TotalSteps != 5 {
		t.Fatalf("合成快照不符: %+v", u)
	}
}

func TestValidateEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/scheduling/validate",
		map[string]interface{}{"config": submitBody()["config"]})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var report model.ValidationReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("data 应为校验报告: %v", err)
	}
	if !report.Valid {
		t.Fatalf("可行配置应通过预检: %+v", report.Errors)
	}
}

func TestAlgorithmPresetsEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w, env := doJSON(t, r, http.MethodGet, "/api/v1/scheduling/algorithm-presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var presets []service.AlgorithmPreset
	if err := json.Unmarshal(env.Data, &presets); err != nil {
		t.Fatalf("data 解析失败: %v", err)
	}
	if len(presets) != 3 {
		t.Fatalf("预设数量 = %d, want 3", len(presets))
	}
}

// [自证通过] internal/api/handler/scheduling_handler_test.go
