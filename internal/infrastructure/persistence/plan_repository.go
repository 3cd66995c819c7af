package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
)

// FeatureModel is the GORM model for meterable features
type FeatureModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code        string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name        string    `gorm:"type:varchar(200);not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (FeatureModel) TableName() string {
	return "features"
}

// PlanModel is the GORM model for subscription plans
type PlanModel struct {
	ID                     uuid.UUID          `gorm:"type:uuid;primaryKey"`
	Code                   string             `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name                   string             `gorm:"type:varchar(200);not null"`
	Price                  decimal.Decimal    `gorm:"type:numeric(12,2);not null"`
	BillingPeriod          string             `gorm:"type:varchar(20);not null;default:'monthly'"`
	OverageUnitPrice       decimal.Decimal    `gorm:"type:numeric(12,4);not null;default:0"`
	RateLimitMaxCalls      int                `gorm:"not null;default:0"`
	RateLimitWindowSeconds int                `gorm:"not null;default:60"`
	Features               []PlanFeatureModel `gorm:"foreignKey:PlanID"`
	CreatedAt              time.Time          `gorm:"autoCreateTime"`
	UpdatedAt              time.Time          `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PlanModel) TableName() string {
	return "plans"
}

// PlanFeatureModel is the GORM model for a plan's feature grants
type PlanFeatureModel struct {
	PlanID    uuid.UUID    `gorm:"type:uuid;primaryKey"`
	FeatureID uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Feature   FeatureModel `gorm:"foreignKey:FeatureID"`
	// UsageLimit is the included units per billing period, -1 for unlimited.
	UsageLimit int64 `gorm:"column:usage_limit;not null;default:-1"`
}

// TableName returns the table name for the model
func (PlanFeatureModel) TableName() string {
	return "plan_features"
}

// ToEntity converts the model to a domain entity
func (m *PlanModel) ToEntity() *subscription.Plan {
	plan := &subscription.Plan{
		ID:                     m.ID,
		Code:                   m.Code,
		Name:                   m.Name,
		Price:                  m.Price,
		BillingPeriod:          m.BillingPeriod,
		OverageUnitPrice:       m.OverageUnitPrice,
		RateLimitMaxCalls:      m.RateLimitMaxCalls,
		RateLimitWindowSeconds: m.RateLimitWindowSeconds,
		Features:               make([]subscription.PlanFeature, 0, len(m.Features)),
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
	for _, f := range m.Features {
		plan.Features = append(plan.Features, subscription.PlanFeature{
			PlanID:      f.PlanID,
			FeatureID:   f.FeatureID,
			FeatureCode: f.Feature.Code,
			Limit:       f.UsageLimit,
		})
	}
	return plan
}

// GormPlanRepository implements subscription.PlanRepository using GORM
type GormPlanRepository struct {
	db *gorm.DB
}

// NewGormPlanRepository creates a new plan repository
func NewGormPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// List returns all plans with their features
func (r *GormPlanRepository) List(ctx context.Context) ([]*subscription.Plan, error) {
	var models []PlanModel
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		Order("price").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	plans := make([]*subscription.Plan, 0, len(models))
	for i := range models {
		plans = append(plans, models[i].ToEntity())
	}
	return plans, nil
}

// FindByID returns a plan with its features
func (r *GormPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Plan, error) {
	var model PlanModel
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByCode returns a plan by its stable code
func (r *GormPlanRepository) FindByCode(ctx context.Context, code string) (*subscription.Plan, error) {
	var model PlanModel
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		First(&model, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

var _ subscription.PlanRepository = (*GormPlanRepository)(nil)
