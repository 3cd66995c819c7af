package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
)

// SubscriptionModel is the GORM model for subscriptions
type SubscriptionModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubscriberID       uuid.UUID `gorm:"type:uuid;not null;index"`
	PlanID             uuid.UUID `gorm:"type:uuid;not null"`
	Plan               PlanModel `gorm:"foreignKey:PlanID"`
	Status             string    `gorm:"type:varchar(20);not null;default:'active';index"`
	CurrentPeriodStart time.Time `gorm:"not null"`
	CurrentPeriodEnd   time.Time `gorm:"not null"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionModel) ToEntity() *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 m.ID,
		SubscriberID:       m.SubscriberID,
		PlanID:             m.PlanID,
		Status:             m.Status,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// SubscriptionModelFromEntity creates a model from a domain entity
func SubscriptionModelFromEntity(e *subscription.Subscription) *SubscriptionModel {
	return &SubscriptionModel{
		ID:                 e.ID,
		SubscriberID:       e.SubscriberID,
		PlanID:             e.PlanID,
		Status:             e.Status,
		CurrentPeriodStart: e.CurrentPeriodStart,
		CurrentPeriodEnd:   e.CurrentPeriodEnd,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// GormSubscriptionRepository implements subscription.Repository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new subscription repository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Create stores a new subscription
func (r *GormSubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	return r.db.WithContext(ctx).Create(SubscriptionModelFromEntity(sub)).Error
}

// Update saves changes to an existing subscription
func (r *GormSubscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"status":               sub.Status,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"updated_at":           sub.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindActiveBySubscriber returns the subscriber's active subscription
func (r *GormSubscriptionRepository) FindActiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND status = ? AND current_period_end > ?",
			subscriberID, subscription.StatusActive, time.Now().UTC()).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNoSubscription
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

var _ subscription.Repository = (*GormSubscriptionRepository)(nil)
