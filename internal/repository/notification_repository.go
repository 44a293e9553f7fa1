package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"dynamic-table/internal/model"
)

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new instance of NotificationRepository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	if notification.Status == "" {
		notification.Status = model.NotificationPending
	}
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) GetByID(ctx context.Context, id uint) (*model.Notification, error) {
	var n model.Notification
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&n)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, result.Error
	}
	return &n, nil
}

// List returns every notification, newest first
func (r *notificationRepository) List(ctx context.Context) ([]*model.Notification, error) {
	var notifications []*model.Notification
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&notifications).Error
	return notifications, err
}

func (r *notificationRepository) TransitionByKey(ctx context.Context, key string, from []model.NotificationStatus, to model.NotificationStatus) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("notification_key = ? AND status IN ?", key, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) SetStatus(ctx context.Context, id uint, status model.NotificationStatus) error {
	return r.updateByID(ctx, id, "status", status)
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint) error {
	return r.updateByID(ctx, id, "is_read", true)
}

func (r *notificationRepository) updateByID(ctx context.Context, id uint, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}
