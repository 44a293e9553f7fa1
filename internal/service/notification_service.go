package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/model"
	"dynamic-table/internal/repository"
)

// NotificationService manages the upload notification feed. CREATED is
// reached from PENDING, or from FAILED when dead-lettered batches are
// replayed.
type NotificationService interface {
	Create(ctx context.Context, message, table, key string) (*model.Notification, error)
	MarkCreatedByKey(ctx context.Context, key string) (int64, error)
	MarkFailedByKey(ctx context.Context, key string) (int64, error)
	MarkRecoveredByKey(ctx context.Context, key string) (int64, error)
	MarkCreated(ctx context.Context, id uint) (*model.Notification, error)
	MarkRead(ctx context.Context, id uint) (*model.Notification, error)
	ListAll(ctx context.Context) ([]*model.Notification, error)
}

type notificationService struct {
	repo repository.NotificationRepository
}

type CreateNotificationRequest struct {
	Message         string `json:"message" validate:"required,max=1000"`
	TableName       string `json:"tableName" validate:"required,max=63"`
	NotificationKey string `json:"notificationKey" validate:"omitempty,max=255"`
}

type NotificationKeyRequest struct {
	NotificationKey string `json:"notificationKey" validate:"required,max=255"`
}

// NewNotificationService creates a new instance of NotificationService
func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

func (s *notificationService) Create(ctx context.Context, message, table, key string) (*model.Notification, error) {
	n := &model.Notification{
		Message:         message,
		Table:           table,
		NotificationKey: key,
		Status:          model.NotificationPending,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

func (s *notificationService) MarkCreatedByKey(ctx context.Context, key string) (int64, error) {
	return s.repo.TransitionByKey(ctx, key,
		[]model.NotificationStatus{model.NotificationPending}, model.NotificationCreated)
}

func (s *notificationService) MarkFailedByKey(ctx context.Context, key string) (int64, error) {
	return s.repo.TransitionByKey(ctx, key,
		[]model.NotificationStatus{model.NotificationPending, model.NotificationCreated}, model.NotificationFailed)
}

func (s *notificationService) MarkRecoveredByKey(ctx context.Context, key string) (int64, error) {
	return s.repo.TransitionByKey(ctx, key,
		[]model.NotificationStatus{model.NotificationPending, model.NotificationFailed}, model.NotificationCreated)
}

func (s *notificationService) MarkCreated(ctx context.Context, id uint) (*model.Notification, error) {
	if err := s.repo.SetStatus(ctx, id, model.NotificationCreated); err != nil {
		return nil, notFoundOr(err)
	}
	return s.get(ctx, id)
}

func (s *notificationService) MarkRead(ctx context.Context, id uint) (*model.Notification, error) {
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, notFoundOr(err)
	}
	return s.get(ctx, id)
}

func (s *notificationService) ListAll(ctx context.Context) ([]*model.Notification, error) {
	return s.repo.List(ctx)
}

func (s *notificationService) get(ctx context.Context, id uint) (*model.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return n, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, repository.ErrNotificationNotFound) {
		return apperrors.Wrap(apperrors.CategoryNotFound, apperrors.CodeNotificationNotFound, "notification not found", err)
	}
	return err
}
