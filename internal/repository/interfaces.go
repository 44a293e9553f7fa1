package repository

import (
	"context"

	"dynamic-table/internal/model"
)

// SchemaRepository stores the authoritative field map of each dynamic table
// and its append-only change log.
type SchemaRepository interface {
	// GetSchema returns ErrTableNotFound when the table was never synced.
	GetSchema(ctx context.Context, table string) (*model.TableDefinition, error)
	// CreateSchema returns ErrTableExists when a record already exists.
	CreateSchema(ctx context.Context, table string, fields model.FieldMap) error
	UpdateSchema(ctx context.Context, table string, fields model.FieldMap) error
	AppendAuditLog(ctx context.Context, table string, action model.SchemaAction, fields model.FieldMap, query string) error
	ListTables(ctx context.Context) ([]string, error)
	ListAuditLog(ctx context.Context, table string) ([]*model.SchemaLog, error)
}

// NotificationRepository defines the data operations on the notification feed
type NotificationRepository interface {
	Create(ctx context.Context, notification *model.Notification) error
	GetByID(ctx context.Context, id uint) (*model.Notification, error)
	List(ctx context.Context) ([]*model.Notification, error)
	// TransitionByKey moves every notification with key whose status is in
	// from to status to, and returns how many changed.
	TransitionByKey(ctx context.Context, key string, from []model.NotificationStatus, to model.NotificationStatus) (int64, error)
	SetStatus(ctx context.Context, id uint, status model.NotificationStatus) error
	MarkRead(ctx context.Context, id uint) error
}
