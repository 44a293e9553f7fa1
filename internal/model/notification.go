package model

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationCreated NotificationStatus = "CREATED"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification reports the outcome of an upload to the client feed.
// Uploads split into batches share one notification through NotificationKey.
type Notification struct {
	ID              uint               `json:"id" gorm:"primaryKey"`
	Message         string             `json:"message" gorm:"type:text;not null"`
	Table           string             `json:"tableName" gorm:"column:table_name;size:63;not null"`
	NotificationKey string             `json:"notificationKey" gorm:"size:255;index"`
	Status          NotificationStatus `json:"status" gorm:"size:16;not null;default:PENDING;index"`
	IsRead          bool               `json:"isRead" gorm:"not null;default:false"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
