package model

import "time"

// NotificationStatus represents the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is a discrepancy alert created by the reconciliation worker
// and delivered fire-and-forget by the dispatcher.
type Notification struct {
	ID        string             `json:"id"`
	ProductID string             `json:"product_id"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}
