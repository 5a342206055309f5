package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationTypeWarning5Days = "warning_5_days"
	NotificationTypeWarning2Days = "warning_2_days"
	NotificationTypeSuspended    = "suspended"
	NotificationTypeReactivated  = "reactivated"
)

const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// SubscriptionNotification is the append-only idempotency ledger of the
// dunning engine. A row of a given type suppresses duplicates for the current
// incident: it only counts when its created_at is at or after the creation
// time of the oldest unpaid invoice.
type SubscriptionNotification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID   uint       `gorm:"not null;index:idx_subnotif_incident,priority:1" json:"subscription_id"`
	NotificationType string     `gorm:"type:varchar(32);not null;index:idx_subnotif_incident,priority:2" json:"notification_type" validate:"oneof=warning_5_days warning_2_days suspended reactivated"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ScheduledAt      time.Time  `gorm:"not null" json:"scheduled_at"`
	SentAt           *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	RecipientEmail   string     `gorm:"type:varchar(191)" json:"recipient_email"`
	RecipientName    string     `gorm:"type:varchar(191)" json:"recipient_name"`
	Body             string     `gorm:"type:longtext" json:"-"`
	TrackToken       string     `gorm:"type:varchar(36);uniqueIndex" json:"-"`
	OpenedAt         *time.Time `gorm:"type:timestamp;default:null" json:"opened_at,omitempty"`
	OpenCount        int        `gorm:"default:0" json:"open_count"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index:idx_subnotif_incident,priority:3" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewSubscriptionNotification builds a pending ledger row with the recipient
// snapshot taken from the subscription at creation time.
func NewSubscriptionNotification(sub *Subscription, notificationType string, scheduledAt time.Time) *SubscriptionNotification {
	return &SubscriptionNotification{
		SubscriptionID:   sub.ID,
		NotificationType: notificationType,
		Status:           NotificationStatusPending,
		ScheduledAt:      scheduledAt,
		RecipientEmail:   sub.CustomerEmail,
		RecipientName:    sub.CustomerName,
		TrackToken:       uuid.NewString(),
	}
}

// MarkSent stores the rendered body and flips the row to sent.
func (n *SubscriptionNotification) MarkSent(db *gorm.DB, body string, sentAt time.Time) error {
	n.Status = NotificationStatusSent
	n.Body = body
	n.SentAt = &sentAt
	return db.Model(n).Updates(map[string]interface{}{
		"status":  NotificationStatusSent,
		"body":    body,
		"sent_at": &sentAt,
	}).Error
}

// MarkFailed records the delivery error. The row stays in the ledger so it
// keeps suppressing duplicates for the incident.
func (n *SubscriptionNotification) MarkFailed(db *gorm.DB, sendErr error) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	n.Status = NotificationStatusFailed
	n.ErrorMessage = msg
	return db.Model(n).Updates(map[string]interface{}{
		"status":        NotificationStatusFailed,
		"error_message": msg,
	}).Error
}

// RecordOpen registers one open-tracking hit.
func (n *SubscriptionNotification) RecordOpen(db *gorm.DB, at time.Time) error {
	if n.OpenedAt == nil {
		n.OpenedAt = &at
	}
	n.OpenCount++
	return db.Model(n).Updates(map[string]interface{}{
		"opened_at":  n.OpenedAt,
		"open_count": gorm.Expr("open_count + 1"),
	}).Error
}
