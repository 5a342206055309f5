package models

import "time"

// SubscriptionChange is a write-once audit record of a field-level diff
// detected while syncing external data. It is never consumed by the dunning
// logic.
type SubscriptionChange struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	Source         string    `gorm:"type:varchar(32);not null" json:"source"`
	Field          string    `gorm:"type:varchar(64);not null" json:"field"`
	Previous       string    `gorm:"type:text" json:"previous"`
	Current        string    `gorm:"type:text" json:"current"`
	DetectedAt     time.Time `gorm:"not null" json:"detected_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
