package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEvent stores inbound provider webhook payloads with deduplication
// metadata so replays are processed at most once.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"-"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordWebhookEvent persists an inbound event idempotently. The boolean is
// true when the row was created by this call; false means the event was seen
// before and must not be reprocessed. Events without a provider event id are
// deduplicated on a payload hash.
func RecordWebhookEvent(db *gorm.DB, provider, providerEventID, eventType, payloadJSON string, signatureValid bool) (bool, *WebhookEvent, error) {
	eventID := strings.TrimSpace(providerEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(payloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &WebhookEvent{
		Provider:        strings.ToLower(strings.TrimSpace(provider)),
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     payloadJSON,
		SignatureValid:  signatureValid,
	}
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored WebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProcessed stamps the event and stores the processing error, if any.
func (e *WebhookEvent) MarkProcessed(db *gorm.DB, processingErr error) error {
	now := time.Now()
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	return db.Model(&WebhookEvent{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": msg,
	}).Error
}
