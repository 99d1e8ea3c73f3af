package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WebhookEventStatus string

const (
	WebhookEventReceived     WebhookEventStatus = "RECEIVED"
	WebhookEventProcessed    WebhookEventStatus = "PROCESSED"
	WebhookEventIgnored      WebhookEventStatus = "IGNORED"
	WebhookEventFailed       WebhookEventStatus = "FAILED"
	WebhookEventDeadLettered WebhookEventStatus = "DEAD_LETTERED"
)

// IsSettled means redeliveries of this event can be acknowledged without reprocessing.
func (s WebhookEventStatus) IsSettled() bool {
	return s == WebhookEventProcessed || s == WebhookEventIgnored || s == WebhookEventDeadLettered
}

// WebhookEvent is the ledger of verified provider events, keyed by the provider's event id.
// Payload keeps the verified raw body so dead-lettered events can be replayed.
type WebhookEvent struct {
	ID              string             `gorm:"primaryKey;type:uuid" json:"id"`
	Provider        string             `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderEventID string             `gorm:"uniqueIndex;not null" json:"provider_event_id"`
	EventType       string             `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status          WebhookEventStatus `gorm:"type:varchar(16);not null;default:'RECEIVED';index" json:"status"`
	Attempts        int                `gorm:"not null;default:0" json:"attempts"`
	LastError       string             `gorm:"type:text" json:"last_error,omitempty"`
	Payload         string             `gorm:"type:text;not null" json:"-"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	CreatedAt       time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
