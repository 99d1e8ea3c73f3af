package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification templates
const (
	TemplateWelcome           = "welcome"
	TemplatePaymentCompleted  = "payment_completed"
	TemplatePaymentFailed     = "payment_failed"
	TemplatePromoterApproved  = "promoter_approved"
	TemplatePromoterRejected  = "promoter_rejected"
	TemplateReferralConverted = "referral_converted"
)

// NotificationLog is the email outbox drained by the notification worker.
// NextAttemptAt holds back retries and marks rows claimed by a worker; nil
// means due now.
type NotificationLog struct {
	ID            string             `gorm:"primaryKey;type:uuid" json:"id"`
	Template      string             `gorm:"type:varchar(64);not null" json:"template"`
	Recipient     string             `gorm:"not null;index" json:"recipient"`
	Payload       datatypes.JSON     `json:"payload"`
	Status        NotificationStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	Attempts      int                `gorm:"not null;default:0" json:"attempts"`
	LastError     string             `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt *time.Time         `gorm:"index" json:"next_attempt_at,omitempty"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	CreatedAt     time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (n *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
