package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// IsTerminal is true once a payment has left PENDING. Terminal payments never change again.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment is one checkout attempt for a paid tier.
type Payment struct {
	ID                    string          `gorm:"primaryKey;type:uuid" json:"id"`
	UserID                string          `gorm:"type:uuid;index;not null" json:"user_id"`
	ParticipantID         string          `gorm:"type:uuid;index;not null" json:"participant_id"`
	StripeSessionID       string          `gorm:"uniqueIndex;not null" json:"stripe_session_id"`
	StripePaymentIntentID *string         `gorm:"index" json:"stripe_payment_intent_id,omitempty"`
	Amount                decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Tier                  Tier            `gorm:"type:varchar(16);not null" json:"tier"`
	Status                PaymentStatus   `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	FailureReason         *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	FailedAt              *time.Time      `json:"failed_at,omitempty"`

	Timestamps
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
