package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Referral attributes a participant's registration to a promoter.
// Created unconverted at registration; converted once, by the transaction
// that completes the participant's payment.
type Referral struct {
	ID               string          `gorm:"primaryKey;type:uuid" json:"id"`
	PromoterID       string          `gorm:"type:uuid;index;not null" json:"promoter_id"`
	ParticipantEmail string          `gorm:"index:idx_referral_lookup,priority:1;not null" json:"participant_email"` // lower-case
	ReferralCode     string          `gorm:"index:idx_referral_lookup,priority:2;not null" json:"referral_code"`     // upper-case
	Tier             Tier            `gorm:"type:varchar(16);not null" json:"tier"`
	Commission       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"commission"`
	IsConverted      bool            `gorm:"not null;default:false;index" json:"is_converted"`
	ConvertedAt      *time.Time      `json:"converted_at,omitempty"`
	PaymentID        *string         `gorm:"type:uuid;uniqueIndex" json:"payment_id,omitempty"`

	Timestamps
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
