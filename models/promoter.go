package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PromoterStatus string

const (
	PromoterStatusPending   PromoterStatus = "PENDING"
	PromoterStatusApproved  PromoterStatus = "APPROVED"
	PromoterStatusRejected  PromoterStatus = "REJECTED"
	PromoterStatusSuspended PromoterStatus = "SUSPENDED"
)

// Promoter earns commission on referred paid registrations.
// TotalReferrals and TotalRevenue are running aggregates: only ever
// incremented, in the same transaction that converts a referral.
type Promoter struct {
	ID              string          `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string          `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	CompanyName     string          `json:"company_name"`
	Website         string          `json:"website,omitempty"`
	Status          PromoterStatus  `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ReferralCode    *string         `gorm:"uniqueIndex" json:"referral_code,omitempty"` // upper-case
	CommissionRate  decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	TotalReferrals  int64           `gorm:"not null;default:0" json:"total_referrals"`
	TotalRevenue    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_revenue"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy      *string         `gorm:"type:uuid" json:"approved_by,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Timestamps
}

func (p *Promoter) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// CommissionFor is what this promoter earns when a referral at tier converts.
func (p *Promoter) CommissionFor(tier Tier) decimal.Decimal {
	return tier.Price().Mul(p.CommissionRate).Round(2)
}
