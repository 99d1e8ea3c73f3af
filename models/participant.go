package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "PENDING"
	ParticipantStatusApproved  ParticipantStatus = "APPROVED"
	ParticipantStatusActive    ParticipantStatus = "ACTIVE"
	ParticipantStatusRejected  ParticipantStatus = "REJECTED"
	ParticipantStatusSuspended ParticipantStatus = "SUSPENDED"
)

// participantTransitions lists the moves an admin may make by hand.
// PENDING -> ACTIVE for paid tiers only happens through a completed payment.
var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantStatusPending:   {ParticipantStatusApproved, ParticipantStatusRejected},
	ParticipantStatusApproved:  {ParticipantStatusActive, ParticipantStatusSuspended, ParticipantStatusRejected},
	ParticipantStatusActive:    {ParticipantStatusSuspended},
	ParticipantStatusSuspended: {ParticipantStatusActive},
	ParticipantStatusRejected:  {},
}

// CanTransitionTo reports whether an admin may move a participant from s to next.
func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	for _, allowed := range participantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Participant is a sweepstakes entrant.
type Participant struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string            `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Tier        Tier              `gorm:"type:varchar(16);not null;default:'FREE'" json:"tier"`
	Status      ParticipantStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ReferredBy  *string           `gorm:"type:uuid;index" json:"referred_by,omitempty"` // Promoter.ID
	ActivatedAt *time.Time        `json:"activated_at,omitempty"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Timestamps
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
