package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditLogImmutable is returned by the hooks that keep audit rows append-only.
var ErrAuditLogImmutable = errors.New("audit log entries cannot be modified")

// Audit actions
const (
	AuditUserRegistered     = "USER_REGISTERED"
	AuditPromoterRegistered = "PROMOTER_REGISTERED"
	AuditPaymentCreated     = "PAYMENT_CREATED"
	AuditPaymentCompleted   = "PAYMENT_COMPLETED"
	AuditPaymentFailed      = "PAYMENT_FAILED"
	AuditReferralConverted  = "REFERRAL_CONVERTED"
	AuditPromoterApproved   = "PROMOTER_APPROVED"
	AuditPromoterRejected   = "PROMOTER_REJECTED"
	AuditParticipantStatus  = "PARTICIPANT_STATUS_CHANGED"
	AuditWebhookReplayed    = "WEBHOOK_EVENT_REPLAYED"
)

// AuditLog is the append-only compliance trail. One row per state change.
type AuditLog struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	ActorUserID *string        `gorm:"type:uuid;index" json:"actor_user_id,omitempty"` // nil for system/webhook actions
	Action      string         `gorm:"type:varchar(64);not null;index" json:"action"`
	EntityType  string         `gorm:"type:varchar(32);not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID    string         `gorm:"not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	OldValues   datatypes.JSON `json:"old_values,omitempty"`
	NewValues   datatypes.JSON `json:"new_values,omitempty"`
	IPAddress   *string        `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent   *string        `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error { return ErrAuditLogImmutable }

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error { return ErrAuditLogImmutable }

// JSONValues marshals v for a JSON column. Nil in, nil out.
func JSONValues(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return datatypes.JSON(b), nil
}
