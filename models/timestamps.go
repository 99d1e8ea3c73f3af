package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// AllModels is the AutoMigrate list, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Promoter{},
		&Participant{},
		&Referral{},
		&Payment{},
		&AuditLog{},
		&WebhookEvent{},
		&NotificationLog{},
	}
}
