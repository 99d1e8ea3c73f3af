package services

import (
	"fmt"

	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RequestMeta is the caller information recorded on audit entries.
type RequestMeta struct {
	ActorUserID string
	IP          string
	UserAgent   string
}

func requestMeta(c *fiber.Ctx, actorUserID string) RequestMeta {
	return RequestMeta{
		ActorUserID: actorUserID,
		IP:          c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	}
}

type auditEntry struct {
	Action     string
	EntityType string
	EntityID   string
	Old        interface{}
	New        interface{}
}

// recordAudit appends one audit row using tx, so it commits or rolls back
// with the change it describes.
func recordAudit(tx *gorm.DB, meta RequestMeta, e auditEntry) error {
	oldValues, err := models.JSONValues(e.Old)
	if err != nil {
		return fmt.Errorf("audit %s old values: %w", e.Action, err)
	}
	newValues, err := models.JSONValues(e.New)
	if err != nil {
		return fmt.Errorf("audit %s new values: %w", e.Action, err)
	}

	row := models.AuditLog{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if meta.ActorUserID != "" {
		row.ActorUserID = &meta.ActorUserID
	}
	if meta.IP != "" {
		row.IPAddress = &meta.IP
	}
	if meta.UserAgent != "" {
		row.UserAgent = &meta.UserAgent
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record audit %s: %w", e.Action, err)
	}
	return nil
}
