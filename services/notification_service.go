package services

import (
	"context"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is called after a state change has committed. Implementations
// must not fail the caller; delivery is best effort.
type Notifier interface {
	Dispatch(ctx context.Context, template, recipient string, data map[string]interface{})
}

// NotificationService enqueues notifications into the outbox table. The
// notification worker renders and delivers them.
type NotificationService struct {
	DB      *gorm.DB
	Timeout time.Duration
}

func NewNotificationService(db *gorm.DB, timeout time.Duration) *NotificationService {
	return &NotificationService{DB: db, Timeout: timeout}
}

func (s *NotificationService) Dispatch(ctx context.Context, template, recipient string, data map[string]interface{}) {
	if recipient == "" {
		logging.Logger.Warn("[NOTIFY] skipped notification without recipient", zap.String("template", template))
		return
	}

	// Outlive a cancelled request, but never for long
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	payload, err := models.JSONValues(data)
	if err != nil {
		logging.Logger.Error("[NOTIFY] failed to encode notification data",
			zap.String("template", template),
			zap.String("recipient", recipient),
			zap.Error(err))
		return
	}

	row := models.NotificationLog{
		Template:  template,
		Recipient: recipient,
		Payload:   payload,
		Status:    models.NotificationPending,
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		logging.Logger.Warn("[NOTIFY] failed to enqueue notification",
			zap.String("template", template),
			zap.String("recipient", recipient),
			zap.Error(err))
		return
	}
	logging.Logger.Debug("[NOTIFY] enqueued", zap.String("template", template), zap.String("id", row.ID))
}
