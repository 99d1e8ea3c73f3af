package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/models"
	"treasure-hunt-system/monitoring"
	"treasure-hunt-system/services"
	"treasure-hunt-system/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationWorker drains the notification outbox and sends each row by email.
// Several workers may share one outbox: a row is claimed with a conditional
// update before it is sent, and a claim that loses the race skips the row.
type NotificationWorker struct {
	DB          *gorm.DB
	Mailer      utils.Mailer
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	SendTimeout time.Duration
	// RetryBackoff is the delay after the first failed send; it doubles per
	// attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func NewNotificationWorker(db *gorm.DB, mailer utils.Mailer, interval time.Duration, maxAttempts int) *NotificationWorker {
	return &NotificationWorker{
		DB:           db,
		Mailer:       mailer,
		Interval:     interval,
		MaxAttempts:  maxAttempts,
		BatchSize:    50,
		SendTimeout:  10 * time.Second,
		RetryBackoff: 30 * time.Second,
		MaxBackoff:   time.Hour,
	}
}

// Start polls until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	logging.Logger.Info("[NOTIFY] worker started", zap.Duration("interval", w.Interval))

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info("[NOTIFY] worker stopped")
			return
		case <-ticker.C:
			sent, failed, err := w.DrainOnce(ctx)
			if err != nil {
				logging.Logger.Error("[NOTIFY] drain failed", zap.Error(err))
				continue
			}
			if sent > 0 || failed > 0 {
				logging.Logger.Info("[NOTIFY] batch delivered", zap.Int("sent", sent), zap.Int("failed", failed))
			}
		}
	}
}

// DrainOnce sends one batch of due PENDING notifications, oldest first.
// Rows claimed by another worker are skipped and not counted.
func (w *NotificationWorker) DrainOnce(ctx context.Context) (sent, failed int, err error) {
	var batch []models.NotificationLog
	if err := w.DB.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			models.NotificationPending, time.Now().UTC()).
		Order("created_at").
		Limit(w.BatchSize).
		Find(&batch).Error; err != nil {
		return 0, 0, fmt.Errorf("load outbox: %w", err)
	}

	for i := range batch {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		claimed, err := w.claim(ctx, &batch[i])
		if err != nil {
			return sent, failed, fmt.Errorf("claim notification %s: %w", batch[i].ID, err)
		}
		if !claimed {
			continue
		}
		if w.deliver(ctx, &batch[i]) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed, nil
}

// claim takes the row for this worker by counting the attempt up front and
// pushing next_attempt_at past the send timeout. The attempts value read with
// the batch acts as a version: only one concurrent claim can match it. A
// worker that dies mid-send leaves the row to be picked up after the lease.
func (w *NotificationWorker) claim(ctx context.Context, n *models.NotificationLog) (bool, error) {
	lease := time.Now().UTC().Add(2 * w.SendTimeout)
	res := w.DB.WithContext(ctx).Model(&models.NotificationLog{}).
		Where("id = ? AND status = ? AND attempts = ?", n.ID, models.NotificationPending, n.Attempts).
		Updates(map[string]interface{}{
			"attempts":        n.Attempts + 1,
			"next_attempt_at": lease,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	n.Attempts++
	return true, nil
}

func (w *NotificationWorker) retryDelay(attempts int) time.Duration {
	delay := w.RetryBackoff
	for i := 1; i < attempts && delay < w.MaxBackoff; i++ {
		delay *= 2
	}
	if w.MaxBackoff > 0 && delay > w.MaxBackoff {
		delay = w.MaxBackoff
	}
	return delay
}

func (w *NotificationWorker) deliver(ctx context.Context, n *models.NotificationLog) bool {
	data := map[string]interface{}{}
	if len(n.Payload) > 0 {
		if err := json.Unmarshal(n.Payload, &data); err != nil {
			w.finish(ctx, n, fmt.Errorf("decode payload: %w", err), true)
			return false
		}
	}

	subject, body, err := services.RenderNotification(n.Template, data)
	if err != nil {
		w.finish(ctx, n, err, true)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	defer cancel()
	if err := w.Mailer.Send(sendCtx, n.Recipient, subject, body); err != nil {
		w.finish(ctx, n, err, false)
		return false
	}

	w.finish(ctx, n, nil, false)
	return true
}

// finish records the outcome of a claimed attempt. permanent errors fail the
// row immediately, others only once MaxAttempts is used up.
func (w *NotificationWorker) finish(ctx context.Context, n *models.NotificationLog, sendErr error, permanent bool) {
	attempts := n.Attempts
	updates := map[string]interface{}{}

	outcome := "sent"
	switch {
	case sendErr == nil:
		updates["status"] = models.NotificationSent
		updates["sent_at"] = time.Now().UTC()
		updates["last_error"] = ""
	case permanent || attempts >= w.MaxAttempts:
		outcome = "failed"
		updates["status"] = models.NotificationFailed
		updates["last_error"] = sendErr.Error()
		logging.Logger.Error("[NOTIFY] giving up on notification",
			zap.String("id", n.ID),
			zap.String("template", n.Template),
			zap.Int("attempts", attempts),
			zap.Error(sendErr))
	default:
		outcome = "retry"
		delay := w.retryDelay(attempts)
		updates["last_error"] = sendErr.Error()
		updates["next_attempt_at"] = time.Now().UTC().Add(delay)
		logging.Logger.Warn("[NOTIFY] send failed, will retry",
			zap.String("id", n.ID),
			zap.Int("attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(sendErr))
	}
	monitoring.NotificationsTotal.WithLabelValues(n.Template, outcome).Inc()

	if err := w.DB.WithContext(ctx).Model(&models.NotificationLog{}).
		Where("id = ? AND status = ?", n.ID, models.NotificationPending).
		Updates(updates).Error; err != nil {
		logging.Logger.Error("[NOTIFY] failed to record delivery", zap.String("id", n.ID), zap.Error(err))
	}
}
