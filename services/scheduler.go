// services/scheduler.go
package services

import (
	"context"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/models"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stalePaymentAge = 24 * time.Hour

// MaintenanceScheduler runs housekeeping jobs. It never changes payment
// state; stale PENDING payments are only reported.
type MaintenanceScheduler struct {
	DB        *gorm.DB
	Retention time.Duration
	sched     gocron.Scheduler
}

func NewMaintenanceScheduler(db *gorm.DB, retention time.Duration) *MaintenanceScheduler {
	return &MaintenanceScheduler{DB: db, Retention: retention}
}

func (m *MaintenanceScheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	// Every 6 hours: drop settled ledger rows and delivered notifications
	if _, err := sched.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(func() {
			ctx := context.Background()
			if n, err := m.PruneWebhookEvents(ctx); err != nil {
				logging.Logger.Error("[SCHEDULER] webhook prune failed", zap.Error(err))
			} else if n > 0 {
				logging.Logger.Info("[SCHEDULER] pruned webhook events", zap.Int64("count", n))
			}
			if n, err := m.PruneNotifications(ctx); err != nil {
				logging.Logger.Error("[SCHEDULER] notification prune failed", zap.Error(err))
			} else if n > 0 {
				logging.Logger.Info("[SCHEDULER] pruned notifications", zap.Int64("count", n))
			}
		}),
		gocron.WithName("prune"),
	); err != nil {
		return err
	}

	// Hourly: surface checkouts that never got a webhook
	if _, err := sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if _, err := m.ReportStalePayments(context.Background()); err != nil {
				logging.Logger.Error("[SCHEDULER] stale payment report failed", zap.Error(err))
			}
		}),
		gocron.WithName("stale-payments"),
	); err != nil {
		return err
	}

	sched.Start()
	m.sched = sched
	logging.Logger.Info("[SCHEDULER] started", zap.Duration("retention", m.Retention))
	return nil
}

func (m *MaintenanceScheduler) Shutdown() error {
	if m.sched == nil {
		return nil
	}
	return m.sched.Shutdown()
}

// PruneWebhookEvents deletes PROCESSED and IGNORED ledger rows older than the
// retention period. FAILED and DEAD_LETTERED rows stay for replay.
func (m *MaintenanceScheduler) PruneWebhookEvents(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-m.Retention)
	res := m.DB.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]models.WebhookEventStatus{models.WebhookEventProcessed, models.WebhookEventIgnored}, cutoff).
		Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}

func (m *MaintenanceScheduler) PruneNotifications(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-m.Retention)
	res := m.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.NotificationSent, cutoff).
		Delete(&models.NotificationLog{})
	return res.RowsAffected, res.Error
}

func (m *MaintenanceScheduler) ReportStalePayments(ctx context.Context) (int, error) {
	var stale []models.Payment
	if err := m.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, time.Now().UTC().Add(-stalePaymentAge)).
		Order("created_at").
		Limit(500).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	for _, p := range stale {
		logging.Logger.Warn("[SCHEDULER] payment pending without webhook",
			zap.String("payment_id", p.ID),
			zap.String("session_id", p.StripeSessionID),
			zap.Time("created_at", p.CreatedAt))
	}
	return len(stale), nil
}
