// services/webhook_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/models"
	"treasure-hunt-system/monitoring"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const paymentStatusPaid = "paid"

// PayloadArchiver keeps a copy of verified webhook bodies. Optional.
type PayloadArchiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// WebhookService reconciles payments with the provider's webhook events.
// Every transition is guarded twice: a status check on the locked row and a
// conditional update, so redelivered or concurrent events are harmless.
type WebhookService struct {
	DB             *gorm.DB
	Provider       PaymentProvider
	Notifier       Notifier
	Archiver       PayloadArchiver
	MaxAttempts    int
	ArchiveTimeout time.Duration
}

func NewWebhookService(db *gorm.DB, provider PaymentProvider, notifier Notifier, maxAttempts int) *WebhookService {
	return &WebhookService{
		DB:             db,
		Provider:       provider,
		Notifier:       notifier,
		MaxAttempts:    maxAttempts,
		ArchiveTimeout: 10 * time.Second,
	}
}

// HandleStripeWebhook is POST /webhooks/stripe. It must see the raw body.
func (s *WebhookService) HandleStripeWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns
	payload := append([]byte(nil), c.Body()...)

	event, err := s.Provider.VerifyEvent(payload, c.Get("Stripe-Signature"))
	if err != nil {
		logging.Logger.Warn("[WEBHOOK] rejected event",
			zap.String("ip", c.IP()),
			zap.Error(err))
		monitoring.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook signature"})
	}

	if err := s.ProcessEvent(c.UserContext(), event); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook processing failed"})
	}

	if s.Archiver != nil {
		go s.archive(event)
	}
	return c.JSON(fiber.Map{"received": true})
}

// ProcessEvent records the event in the ledger and applies it at most once.
// A nil return means the provider may stop retrying.
func (s *WebhookService) ProcessEvent(ctx context.Context, event *ProviderEvent) error {
	db := s.DB.WithContext(ctx)

	insert := models.WebhookEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Status:          models.WebhookEventReceived,
		Payload:         string(event.Payload),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(&insert).Error; err != nil {
		logging.Logger.Error("[WEBHOOK] ledger insert failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}

	// insert.ID is set even when the conflict skipped the insert, so the
	// ledger row is read into a fresh value.
	var row models.WebhookEvent
	if err := db.Where("provider_event_id = ?", event.ID).Take(&row).Error; err != nil {
		logging.Logger.Error("[WEBHOOK] ledger lookup failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}

	if row.Status.IsSettled() {
		logging.Logger.Info("[WEBHOOK] duplicate delivery acknowledged",
			zap.String("event_id", event.ID),
			zap.String("status", string(row.Status)))
		monitoring.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	outcome, err := s.dispatch(ctx, event)
	if err != nil {
		return s.recordFailure(ctx, &row, err)
	}

	now := time.Now().UTC()
	if err := db.Model(&models.WebhookEvent{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"status":       outcome,
		"last_error":   "",
		"processed_at": now,
	}).Error; err != nil {
		// The transition itself committed; a redelivery will be a no-op.
		logging.Logger.Warn("[WEBHOOK] failed to settle ledger row", zap.String("event_id", event.ID), zap.Error(err))
	}
	monitoring.WebhookEventsTotal.WithLabelValues(event.Type, string(outcome)).Inc()
	return nil
}

func (s *WebhookService) dispatch(ctx context.Context, event *ProviderEvent) (models.WebhookEventStatus, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		if event.Checkout == nil {
			return "", fmt.Errorf("%w: %s without session", ErrMalformedEvent, event.Type)
		}
		return models.WebhookEventProcessed, s.handleCheckoutCompleted(ctx, event.Checkout)
	case EventPaymentFailed:
		if event.PaymentFailure == nil {
			return "", fmt.Errorf("%w: %s without payment intent", ErrMalformedEvent, event.Type)
		}
		return models.WebhookEventProcessed, s.handlePaymentFailed(ctx, event.PaymentFailure)
	default:
		logging.Logger.Info("[WEBHOOK] ignoring event", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return models.WebhookEventIgnored, nil
	}
}

// recordFailure bumps the attempt counter. Once MaxAttempts is reached the
// event is dead-lettered and acknowledged so the provider stops retrying.
func (s *WebhookService) recordFailure(ctx context.Context, row *models.WebhookEvent, cause error) error {
	db := s.DB.WithContext(ctx)

	if err := db.Model(&models.WebhookEvent{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"status":     models.WebhookEventFailed,
		"last_error": cause.Error(),
	}).Error; err != nil {
		logging.Logger.Error("[WEBHOOK] failed to record attempt", zap.String("event_id", row.ProviderEventID), zap.Error(err))
		return cause
	}
	var current models.WebhookEvent
	if err := db.Where("id = ?", row.ID).Take(&current).Error; err != nil {
		return cause
	}
	*row = current

	if s.MaxAttempts > 0 && row.Attempts >= s.MaxAttempts {
		if err := db.Model(&models.WebhookEvent{}).Where("id = ?", row.ID).
			Update("status", models.WebhookEventDeadLettered).Error; err != nil {
			logging.Logger.Error("[WEBHOOK] failed to dead-letter event", zap.String("event_id", row.ProviderEventID), zap.Error(err))
			return cause
		}
		logging.Logger.Error("[WEBHOOK] event dead-lettered",
			zap.String("event_id", row.ProviderEventID),
			zap.String("type", row.EventType),
			zap.Int("attempts", row.Attempts),
			zap.Error(cause))
		monitoring.WebhookEventsTotal.WithLabelValues(row.EventType, string(models.WebhookEventDeadLettered)).Inc()
		return nil
	}

	logging.Logger.Error("[WEBHOOK] event processing failed",
		zap.String("event_id", row.ProviderEventID),
		zap.String("type", row.EventType),
		zap.Int("attempts", row.Attempts),
		zap.Error(cause))
	monitoring.WebhookEventsTotal.WithLabelValues(row.EventType, string(models.WebhookEventFailed)).Inc()
	return cause
}

type referralConversion struct {
	Referral      models.Referral
	PromoterEmail string
	PromoterName  string
}

type completedPayment struct {
	Payment    models.Payment
	Tier       models.Tier
	Email      string
	Name       string
	Conversion *referralConversion
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, cc *CheckoutCompletion) error {
	var done *completedPayment

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("stripe_session_id = ?", cc.SessionID).
			First(&payment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Logger.Error("[WEBHOOK] checkout completed for unknown session",
				zap.String("session_id", cc.SessionID),
				zap.String("payment_id", cc.Metadata[MetaPaymentID]))
			return fmt.Errorf("%w: session %s", ErrPaymentNotFound, cc.SessionID)
		}
		if err != nil {
			return err
		}

		if payment.Status.IsTerminal() {
			logging.Logger.Info("[WEBHOOK] payment already settled",
				zap.String("payment_id", payment.ID),
				zap.String("status", string(payment.Status)))
			return nil
		}
		if cc.PaymentStatus != paymentStatusPaid {
			logging.Logger.Info("[WEBHOOK] checkout completed but not paid",
				zap.String("payment_id", payment.ID),
				zap.String("payment_status", cc.PaymentStatus))
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":       models.PaymentStatusCompleted,
			"completed_at": now,
		}
		if cc.PaymentIntentID != "" {
			updates["stripe_payment_intent_id"] = cc.PaymentIntentID
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		tier := payment.Tier
		if t := models.Tier(cc.Metadata[MetaTier]); t.IsPaid() {
			tier = t
		}

		var participant models.Participant
		if err := tx.Preload("User").First(&participant, "id = ?", payment.ParticipantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Logger.Error("[WEBHOOK] payment references missing participant",
					zap.String("payment_id", payment.ID),
					zap.String("participant_id", payment.ParticipantID))
				return fmt.Errorf("%w: %s", ErrParticipantNotFound, payment.ParticipantID)
			}
			return err
		}

		activatedAt := now
		if participant.ActivatedAt != nil {
			activatedAt = *participant.ActivatedAt
		}
		if err := tx.Model(&models.Participant{}).Where("id = ?", participant.ID).Updates(map[string]interface{}{
			"status":       models.ParticipantStatusActive,
			"tier":         tier,
			"activated_at": activatedAt,
		}).Error; err != nil {
			return err
		}

		conversion, err := convertReferral(tx, cc.Metadata[MetaReferralCode], participant.User.Email, payment.ID, tier, now)
		if err != nil {
			return err
		}

		if err := recordAudit(tx, RequestMeta{}, auditEntry{
			Action:     models.AuditPaymentCompleted,
			EntityType: "payment",
			EntityID:   payment.ID,
			Old:        map[string]interface{}{"status": payment.Status},
			New: map[string]interface{}{
				"status":                   models.PaymentStatusCompleted,
				"stripe_payment_intent_id": cc.PaymentIntentID,
				"participant_id":           participant.ID,
				"participant_status":       models.ParticipantStatusActive,
				"tier":                     tier,
			},
		}); err != nil {
			return err
		}

		payment.Status = models.PaymentStatusCompleted
		payment.CompletedAt = &now
		done = &completedPayment{
			Payment:    payment,
			Tier:       tier,
			Email:      participant.User.Email,
			Name:       participant.User.FirstName,
			Conversion: conversion,
		}
		return nil
	})
	if err != nil || done == nil {
		return err
	}

	logging.Logger.Info("[WEBHOOK] payment completed",
		zap.String("payment_id", done.Payment.ID),
		zap.String("tier", string(done.Tier)),
		zap.Bool("referral_converted", done.Conversion != nil))
	monitoring.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusCompleted), string(done.Tier)).Inc()

	s.Notifier.Dispatch(ctx, models.TemplatePaymentCompleted, done.Email, map[string]interface{}{
		"name":     done.Name,
		"tier":     string(done.Tier),
		"amount":   done.Payment.Amount.StringFixed(2),
		"currency": done.Payment.Currency,
	})
	if c := done.Conversion; c != nil {
		monitoring.ReferralConversionsTotal.Inc()
		s.Notifier.Dispatch(ctx, models.TemplateReferralConverted, c.PromoterEmail, map[string]interface{}{
			"name":          c.PromoterName,
			"tier":          string(c.Referral.Tier),
			"referral_code": c.Referral.ReferralCode,
			"commission":    c.Referral.Commission.StringFixed(2),
		})
	}
	return nil
}

// convertReferral marks the participant's pending referral converted and
// credits the promoter. Both writes are atomic in SQL and run inside the
// payment-completion transaction.
func convertReferral(tx *gorm.DB, code, email, paymentID string, tier models.Tier, now time.Time) (*referralConversion, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}

	var referral models.Referral
	err := tx.Where("referral_code = ? AND participant_email = ? AND is_converted = ?", code, normalizeEmail(email), false).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Logger.Info("[WEBHOOK] no pending referral for payment",
			zap.String("payment_id", paymentID),
			zap.String("referral_code", code))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var promoter models.Promoter
	if err := tx.Preload("User").First(&promoter, "id = ?", referral.PromoterID).Error; err != nil {
		return nil, fmt.Errorf("load promoter %s: %w", referral.PromoterID, err)
	}

	// The commission fixed at registration is credited as is. Only a tier
	// change since then (FREE signups, upgrades) reprices it for what was paid.
	commission := referral.Commission
	if referral.Tier != tier {
		commission = promoter.CommissionFor(tier)
	}

	res := tx.Model(&models.Referral{}).
		Where("id = ? AND is_converted = ?", referral.ID, false).
		Updates(map[string]interface{}{
			"is_converted": true,
			"converted_at": now,
			"payment_id":   paymentID,
			"tier":         tier,
			"commission":   commission,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	if err := tx.Model(&models.Promoter{}).Where("id = ?", promoter.ID).Updates(map[string]interface{}{
		"total_referrals": gorm.Expr("total_referrals + ?", 1),
		"total_revenue":   gorm.Expr("total_revenue + ?", commission),
	}).Error; err != nil {
		return nil, err
	}

	if err := recordAudit(tx, RequestMeta{}, auditEntry{
		Action:     models.AuditReferralConverted,
		EntityType: "referral",
		EntityID:   referral.ID,
		Old: map[string]interface{}{
			"is_converted": false,
			"tier":         referral.Tier,
			"commission":   referral.Commission.StringFixed(2),
		},
		New: map[string]interface{}{
			"is_converted": true,
			"payment_id":   paymentID,
			"promoter_id":  promoter.ID,
			"tier":         tier,
			"commission":   commission.StringFixed(2),
		},
	}); err != nil {
		return nil, err
	}

	referral.IsConverted = true
	referral.ConvertedAt = &now
	referral.PaymentID = &paymentID
	referral.Tier = tier
	referral.Commission = commission
	return &referralConversion{
		Referral:      referral,
		PromoterEmail: promoter.User.Email,
		PromoterName:  promoter.User.FirstName,
	}, nil
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, pf *PaymentFailure) error {
	var (
		failed models.Payment
		email  string
		name   string
	)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := findFailedPayment(tx, pf)
		if err != nil {
			return err
		}
		if payment == nil {
			logging.Logger.Warn("[WEBHOOK] payment failure for unknown payment",
				zap.String("payment_intent_id", pf.PaymentIntentID))
			return nil
		}
		if payment.Status.IsTerminal() {
			logging.Logger.Info("[WEBHOOK] payment already settled",
				zap.String("payment_id", payment.ID),
				zap.String("status", string(payment.Status)))
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": pf.Reason,
			"failed_at":      now,
		}
		if payment.StripePaymentIntentID == nil && pf.PaymentIntentID != "" {
			updates["stripe_payment_intent_id"] = pf.PaymentIntentID
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := recordAudit(tx, RequestMeta{}, auditEntry{
			Action:     models.AuditPaymentFailed,
			EntityType: "payment",
			EntityID:   payment.ID,
			Old:        map[string]interface{}{"status": payment.Status},
			New: map[string]interface{}{
				"status":            models.PaymentStatusFailed,
				"failure_reason":    pf.Reason,
				"payment_intent_id": pf.PaymentIntentID,
			},
		}); err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, "id = ?", payment.UserID).Error; err == nil {
			email = user.Email
			name = user.FirstName
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		failed = *payment
		failed.Status = models.PaymentStatusFailed
		failed.FailureReason = &pf.Reason
		failed.FailedAt = &now
		return nil
	})
	if err != nil || failed.ID == "" {
		return err
	}

	logging.Logger.Info("[WEBHOOK] payment failed",
		zap.String("payment_id", failed.ID),
		zap.String("reason", pf.Reason))
	monitoring.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusFailed), string(failed.Tier)).Inc()

	s.Notifier.Dispatch(ctx, models.TemplatePaymentFailed, email, map[string]interface{}{
		"name":   name,
		"tier":   string(failed.Tier),
		"reason": pf.Reason,
	})
	return nil
}

// findFailedPayment looks the payment up by intent id, then by the payment id
// we put in the intent metadata. Returns nil, nil when neither matches.
func findFailedPayment(tx *gorm.DB, pf *PaymentFailure) (*models.Payment, error) {
	locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})

	var payment models.Payment
	if pf.PaymentIntentID != "" {
		err := locked.Where("stripe_payment_intent_id = ?", pf.PaymentIntentID).First(&payment).Error
		if err == nil {
			return &payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	id := pf.Metadata[MetaPaymentID]
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ReplayEvent re-runs a stored event that did not settle. The outcome is
// reflected on the returned ledger row.
func (s *WebhookService) ReplayEvent(ctx context.Context, id string, meta RequestMeta) (*models.WebhookEvent, error) {
	db := s.DB.WithContext(ctx)

	var row models.WebhookEvent
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	if row.Status == models.WebhookEventProcessed || row.Status == models.WebhookEventIgnored {
		return nil, fmt.Errorf("%w: event already %s", ErrInvalidTransition, row.Status)
	}

	event, err := s.Provider.ParseEvent([]byte(row.Payload))
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.WebhookEvent{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"status":   models.WebhookEventReceived,
			"attempts": 0,
		}).Error; err != nil {
			return err
		}
		return recordAudit(tx, meta, auditEntry{
			Action:     models.AuditWebhookReplayed,
			EntityType: "webhook_event",
			EntityID:   row.ID,
			Old:        map[string]interface{}{"status": row.Status, "attempts": row.Attempts},
			New:        map[string]interface{}{"status": models.WebhookEventReceived},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.ProcessEvent(ctx, event); err != nil {
		logging.Logger.Warn("[WEBHOOK] replay failed", zap.String("event_id", row.ProviderEventID), zap.Error(err))
	}

	var replayed models.WebhookEvent
	if err := db.Where("id = ?", row.ID).Take(&replayed).Error; err != nil {
		return nil, err
	}
	return &replayed, nil
}

func (s *WebhookService) archive(event *ProviderEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.ArchiveTimeout)
	defer cancel()

	key := fmt.Sprintf("webhooks/stripe/%s/%s.json", time.Now().UTC().Format("2006/01/02"), event.ID)
	if err := s.Archiver.Archive(ctx, key, event.Payload); err != nil {
		logging.Logger.Warn("[WEBHOOK] payload archive failed", zap.String("event_id", event.ID), zap.Error(err))
	}
}
