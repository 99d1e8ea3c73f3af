// services/admin_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AdminService struct {
	DB       *gorm.DB
	Notifier Notifier
	Webhooks *WebhookService
}

func NewAdminService(db *gorm.DB, notifier Notifier, webhooks *WebhookService) *AdminService {
	return &AdminService{DB: db, Notifier: notifier, Webhooks: webhooks}
}

type RejectPromoterRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ParticipantStatusRequest struct {
	Status models.ParticipantStatus `json:"status" validate:"required,oneof=PENDING APPROVED ACTIVE REJECTED SUSPENDED"`
	Reason string                   `json:"reason" validate:"max=500"`
}

// --- Promoters ---

func (s *AdminService) Promoters(ctx context.Context, status string, limit, offset int) ([]models.Promoter, error) {
	q := s.DB.WithContext(ctx).Preload("User").Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var promoters []models.Promoter
	return promoters, q.Find(&promoters).Error
}

// Approve moves a PENDING or SUSPENDED promoter to APPROVED, allocating a
// referral code on first approval.
func (s *AdminService) Approve(ctx context.Context, promoterID string, meta RequestMeta) (*models.Promoter, error) {
	var promoter models.Promoter

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("User").
			First(&promoter, "id = ?", promoterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPromoterNotFound
			}
			return err
		}
		if promoter.Status != models.PromoterStatusPending && promoter.Status != models.PromoterStatusSuspended {
			return fmt.Errorf("%w: promoter is %s", ErrInvalidTransition, promoter.Status)
		}

		old := map[string]interface{}{"status": promoter.Status, "referral_code": promoter.ReferralCode}

		if promoter.ReferralCode == nil {
			name := promoter.CompanyName
			if name == "" {
				name = promoter.User.FullName()
			}
			code, err := AllocateReferralCode(tx, name)
			if err != nil {
				return err
			}
			promoter.ReferralCode = &code
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":           models.PromoterStatusApproved,
			"referral_code":    *promoter.ReferralCode,
			"approved_at":      now,
			"rejection_reason": nil,
		}
		if meta.ActorUserID != "" {
			updates["approved_by"] = meta.ActorUserID
			promoter.ApprovedBy = &meta.ActorUserID
		}
		if err := tx.Model(&models.Promoter{}).Where("id = ?", promoter.ID).Updates(updates).Error; err != nil {
			return err
		}
		promoter.Status = models.PromoterStatusApproved
		promoter.ApprovedAt = &now
		promoter.RejectionReason = nil

		return recordAudit(tx, meta, auditEntry{
			Action:     models.AuditPromoterApproved,
			EntityType: "promoter",
			EntityID:   promoter.ID,
			Old:        old,
			New:        map[string]interface{}{"status": promoter.Status, "referral_code": *promoter.ReferralCode},
		})
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[ADMIN] promoter approved",
		zap.String("promoter_id", promoter.ID),
		zap.String("referral_code", *promoter.ReferralCode),
		zap.String("actor", meta.ActorUserID))

	s.Notifier.Dispatch(ctx, models.TemplatePromoterApproved, promoter.User.Email, map[string]interface{}{
		"name":          promoter.User.FirstName,
		"referral_code": *promoter.ReferralCode,
	})
	return &promoter, nil
}

func (s *AdminService) Reject(ctx context.Context, promoterID string, req RejectPromoterRequest, meta RequestMeta) (*models.Promoter, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var promoter models.Promoter
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("User").
			First(&promoter, "id = ?", promoterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPromoterNotFound
			}
			return err
		}
		if promoter.Status != models.PromoterStatusPending {
			return fmt.Errorf("%w: promoter is %s", ErrInvalidTransition, promoter.Status)
		}

		if err := tx.Model(&models.Promoter{}).Where("id = ?", promoter.ID).Updates(map[string]interface{}{
			"status":           models.PromoterStatusRejected,
			"rejection_reason": req.Reason,
		}).Error; err != nil {
			return err
		}

		old := promoter.Status
		promoter.Status = models.PromoterStatusRejected
		promoter.RejectionReason = &req.Reason

		return recordAudit(tx, meta, auditEntry{
			Action:     models.AuditPromoterRejected,
			EntityType: "promoter",
			EntityID:   promoter.ID,
			Old:        map[string]interface{}{"status": old},
			New:        map[string]interface{}{"status": promoter.Status, "reason": req.Reason},
		})
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[ADMIN] promoter rejected", zap.String("promoter_id", promoter.ID), zap.String("actor", meta.ActorUserID))

	s.Notifier.Dispatch(ctx, models.TemplatePromoterRejected, promoter.User.Email, map[string]interface{}{
		"name":   promoter.User.FirstName,
		"reason": req.Reason,
	})
	return &promoter, nil
}

// --- Participants ---

func (s *AdminService) SetParticipantStatus(ctx context.Context, participantID string, req ParticipantStatusRequest, meta RequestMeta) (*models.Participant, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var participant models.Participant
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&participant, "id = ?", participantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParticipantNotFound
			}
			return err
		}
		if !participant.Status.CanTransitionTo(req.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, participant.Status, req.Status)
		}

		updates := map[string]interface{}{"status": req.Status}
		if req.Status == models.ParticipantStatusActive && participant.ActivatedAt == nil {
			now := time.Now().UTC()
			updates["activated_at"] = now
			participant.ActivatedAt = &now
		}
		if err := tx.Model(&models.Participant{}).Where("id = ?", participant.ID).Updates(updates).Error; err != nil {
			return err
		}

		old := participant.Status
		participant.Status = req.Status

		return recordAudit(tx, meta, auditEntry{
			Action:     models.AuditParticipantStatus,
			EntityType: "participant",
			EntityID:   participant.ID,
			Old:        map[string]interface{}{"status": old},
			New:        map[string]interface{}{"status": req.Status, "reason": req.Reason},
		})
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[ADMIN] participant status changed",
		zap.String("participant_id", participant.ID),
		zap.String("status", string(participant.Status)),
		zap.String("actor", meta.ActorUserID))
	return &participant, nil
}

// --- Reporting ---

func (s *AdminService) Payments(ctx context.Context, status string, limit, offset int) ([]models.Payment, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var payments []models.Payment
	return payments, q.Find(&payments).Error
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     string
}

func (s *AdminService) AuditLogs(ctx context.Context, f AuditFilter, limit, offset int) ([]models.AuditLog, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	var logs []models.AuditLog
	return logs, q.Find(&logs).Error
}

func (s *AdminService) WebhookEvents(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var events []models.WebhookEvent
	return events, q.Find(&events).Error
}

type DashboardStats struct {
	Users              map[string]int64 `json:"users"`
	Participants       map[string]int64 `json:"participants"`
	Promoters          map[string]int64 `json:"promoters"`
	Payments           map[string]int64 `json:"payments"`
	Revenue            decimal.Decimal  `json:"revenue"`
	ReferralsTotal     int64            `json:"referrals_total"`
	ReferralsConverted int64            `json:"referrals_converted"`
	CommissionOwed     decimal.Decimal  `json:"commission_owed"`
	DeadLetteredEvents int64            `json:"dead_lettered_events"`
}

type groupCount struct {
	Label string
	Total int64
}

func countBy(db *gorm.DB, model interface{}, column string) (map[string]int64, error) {
	var rows []groupCount
	if err := db.Model(model).
		Select(column + " AS label, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Total
	}
	return out, nil
}

func sumOf(db *gorm.DB, model interface{}, column, where string, args ...interface{}) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.Model(model).
		Select("COALESCE(SUM("+column+"), 0)").
		Where(where, args...).
		Row().
		Scan(&total)
	return total, err
}

func (s *AdminService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	db := s.DB.WithContext(ctx)
	out := &DashboardStats{}

	var err error
	if out.Users, err = countBy(db, &models.User{}, "role"); err != nil {
		return nil, err
	}
	if out.Participants, err = countBy(db, &models.Participant{}, "status"); err != nil {
		return nil, err
	}
	if out.Promoters, err = countBy(db, &models.Promoter{}, "status"); err != nil {
		return nil, err
	}
	if out.Payments, err = countBy(db, &models.Payment{}, "status"); err != nil {
		return nil, err
	}
	if out.Revenue, err = sumOf(db, &models.Payment{}, "amount", "status = ?", models.PaymentStatusCompleted); err != nil {
		return nil, err
	}
	if out.CommissionOwed, err = sumOf(db, &models.Referral{}, "commission", "is_converted = ?", true); err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).Count(&out.ReferralsTotal).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).Where("is_converted = ?", true).Count(&out.ReferralsConverted).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.WebhookEvent{}).
		Where("status = ?", models.WebhookEventDeadLettered).
		Count(&out.DeadLetteredEvents).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --- HTTP handlers ---

func (s *AdminService) ListPromoters(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	promoters, err := s.Promoters(c.UserContext(), c.Query("status"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"promoters": promoters})
}

func (s *AdminService) ApprovePromoter(c *fiber.Ctx) error {
	promoter, err := s.Approve(c.UserContext(), c.Params("id"), requestMeta(c, middleware.CurrentUserID(c)))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(promoter)
}

func (s *AdminService) RejectPromoter(c *fiber.Ctx) error {
	var req RejectPromoterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	promoter, err := s.Reject(c.UserContext(), c.Params("id"), req, requestMeta(c, middleware.CurrentUserID(c)))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(promoter)
}

func (s *AdminService) UpdateParticipantStatus(c *fiber.Ctx) error {
	var req ParticipantStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	participant, err := s.SetParticipantStatus(c.UserContext(), c.Params("id"), req, requestMeta(c, middleware.CurrentUserID(c)))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(participant)
}

func (s *AdminService) ListPayments(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	payments, err := s.Payments(c.UserContext(), c.Query("status"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (s *AdminService) ListAuditLogs(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	logs, err := s.AuditLogs(c.UserContext(), AuditFilter{
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Action:     c.Query("action"),
	}, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"audit_logs": logs})
}

func (s *AdminService) GetStats(c *fiber.Ctx) error {
	stats, err := s.DashboardStats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

func (s *AdminService) ListWebhookEvents(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	events, err := s.WebhookEvents(c.UserContext(), c.Query("status"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"webhook_events": events})
}

func (s *AdminService) ReplayWebhookEvent(c *fiber.Ctx) error {
	event, err := s.Webhooks.ReplayEvent(c.UserContext(), c.Params("id"), requestMeta(c, middleware.CurrentUserID(c)))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(event)
}
