// services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PaymentService struct {
	DB       *gorm.DB
	Provider PaymentProvider
}

func NewPaymentService(db *gorm.DB, provider PaymentProvider) *PaymentService {
	return &PaymentService{DB: db, Provider: provider}
}

type CreateSessionRequest struct {
	Tier          models.Tier `json:"tier" validate:"required"`
	ParticipantID string      `json:"participantId" validate:"required,uuid"`
	SuccessURL    string      `json:"successUrl" validate:"required,url"`
	CancelURL     string      `json:"cancelUrl" validate:"required,url"`
}

type CreateSessionResponse struct {
	SessionID  string      `json:"sessionId"`
	SessionURL string      `json:"sessionUrl"`
	PaymentID  string      `json:"paymentId"`
	Amount     float64     `json:"amount"`
	Tier       models.Tier `json:"tier"`
}

// CreateCheckoutSession opens a hosted checkout for a paid tier and records
// the PENDING payment. Nothing is written when the provider call fails.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, userID string, meta RequestMeta, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if !req.Tier.Valid() {
		return nil, ErrInvalidTier
	}
	if !req.Tier.IsPaid() {
		return nil, ErrFreeTierCheckout
	}

	db := s.DB.WithContext(ctx)

	var participant models.Participant
	if err := db.Preload("User").First(&participant, "id = ?", req.ParticipantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	if participant.UserID != userID {
		return nil, ErrForbidden
	}

	var completed int64
	if err := db.Model(&models.Payment{}).
		Where("user_id = ? AND tier = ? AND status = ?", userID, req.Tier, models.PaymentStatusCompleted).
		Count(&completed).Error; err != nil {
		return nil, err
	}
	if completed > 0 {
		return nil, ErrDuplicatePurchase
	}

	var referral models.Referral
	referralCode := ""
	err := db.Where("participant_email = ? AND is_converted = ?", participant.User.Email, false).
		Order("created_at DESC").
		First(&referral).Error
	switch {
	case err == nil:
		referralCode = referral.ReferralCode
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	paymentID := uuid.NewString()
	session, err := s.Provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		PaymentID:     paymentID,
		ParticipantID: participant.ID,
		UserID:        userID,
		Tier:          string(req.Tier),
		ReferralCode:  referralCode,
		AmountCents:   req.Tier.PriceCents(),
		Currency:      models.Currency,
		CustomerEmail: participant.User.Email,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		logging.Logger.Error("[PAYMENT] checkout session create failed",
			zap.String("participant_id", participant.ID),
			zap.String("tier", string(req.Tier)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	payment := &models.Payment{
		ID:              paymentID,
		UserID:          userID,
		ParticipantID:   participant.ID,
		StripeSessionID: session.ID,
		Amount:          req.Tier.Price(),
		Currency:        models.Currency,
		Tier:            req.Tier,
		Status:          models.PaymentStatusPending,
	}
	if session.PaymentIntentID != "" {
		pi := session.PaymentIntentID
		payment.StripePaymentIntentID = &pi
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		return recordAudit(tx, meta, auditEntry{
			Action:     models.AuditPaymentCreated,
			EntityType: "payment",
			EntityID:   payment.ID,
			New: map[string]interface{}{
				"stripe_session_id": session.ID,
				"tier":              payment.Tier,
				"amount":            payment.Amount.StringFixed(2),
				"referral_code":     referralCode,
			},
		})
	})
	if err != nil {
		// The hosted session exists at the provider but is unknown to us; its
		// completion event will fail loudly and be dead-lettered.
		logging.Logger.Error("[PAYMENT] failed to record payment for created session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[PAYMENT] checkout session created",
		zap.String("payment_id", payment.ID),
		zap.String("session_id", session.ID),
		zap.String("tier", string(req.Tier)))

	return &CreateSessionResponse{
		SessionID:  session.ID,
		SessionURL: session.URL,
		PaymentID:  payment.ID,
		Amount:     payment.Amount.InexactFloat64(),
		Tier:       payment.Tier,
	}, nil
}

type SessionStatus struct {
	Payment     *models.Payment     `json:"payment"`
	Session     *CheckoutSession    `json:"session,omitempty"`
	Participant *models.Participant `json:"participant,omitempty"`
}

// SessionStatus reports what we know about a checkout. The provider view is
// best effort; the stored payment is authoritative.
func (s *PaymentService) SessionStatus(ctx context.Context, userID, sessionID string) (*SessionStatus, error) {
	db := s.DB.WithContext(ctx)

	var payment models.Payment
	if err := db.Where("stripe_session_id = ?", sessionID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.UserID != userID {
		return nil, ErrForbidden
	}

	out := &SessionStatus{Payment: &payment}

	if session, err := s.Provider.GetCheckoutSession(ctx, sessionID); err != nil {
		logging.Logger.Warn("[PAYMENT] provider session lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	} else {
		out.Session = session
	}

	var participant models.Participant
	if err := db.First(&participant, "id = ?", payment.ParticipantID).Error; err == nil {
		out.Participant = &participant
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return out, nil
}

func (s *PaymentService) PaymentsForUser(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

// --- HTTP handlers ---

func (s *PaymentService) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	userID := middleware.CurrentUserID(c)
	resp, err := s.CreateCheckoutSession(c.UserContext(), userID, requestMeta(c, userID), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (s *PaymentService) GetSessionStatus(c *fiber.Ctx) error {
	status, err := s.SessionStatus(c.UserContext(), middleware.CurrentUserID(c), c.Params("sessionId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

func (s *PaymentService) ListMyPayments(c *fiber.Ctx) error {
	payments, err := s.PaymentsForUser(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}
