package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"treasure-hunt-system/auth"
	"treasure-hunt-system/logging"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthService struct {
	DB                    *gorm.DB
	Tokens                *auth.TokenManager
	Bot                   BotVerifier
	Notifier              Notifier
	BcryptCost            int
	DefaultCommissionRate decimal.Decimal
}

func NewAuthService(db *gorm.DB, tokens *auth.TokenManager, bot BotVerifier, notifier Notifier, bcryptCost int, defaultRate decimal.Decimal) *AuthService {
	return &AuthService{
		DB:                    db,
		Tokens:                tokens,
		Bot:                   bot,
		Notifier:              notifier,
		BcryptCost:            bcryptCost,
		DefaultCommissionRate: defaultRate,
	}
}

type RegisterParticipantRequest struct {
	Email        string      `json:"email" validate:"required,email,max=254"`
	Password     string      `json:"password" validate:"required,min=8,max=72"`
	FirstName    string      `json:"firstName" validate:"required,max=100"`
	LastName     string      `json:"lastName" validate:"max=100"`
	Phone        *string     `json:"phone" validate:"omitempty,e164"`
	Tier         models.Tier `json:"tier" validate:"required,oneof=FREE PREMIUM VIP"`
	ReferralCode string      `json:"referralCode" validate:"omitempty,max=32"`
	CaptchaToken string      `json:"captchaToken"`
}

type RegisterPromoterRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	FirstName    string `json:"firstName" validate:"required,max=100"`
	LastName     string `json:"lastName" validate:"max=100"`
	CompanyName  string `json:"companyName" validate:"max=200"`
	Website      string `json:"website" validate:"omitempty,url"`
	CaptchaToken string `json:"captchaToken"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	Token       string              `json:"token"`
	ExpiresIn   int64               `json:"expiresIn"`
	User        *models.User        `json:"user"`
	Participant *models.Participant `json:"participant,omitempty"`
	Promoter    *models.Promoter    `json:"promoter,omitempty"`
	Referral    *models.Referral    `json:"referral,omitempty"`
}

// RegisterParticipant creates the account, the participant and, when a valid
// code is given, an unconverted referral, all in one transaction. FREE
// entries are active immediately; paid tiers wait for their payment.
func (s *AuthService) RegisterParticipant(ctx context.Context, req RegisterParticipantRequest, meta RequestMeta) (*AuthResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.Bot.Verify(ctx, req.CaptchaToken, meta.IP); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	code := normalizeCode(req.ReferralCode)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result := &AuthResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEmailFree(tx, email); err != nil {
			return err
		}

		user := &models.User{
			Email:        email,
			PasswordHash: string(hash),
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Phone:        req.Phone,
			Role:         models.RoleParticipant,
			IsActive:     true,
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		participant := &models.Participant{
			UserID: user.ID,
			Tier:   req.Tier,
			Status: models.ParticipantStatusPending,
		}
		if !req.Tier.IsPaid() {
			now := time.Now().UTC()
			participant.Status = models.ParticipantStatusActive
			participant.ActivatedAt = &now
		}

		var referral *models.Referral
		if code != "" {
			var promoter models.Promoter
			err := tx.Where("referral_code = ? AND status = ?", code, models.PromoterStatusApproved).First(&promoter).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidReferralCode
			}
			if err != nil {
				return err
			}
			participant.ReferredBy = &promoter.ID
			referral = &models.Referral{
				PromoterID:       promoter.ID,
				ParticipantEmail: email,
				ReferralCode:     code,
				Tier:             req.Tier,
				Commission:       promoter.CommissionFor(req.Tier),
			}
		}

		if err := tx.Create(participant).Error; err != nil {
			return err
		}
		if referral != nil {
			if err := tx.Create(referral).Error; err != nil {
				return err
			}
		}

		if err := recordAudit(tx, RequestMeta{ActorUserID: user.ID, IP: meta.IP, UserAgent: meta.UserAgent}, auditEntry{
			Action:     models.AuditUserRegistered,
			EntityType: "participant",
			EntityID:   participant.ID,
			New: map[string]interface{}{
				"user_id":       user.ID,
				"tier":          participant.Tier,
				"status":        participant.Status,
				"referral_code": code,
			},
		}); err != nil {
			return err
		}

		result.User = user
		result.Participant = participant
		result.Referral = referral
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[AUTH] participant registered",
		zap.String("user_id", result.User.ID),
		zap.String("tier", string(req.Tier)),
		zap.Bool("referred", result.Referral != nil))

	s.Notifier.Dispatch(ctx, models.TemplateWelcome, email, map[string]interface{}{
		"name":    result.User.FirstName,
		"role":    "participant",
		"tier":    string(req.Tier),
		"pending": req.Tier.IsPaid(),
	})

	if err := s.issueToken(result); err != nil {
		return nil, err
	}
	return result, nil
}

// RegisterPromoter creates a promoter in PENDING; an admin approves it and a
// referral code is allocated then.
func (s *AuthService) RegisterPromoter(ctx context.Context, req RegisterPromoterRequest, meta RequestMeta) (*AuthResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.Bot.Verify(ctx, req.CaptchaToken, meta.IP); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result := &AuthResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEmailFree(tx, email); err != nil {
			return err
		}

		user := &models.User{
			Email:        email,
			PasswordHash: string(hash),
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Role:         models.RolePromoter,
			IsActive:     true,
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		promoter := &models.Promoter{
			UserID:         user.ID,
			CompanyName:    req.CompanyName,
			Website:        req.Website,
			Status:         models.PromoterStatusPending,
			CommissionRate: s.DefaultCommissionRate,
			TotalRevenue:   decimal.Zero,
		}
		if err := tx.Create(promoter).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, RequestMeta{ActorUserID: user.ID, IP: meta.IP, UserAgent: meta.UserAgent}, auditEntry{
			Action:     models.AuditPromoterRegistered,
			EntityType: "promoter",
			EntityID:   promoter.ID,
			New: map[string]interface{}{
				"user_id":      user.ID,
				"company_name": promoter.CompanyName,
				"status":       promoter.Status,
			},
		}); err != nil {
			return err
		}

		result.User = user
		result.Promoter = promoter
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[AUTH] promoter registered", zap.String("user_id", result.User.ID))

	s.Notifier.Dispatch(ctx, models.TemplateWelcome, email, map[string]interface{}{
		"name": result.User.FirstName,
		"role": "promoter",
	})

	if err := s.issueToken(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var user models.User
	err := s.DB.WithContext(ctx).Where("email = ?", normalizeEmail(req.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := time.Now().UTC()
	if err := s.DB.WithContext(ctx).Model(&user).UpdateColumn("last_login_at", now).Error; err != nil {
		logging.Logger.Warn("[AUTH] failed to stamp last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now

	result := &AuthResult{User: &user}
	if err := s.issueToken(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Profile returns the user with whichever role profile it has.
func (s *AuthService) Profile(ctx context.Context, userID string) (*AuthResult, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	result := &AuthResult{User: &user}
	switch user.Role {
	case models.RoleParticipant:
		var p models.Participant
		if err := s.DB.WithContext(ctx).Where("user_id = ?", user.ID).First(&p).Error; err == nil {
			result.Participant = &p
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	case models.RolePromoter:
		var p models.Promoter
		if err := s.DB.WithContext(ctx).Where("user_id = ?", user.ID).First(&p).Error; err == nil {
			result.Promoter = &p
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return result, nil
}

// EnsureAdmin creates the bootstrap admin account if it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    "Admin",
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := s.DB.WithContext(ctx).Create(admin).Error; err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logging.Logger.Info("[AUTH] bootstrap admin created", zap.String("email", email))
	return nil
}

func (s *AuthService) issueToken(result *AuthResult) error {
	token, err := s.Tokens.Generate(result.User.ID, result.User.Email, string(result.User.Role))
	if err != nil {
		return err
	}
	result.Token = token
	result.ExpiresIn = int64(s.Tokens.TTL().Seconds())
	return nil
}

func ensureEmailFree(tx *gorm.DB, email string) error {
	var count int64
	if err := tx.Unscoped().Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return nil
}

// --- HTTP handlers ---

func (s *AuthService) Register(c *fiber.Ctx) error {
	var req RegisterParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	result, err := s.RegisterParticipant(c.UserContext(), req, requestMeta(c, ""))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *AuthService) RegisterPromoterHandler(c *fiber.Ctx) error {
	var req RegisterPromoterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	result, err := s.RegisterPromoter(c.UserContext(), req, requestMeta(c, ""))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *AuthService) LoginHandler(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	result, err := s.Login(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (s *AuthService) Me(c *fiber.Ctx) error {
	result, err := s.Profile(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
