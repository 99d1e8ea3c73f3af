package services

import (
	"context"
	"errors"

	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ReferralService struct {
	DB *gorm.DB
}

func NewReferralService(db *gorm.DB) *ReferralService {
	return &ReferralService{DB: db}
}

type CodeValidation struct {
	Valid        bool   `json:"valid"`
	ReferralCode string `json:"referralCode"`
	PromoterName string `json:"promoterName,omitempty"`
}

// LookupCode reports whether code belongs to an approved promoter.
func (s *ReferralService) LookupCode(ctx context.Context, code string) (*CodeValidation, error) {
	code = normalizeCode(code)
	out := &CodeValidation{ReferralCode: code}
	if code == "" {
		return out, nil
	}

	var promoter models.Promoter
	err := s.DB.WithContext(ctx).Preload("User").
		Where("referral_code = ? AND status = ?", code, models.PromoterStatusApproved).
		First(&promoter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out.Valid = true
	out.PromoterName = promoter.CompanyName
	if out.PromoterName == "" {
		out.PromoterName = promoter.User.FullName()
	}
	return out, nil
}

func (s *ReferralService) promoterForUser(ctx context.Context, userID string) (*models.Promoter, error) {
	var promoter models.Promoter
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&promoter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromoterNotFound
		}
		return nil, err
	}
	return &promoter, nil
}

type ReferralSummary struct {
	Referrals []models.Referral `json:"referrals"`
	Total     int64             `json:"total"`
	Converted int64             `json:"converted"`
}

func (s *ReferralService) ReferralsForPromoter(ctx context.Context, userID string, limit, offset int) (*ReferralSummary, error) {
	promoter, err := s.promoterForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	out := &ReferralSummary{}
	if err := db.Model(&models.Referral{}).Where("promoter_id = ?", promoter.ID).Count(&out.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).
		Where("promoter_id = ? AND is_converted = ?", promoter.ID, true).
		Count(&out.Converted).Error; err != nil {
		return nil, err
	}
	if err := db.Where("promoter_id = ?", promoter.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out.Referrals).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --- HTTP handlers ---

func (s *ReferralService) ValidateCode(c *fiber.Ctx) error {
	result, err := s.LookupCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (s *ReferralService) MyPromoterProfile(c *fiber.Ctx) error {
	promoter, err := s.promoterForUser(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(promoter)
}

func (s *ReferralService) MyReferrals(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	summary, err := s.ReferralsForPromoter(c.UserContext(), middleware.CurrentUserID(c), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}
