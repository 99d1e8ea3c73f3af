// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"treasure-hunt-system/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const WebhookSecret = "whsec_test_secret"

// SetupTestDB returns a fresh in-memory database with the full schema.
// A single connection serializes concurrent tests the way row locks would.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func CreateUser(t *testing.T, db *gorm.DB, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Email:        strings.ToLower(email),
		PasswordHash: "x",
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return u
}

func CreateParticipant(t *testing.T, db *gorm.DB, email string, tier models.Tier, status models.ParticipantStatus) *models.Participant {
	t.Helper()
	u := CreateUser(t, db, email, models.RoleParticipant)
	p := &models.Participant{UserID: u.ID, Tier: tier, Status: status}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create participant: %v", err)
	}
	p.User = *u
	return p
}

// CreatePromoter creates an APPROVED promoter holding code.
func CreatePromoter(t *testing.T, db *gorm.DB, email, code string, rate decimal.Decimal) *models.Promoter {
	t.Helper()
	u := CreateUser(t, db, email, models.RolePromoter)
	p := &models.Promoter{
		UserID:         u.ID,
		CompanyName:    "Acme Events",
		Status:         models.PromoterStatusApproved,
		ReferralCode:   &code,
		CommissionRate: rate,
		TotalRevenue:   decimal.Zero,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create promoter: %v", err)
	}
	p.User = *u
	return p
}

func CreateReferral(t *testing.T, db *gorm.DB, promoter *models.Promoter, email string, tier models.Tier) *models.Referral {
	t.Helper()
	r := &models.Referral{
		PromoterID:       promoter.ID,
		ParticipantEmail: strings.ToLower(email),
		ReferralCode:     *promoter.ReferralCode,
		Tier:             tier,
		Commission:       promoter.CommissionFor(tier),
	}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("Failed to create referral: %v", err)
	}
	return r
}

func CreatePayment(t *testing.T, db *gorm.DB, p *models.Participant, sessionID string, tier models.Tier) *models.Payment {
	t.Helper()
	pay := &models.Payment{
		UserID:          p.UserID,
		ParticipantID:   p.ID,
		StripeSessionID: sessionID,
		Amount:          tier.Price(),
		Currency:        models.Currency,
		Tier:            tier,
		Status:          models.PaymentStatusPending,
	}
	if err := db.Create(pay).Error; err != nil {
		t.Fatalf("Failed to create payment: %v", err)
	}
	return pay
}

// SignStripePayload returns a Stripe-Signature header for payload.
func SignStripePayload(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func stripeEvent(id, eventType string, object map[string]interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	return b
}

func CheckoutCompletedEvent(eventID, sessionID, paymentIntentID, paymentStatus string, metadata map[string]string) []byte {
	return stripeEvent(eventID, "checkout.session.completed", map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"mode":           "payment",
		"status":         "complete",
		"payment_status": paymentStatus,
		"payment_intent": paymentIntentID,
		"metadata":       metadata,
	})
}

func PaymentFailedEvent(eventID, paymentIntentID, reason string, metadata map[string]string) []byte {
	return stripeEvent(eventID, "payment_intent.payment_failed", map[string]interface{}{
		"id":                 paymentIntentID,
		"object":             "payment_intent",
		"status":             "requires_payment_method",
		"last_payment_error": map[string]interface{}{"message": reason},
		"metadata":           metadata,
	})
}

func GenericEvent(eventID, eventType string) []byte {
	return stripeEvent(eventID, eventType, map[string]interface{}{"id": "obj_" + eventID})
}
