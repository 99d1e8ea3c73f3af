package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"treasure-hunt-system/auth"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"
	"treasure-hunt-system/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func sessionRequest(participantID string, tier models.Tier) CreateSessionRequest {
	return CreateSessionRequest{
		Tier:          tier,
		ParticipantID: participantID,
		SuccessURL:    "https://hunt.example.com/success",
		CancelURL:     "https://hunt.example.com/cancel",
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	db := testutil.SetupTestDB(t)
	provider := newFakeProvider()
	svc := NewPaymentService(db, provider)

	promoter := testutil.CreatePromoter(t, db, "promo@example.com", "ACME-ABC234", decimal.RequireFromString("0.25"))
	participant := testutil.CreateParticipant(t, db, "buyer@example.com", models.TierVIP, models.ParticipantStatusPending)
	testutil.CreateReferral(t, db, promoter, "buyer@example.com", models.TierVIP)

	resp, err := svc.CreateCheckoutSession(context.Background(), participant.UserID, RequestMeta{}, sessionRequest(participant.ID, models.TierVIP))
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if resp.Amount != 299 || resp.Tier != models.TierVIP || resp.SessionID == "" || resp.SessionURL == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(provider.requests))
	}
	md := provider.requests[0].Metadata()
	if md[MetaPaymentID] != resp.PaymentID || md[MetaParticipantID] != participant.ID ||
		md[MetaTier] != "VIP" || md[MetaReferralCode] != "ACME-ABC234" {
		t.Errorf("metadata = %v", md)
	}
	if provider.requests[0].AmountCents != 29900 {
		t.Errorf("amount cents = %d, want 29900", provider.requests[0].AmountCents)
	}

	var payment models.Payment
	if err := db.First(&payment, "id = ?", resp.PaymentID).Error; err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if payment.Status != models.PaymentStatusPending || payment.StripeSessionID != resp.SessionID {
		t.Errorf("payment = %+v", payment)
	}
	if !payment.Amount.Equal(decimal.NewFromInt(299)) {
		t.Errorf("amount = %s, want 299", payment.Amount)
	}
	if n := countAudit(t, db, models.AuditPaymentCreated); n != 1 {
		t.Errorf("PAYMENT_CREATED audits = %d, want 1", n)
	}
}

func TestCreateCheckoutSessionRejections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	provider := newFakeProvider()
	svc := NewPaymentService(db, provider)

	owner := testutil.CreateParticipant(t, db, "owner@example.com", models.TierPremium, models.ParticipantStatusPending)
	other := testutil.CreateParticipant(t, db, "other@example.com", models.TierPremium, models.ParticipantStatusPending)

	done := testutil.CreatePayment(t, db, other, "cs_done", models.TierPremium)
	db.Model(done).Update("status", models.PaymentStatusCompleted)

	tests := []struct {
		name   string
		userID string
		req    CreateSessionRequest
		want   error
	}{
		{"free tier", owner.UserID, sessionRequest(owner.ID, models.TierFree), ErrFreeTierCheckout},
		{"unknown tier", owner.UserID, sessionRequest(owner.ID, "GOLD"), ErrInvalidTier},
		{"missing participant", owner.UserID, sessionRequest("6f1c1c3e-5d0e-4c5e-9a59-0d8f1f1d2b7a", models.TierPremium), ErrParticipantNotFound},
		{"someone else's participant", owner.UserID, sessionRequest(other.ID, models.TierPremium), ErrForbidden},
		{"already purchased", other.UserID, sessionRequest(other.ID, models.TierPremium), ErrDuplicatePurchase},
		{"bad urls", owner.UserID, CreateSessionRequest{Tier: models.TierPremium, ParticipantID: owner.ID}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCheckoutSession(context.Background(), tt.userID, RequestMeta{}, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if len(provider.requests) != 0 {
		t.Errorf("provider called %d times for rejected requests", len(provider.requests))
	}
}

func newPaymentApp(t *testing.T, svc *PaymentService, tokens *auth.TokenManager) *fiber.App {
	t.Helper()
	app := fiber.New()
	g := app.Group("/api/payments", middleware.UserContextMiddleware(tokens))
	g.Post("/create-session", svc.CreateSession)
	g.Get("/session/:sessionId/status", svc.GetSessionStatus)
	g.Get("/me", svc.ListMyPayments)
	return app
}

func TestCreateSessionProviderFailureIsRetryable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	provider := newFakeProvider()
	provider.createErr = errors.New("stripe: connection reset")
	svc := NewPaymentService(db, provider)
	tokens := auth.NewTokenManager("secret", time.Hour)
	app := newPaymentApp(t, svc, tokens)

	participant := testutil.CreateParticipant(t, db, "retry@example.com", models.TierPremium, models.ParticipantStatusPending)
	token, _ := tokens.Generate(participant.UserID, "retry@example.com", string(models.RoleParticipant))

	body, _ := json.Marshal(sessionRequest(participant.ID, models.TierPremium))
	req := httptest.NewRequest("POST", "/api/payments/create-session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	if out["retryable"] != true {
		t.Errorf("body = %v, want retryable", out)
	}

	var payments int64
	db.Model(&models.Payment{}).Count(&payments)
	if payments != 0 {
		t.Errorf("payments = %d, want 0", payments)
	}
}

func TestSessionStatusIsOwnerOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	provider := newFakeProvider()
	svc := NewPaymentService(db, provider)

	participant := testutil.CreateParticipant(t, db, "owner@example.com", models.TierPremium, models.ParticipantStatusPending)
	stranger := testutil.CreateUser(t, db, "stranger@example.com", models.RoleParticipant)

	resp, err := svc.CreateCheckoutSession(context.Background(), participant.UserID, RequestMeta{}, sessionRequest(participant.ID, models.TierPremium))
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	status, err := svc.SessionStatus(context.Background(), participant.UserID, resp.SessionID)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if status.Payment.ID != resp.PaymentID || status.Session == nil || status.Participant == nil {
		t.Errorf("unexpected status: %+v", status)
	}

	// Provider lookups are best effort
	provider.getErr = errors.New("timeout")
	status, err = svc.SessionStatus(context.Background(), participant.UserID, resp.SessionID)
	if err != nil || status.Session != nil {
		t.Errorf("provider failure: got %+v, %v", status, err)
	}

	if _, err := svc.SessionStatus(context.Background(), stranger.ID, resp.SessionID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger: got %v, want ErrForbidden", err)
	}
	if _, err := svc.SessionStatus(context.Background(), participant.UserID, "cs_nope"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("unknown session: got %v, want ErrPaymentNotFound", err)
	}

	payments, err := svc.PaymentsForUser(context.Background(), participant.UserID)
	if err != nil || len(payments) != 1 {
		t.Errorf("PaymentsForUser = %d, %v; want 1", len(payments), err)
	}
}
