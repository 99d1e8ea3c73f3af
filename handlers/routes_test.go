package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"treasure-hunt-system/auth"
	"treasure-hunt-system/models"
	"treasure-hunt-system/services"
	"treasure-hunt-system/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	tokens *auth.TokenManager
}

func newTestEnv(t *testing.T, metricsToken string) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	provider := services.NewStripeProvider("sk_test_123", testutil.WebhookSecret, 5*time.Minute, time.Second)
	notifier := services.NewNotificationService(db, time.Second)
	bot := services.NewTurnstileVerifier("", true, time.Second)

	webhooks := services.NewWebhookService(db, provider, notifier, 3)
	app := fiber.New()
	SetupOpsRoutes(app, db, metricsToken)
	SetupRoutes(app, Services{
		Tokens:    tokens,
		Auth:      services.NewAuthService(db, tokens, bot, notifier, bcrypt.MinCost, decimal.RequireFromString("0.10")),
		Payments:  services.NewPaymentService(db, provider),
		Webhooks:  webhooks,
		Referrals: services.NewReferralService(db),
		Admin:     services.NewAdminService(db, notifier, webhooks),
	})
	return &testEnv{app: app, db: db, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestRouteGuards(t *testing.T) {
	env := newTestEnv(t, "")
	participant, _ := env.tokens.Generate("u-1", "p@example.com", string(models.RoleParticipant))
	promoter, _ := env.tokens.Generate("u-2", "pr@example.com", string(models.RolePromoter))
	admin, _ := env.tokens.Generate("u-3", "a@example.com", string(models.RoleAdmin))

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"me without token", "GET", "/api/auth/me", "", fiber.StatusUnauthorized},
		{"payments without token", "GET", "/api/payments/me", "", fiber.StatusUnauthorized},
		{"promoter checkout forbidden", "POST", "/api/payments/create-session", promoter, fiber.StatusForbidden},
		{"participant on promoter routes", "GET", "/api/promoters/me", participant, fiber.StatusForbidden},
		{"participant on admin routes", "GET", "/api/admin/stats", participant, fiber.StatusForbidden},
		{"promoter on admin routes", "GET", "/api/admin/payments", promoter, fiber.StatusForbidden},
		{"admin stats", "GET", "/api/admin/stats", admin, fiber.StatusOK},
		{"public code validation", "GET", "/api/referrals/validate/NOPE-123456", "", fiber.StatusOK},
		{"health", "GET", "/health", "", fiber.StatusOK},
		{"metrics disabled", "GET", "/metrics", admin, fiber.StatusNotFound},
		// signature check runs, not the JWT guard
		{"unsigned webhook", "POST", "/webhooks/stripe", "", fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.token, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestMetricsToken(t *testing.T) {
	env := newTestEnv(t, "scrape-token")

	if resp := env.do(t, "GET", "/metrics", "", nil); resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/metrics", "wrong", nil); resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/metrics", "scrape-token", nil); resp.StatusCode != fiber.StatusOK {
		t.Errorf("valid token: status = %d", resp.StatusCode)
	}
}

func TestRegisterLoginProfileFlow(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, "POST", "/api/auth/register", "", map[string]interface{}{
		"email":     "hunter@example.com",
		"password":  "correct-horse",
		"firstName": "Grace",
		"lastName":  "Hopper",
		"tier":      "FREE",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/auth/login", "", map[string]interface{}{
		"email":    "hunter@example.com",
		"password": "correct-horse",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var login services.AuthResult
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("login returned no token")
	}

	if resp := env.do(t, "GET", "/api/auth/me", login.Token, nil); resp.StatusCode != fiber.StatusOK {
		t.Errorf("me status = %d", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/api/payments/me", login.Token, nil); resp.StatusCode != fiber.StatusOK {
		t.Errorf("payments/me status = %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/auth/login", "", map[string]interface{}{
		"email":    "hunter@example.com",
		"password": "wrong-password",
	})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("bad login status = %d", resp.StatusCode)
	}
}
