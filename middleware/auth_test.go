package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"treasure-hunt-system/auth"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(tokens *auth.TokenManager) *fiber.App {
	app := fiber.New()
	secured := app.Group("/", UserContextMiddleware(tokens))
	secured.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(CurrentUserID(c) + ":" + CurrentUserRole(c))
	})
	secured.Get("/admin", RequireRole("ADMIN"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestUserContextMiddleware(t *testing.T) {
	tokens := auth.NewTokenManager("secret", time.Hour)
	app := newTestApp(tokens)
	participant, _ := tokens.Generate("u-1", "p@example.com", "PARTICIPANT")
	admin, _ := tokens.Generate("u-2", "a@example.com", "ADMIN")

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "/me", "", fiber.StatusUnauthorized, ""},
		{"bad scheme", "/me", "Basic abc", fiber.StatusUnauthorized, ""},
		{"bad token", "/me", "Bearer nope", fiber.StatusUnauthorized, ""},
		{"valid token", "/me", "Bearer " + participant, fiber.StatusOK, "u-1:PARTICIPANT"},
		{"lowercase scheme", "/me", "bearer " + participant, fiber.StatusOK, "u-1:PARTICIPANT"},
		{"role denied", "/admin", "Bearer " + participant, fiber.StatusForbidden, ""},
		{"role allowed", "/admin", "Bearer " + admin, fiber.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestServiceTokenMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", ServiceTokenMiddleware("svc-token"), func(c *fiber.Ctx) error {
		return c.SendString("metrics")
	})
	disabled := fiber.New()
	disabled.Get("/metrics", ServiceTokenMiddleware(""), func(c *fiber.Ctx) error {
		return c.SendString("metrics")
	})

	cases := []struct {
		app    *fiber.App
		header string
		want   int
	}{
		{app, "", fiber.StatusUnauthorized},
		{app, "Bearer wrong", fiber.StatusUnauthorized},
		{app, "Bearer svc-token", fiber.StatusOK},
		{app, "svc-token", fiber.StatusOK},
		{disabled, "Bearer svc-token", fiber.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/metrics", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := tc.app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Errorf("header %q: status = %d, want %d", tc.header, resp.StatusCode, tc.want)
		}
	}
}
