// handlers/routes.go
package handlers

import (
	"treasure-hunt-system/auth"
	"treasure-hunt-system/middleware"
	"treasure-hunt-system/models"
	"treasure-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles what the route setup functions need.
type Services struct {
	Tokens    *auth.TokenManager
	Auth      *services.AuthService
	Payments  *services.PaymentService
	Webhooks  *services.WebhookService
	Referrals *services.ReferralService
	Admin     *services.AdminService
}

func SetupRoutes(app *fiber.App, s Services) {
	SetupWebhookRoutes(app, s.Webhooks)
	SetupAuthRoutes(app, s.Tokens, s.Auth)
	SetupPaymentRoutes(app, s.Tokens, s.Payments)
	SetupReferralRoutes(app, s.Tokens, s.Referrals)
	SetupAdminRoutes(app, s.Tokens, s.Admin)
}

// Webhooks authenticate by signature, never by bearer token.
func SetupWebhookRoutes(app *fiber.App, webhooks *services.WebhookService) {
	app.Post("/webhooks/stripe", webhooks.HandleStripeWebhook)
}

func SetupAuthRoutes(app *fiber.App, tokens *auth.TokenManager, authService *services.AuthService) {
	g := app.Group("/api/auth")
	g.Post("/register", authService.Register)
	g.Post("/register/promoter", authService.RegisterPromoterHandler)
	g.Post("/login", authService.LoginHandler)
	g.Get("/me", middleware.UserContextMiddleware(tokens), authService.Me)
}

func SetupPaymentRoutes(app *fiber.App, tokens *auth.TokenManager, payments *services.PaymentService) {
	g := app.Group("/api/payments", middleware.UserContextMiddleware(tokens))
	g.Post("/create-session", middleware.RequireRole(string(models.RoleParticipant)), payments.CreateSession)
	g.Get("/session/:sessionId/status", payments.GetSessionStatus)
	g.Get("/me", payments.ListMyPayments)
}

func SetupReferralRoutes(app *fiber.App, tokens *auth.TokenManager, referrals *services.ReferralService) {
	app.Get("/api/referrals/validate/:code", referrals.ValidateCode)

	promoters := app.Group("/api/promoters",
		middleware.UserContextMiddleware(tokens),
		middleware.RequireRole(string(models.RolePromoter)))
	promoters.Get("/me", referrals.MyPromoterProfile)
	promoters.Get("/me/referrals", referrals.MyReferrals)
}

func SetupAdminRoutes(app *fiber.App, tokens *auth.TokenManager, admin *services.AdminService) {
	g := app.Group("/api/admin",
		middleware.UserContextMiddleware(tokens),
		middleware.RequireRole(string(models.RoleAdmin)))

	g.Get("/promoters", admin.ListPromoters)
	g.Post("/promoters/:id/approve", admin.ApprovePromoter)
	g.Post("/promoters/:id/reject", admin.RejectPromoter)
	g.Patch("/participants/:id/status", admin.UpdateParticipantStatus)
	g.Get("/payments", admin.ListPayments)
	g.Get("/audit-logs", admin.ListAuditLogs)
	g.Get("/stats", admin.GetStats)
	g.Get("/webhook-events", admin.ListWebhookEvents)
	g.Post("/webhook-events/:id/replay", admin.ReplayWebhookEvent)
}
