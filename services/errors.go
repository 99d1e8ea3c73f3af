package services

import (
	"errors"
	"strings"

	"treasure-hunt-system/logging"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidTier           = errors.New("invalid tier")
	ErrFreeTierCheckout      = errors.New("free tier does not require a checkout session")
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrPromoterNotFound      = errors.New("promoter not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrDuplicatePurchase     = errors.New("tier already purchased")
	ErrForbidden             = errors.New("forbidden")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedEvent        = errors.New("malformed webhook event")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrAccountDisabled       = errors.New("account disabled")
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrBotVerificationFailed = errors.New("bot verification failed")
	ErrReferralCodeExhausted = errors.New("could not allocate a unique referral code")
	ErrWebhookEventNotFound  = errors.New("webhook event not found")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTier), errors.Is(err, ErrFreeTierCheckout),
		errors.Is(err, ErrInvalidReferralCode), errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrMalformedEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrBotVerificationFailed):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAccountDisabled):
		return fiber.StatusForbidden
	case errors.Is(err, ErrParticipantNotFound), errors.Is(err, ErrPromoterNotFound), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrWebhookEventNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrDuplicatePurchase), errors.Is(err, ErrEmailTaken), errors.Is(err, ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, ErrProviderUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError maps service errors onto the JSON error shape used by every handler.
// Internal errors are logged and never echoed to the client.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[lowerFirst(fe.Field())] = fe.Tag()
		}
		body = fiber.Map{"error": ErrValidation.Error(), "fields": fields}
	}

	switch {
	case status == fiber.StatusBadGateway:
		body["retryable"] = true
	case status >= fiber.StatusInternalServerError:
		logging.Logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		body = fiber.Map{"error": "internal server error"}
	}
	return c.Status(status).JSON(body)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
