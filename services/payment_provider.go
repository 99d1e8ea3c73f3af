package services

import "context"

// Provider event kinds that drive payment transitions.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// Metadata keys embedded in the checkout session and echoed back in events.
const (
	MetaPaymentID     = "payment_id"
	MetaParticipantID = "participant_id"
	MetaUserID        = "user_id"
	MetaTier          = "tier"
	MetaReferralCode  = "referral_code"
)

type CheckoutSessionRequest struct {
	PaymentID     string
	ParticipantID string
	UserID        string
	Tier          string
	ReferralCode  string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

func (r CheckoutSessionRequest) Metadata() map[string]string {
	md := map[string]string{
		MetaPaymentID:     r.PaymentID,
		MetaParticipantID: r.ParticipantID,
		MetaUserID:        r.UserID,
		MetaTier:          r.Tier,
	}
	if r.ReferralCode != "" {
		md[MetaReferralCode] = r.ReferralCode
	}
	return md
}

// CheckoutSession is the provider-neutral view of a hosted checkout.
type CheckoutSession struct {
	ID              string `json:"id"`
	URL             string `json:"url,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	CustomerEmail   string `json:"customer_email,omitempty"`
}

type CheckoutCompletion struct {
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	Metadata        map[string]string
}

type PaymentFailure struct {
	PaymentIntentID string
	Reason          string
	Metadata        map[string]string
}

// ProviderEvent is a verified webhook event. Checkout or PaymentFailure is
// set according to Type; both are nil for kinds we do not act on.
type ProviderEvent struct {
	ID             string
	Type           string
	Payload        []byte
	Checkout       *CheckoutCompletion
	PaymentFailure *PaymentFailure
}

type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	// VerifyEvent checks the signature over the raw body before decoding it.
	VerifyEvent(payload []byte, signatureHeader string) (*ProviderEvent, error)
	// ParseEvent decodes a payload that was verified earlier (ledger replay).
	ParseEvent(payload []byte) (*ProviderEvent, error)
}
