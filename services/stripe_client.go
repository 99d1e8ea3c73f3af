package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider implements PaymentProvider on Stripe Checkout.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeProvider(secretKey, webhookSecret string, tolerance, timeout time.Duration) *StripeProvider {
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})
	api := &client.API{}
	api.Init(secretKey, backends)

	return &StripeProvider{
		api:           api,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	metadata := req.Metadata()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PaymentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Treasure Hunt %s registration", req.Tier)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		// Copied onto the payment intent so payment_failed events carry it too
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create: %w", err)
	}
	return toCheckoutSession(s), nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session get: %w", err)
	}
	return toCheckoutSession(s), nil
}

func (p *StripeProvider) VerifyEvent(payload []byte, signatureHeader string) (*ProviderEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return toProviderEvent(&evt, payload)
}

func (p *StripeProvider) ParseEvent(payload []byte) (*ProviderEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return toProviderEvent(&evt, payload)
}

func toProviderEvent(evt *stripe.Event, payload []byte) (*ProviderEvent, error) {
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	out := &ProviderEvent{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Payload: payload,
	}

	switch out.Type {
	case EventCheckoutCompleted:
		if evt.Data == nil {
			return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, out.Type)
		}
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		cc := &CheckoutCompletion{
			SessionID:     s.ID,
			PaymentStatus: string(s.PaymentStatus),
			Metadata:      s.Metadata,
		}
		if s.PaymentIntent != nil {
			cc.PaymentIntentID = s.PaymentIntent.ID
		}
		out.Checkout = cc

	case EventPaymentFailed:
		if evt.Data == nil {
			return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, out.Type)
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrMalformedEvent, err)
		}
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		out.PaymentFailure = &PaymentFailure{
			PaymentIntentID: pi.ID,
			Reason:          reason,
			Metadata:        pi.Metadata,
		}
	}
	return out, nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}
