package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"treasure-hunt-system/testutil"
)

// fakeProvider verifies webhooks with the real Stripe code but never calls the API.
type fakeProvider struct {
	*StripeProvider

	mu        sync.Mutex
	requests  []CheckoutSessionRequest
	createErr error
	getErr    error
	sessions  map[string]*CheckoutSession
	next      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		StripeProvider: NewStripeProvider("sk_test_fake", testutil.WebhookSecret, 5*time.Minute, time.Second),
		sessions:       map[string]*CheckoutSession{},
	}
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.next++
	s := &CheckoutSession{
		ID:            fmt.Sprintf("cs_test_%d", p.next),
		URL:           fmt.Sprintf("https://checkout.stripe.test/c/%d", p.next),
		Status:        "open",
		PaymentStatus: "unpaid",
		AmountTotal:   req.AmountCents,
		Currency:      req.Currency,
	}
	p.sessions[s.ID] = s
	return s, nil
}

func (p *fakeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	return s, nil
}

type notifyCall struct {
	template  string
	recipient string
	data      map[string]interface{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Dispatch(ctx context.Context, template, recipient string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{template, recipient, data})
}

func (n *recordingNotifier) sent(template string) []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyCall
	for _, c := range n.calls {
		if c.template == template {
			out = append(out, c)
		}
	}
	return out
}

type stubBot struct{ err error }

func (b stubBot) Verify(ctx context.Context, token, remoteIP string) error { return b.err }
