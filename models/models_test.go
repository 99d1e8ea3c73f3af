package models_test

import (
	"errors"
	"testing"

	"treasure-hunt-system/models"
	"treasure-hunt-system/testutil"

	"github.com/shopspring/decimal"
)

func TestTierPrices(t *testing.T) {
	tests := []struct {
		tier  models.Tier
		price int64
		cents int64
		paid  bool
	}{
		{models.TierFree, 0, 0, false},
		{models.TierPremium, 99, 9900, true},
		{models.TierVIP, 299, 29900, true},
		{"GOLD", 0, 0, false},
	}
	for _, tt := range tests {
		if !tt.tier.Price().Equal(decimal.NewFromInt(tt.price)) {
			t.Errorf("%s price = %s, want %d", tt.tier, tt.tier.Price(), tt.price)
		}
		if tt.tier.PriceCents() != tt.cents {
			t.Errorf("%s cents = %d, want %d", tt.tier, tt.tier.PriceCents(), tt.cents)
		}
		if tt.tier.IsPaid() != tt.paid {
			t.Errorf("%s IsPaid = %v, want %v", tt.tier, tt.tier.IsPaid(), tt.paid)
		}
	}
}

func TestCommissionFor(t *testing.T) {
	p := models.Promoter{CommissionRate: decimal.RequireFromString("0.125")}
	if got := p.CommissionFor(models.TierVIP); !got.Equal(decimal.RequireFromString("37.38")) {
		t.Errorf("VIP commission = %s, want 37.38", got)
	}
	if got := p.CommissionFor(models.TierFree); !got.IsZero() {
		t.Errorf("FREE commission = %s, want 0", got)
	}
}

func TestParticipantTransitions(t *testing.T) {
	allowed := map[[2]models.ParticipantStatus]bool{
		{models.ParticipantStatusPending, models.ParticipantStatusApproved}:   true,
		{models.ParticipantStatusPending, models.ParticipantStatusRejected}:   true,
		{models.ParticipantStatusApproved, models.ParticipantStatusActive}:    true,
		{models.ParticipantStatusApproved, models.ParticipantStatusSuspended}: true,
		{models.ParticipantStatusApproved, models.ParticipantStatusRejected}:  true,
		{models.ParticipantStatusActive, models.ParticipantStatusSuspended}:   true,
		{models.ParticipantStatusSuspended, models.ParticipantStatusActive}:   true,
	}
	all := []models.ParticipantStatus{
		models.ParticipantStatusPending,
		models.ParticipantStatusApproved,
		models.ParticipantStatusActive,
		models.ParticipantStatusRejected,
		models.ParticipantStatusSuspended,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]models.ParticipantStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPaymentAndWebhookStatus(t *testing.T) {
	if models.PaymentStatusPending.IsTerminal() {
		t.Error("PENDING must not be terminal")
	}
	if !models.PaymentStatusCompleted.IsTerminal() || !models.PaymentStatusFailed.IsTerminal() {
		t.Error("COMPLETED and FAILED must be terminal")
	}
	if models.WebhookEventFailed.IsSettled() || models.WebhookEventReceived.IsSettled() {
		t.Error("FAILED and RECEIVED events must be retried")
	}
	if !models.WebhookEventDeadLettered.IsSettled() {
		t.Error("DEAD_LETTERED must be settled")
	}
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)

	values, err := models.JSONValues(map[string]string{"status": "COMPLETED"})
	if err != nil {
		t.Fatalf("JSONValues: %v", err)
	}
	entry := models.AuditLog{
		Action:     models.AuditPaymentCompleted,
		EntityType: "payment",
		EntityID:   "p-1",
		NewValues:  values,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	entry.Action = "TAMPERED"
	if err := db.Save(&entry).Error; !errors.Is(err, models.ErrAuditLogImmutable) {
		t.Errorf("Save: got %v, want ErrAuditLogImmutable", err)
	}
	if err := db.Delete(&entry).Error; !errors.Is(err, models.ErrAuditLogImmutable) {
		t.Errorf("Delete: got %v, want ErrAuditLogImmutable", err)
	}

	var stored models.AuditLog
	db.First(&stored, "id = ?", entry.ID)
	if stored.Action != models.AuditPaymentCompleted {
		t.Errorf("action = %s, want unchanged", stored.Action)
	}
}

func TestJSONValues(t *testing.T) {
	if got, err := models.JSONValues(nil); got != nil || err != nil {
		t.Errorf("JSONValues(nil) = %s, %v, want nil, nil", got, err)
	}
	got, err := models.JSONValues(map[string]int{"n": 1})
	if err != nil || string(got) != `{"n":1}` {
		t.Errorf("JSONValues(map) = %s, %v", got, err)
	}
	if _, err := models.JSONValues(map[string]interface{}{"ch": make(chan int)}); err == nil {
		t.Error("unencodable value should return an error")
	}
}
