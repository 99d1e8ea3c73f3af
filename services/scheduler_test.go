package services

import (
	"context"
	"testing"
	"time"

	"treasure-hunt-system/models"
	"treasure-hunt-system/testutil"
)

func TestMaintenancePrune(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := NewMaintenanceScheduler(db, 24*time.Hour)
	old := time.Now().UTC().Add(-48 * time.Hour)

	events := []models.WebhookEvent{
		{ProviderEventID: "evt_old_done", EventType: "x", Status: models.WebhookEventProcessed, Payload: "{}"},
		{ProviderEventID: "evt_old_dead", EventType: "x", Status: models.WebhookEventDeadLettered, Payload: "{}"},
		{ProviderEventID: "evt_new_done", EventType: "x", Status: models.WebhookEventProcessed, Payload: "{}"},
	}
	for i := range events {
		db.Create(&events[i])
	}
	db.Model(&models.WebhookEvent{}).Where("provider_event_id LIKE ?", "evt_old_%").UpdateColumn("created_at", old)

	notes := []models.NotificationLog{
		{Template: "welcome", Recipient: "a@example.com", Status: models.NotificationSent},
		{Template: "welcome", Recipient: "b@example.com", Status: models.NotificationPending},
	}
	for i := range notes {
		db.Create(&notes[i])
	}
	db.Model(&models.NotificationLog{}).Where("1 = 1").UpdateColumn("created_at", old)

	if n, err := m.PruneWebhookEvents(context.Background()); err != nil || n != 1 {
		t.Errorf("PruneWebhookEvents = %d, %v; want 1", n, err)
	}
	if n, err := m.PruneNotifications(context.Background()); err != nil || n != 1 {
		t.Errorf("PruneNotifications = %d, %v; want 1", n, err)
	}

	var remaining int64
	db.Model(&models.WebhookEvent{}).Count(&remaining)
	if remaining != 2 {
		t.Errorf("webhook events left = %d, want 2", remaining)
	}
}

func TestReportStalePaymentsDoesNotTransition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := NewMaintenanceScheduler(db, 24*time.Hour)

	p := testutil.CreateParticipant(t, db, "slow@example.com", models.TierPremium, models.ParticipantStatusPending)
	stale := testutil.CreatePayment(t, db, p, "cs_stale", models.TierPremium)
	testutil.CreatePayment(t, db, p, "cs_fresh", models.TierPremium)
	db.Model(&models.Payment{}).Where("id = ?", stale.ID).UpdateColumn("created_at", time.Now().UTC().Add(-48*time.Hour))

	n, err := m.ReportStalePayments(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ReportStalePayments = %d, %v; want 1", n, err)
	}

	var pending int64
	db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusPending).Count(&pending)
	if pending != 2 {
		t.Errorf("pending payments = %d, want 2", pending)
	}
}
