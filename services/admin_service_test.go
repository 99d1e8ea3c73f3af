package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"treasure-hunt-system/models"
	"treasure-hunt-system/testutil"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func createPendingPromoter(t *testing.T, db *gorm.DB, email, company string) *models.Promoter {
	t.Helper()
	u := testutil.CreateUser(t, db, email, models.RolePromoter)
	p := &models.Promoter{
		UserID:         u.ID,
		CompanyName:    company,
		Status:         models.PromoterStatusPending,
		CommissionRate: decimal.RequireFromString("0.10"),
		TotalRevenue:   decimal.Zero,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create promoter: %v", err)
	}
	return p
}

func TestApprovePromoterAllocatesCode(t *testing.T) {
	db := testutil.SetupTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewAdminService(db, notifier, nil)
	admin := testutil.CreateUser(t, db, "admin@example.com", models.RoleAdmin)
	pending := createPendingPromoter(t, db, "acme@example.com", "Acme Events")

	promoter, err := svc.Approve(context.Background(), pending.ID, RequestMeta{ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if promoter.Status != models.PromoterStatusApproved || promoter.ReferralCode == nil {
		t.Fatalf("promoter = %+v", promoter)
	}
	if code := *promoter.ReferralCode; !strings.HasPrefix(code, "ACME-") || len(code) != len("ACME-")+6 {
		t.Errorf("referral code = %q", code)
	}

	var stored models.Promoter
	db.First(&stored, "id = ?", pending.ID)
	if stored.ApprovedBy == nil || *stored.ApprovedBy != admin.ID || stored.ApprovedAt == nil {
		t.Errorf("approval not stamped: %+v", stored)
	}
	if n := countAudit(t, db, models.AuditPromoterApproved); n != 1 {
		t.Errorf("PROMOTER_APPROVED audits = %d, want 1", n)
	}
	if got := notifier.sent(models.TemplatePromoterApproved); len(got) != 1 || got[0].data["referral_code"] != *promoter.ReferralCode {
		t.Errorf("approval notifications = %+v", got)
	}

	if _, err := svc.Approve(context.Background(), pending.ID, RequestMeta{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second approve: got %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Approve(context.Background(), "8a6e0804-2bd0-4672-b79d-d97027f9071a", RequestMeta{}); !errors.Is(err, ErrPromoterNotFound) {
		t.Errorf("unknown promoter: got %v", err)
	}
}

func TestRejectPromoter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewAdminService(db, notifier, nil)
	pending := createPendingPromoter(t, db, "nope@example.com", "")

	if _, err := svc.Reject(context.Background(), pending.ID, RejectPromoterRequest{}, RequestMeta{}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing reason: got %v", err)
	}

	promoter, err := svc.Reject(context.Background(), pending.ID, RejectPromoterRequest{Reason: "incomplete profile"}, RequestMeta{})
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if promoter.Status != models.PromoterStatusRejected || promoter.RejectionReason == nil {
		t.Errorf("promoter = %+v", promoter)
	}
	if got := notifier.sent(models.TemplatePromoterRejected); len(got) != 1 {
		t.Errorf("rejection notifications = %d, want 1", len(got))
	}
	if _, err := svc.Approve(context.Background(), pending.ID, RequestMeta{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approve rejected: got %v", err)
	}
}

func TestSetParticipantStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewAdminService(db, &recordingNotifier{}, nil)
	p := testutil.CreateParticipant(t, db, "p@example.com", models.TierPremium, models.ParticipantStatusPending)

	steps := []struct {
		to      models.ParticipantStatus
		wantErr error
	}{
		{models.ParticipantStatusActive, ErrInvalidTransition},
		{models.ParticipantStatusApproved, nil},
		{models.ParticipantStatusActive, nil},
		{models.ParticipantStatusSuspended, nil},
		{models.ParticipantStatusPending, ErrInvalidTransition},
		{models.ParticipantStatusActive, nil},
	}
	for _, s := range steps {
		_, err := svc.SetParticipantStatus(context.Background(), p.ID, ParticipantStatusRequest{Status: s.to}, RequestMeta{})
		if !errors.Is(err, s.wantErr) {
			t.Fatalf("-> %s: got %v, want %v", s.to, err, s.wantErr)
		}
	}

	var stored models.Participant
	db.First(&stored, "id = ?", p.ID)
	if stored.Status != models.ParticipantStatusActive || stored.ActivatedAt == nil {
		t.Errorf("participant = %s activated=%v", stored.Status, stored.ActivatedAt)
	}
	if n := countAudit(t, db, models.AuditParticipantStatus); n != 4 {
		t.Errorf("status audits = %d, want 4", n)
	}

	logs, err := svc.AuditLogs(context.Background(), AuditFilter{EntityType: "participant", EntityID: p.ID}, 50, 0)
	if err != nil || len(logs) != 4 {
		t.Errorf("AuditLogs = %d, %v; want 4", len(logs), err)
	}
}

func TestDashboardStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewAdminService(db, &recordingNotifier{}, nil)

	promoter := testutil.CreatePromoter(t, db, "promo@example.com", "ACME-ABC234", decimal.RequireFromString("0.25"))
	buyer := testutil.CreateParticipant(t, db, "buyer@example.com", models.TierPremium, models.ParticipantStatusActive)
	testutil.CreateParticipant(t, db, "waiting@example.com", models.TierVIP, models.ParticipantStatusPending)

	paid := testutil.CreatePayment(t, db, buyer, "cs_paid", models.TierPremium)
	db.Model(paid).Update("status", models.PaymentStatusCompleted)
	testutil.CreatePayment(t, db, buyer, "cs_open", models.TierVIP)

	ref := testutil.CreateReferral(t, db, promoter, "buyer@example.com", models.TierPremium)
	db.Model(ref).Update("is_converted", true)

	stats, err := svc.DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if stats.Users["PARTICIPANT"] != 2 || stats.Users["PROMOTER"] != 1 {
		t.Errorf("users = %v", stats.Users)
	}
	if stats.Payments["COMPLETED"] != 1 || stats.Payments["PENDING"] != 1 {
		t.Errorf("payments = %v", stats.Payments)
	}
	if !stats.Revenue.Equal(decimal.NewFromInt(99)) {
		t.Errorf("revenue = %s, want 99", stats.Revenue)
	}
	if stats.ReferralsTotal != 1 || stats.ReferralsConverted != 1 {
		t.Errorf("referrals = %d/%d", stats.ReferralsTotal, stats.ReferralsConverted)
	}
	if !stats.CommissionOwed.Equal(decimal.RequireFromString("24.75")) {
		t.Errorf("commission owed = %s, want 24.75", stats.CommissionOwed)
	}
}
