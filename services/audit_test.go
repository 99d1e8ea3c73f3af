package services

import (
	"testing"

	"treasure-hunt-system/models"
	"treasure-hunt-system/testutil"
)

func TestRecordAudit(t *testing.T) {
	db := testutil.SetupTestDB(t)

	err := recordAudit(db, RequestMeta{ActorUserID: "u-1", IP: "10.0.0.1"}, auditEntry{
		Action:     models.AuditPaymentCreated,
		EntityType: "payment",
		EntityID:   "p-1",
		New:        map[string]interface{}{"status": "PENDING"},
	})
	if err != nil {
		t.Fatalf("recordAudit: %v", err)
	}

	var row models.AuditLog
	if err := db.Where("entity_id = ?", "p-1").Take(&row).Error; err != nil {
		t.Fatalf("load audit: %v", err)
	}
	if string(row.NewValues) != `{"status":"PENDING"}` || (len(row.OldValues) != 0 && string(row.OldValues) != "null") {
		t.Errorf("values = %s / %s", row.OldValues, row.NewValues)
	}
	if row.ActorUserID == nil || *row.ActorUserID != "u-1" || row.IPAddress == nil || row.UserAgent != nil {
		t.Errorf("meta = %v %v %v", row.ActorUserID, row.IPAddress, row.UserAgent)
	}
}

func TestRecordAuditRejectsUnencodableValues(t *testing.T) {
	db := testutil.SetupTestDB(t)

	err := recordAudit(db, RequestMeta{}, auditEntry{
		Action:     models.AuditPaymentCreated,
		EntityType: "payment",
		EntityID:   "p-2",
		New:        map[string]interface{}{"bad": make(chan int)},
	})
	if err == nil {
		t.Fatal("recordAudit should fail when values cannot be encoded")
	}

	var n int64
	db.Model(&models.AuditLog{}).Count(&n)
	if n != 0 {
		t.Errorf("audit rows = %d, want 0", n)
	}
}
