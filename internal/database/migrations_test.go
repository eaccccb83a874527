package database

import (
	"path/filepath"
	"testing"

	"github.com/PetalPostLab/petalpost/backend/internal/proposals"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&proposals.Proposal{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestApplyMigrationsRecordsAppliedNames(t *testing.T) {
	db := newTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var count int64
	for _, name := range []string{migrationBackfillEmptyPaymentStatus, migrationNormalizePaymentStatusCase} {
		if err := db.Model(&migrationRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
			t.Fatalf("unexpected count error: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected migration %q to be recorded once, got %d", name, count)
		}
	}

	// Second run must be a no-op.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected re-run error: %v", err)
	}
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two migration records after re-run, got %d", count)
	}
}

func TestBackfillEmptyPaymentStatusSetsPending(t *testing.T) {
	db := newTestDB(t)

	rows := []proposals.Proposal{
		{
			UniqueID:      "legacy-empty",
			Persona:       proposals.PersonaLetter,
			SenderName:    "A",
			RecipientName: "B",
			Content:       "{}",
			Status:        proposals.ResponseStatusPending,
		},
		{
			UniqueID:      "already-paid",
			Persona:       proposals.PersonaLetter,
			SenderName:    "A",
			RecipientName: "B",
			Content:       "{}",
			Status:        proposals.ResponseStatusPending,
			PaymentStatus: "paid",
		},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed row: %v", err)
		}
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var backfilled proposals.Proposal
	if err := db.Where("unique_id = ?", "legacy-empty").Take(&backfilled).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if backfilled.PaymentStatus != "pending" {
		t.Fatalf("expected empty payment status backfilled to pending, got %q", backfilled.PaymentStatus)
	}

	var untouched proposals.Proposal
	if err := db.Where("unique_id = ?", "already-paid").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if untouched.PaymentStatus != "paid" {
		t.Fatalf("expected paid row to be left alone, got %q", untouched.PaymentStatus)
	}
}

func TestNormalizePaymentStatusCaseLowercasesLegacyRows(t *testing.T) {
	db := newTestDB(t)

	legacy := proposals.Proposal{
		UniqueID:      "legacy-1",
		Persona:       proposals.PersonaLetter,
		SenderName:    "A",
		RecipientName: "B",
		Content:       "{}",
		Status:        proposals.ResponseStatusPending,
		PaymentStatus: "PAID",
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var migrated proposals.Proposal
	if err := db.Where("unique_id = ?", "legacy-1").Take(&migrated).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if migrated.PaymentStatus != "paid" {
		t.Fatalf("expected lowercased payment status, got %q", migrated.PaymentStatus)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty database path")
	}
}
