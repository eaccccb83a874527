package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// Rows created before payment tracking shipped carry an empty
	// payment_status; status polling treats pending as the waiting state.
	migrationBackfillEmptyPaymentStatus = "2026-01-10_backfill_empty_payment_status"
	// Rows written before the reconciler normalized provider statuses may
	// carry mixed-case values; reveal gating compares the lower-case form.
	migrationNormalizePaymentStatusCase = "2026-01-12_normalize_payment_status_case"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEmptyPaymentStatus, apply: backfillEmptyPaymentStatus},
		{name: migrationNormalizePaymentStatusCase, apply: normalizePaymentStatusCase},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func backfillEmptyPaymentStatus(db *gorm.DB) error {
	return db.Exec("UPDATE proposals SET payment_status = 'pending' WHERE payment_status IS NULL OR payment_status = '';").Error
}

func normalizePaymentStatusCase(db *gorm.DB) error {
	return db.Exec("UPDATE proposals SET payment_status = lower(payment_status) WHERE payment_status IS NOT NULL AND payment_status <> lower(payment_status);").Error
}
