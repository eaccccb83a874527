package server

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/PetalPostLab/petalpost/backend/internal/payments"
	"github.com/PetalPostLab/petalpost/backend/internal/proposals"
	"github.com/PetalPostLab/petalpost/backend/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec-test"

type handlerOptions struct {
	uploader            *storage.Uploader
	premiumForceEnabled bool
	clock               func() time.Time
}

func newTestHandler(t *testing.T, opts handlerOptions) (http.Handler, *proposals.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&proposals.Proposal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := opts.clock
	if clock == nil {
		clock = time.Now
	}

	service, err := proposals.NewService(proposals.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: proposals.NewShareIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build proposals service: %v", err)
	}

	reconciler, err := payments.NewReconciler(payments.ExpectedParams{Secret: testWebhookSecret})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Proposals:           service,
		Reconciler:          reconciler,
		Uploader:            opts.uploader,
		Clock:               clock,
		BaseURL:             "http://localhost:8080",
		PremiumForceEnabled: opts.premiumForceEnabled,
		Logger:              zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return handler, service
}
