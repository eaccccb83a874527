package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/PetalPostLab/petalpost/backend/internal/payments"
	"github.com/PetalPostLab/petalpost/backend/internal/proposals"
	"github.com/PetalPostLab/petalpost/backend/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	webhookSecret   = "integration-secret"
	jsonContentType = "application/json"
)

type testEnv struct {
	server  *httptest.Server
	service *proposals.Service
}

func newTestEnv(t *testing.T, premiumForceEnabled bool) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "integration.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&proposals.Proposal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := proposals.NewService(proposals.ServiceConfig{
		Database:   db,
		IDProvider: proposals.NewShareIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build proposals service: %v", err)
	}

	reconciler, err := payments.NewReconciler(payments.ExpectedParams{Secret: webhookSecret})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Proposals:           service,
		Reconciler:          reconciler,
		BaseURL:             "http://localhost:8080",
		PremiumForceEnabled: premiumForceEnabled,
		Logger:              zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	return testEnv{server: testServer, service: service}
}

func (env testEnv) post(t *testing.T, path string, body map[string]any) (int, map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	response, err := http.Post(env.server.URL+path, jsonContentType, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	return response.StatusCode, decodeResponse(t, response.Body)
}

func (env testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	response, err := http.Get(env.server.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	return response.StatusCode, decodeResponse(t, response.Body)
}

func decodeResponse(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return decoded
}

func TestProposalLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	status, created := env.post(t, "/api/create", map[string]any{
		"persona":        "letter",
		"sender_name":    "A",
		"recipient_name": "B",
		"content":        map[string]any{"msg": "hi"},
	})
	if status != http.StatusOK {
		t.Fatalf("create failed with status %d: %v", status, created)
	}
	uniqueID, _ := created["unique_id"].(string)
	if uniqueID == "" {
		t.Fatalf("expected unique id in create response: %v", created)
	}

	status, view := env.get(t, "/v/"+uniqueID)
	if status != http.StatusOK {
		t.Fatalf("view failed with status %d", status)
	}
	if view["locked"] != false {
		t.Fatalf("expected unlocked proposal, got %v", view)
	}
	content, _ := view["content"].(map[string]any)
	if content["msg"] != "hi" {
		t.Fatalf("expected stored content back, got %v", view)
	}

	firstViewedAt := fetchViewedAt(t, env, uniqueID)
	if firstViewedAt == nil {
		t.Fatalf("expected first view to stamp viewed_at")
	}

	// A second view must not move the timestamp.
	time.Sleep(10 * time.Millisecond)
	if status, _ := env.get(t, "/v/"+uniqueID); status != http.StatusOK {
		t.Fatalf("second view failed with status %d", status)
	}
	secondViewedAt := fetchViewedAt(t, env, uniqueID)
	if secondViewedAt == nil || !secondViewedAt.Equal(*firstViewedAt) {
		t.Fatalf("expected viewed_at to be stamped exactly once, got %v then %v", firstViewedAt, secondViewedAt)
	}

	status, responded := env.post(t, "/api/respond/"+uniqueID, map[string]any{
		"status": "accepted",
		"note":   "of course!",
	})
	if status != http.StatusOK {
		t.Fatalf("respond failed with status %d: %v", status, responded)
	}

	status, summaries := env.post(t, "/api/my-proposals", map[string]any{"ids": []string{uniqueID}})
	if status != http.StatusOK {
		t.Fatalf("my-proposals failed with status %d", status)
	}
	list, _ := summaries["proposals"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one summary, got %v", summaries)
	}
	summary, _ := list[0].(map[string]any)
	if summary["status"] != "accepted" || summary["response_note"] != "of course!" {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestPassphraseProtectedLifecycle(t *testing.T) {
	env := newTestEnv(t, true)

	status, created := env.post(t, "/api/create", map[string]any{
		"persona":        "fortune",
		"sender_name":    "A",
		"recipient_name": "B",
		"content":        map[string]any{"msg": "hidden"},
		"passphrase":     "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("create failed with status %d: %v", status, created)
	}
	uniqueID, _ := created["unique_id"].(string)

	status, view := env.get(t, "/v/"+uniqueID)
	if status != http.StatusOK || view["locked"] != true || view["reason"] != "passphrase" {
		t.Fatalf("expected passphrase lock, got status %d body %v", status, view)
	}

	status, wrong := env.post(t, "/api/unlock/"+uniqueID, map[string]any{"passphrase": "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong passphrase, got %d: %v", status, wrong)
	}
	if viewedAt := fetchViewedAt(t, env, uniqueID); viewedAt != nil {
		t.Fatalf("failed unlock must leave stored state unchanged")
	}

	status, unlocked := env.post(t, "/api/unlock/"+uniqueID, map[string]any{"passphrase": "secret123"})
	if status != http.StatusOK {
		t.Fatalf("unlock failed with status %d: %v", status, unlocked)
	}
	content, _ := unlocked["content"].(map[string]any)
	if content["msg"] != "hidden" {
		t.Fatalf("expected content after unlock, got %v", unlocked)
	}
	if viewedAt := fetchViewedAt(t, env, uniqueID); viewedAt == nil {
		t.Fatalf("expected successful unlock to stamp viewed_at")
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)

	status, created := env.post(t, "/api/create", map[string]any{
		"persona":        "achievement",
		"sender_name":    "A",
		"recipient_name": "B",
		"content":        map[string]any{"msg": "congrats"},
	})
	if status != http.StatusOK {
		t.Fatalf("create failed with status %d: %v", status, created)
	}
	uniqueID, _ := created["unique_id"].(string)

	notification := map[string]any{
		"verif_hash":  webhookSecret,
		"reference":   "tx-900",
		"proposal_id": uniqueID,
		"status":      "successful",
		"provider":    "flutterwave",
	}

	if status, _ := env.post(t, "/api/webhooks/payment", notification); status != http.StatusOK {
		t.Fatalf("first delivery failed with status %d", status)
	}
	first := fetchProposal(t, env, uniqueID)
	if first.PaidAt == nil {
		t.Fatalf("expected first delivery to confirm payment, got %+v", first)
	}

	time.Sleep(10 * time.Millisecond)
	if status, _ := env.post(t, "/api/webhooks/payment", notification); status != http.StatusOK {
		t.Fatalf("second delivery failed with status %d", status)
	}
	second := fetchProposal(t, env, uniqueID)

	if second.PaymentStatus != "paid" || second.PaidAt == nil {
		t.Fatalf("expected confirmed payment, got %+v", second)
	}
	if !second.PaidAt.Equal(*first.PaidAt) || second.PaymentReference != first.PaymentReference {
		t.Fatalf("expected identical state after redelivery, got %+v then %+v", first, second)
	}

	status, poll := env.get(t, "/api/payment-status/"+uniqueID)
	if status != http.StatusOK || poll["payment_status"] != "paid" {
		t.Fatalf("unexpected payment status poll result: %d %v", status, poll)
	}
}

func fetchProposal(t *testing.T, env testEnv, uniqueID string) proposals.Proposal {
	t.Helper()
	id, err := proposals.NewProposalID(uniqueID)
	if err != nil {
		t.Fatalf("unexpected proposal id error: %v", err)
	}
	proposal, err := env.service.GetByUniqueID(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	return proposal
}

func fetchViewedAt(t *testing.T, env testEnv, uniqueID string) *time.Time {
	t.Helper()
	proposal := fetchProposal(t, env, uniqueID)
	return proposal.ViewedAt
}
