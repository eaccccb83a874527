package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PetalPostLab/petalpost/backend/internal/payments"
	"github.com/PetalPostLab/petalpost/backend/internal/proposals"
	"github.com/PetalPostLab/petalpost/backend/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingProposalsService = errors.New("proposals service dependency required")
	errMissingReconciler       = errors.New("payment reconciler dependency required")
)

// Dependencies carries everything the HTTP surface needs. Uploader is
// optional; upload routes report uploads as unavailable when it is nil.
type Dependencies struct {
	Proposals           *proposals.Service
	Reconciler          *payments.Reconciler
	Uploader            *storage.Uploader
	SessionIDs          proposals.IDProvider
	Clock               func() time.Time
	BaseURL             string
	PremiumForceEnabled bool
	Logger              *zap.Logger
}

// NewHTTPHandler wires the route table from validated dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Proposals == nil {
		return nil, errMissingProposalsService
	}
	if deps.Reconciler == nil {
		return nil, errMissingReconciler
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sessionIDs := deps.SessionIDs
	if sessionIDs == nil {
		sessionIDs = proposals.NewUUIDProvider()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		proposals:     deps.Proposals,
		reconciler:    deps.Reconciler,
		uploader:      deps.Uploader,
		sessionIDs:    sessionIDs,
		clock:         clock,
		baseURL:       strings.TrimRight(deps.BaseURL, "/"),
		premiumForced: deps.PremiumForceEnabled,
		logger:        logger,
	}

	router.GET("/v/:id", handler.handleView)
	router.GET("/success/:id", handler.handleSuccess)

	api := router.Group("/api")
	api.POST("/create", handler.handleCreate)
	api.POST("/respond/:id", handler.handleRespond)
	api.POST("/unlock/:id", handler.handleUnlock)
	api.POST("/my-proposals", handler.handleMyProposals)
	api.POST("/upload", handler.handleUpload)
	api.GET("/config", handler.handleConfig)
	api.POST("/webhooks/payment", handler.handlePaymentWebhook)
	api.GET("/payment-status/:id", handler.handlePaymentStatus)

	return router, nil
}

type httpHandler struct {
	proposals     *proposals.Service
	reconciler    *payments.Reconciler
	uploader      *storage.Uploader
	sessionIDs    proposals.IDProvider
	clock         func() time.Time
	baseURL       string
	premiumForced bool
	logger        *zap.Logger
}

type createRequestPayload struct {
	Persona       string          `json:"persona"`
	SenderName    string          `json:"sender_name"`
	RecipientName string          `json:"recipient_name"`
	Content       json.RawMessage `json:"content"`
	RevealAt      string          `json:"reveal_at"`
	Passphrase    string          `json:"passphrase"`
}

type createResponsePayload struct {
	Success   bool   `json:"success"`
	UniqueID  string `json:"unique_id"`
	ShareURL  string `json:"share_url"`
	StatusURL string `json:"status_url"`
}

// Reveal times arrive from a datetime-local input or an API client; all three
// layouts are accepted.
var revealTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseRevealTime(rawInput string) (*time.Time, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range revealTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, errors.New("unparseable reveal time")
}

// Content arrives as arbitrary JSON (object, array, or a bare string) and is
// stored in serialized form, so views can embed it back into a JSON response
// unchanged. Bare strings keep their quoting; unwrapping them would store
// bytes that are no longer valid JSON.
func contentToStored(raw json.RawMessage) (string, bool) {
	serialized := strings.TrimSpace(string(raw))
	if serialized == "" || serialized == "null" {
		return "", false
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && strings.TrimSpace(asString) == "" {
		return "", false
	}
	return serialized, true
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	var request createRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	persona, err := proposals.ParsePersona(request.Persona)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_persona"})
		return
	}

	content, hasContent := contentToStored(request.Content)
	if strings.TrimSpace(request.SenderName) == "" ||
		strings.TrimSpace(request.RecipientName) == "" ||
		!hasContent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_required_fields"})
		return
	}

	revealAt, err := parseRevealTime(request.RevealAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reveal_time"})
		return
	}

	proposal, err := h.proposals.Create(c.Request.Context(), proposals.CreateRequest{
		Persona:       persona,
		SenderName:    request.SenderName,
		RecipientName: request.RecipientName,
		Content:       content,
		RevealAt:      revealAt,
		Passphrase:    request.Passphrase,
	})
	if err != nil {
		h.logger.Error("failed to create proposal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusOK, createResponsePayload{
		Success:   true,
		UniqueID:  proposal.UniqueID,
		ShareURL:  h.baseURL + "/v/" + proposal.UniqueID,
		StatusURL: h.baseURL + "/success/" + proposal.UniqueID,
	})
}

type proposalViewPayload struct {
	UniqueID      string `json:"unique_id"`
	Persona       string `json:"persona"`
	SenderName    string `json:"sender_name"`
	RecipientName string `json:"recipient_name"`
	Status        string `json:"status"`
}

type viewResponsePayload struct {
	Locked   bool                `json:"locked"`
	Reason   string              `json:"reason,omitempty"`
	UnlockAt *time.Time          `json:"unlock_at,omitempty"`
	Proposal proposalViewPayload `json:"proposal"`
	Content  json.RawMessage     `json:"content,omitempty"`
}

func (h *httpHandler) handleView(c *gin.Context) {
	id, err := proposals.NewProposalID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}

	proposal, err := h.proposals.GetByUniqueID(c.Request.Context(), id)
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load proposal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	view := proposalViewPayload{
		UniqueID:      proposal.UniqueID,
		Persona:       string(proposal.Persona),
		SenderName:    proposal.SenderName,
		RecipientName: proposal.RecipientName,
		Status:        string(proposal.Status),
	}

	decision := proposals.EvaluateLock(
		proposal.RevealAt,
		proposal.PassphraseHash,
		proposal.PremiumUnlocked(h.premiumForced),
		h.clock(),
	)
	if decision.Locked {
		c.JSON(http.StatusOK, viewResponsePayload{
			Locked:   true,
			Reason:   string(decision.Reason),
			UnlockAt: decision.UnlockAt,
			Proposal: view,
		})
		return
	}

	if err := h.proposals.MarkViewed(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to mark proposal viewed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view_failed"})
		return
	}

	c.JSON(http.StatusOK, viewResponsePayload{
		Locked:   false,
		Reason:   string(proposals.LockReasonNone),
		Proposal: view,
		Content:  json.RawMessage(proposal.Content),
	})
}

type unlockRequestPayload struct {
	Passphrase string `json:"passphrase"`
}

func (h *httpHandler) handleUnlock(c *gin.Context) {
	id, err := proposals.NewProposalID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}

	proposal, err := h.proposals.GetByUniqueID(c.Request.Context(), id)
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load proposal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	decision := proposals.EvaluateLock(
		proposal.RevealAt,
		proposal.PassphraseHash,
		proposal.PremiumUnlocked(h.premiumForced),
		h.clock(),
	)

	switch {
	case decision.Locked && decision.Reason == proposals.LockReasonTime:
		c.JSON(http.StatusForbidden, gin.H{"error": "time_locked", "unlock_at": decision.UnlockAt})
		return
	case decision.Locked && decision.Reason == proposals.LockReasonPassphrase:
		var request unlockRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Passphrase) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "passphrase_required"})
			return
		}
		scheme := proposals.SchemeFor(proposal.PassphraseHash, proposal.PassphraseSalt)
		if !scheme.Verify(request.Passphrase) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect_passphrase"})
			return
		}
	}

	if err := h.proposals.MarkViewed(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to mark proposal viewed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"content": json.RawMessage(proposal.Content),
	})
}

type respondRequestPayload struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *httpHandler) handleRespond(c *gin.Context) {
	id, err := proposals.NewProposalID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}

	var request respondRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	status, err := proposals.ParseResponseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	err = h.proposals.Respond(c.Request.Context(), id, status, request.Note)
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to record response", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "respond_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": string(status)})
}

type myProposalsRequestPayload struct {
	IDs []string `json:"ids"`
}

type proposalSummaryPayload struct {
	UniqueID      string     `json:"unique_id"`
	Persona       string     `json:"persona"`
	RecipientName string     `json:"recipient_name"`
	Status        string     `json:"status"`
	ResponseNote  string     `json:"response_note,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
}

func (h *httpHandler) handleMyProposals(c *gin.Context) {
	var request myProposalsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_ids"})
		return
	}

	results, err := h.proposals.ListByUniqueIDs(c.Request.Context(), request.IDs)
	if err != nil {
		h.logger.Error("failed to list proposals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	summaries := make([]proposalSummaryPayload, 0, len(results))
	for _, proposal := range results {
		summaries = append(summaries, proposalSummaryPayload{
			UniqueID:      proposal.UniqueID,
			Persona:       string(proposal.Persona),
			RecipientName: proposal.RecipientName,
			Status:        string(proposal.Status),
			ResponseNote:  proposal.ResponseNote,
			PaymentStatus: proposal.PaymentStatus,
			CreatedAt:     proposal.CreatedAt,
			ViewedAt:      proposal.ViewedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"proposals": summaries})
}

func (h *httpHandler) handleSuccess(c *gin.Context) {
	id, err := proposals.NewProposalID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}

	proposal, err := h.proposals.GetByUniqueID(c.Request.Context(), id)
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load proposal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proposal": proposalSummaryPayload{
			UniqueID:      proposal.UniqueID,
			Persona:       string(proposal.Persona),
			RecipientName: proposal.RecipientName,
			Status:        string(proposal.Status),
			ResponseNote:  proposal.ResponseNote,
			PaymentStatus: proposal.PaymentStatus,
			CreatedAt:     proposal.CreatedAt,
			ViewedAt:      proposal.ViewedAt,
		},
		"share_url": h.baseURL + "/v/" + proposal.UniqueID,
	})
}

func (h *httpHandler) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"image_uploads": h.uploader != nil})
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	if h.uploader == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploads_not_configured"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_files_provided"})
		return
	}
	if len(files) > storage.MaxFilesPerUpload {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too_many_files"})
		return
	}

	// Uploads happen before the proposal exists, so media is grouped under a
	// fresh session identifier instead of a proposal id.
	sessionID, err := h.sessionIDs.NewID()
	if err != nil {
		h.logger.Error("failed to generate upload session id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	urls := make([]string, 0, len(files))
	for _, fileHeader := range files {
		if fileHeader.Size > storage.MaxFileBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
			return
		}

		data, err := readMultipartFile(fileHeader)
		if err != nil {
			h.logger.Error("failed to read uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
			return
		}

		url, err := h.uploader.Upload(
			c.Request.Context(),
			data,
			fileHeader.Filename,
			fileHeader.Header.Get("Content-Type"),
			sessionID,
		)
		if errors.Is(err, storage.ErrUnsupportedMediaType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_media_type"})
			return
		}
		if errors.Is(err, storage.ErrFileTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
			return
		}
		if err != nil {
			h.logger.Error("failed to upload file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
			return
		}
		urls = append(urls, url)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"urls":       urls,
	})
}

func (h *httpHandler) handlePaymentWebhook(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	outcome, err := h.reconciler.Reconcile(payload)
	if err != nil {
		h.logger.Warn("payment notification rejected", zap.Error(err))
		c.JSON(webhookRejectionStatus(err), gin.H{"error": webhookRejectionCode(err)})
		return
	}

	id, err := proposals.NewProposalID(outcome.ProposalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_proposal_id"})
		return
	}

	err = h.proposals.ApplyPayment(c.Request.Context(), id, proposals.PaymentUpdate{
		Status:    outcome.Status,
		Paid:      outcome.Paid,
		Reference: outcome.Reference,
		Provider:  outcome.Provider,
	})
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to apply payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment_status": outcome.Status})
}

func webhookRejectionStatus(err error) int {
	if errors.Is(err, payments.ErrChallengeMismatch) {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

func webhookRejectionCode(err error) string {
	switch {
	case errors.Is(err, payments.ErrChallengeMismatch):
		return "unauthorized"
	case errors.Is(err, payments.ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, payments.ErrMissingProposalID):
		return "missing_proposal_id"
	case errors.Is(err, payments.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, payments.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, payments.ErrAPIReferenceMismatch):
		return "api_reference_mismatch"
	default:
		return "invalid_payload"
	}
}

func (h *httpHandler) handlePaymentStatus(c *gin.Context) {
	id, err := proposals.NewProposalID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}

	proposal, err := h.proposals.GetByUniqueID(c.Request.Context(), id)
	if errors.Is(err, proposals.ErrProposalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load proposal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_status": proposal.PaymentStatus,
		"paid_at":        proposal.PaidAt,
	})
}
