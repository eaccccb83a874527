package proposals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrProposalNotFound indicates that no proposal exists for the identifier.
	ErrProposalNotFound = errors.New("proposals: not found")
	// ErrMissingContent indicates an empty content payload at creation.
	ErrMissingContent = errors.New("proposals: content is required")
	// ErrMissingNames indicates a missing sender or recipient name at creation.
	ErrMissingNames = errors.New("proposals: sender and recipient names are required")
	noOpLogger      = zap.NewNop()
)

// ServiceError wraps store failures with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "proposals.service.new"
	opCreate       = "proposals.create"
	opGet          = "proposals.get"
	opList         = "proposals.list"
	opRespond      = "proposals.respond"
	opMarkViewed   = "proposals.mark_viewed"
	opApplyPayment = "proposals.apply_payment"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// MaxListIDs bounds the bulk status lookup used by the creator dashboard.
const MaxListIDs = 50

// ServiceConfig carries the dependencies for a proposal store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the persistence boundary for proposals. All operations are
// single-row, keyed by the public identifier.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest describes the input for a new proposal.
type CreateRequest struct {
	Persona       Persona
	SenderName    string
	RecipientName string
	Content       string
	RevealAt      *time.Time
	Passphrase    string
}

// Create persists a new proposal with a server-generated public identifier.
// A non-empty passphrase is salted-hashed before storage.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Proposal, error) {
	if _, err := ParsePersona(string(request.Persona)); err != nil {
		return Proposal{}, newServiceError(opCreate, "invalid_persona", err)
	}

	senderName := strings.TrimSpace(request.SenderName)
	recipientName := strings.TrimSpace(request.RecipientName)
	if senderName == "" || recipientName == "" {
		return Proposal{}, newServiceError(opCreate, "missing_names", ErrMissingNames)
	}
	if strings.TrimSpace(request.Content) == "" {
		return Proposal{}, newServiceError(opCreate, "missing_content", ErrMissingContent)
	}

	uniqueID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Proposal{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	proposal := Proposal{
		UniqueID:      uniqueID,
		Persona:       request.Persona,
		SenderName:    senderName,
		RecipientName: recipientName,
		Content:       request.Content,
		RevealAt:      request.RevealAt,
		Status:        ResponseStatusPending,
		CreatedAt:     s.clock().UTC(),
	}

	if strings.TrimSpace(request.Passphrase) != "" {
		hash, salt, err := HashPassphrase(request.Passphrase)
		if err != nil {
			s.logError(opCreate, "passphrase_hash_failed", err)
			return Proposal{}, newServiceError(opCreate, "passphrase_hash_failed", err)
		}
		proposal.PassphraseHash = hash
		proposal.PassphraseSalt = salt
	}

	if err := s.db.WithContext(ctx).Create(&proposal).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("unique_id", uniqueID))
		return Proposal{}, newServiceError(opCreate, "insert_failed", err)
	}

	return proposal, nil
}

// GetByUniqueID fetches a proposal by its public identifier.
func (s *Service) GetByUniqueID(ctx context.Context, id ProposalID) (Proposal, error) {
	var proposal Proposal
	err := s.db.WithContext(ctx).
		Where("unique_id = ?", id.String()).
		Take(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Proposal{}, newServiceError(opGet, "not_found", ErrProposalNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("unique_id", id.String()))
		return Proposal{}, newServiceError(opGet, "query_failed", err)
	}
	return proposal, nil
}

// ListByUniqueIDs fetches up to MaxListIDs proposals for the creator's
// dashboard view. Unknown identifiers are silently skipped.
func (s *Service) ListByUniqueIDs(ctx context.Context, ids []string) ([]Proposal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxListIDs {
		ids = ids[:MaxListIDs]
	}

	var results []Proposal
	if err := s.db.WithContext(ctx).
		Where("unique_id IN ?", ids).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return results, nil
}

// Respond records the recipient's decision and optional note. Resubmission
// overwrites the prior decision (last write wins).
func (s *Service) Respond(ctx context.Context, id ProposalID, status ResponseStatus, note string) error {
	if _, err := ParseResponseStatus(string(status)); err != nil {
		return newServiceError(opRespond, "invalid_status", err)
	}

	result := s.db.WithContext(ctx).
		Model(&Proposal{}).
		Where("unique_id = ?", id.String()).
		Updates(map[string]any{
			"status":        string(status),
			"response_note": note,
		})
	if result.Error != nil {
		s.logError(opRespond, "update_failed", result.Error, zap.String("unique_id", id.String()))
		return newServiceError(opRespond, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opRespond, "not_found", ErrProposalNotFound)
	}
	return nil
}

// MarkViewed stamps viewed_at exactly once. Subsequent calls are no-ops; the
// WHERE guard keeps the first timestamp.
func (s *Service) MarkViewed(ctx context.Context, id ProposalID) error {
	viewedAt := s.clock().UTC()
	err := s.db.WithContext(ctx).
		Model(&Proposal{}).
		Where("unique_id = ? AND viewed_at IS NULL", id.String()).
		Update("viewed_at", viewedAt).Error
	if err != nil {
		s.logError(opMarkViewed, "update_failed", err, zap.String("unique_id", id.String()))
		return newServiceError(opMarkViewed, "update_failed", err)
	}
	return nil
}

// PaymentUpdate carries the reconciled outcome of a payment notification.
type PaymentUpdate struct {
	Status    string
	Paid      bool
	Reference string
	Provider  string
}

// ApplyPayment writes the payment fields together; a non-paid status clears
// paid_at so the columns never disagree. Re-delivery of a confirmation for an
// already-paid proposal with the same reference is a no-op, which keeps
// webhook processing idempotent per reference.
func (s *Service) ApplyPayment(ctx context.Context, id ProposalID, update PaymentUpdate) error {
	existing, err := s.GetByUniqueID(ctx, id)
	if err != nil {
		return err
	}

	if existing.PaymentStatus == PaymentStatusPaid && existing.PaymentReference == update.Reference {
		return nil
	}

	fields := map[string]any{
		"payment_status":    update.Status,
		"payment_reference": update.Reference,
		"payment_provider":  update.Provider,
	}
	if update.Paid {
		fields["paid_at"] = s.clock().UTC()
	} else {
		fields["paid_at"] = nil
	}

	if err := s.db.WithContext(ctx).
		Model(&Proposal{}).
		Where("unique_id = ?", id.String()).
		Updates(fields).Error; err != nil {
		s.logError(opApplyPayment, "update_failed", err, zap.String("unique_id", id.String()))
		return newServiceError(opApplyPayment, "update_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("proposal store error", attrs...)
}
