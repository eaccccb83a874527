package proposals

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Persona enumerates the supported proposal themes.
type Persona string

const (
	// PersonaFortune renders the proposal as a fortune cookie reveal.
	PersonaFortune Persona = "fortune"
	// PersonaAchievement renders the proposal as an award certificate.
	PersonaAchievement Persona = "achievement"
	// PersonaLetter renders the proposal as a written letter.
	PersonaLetter Persona = "letter"
)

// ResponseStatus enumerates the recipient's decision states.
type ResponseStatus string

const (
	// ResponseStatusPending is the initial state before the recipient decides.
	ResponseStatusPending ResponseStatus = "pending"
	// ResponseStatusAccepted records an accepted proposal.
	ResponseStatusAccepted ResponseStatus = "accepted"
	// ResponseStatusRejected records a rejected proposal.
	ResponseStatusRejected ResponseStatus = "rejected"
)

// PaymentStatusPaid is the terminal payment state that activates premium gating.
const PaymentStatusPaid = "paid"

const maxIdentifierLength = 190

var (
	// ErrInvalidPersona indicates an unknown persona value.
	ErrInvalidPersona = errors.New("proposals: invalid persona")
	// ErrInvalidResponseStatus indicates a decision outside accepted/rejected.
	ErrInvalidResponseStatus = errors.New("proposals: invalid response status")
	// ErrInvalidProposalID indicates that a public identifier is empty or exceeds storage bounds.
	ErrInvalidProposalID = errors.New("proposals: invalid proposal id")
)

// ParsePersona validates raw input against the supported personas.
func ParsePersona(rawInput string) (Persona, error) {
	switch Persona(strings.ToLower(strings.TrimSpace(rawInput))) {
	case PersonaFortune:
		return PersonaFortune, nil
	case PersonaAchievement:
		return PersonaAchievement, nil
	case PersonaLetter:
		return PersonaLetter, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPersona, rawInput)
	}
}

// ParseResponseStatus validates a recipient decision. Pending is not a valid
// submission value; it exists only as the initial stored state.
func ParseResponseStatus(rawInput string) (ResponseStatus, error) {
	switch ResponseStatus(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ResponseStatusAccepted:
		return ResponseStatusAccepted, nil
	case ResponseStatusRejected:
		return ResponseStatusRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResponseStatus, rawInput)
	}
}

// ProposalID represents a validated public proposal identifier.
type ProposalID string

// NewProposalID validates raw input and returns a ProposalID.
func NewProposalID(rawInput string) (ProposalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidProposalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidProposalID, maxIdentifierLength)
	}
	return ProposalID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ProposalID) String() string {
	return string(id)
}

// Proposal models the persisted proposal row.
type Proposal struct {
	ID               uint           `gorm:"column:id;primaryKey;autoIncrement"`
	UniqueID         string         `gorm:"column:unique_id;uniqueIndex:idx_proposals_unique_id;size:190;not null"`
	Persona          Persona        `gorm:"column:persona;size:32;not null"`
	SenderName       string         `gorm:"column:sender_name;not null"`
	RecipientName    string         `gorm:"column:recipient_name;not null"`
	Content          string         `gorm:"column:content;type:text;not null"`
	RevealAt         *time.Time     `gorm:"column:reveal_at"`
	PassphraseHash   string         `gorm:"column:passphrase_hash;default:''"`
	PassphraseSalt   string         `gorm:"column:passphrase_salt;default:''"`
	PaymentStatus    string         `gorm:"column:payment_status;size:64;default:''"`
	PaidAt           *time.Time     `gorm:"column:paid_at"`
	PaymentReference string         `gorm:"column:payment_reference;size:190;default:''"`
	PaymentProvider  string         `gorm:"column:payment_provider;size:64;default:''"`
	Status           ResponseStatus `gorm:"column:status;size:32;not null;default:'pending'"`
	ResponseNote     string         `gorm:"column:response_note;type:text;default:''"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null"`
	ViewedAt         *time.Time     `gorm:"column:viewed_at"`
}

// TableName provides the explicit table binding for GORM.
func (Proposal) TableName() string {
	return "proposals"
}

// PremiumUnlocked reports whether premium gating is active for this proposal.
// Gating applies only once payment is confirmed, unless forced on by
// configuration (non-production override).
func (p Proposal) PremiumUnlocked(forced bool) bool {
	return forced || p.PaymentStatus == PaymentStatusPaid
}
