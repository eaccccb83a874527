// Package payments validates inbound payment notifications against the
// expected checkout parameters and decides the resulting payment state.
package payments

import (
	"errors"
	"strings"
)

var (
	// ErrMissingSecret indicates a reconciler built without a shared secret.
	ErrMissingSecret = errors.New("payments: verification secret is required")
	// ErrChallengeMismatch indicates a notification whose challenge value does
	// not match the configured secret (authorization failure).
	ErrChallengeMismatch = errors.New("payments: challenge mismatch")
	// ErrMissingProposalID indicates a notification that cannot be routed to a
	// proposal.
	ErrMissingProposalID = errors.New("payments: proposal id missing from payload")
	// ErrMissingReference indicates a notification without a payment reference.
	ErrMissingReference = errors.New("payments: payment reference missing from payload")
	// ErrAmountMismatch indicates an absent or insufficient payment amount.
	ErrAmountMismatch = errors.New("payments: amount below expected")
	// ErrCurrencyMismatch indicates an absent or unexpected currency.
	ErrCurrencyMismatch = errors.New("payments: currency mismatch")
	// ErrAPIReferenceMismatch indicates an absent or unexpected API reference.
	ErrAPIReferenceMismatch = errors.New("payments: api reference mismatch")
)

// Candidate payload paths, tried in order; a dot marks one level of nesting.
var (
	challengePaths  = []string{"verif_hash", "challenge", "secret_hash", "data.verif_hash"}
	proposalIDPaths = []string{"proposal_id", "metadata.proposal_id", "meta.proposal_id", "data.proposal_id"}
	referencePaths  = []string{"reference", "tx_ref", "transaction_id", "data.reference", "data.tx_ref", "id", "data.id"}
	amountPaths     = []string{"amount", "amount_paid", "charged_amount", "data.amount", "data.charged_amount"}
	currencyPaths   = []string{"currency", "data.currency"}
	apiRefPaths     = []string{"api_ref", "link_ref", "data.api_ref"}
	statusPaths     = []string{"status", "payment_status", "data.status"}
	providerPaths   = []string{"provider", "gateway", "data.provider"}
)

// Status values that all count as a confirmed payment across providers.
var paidSynonyms = map[string]struct{}{
	"paid":       {},
	"success":    {},
	"successful": {},
	"complete":   {},
	"completed":  {},
}

const (
	// StatusPaid is the normalized terminal payment status.
	StatusPaid = "paid"
	// StatusPending is stored when a notification carries no status at all.
	StatusPending = "pending"

	defaultAmountTolerance = 0.01
	unknownProvider        = "unknown"
)

// ExpectedParams are the checkout parameters a notification must match.
// Amount, Currency and APIReference are each optional; an unset parameter
// skips its check. AmountTolerance absorbs provider fee deductions and
// defaults to a small positive value when left zero.
type ExpectedParams struct {
	Secret          string
	Amount          float64
	Currency        string
	APIReference    string
	AmountTolerance float64
}

// Outcome is the accepted result of reconciling a notification.
type Outcome struct {
	ProposalID string
	Reference  string
	Provider   string
	Status     string
	Paid       bool
}

// Reconciler validates provider-agnostic payment notifications.
type Reconciler struct {
	params ExpectedParams
}

// NewReconciler constructs a Reconciler. The shared secret is mandatory.
func NewReconciler(params ExpectedParams) (*Reconciler, error) {
	if strings.TrimSpace(params.Secret) == "" {
		return nil, ErrMissingSecret
	}
	if params.AmountTolerance <= 0 {
		params.AmountTolerance = defaultAmountTolerance
	}
	return &Reconciler{params: params}, nil
}

// Reconcile checks every precondition in order and returns the resulting
// payment state. A failed precondition returns a sentinel error and no
// Outcome; the caller must not mutate any stored state on rejection.
func (r *Reconciler) Reconcile(payload map[string]any) (Outcome, error) {
	challenge, ok := lookupString(payload, challengePaths)
	if !ok || challenge != r.params.Secret {
		return Outcome{}, ErrChallengeMismatch
	}

	reference, ok := lookupString(payload, referencePaths)
	if !ok {
		return Outcome{}, ErrMissingReference
	}

	proposalID, ok := lookupString(payload, proposalIDPaths)
	if !ok {
		return Outcome{}, ErrMissingProposalID
	}

	if r.params.Amount > 0 {
		amount, ok := lookupAmount(payload, amountPaths)
		if !ok || amount < r.params.Amount-r.params.AmountTolerance {
			return Outcome{}, ErrAmountMismatch
		}
	}

	if r.params.Currency != "" {
		currency, ok := lookupString(payload, currencyPaths)
		if !ok || !strings.EqualFold(currency, r.params.Currency) {
			return Outcome{}, ErrCurrencyMismatch
		}
	}

	if r.params.APIReference != "" {
		apiRef, ok := lookupString(payload, apiRefPaths)
		if !ok || apiRef != r.params.APIReference {
			return Outcome{}, ErrAPIReferenceMismatch
		}
	}

	provider, ok := lookupString(payload, providerPaths)
	if !ok {
		provider = unknownProvider
	}

	outcome := Outcome{
		ProposalID: proposalID,
		Reference:  reference,
		Provider:   provider,
	}

	rawStatus, _ := lookupString(payload, statusPaths)
	normalized := strings.ToLower(strings.TrimSpace(rawStatus))
	if _, paid := paidSynonyms[normalized]; paid {
		outcome.Status = StatusPaid
		outcome.Paid = true
		return outcome, nil
	}
	if normalized == "" {
		normalized = StatusPending
	}
	outcome.Status = normalized
	return outcome, nil
}
