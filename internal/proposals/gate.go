package proposals

import "time"

// LockReason explains why content is currently withheld.
type LockReason string

const (
	// LockReasonNone means content may be shown.
	LockReasonNone LockReason = "none"
	// LockReasonTime means the reveal time has not yet arrived.
	LockReasonTime LockReason = "time"
	// LockReasonPassphrase means a passphrase must be presented.
	LockReasonPassphrase LockReason = "passphrase"
)

// LockDecision is the reveal gate's verdict for a single view attempt.
type LockDecision struct {
	Locked   bool
	Reason   LockReason
	UnlockAt *time.Time
}

// EvaluateLock decides whether protected content may currently be shown.
//
// Gating is a premium feature: proposals without a confirmed payment are never
// locked. When gating is active, a reveal time strictly in the future wins over
// any passphrase requirement; a passphrase lock applies only once the reveal
// time has passed or was never set. Callers must perform the one-time
// mark-viewed mutation only on the unlocked outcome.
func EvaluateLock(revealAt *time.Time, passphraseHash string, premiumUnlocked bool, now time.Time) LockDecision {
	if !premiumUnlocked {
		return LockDecision{Locked: false, Reason: LockReasonNone}
	}
	if revealAt != nil && revealAt.After(now) {
		unlockAt := *revealAt
		return LockDecision{Locked: true, Reason: LockReasonTime, UnlockAt: &unlockAt}
	}
	if passphraseHash != "" {
		return LockDecision{Locked: true, Reason: LockReasonPassphrase}
	}
	return LockDecision{Locked: false, Reason: LockReasonNone}
}
