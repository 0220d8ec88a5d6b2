// Package apperr defines the error kinds the core surfaces at its
// boundary (spec §7). Only InsufficientFunds and InvalidTransition are
// expected-and-recovered by callers; everything else is reported to the
// client verbatim.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for wire-level reporting.
type Kind string

const (
	KindIntegrityViolation Kind = "integrity_violation"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInvalidTransition  Kind = "invalid_transition"
	KindRateLimited        Kind = "rate_limited"
	KindQuarantined        Kind = "quarantined"
	KindKycRequired        Kind = "kyc_required"
	KindCollusionSuspected Kind = "collusion_suspected"
	KindLowTrust           Kind = "low_trust"
	KindTimeout            Kind = "timeout"
	KindShadowMismatch     Kind = "shadow_mismatch"
)

// Error is a typed, classified application error.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is a retry hint in seconds, set through WithRetryAfter.
	RetryAfterSeconds int
	err               error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a classified error with no retry hint.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind/message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// WithRetryAfter sets the retry hint (seconds) on a copy of the error.
func (e *Error) WithRetryAfter(seconds int) *Error {
	cp := *e
	cp.RetryAfterSeconds = seconds
	return &cp
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

var (
	// ErrAccountFrozen is returned by the ledger once an account has
	// been frozen after an integrity violation; no further mutation is
	// accepted for that account.
	ErrAccountFrozen = New(KindIntegrityViolation, "account frozen after integrity violation")
)
