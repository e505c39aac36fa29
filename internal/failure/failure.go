// Package failure defines the error taxonomy shared by the grounding and
// execution components. Resolution and classification failures are returned
// as values; transport and persistence failures travel as errors to the tool
// boundary.
package failure

import (
	"errors"
	"fmt"
)

// Kind names a class of failure.
type Kind string

const (
	ResolutionFailure   Kind = "resolution_failure"
	AmbiguousMatch      Kind = "ambiguous_match"
	PolicyBlocked       Kind = "policy_blocked"
	ContextMismatch     Kind = "context_mismatch"
	GateRequired        Kind = "gate_required"
	VerificationFailure Kind = "verification_failure"
	TransportFailure    Kind = "transport_failure"
	PersistenceFailure  Kind = "persistence_failure"
)

// NextStep is the actionable follow-up offered with every terminal condition.
type NextStep string

const (
	NextRetry        NextStep = "retry"
	NextDisambiguate NextStep = "disambiguate"
	NextManual       NextStep = "manual"
	NextGuided       NextStep = "guided"
	NextNone         NextStep = ""
)

// Recoverable reports whether the engine can continue the run after this kind.
func (k Kind) Recoverable() bool {
	switch k {
	case ResolutionFailure, AmbiguousMatch:
		return true
	}
	return false
}

// DefaultNext returns the next step normally paired with a kind.
func (k Kind) DefaultNext() NextStep {
	switch k {
	case ResolutionFailure:
		return NextGuided
	case AmbiguousMatch:
		return NextDisambiguate
	case PolicyBlocked, ContextMismatch, GateRequired, VerificationFailure:
		return NextManual
	case TransportFailure, PersistenceFailure:
		return NextRetry
	}
	return NextNone
}

// Error carries a failure kind, a user-facing message, and the suggested next step.
type Error struct {
	Kind     Kind
	Message  string
	NextStep NextStep
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the kind's default next step.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, NextStep: kind.DefaultNext()}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, NextStep: kind.DefaultNext(), Err: err}
}

// Transport wraps a planning-service or browser transport error.
func Transport(message string, err error) *Error {
	return Wrap(TransportFailure, message, err)
}

// Persistence wraps a storage error.
func Persistence(message string, err error) *Error {
	return Wrap(PersistenceFailure, message, err)
}

// KindOf extracts the failure kind from err, or "" when err is not a failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
