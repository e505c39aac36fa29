package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfThroughWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("planning: %w", Transport("planning service unreachable", cause))

	if got := KindOf(err); got != TransportFailure {
		t.Fatalf("KindOf = %q, want %q", got, TransportFailure)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to remain reachable through errors.Is")
	}
	if !Is(err, TransportFailure) {
		t.Fatal("expected Is to match transport failure")
	}
	if Is(nil, TransportFailure) {
		t.Fatal("nil error must not match any kind")
	}
}

func TestDefaultNextSteps(t *testing.T) {
	cases := map[Kind]NextStep{
		ResolutionFailure:   NextGuided,
		AmbiguousMatch:      NextDisambiguate,
		PolicyBlocked:       NextManual,
		ContextMismatch:     NextManual,
		GateRequired:        NextManual,
		VerificationFailure: NextManual,
		TransportFailure:    NextRetry,
		PersistenceFailure:  NextRetry,
	}
	for kind, want := range cases {
		if got := New(kind, "x").NextStep; got != want {
			t.Errorf("%s: next step = %q, want %q", kind, got, want)
		}
	}
}

func TestRecoverable(t *testing.T) {
	if !ResolutionFailure.Recoverable() || !AmbiguousMatch.Recoverable() {
		t.Fatal("resolution and ambiguity failures should be recoverable")
	}
	for _, k := range []Kind{PolicyBlocked, ContextMismatch, GateRequired, VerificationFailure, TransportFailure} {
		if k.Recoverable() {
			t.Errorf("%s should not be recoverable", k)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(GateRequired, "verification code requested")
	if err.Error() != "gate_required: verification code requested" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
