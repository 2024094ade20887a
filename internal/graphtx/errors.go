package graphtx

import (
	"errors"
	"fmt"

	"github.com/typegraph/typegraph/internal/validate"
)

// Kind is the closed set of error kinds from spec.md §7. None of these are
// caught inside the engine; all propagate to the caller, which is
// expected to abort and retry.
type Kind string

const (
	KindGraphClosed      Kind = "GraphClosed"
	KindReadOnly         Kind = "ReadOnly"
	KindMetaImmutable    Kind = "MetaImmutable"
	KindTypeConflict     Kind = "TypeConflict"
	KindInvalidDatatype  Kind = "InvalidDatatype"
	KindImmutableValue   Kind = "ImmutableValue"
	KindDuplicateConcept Kind = "DuplicateConcept"
	KindValidation       Kind = "Validation"
	KindSubstrateFailure Kind = "SubstrateFailure"
)

// Error is the typed error graphtx operations return for the kinds above.
// Callers type-assert with errors.As and switch on Kind, the same way the
// teacher's storage package exposes storage.ErrDBNotInitialized as a typed
// sentinel rather than a bare string. Not every failure is an *Error: a
// type or role label that resolves to no type in AddEntity, AddRule,
// AddResource or AddRelation is a plain error, and Engine.Bootstrap
// returns substrate errors unwrapped.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("graphtx: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("graphtx: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: KindReadOnly}) match any *Error with
// that Kind, regardless of message/cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Failures extracts the structured invariant-failure list from a
// KindValidation error, or nil if err doesn't carry one.
func Failures(err error) []validate.Failure {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		return nil
	}
	var verr *validate.Error
	if errors.As(e.Cause, &verr) {
		return verr.Failures
	}
	return nil
}
