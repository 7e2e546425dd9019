package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no valid principal accompanied the request.
	ErrUnauthenticated = errors.New("gateway: unauthenticated")
	// ErrForbidden means the principal lacks the required capability.
	ErrForbidden = errors.New("gateway: forbidden")
	// ErrAuditWrite means the audit record could not be persisted. The
	// surrounding transaction is rolled back, so the mutation is undone:
	// an unprovable change never becomes visible.
	ErrAuditWrite = errors.New("gateway: audit write failed")
	// ErrStoreUnavailable wraps infrastructure outages.
	ErrStoreUnavailable = errors.New("gateway: store unavailable")
)

// ValidationError reports a rejected input field with a reason safe to
// show inline in the UI.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway: validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AsValidation extracts a ValidationError when err carries one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// MutationError wraps a domain failure raised by the mutation itself. The
// cause is logged server-side; callers surface a generic message.
type MutationError struct {
	cause error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("gateway: mutation failed: %v", e.cause)
}

func (e *MutationError) Unwrap() error {
	return e.cause
}

// IsMutationFailure reports whether err came from the mutation stage.
func IsMutationFailure(err error) bool {
	var merr *MutationError
	return errors.As(err, &merr)
}
