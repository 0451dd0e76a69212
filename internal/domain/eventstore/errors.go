package eventstore

import (
	"errors"
	"fmt"

	"github.com/eaf/backend/internal/domain/shared"
)

// ErrorKind classifies a storage failure
type ErrorKind int

const (
	// KindUnexpected is anything that matches no other kind
	KindUnexpected ErrorKind = iota
	// KindTenantContextMissing means no tenant was bound when one was required
	KindTenantContextMissing
	// KindConcurrencyConflict means the expected aggregate version did not match
	KindConcurrencyConflict
	// KindDataIntegrity means a uniqueness or constraint violation
	KindDataIntegrity
	// KindDatabase means a driver or connectivity failure
	KindDatabase
	// KindSerialization means payload or metadata could not be (de)serialized
	KindSerialization
)

// String returns the name of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindTenantContextMissing:
		return "tenant_context_missing"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindDataIntegrity:
		return "data_integrity_violation"
	case KindDatabase:
		return "database_error"
	case KindSerialization:
		return "serialization_error"
	default:
		return "unexpected_error"
	}
}

// Classified is implemented by errors that carry their kind
type Classified interface {
	error
	ErrorKind() ErrorKind
}

// RepositoryError is a failure classified by the repository adapter at the
// point it happened.
type RepositoryError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewRepositoryError creates a classified repository error
func NewRepositoryError(kind ErrorKind, op string, err error) *RepositoryError {
	return &RepositoryError{Kind: kind, Op: op, Err: err}
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// ErrorKind implements Classified
func (e *RepositoryError) ErrorKind() ErrorKind {
	return e.Kind
}

// OptimisticLockingFailure reports an append whose expected version did not
// match the stored version of the aggregate. A nil version means the
// aggregate had no events.
type OptimisticLockingFailure struct {
	TenantID        string
	AggregateID     string
	ExpectedVersion *int64
	ActualVersion   *int64
}

func (e *OptimisticLockingFailure) Error() string {
	return fmt.Sprintf("optimistic locking failure for aggregate %s in tenant %s: expected version %s, actual version %s",
		e.AggregateID, e.TenantID, FormatVersion(e.ExpectedVersion), FormatVersion(e.ActualVersion))
}

// ErrorKind implements Classified
func (e *OptimisticLockingFailure) ErrorKind() ErrorKind {
	return KindConcurrencyConflict
}

// Is lets errors.Is match the shared concurrency conflict error
func (e *OptimisticLockingFailure) Is(target error) bool {
	return target == shared.ErrConcurrencyConflict
}

// AppendGroupError names the aggregate whose group failed a multi group append
type AppendGroupError struct {
	AggregateID string
	Err         error
}

func (e *AppendGroupError) Error() string {
	return fmt.Sprintf("aggregate %s: %v", e.AggregateID, e.Err)
}

// Unwrap returns the failure of the group
func (e *AppendGroupError) Unwrap() error {
	return e.Err
}

// FormatVersion renders a nullable version
func FormatVersion(v *int64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}

// KindOf returns the kind of the first classified error in the chain of err,
// or KindUnexpected when none is classified.
func KindOf(err error) (ErrorKind, bool) {
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorKind(), true
	}
	return KindUnexpected, false
}

// IsRetryable reports whether the caller may reload and retry the operation.
// Only concurrency conflicts are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	if ok {
		return kind == KindConcurrencyConflict
	}
	return errors.Is(err, shared.ErrConcurrencyConflict)
}
