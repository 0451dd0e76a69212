package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"go.uber.org/zap"
)

// StoreError is the single error type returned by the storage engine.
// Its message names the operation and the tenant; the cause stays reachable
// through Unwrap.
type StoreError struct {
	Kind        domain.ErrorKind
	Operation   string
	TenantID    string
	AggregateID string
	message     string
	Err         error
}

func (e *StoreError) Error() string { return e.message }

// Unwrap returns the cause
func (e *StoreError) Unwrap() error { return e.Err }

// ErrorKind implements domain.Classified
func (e *StoreError) ErrorKind() domain.ErrorKind { return e.Kind }

// Is matches the shared domain errors of the same kind
func (e *StoreError) Is(target error) bool {
	switch e.Kind {
	case domain.KindConcurrencyConflict:
		return target == shared.ErrConcurrencyConflict
	case domain.KindTenantContextMissing:
		return target == shared.ErrTenantRequired
	}
	return false
}

// ExceptionHandler classifies failures of engine operations into StoreErrors.
// It never panics, whatever the cause.
type ExceptionHandler struct {
	logger *zap.Logger
}

// NewExceptionHandler creates a handler that logs classification at debug level
func NewExceptionHandler(logger *zap.Logger) *ExceptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExceptionHandler{logger: logger}
}

// HandleAppend classifies a failure of a write operation affecting eventCount events
func (h *ExceptionHandler) HandleAppend(operation, tenantID string, eventCount int, err error) *StoreError {
	return h.handle(operation, tenantID, "", err, func() string {
		return fmt.Sprintf("%d event(s)", eventCount)
	})
}

// HandleRead classifies a failure of a read operation. An empty aggregateID
// denotes a read of the tenant stream from the given global sequence.
func (h *ExceptionHandler) HandleRead(operation, tenantID, aggregateID string, sequence int64, err error) *StoreError {
	return h.handle(operation, tenantID, aggregateID, err, func() string {
		if aggregateID == "" {
			return fmt.Sprintf("from global sequence %d", sequence)
		}
		return fmt.Sprintf("aggregate %s from sequence %d", aggregateID, sequence)
	})
}

// HandleSnapshot classifies a failure of a snapshot operation
func (h *ExceptionHandler) HandleSnapshot(operation, tenantID, aggregateID string, err error) *StoreError {
	return h.handle(operation, tenantID, aggregateID, err, func() string {
		return fmt.Sprintf("snapshot of aggregate %s", aggregateID)
	})
}

func (h *ExceptionHandler) handle(operation, tenantID, aggregateID string, err error, detail func() string) (out *StoreError) {
	defer func() {
		if r := recover(); r != nil {
			out = &StoreError{
				Kind:        domain.KindUnexpected,
				Operation:   operation,
				TenantID:    tenantID,
				AggregateID: aggregateID,
				message:     fmt.Sprintf("Unexpected error during %s for tenant %s", operation, displayTenant(tenantID)),
				Err:         err,
			}
		}
	}()

	kind := Classify(err)
	out = &StoreError{
		Kind:        kind,
		Operation:   operation,
		TenantID:    tenantID,
		AggregateID: aggregateID,
		message: fmt.Sprintf("%s during %s for tenant %s (%s): %s",
			describe(kind), operation, displayTenant(tenantID), detail(), causeMessage(err)),
		Err: err,
	}
	h.logger.Debug("classified event store failure",
		zap.String("operation", operation),
		zap.String("tenant_id", tenantID),
		zap.String("kind", kind.String()),
	)
	return out
}

// Classify selects the kind of err, most specific first: kinds tagged by the
// repository, tenant and concurrency domain errors, serialization errors,
// then storage driver errors.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnexpected
	}
	if kind, ok := domain.KindOf(err); ok {
		return kind
	}

	switch {
	case errors.Is(err, shared.ErrTenantRequired), errors.Is(err, tenant.ErrBlankTenantID):
		return domain.KindTenantContextMissing
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return domain.KindConcurrencyConflict
	case isJSONError(err):
		return domain.KindSerialization
	}

	if kind, ok := persistence.ClassifyError(err); ok {
		return kind
	}
	return domain.KindUnexpected
}

func isJSONError(err error) bool {
	var (
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		unsupportedErr *json.UnsupportedTypeError
		valueErr       *json.UnsupportedValueError
		marshalerErr   *json.MarshalerError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &unsupportedErr) ||
		errors.As(err, &valueErr) ||
		errors.As(err, &marshalerErr)
}

func describe(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindConcurrencyConflict:
		return "Concurrency conflict"
	case domain.KindDataIntegrity:
		return "Data integrity violation"
	case domain.KindDatabase:
		return "Database error"
	case domain.KindTenantContextMissing:
		return "Tenant context error"
	case domain.KindSerialization:
		return "Serialization error"
	default:
		return "Unexpected error"
	}
}

func displayTenant(tenantID string) string {
	if tenantID == "" {
		return "<none>"
	}
	return tenantID
}

// causeMessage renders err, tolerating errors whose Error method panics or
// returns nothing
func causeMessage(err error) (msg string) {
	if err == nil {
		return "no cause"
	}
	defer func() {
		if recover() != nil {
			msg = fmt.Sprintf("%T (message unavailable)", err)
		}
	}()
	msg = err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T (no message)", err)
	}
	return msg
}
