package dto

import (
	"net/http"

	domain "github.com/eaf/backend/internal/domain/eventstore"
)

// Error codes returned in ErrorInfo.Code
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"

	// ErrCodeTenantRequired is used when no tenant is bound to the request
	ErrCodeTenantRequired = "ERR_TENANT_REQUIRED"
	// ErrCodeTenantInvalid is used when the tenant identifier is malformed
	ErrCodeTenantInvalid = "ERR_TENANT_INVALID"

	// ErrCodeConcurrencyConflict is used when an append lost the optimistic concurrency race
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	// ErrCodeDataIntegrity is used for constraint violations other than conflicts
	ErrCodeDataIntegrity = "ERR_DATA_INTEGRITY"
	// ErrCodeSerialization is used when a stored payload cannot be decoded
	ErrCodeSerialization = "ERR_SERIALIZATION"
	// ErrCodeDatabase is used when the database is unreachable or failing
	ErrCodeDatabase = "ERR_DATABASE"
	// ErrCodeUnavailable is used when a dependency is not ready
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:      http.StatusInternalServerError,
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeInvalidInput:  http.StatusBadRequest,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeInvalidState:  http.StatusUnprocessableEntity,

	ErrCodeTenantRequired: http.StatusUnauthorized,
	ErrCodeTenantInvalid:  http.StatusBadRequest,

	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeDataIntegrity:       http.StatusConflict,
	ErrCodeSerialization:       http.StatusInternalServerError,
	ErrCodeDatabase:            http.StatusServiceUnavailable,
	ErrCodeUnavailable:         http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodes maps shared.DomainError codes to API codes
var domainCodes = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"TENANT_REQUIRED":      ErrCodeTenantRequired,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format, and unknown codes, are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := domainCodes[code]; ok {
		return apiCode
	}
	return code
}

// CodeForKind returns the API code of a storage failure kind
func CodeForKind(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindTenantContextMissing:
		return ErrCodeTenantRequired
	case domain.KindConcurrencyConflict:
		return ErrCodeConcurrencyConflict
	case domain.KindDataIntegrity:
		return ErrCodeDataIntegrity
	case domain.KindSerialization:
		return ErrCodeSerialization
	case domain.KindDatabase:
		return ErrCodeDatabase
	default:
		return ErrCodeInternal
	}
}
